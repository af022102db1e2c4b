package writer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/innerwebblueprint/podping-hivewriter/internal/hive"
	"github.com/innerwebblueprint/podping-hivewriter/pkg/models"
)

// runStartup executes the boot probe and then releases the submitter.
func (w *Writer) runStartup(ctx context.Context) error {
	if err := w.startupProbe(ctx); err != nil {
		return err
	}
	close(w.startupDone)
	return nil
}

// startupProbe validates the signing account against the allowed set,
// measures the resource cost of a representative operation, announces
// readiness on chain, and ranks the node pool.
func (w *Writer) startupProbe(ctx context.Context) error {
	snap := w.settings.Settings()

	allowed, err := w.chain.AllowedAccounts(ctx, snap.ControlAccount)
	if err != nil {
		return &ExitError{Code: ExitCodeUnknown, Err: fmt.Errorf("failed to fetch allowed accounts: %w", err)}
	}
	if _, ok := allowed[w.cfg.ServerAccount]; !ok {
		// The chain will reject the broadcasts; keep running so restart
		// loops stay observable.
		w.log.Error().
			Str("account", w.cfg.ServerAccount).
			Str("control_account", snap.ControlAccount).
			Msg("account not authorised to send podpings")
	}

	if w.cfg.ResourceTest && !w.cfg.DryRun {
		if err := w.testHiveResources(ctx); err != nil {
			return err
		}
	}

	if err := w.chain.RankNodes(ctx); err != nil {
		return &ExitError{Code: ExitCodeUnknown, Err: fmt.Errorf("failed to rank nodes: %w", err)}
	}

	w.log.Info().Str("account", w.cfg.ServerAccount).Msg("hive account ready")
	return nil
}

// testHiveResources reads the RC manabar, estimates the cost of 100 pings
// and the theoretical capacity, and publishes a startup notice carrying
// the result.
func (w *Writer) testHiveResources(ctx context.Context) error {
	w.log.Info().Msg("podping startup sequence initiated, please stand by, full bozo checks in operation")

	err := func() error {
		rc, err := w.chain.ResourceCredits(ctx, w.cfg.ServerAccount)
		if err != nil {
			return err
		}
		w.log.Info().
			Float64("last_mana_percent", rc.LastManaPercent).
			Msg("testing account resource credits")

		notice := models.StartupNotice{
			ServerAccount: w.cfg.ServerAccount,
			Message:       "Podping startup initiated",
			UUID:          uuid.NewString(),
			Hive:          w.chain.CurrentNode(),
		}
		payload, err := notice.JSON()
		if err != nil {
			return err
		}
		opID := w.cfg.OperationID + models.StartupOperationSuffix

		// Representative operation: constructed for its cost, not broadcast.
		if _, err := w.constructOp(payload, opID); err != nil {
			return err
		}
		rcCost := w.chain.EstimateCustomJSONCost(len(payload))

		var capacity float64
		if rc.MaxMana > 0 {
			percentAfter := 100 * (rc.LastMana - rcCost*100) / rc.MaxMana
			if percentDrop := rc.LastManaPercent - percentAfter; percentDrop > 0 {
				capacity = (100 / percentDrop) * 100
			}
			w.log.Info().
				Float64("percent_drop_100_pings", rc.LastManaPercent-percentAfter).
				Float64("capacity", capacity).
				Msg("calculated account resource credits")
		}

		notice.Message = "Podping startup complete"
		notice.Hive = w.chain.CurrentNode()
		notice.Version = w.cfg.Version
		notice.Capacity = fmt.Sprintf("%.0f", capacity)
		payload, err = notice.JSON()
		if err != nil {
			return err
		}
		if err := w.sendNotification(ctx, payload, opID); err != nil {
			return err
		}

		w.log.Info().Msg("startup of podping status: SUCCESS, hit the BOOST button")
		return nil
	}()
	if err == nil {
		return nil
	}

	w.log.Error().Err(err).Msg("startup of podping status: FAILED")
	if errors.Is(err, hive.ErrInvalidBase58) {
		return &ExitError{Code: ExitCodeInvalidPostingKey, Err: err}
	}
	return &ExitError{Code: ExitCodeUnknown, Err: err}
}
