package writer

import (
	"context"
	"time"
)

// runStatus periodically re-ranks the node pool and logs a status
// summary. Failures are logged and swallowed.
func (w *Writer) runStatus(ctx context.Context) error {
	for {
		if err := w.reportStatus(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error().Err(err).Msg("status report failed")
		}

		snap := w.settings.Settings()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(snap.DiagnosticReportPeriod):
		}
	}
}

func (w *Writer) reportStatus(ctx context.Context) error {
	if err := w.chain.RankNodes(ctx); err != nil {
		return err
	}
	recv, deduped, sent := w.Totals()
	w.log.Info().
		Dur("uptime", time.Since(w.startedAt).Round(time.Second)).
		Uint64("iris_received", recv).
		Uint64("iris_deduped", deduped).
		Uint64("iris_sent", sent).
		Str("last_node", w.chain.CurrentNode()).
		Msg("status")
	return nil
}
