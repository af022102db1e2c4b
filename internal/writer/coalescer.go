package writer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/innerwebblueprint/podping-hivewriter/pkg/models"
)

// runCoalescer drains the IRI queue into time/size-bounded batches.
func (w *Writer) runCoalescer(ctx context.Context) error {
	for {
		if err := w.coalesceWindow(ctx); err != nil {
			return err
		}
	}
}

// coalesceWindow accumulates one batch window. The window closes when its
// wall-clock duration reaches the operation period or the projected JSON
// payload size reaches the byte budget, whichever comes first. The size
// check runs after inclusion, so a single IRI may carry the payload over
// budget; an oversized batch fails at publish time, not here.
func (w *Writer) coalesceWindow(ctx context.Context) error {
	// One settings snapshot per window; policy cannot change mid-window.
	snap := w.settings.Settings()

	batchID := uuid.New()
	iriSet := make(map[string]struct{})

	// Projected size of the IRIs serialized as a JSON array of quoted
	// strings: every received IRI contributes its UTF-8 length plus two
	// quotes, then one comma between distinct elements plus the brackets.
	sizeWithoutCommas := 0
	sizeTotal := 0

	window := time.NewTimer(snap.HiveOperationPeriod)
	defer window.Stop()

collect:
	for sizeTotal < snap.MaxURLListBytes {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-window.C:
			break collect
		case iri := <-w.iriQueue:
			iriSet[iri] = struct{}{}
			sizeWithoutCommas += len(iri) + 2
			sizeTotal = sizeWithoutCommas + len(iriSet) - 1 + 2
			w.log.Debug().
				Str("batch_id", batchID.String()).
				Str("iri", iri).
				Int("iris", len(iriSet)).
				Int("size_bytes", sizeTotal).
				Msg("collected IRI")
		}
	}

	if len(iriSet) == 0 {
		return nil
	}

	batch := models.IRIBatch{BatchID: batchID, IRISet: iriSet}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case w.batchQueue <- batch:
	}

	w.totalDeduped.Add(uint64(len(iriSet)))
	irisDeduped.Add(float64(len(iriSet)))
	w.log.Info().
		Str("batch_id", batchID.String()).
		Int("iris", len(iriSet)).
		Int("size_bytes", sizeTotal).
		Msg("coalesced batch")
	return nil
}
