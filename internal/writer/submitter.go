package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/innerwebblueprint/podping-hivewriter/pkg/models"
)

// maxRetrySleep caps the linear backoff between publish attempts.
const maxRetrySleep = 300 * time.Second

// runSubmitter is the single consumer of the batch queue. Batches are
// submitted sequentially; at most one is in flight.
func (w *Writer) runSubmitter(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch := <-w.batchQueue:
			if err := w.submitBatch(ctx, batch); err != nil {
				return err
			}
		}
	}
}

// submitBatch publishes one batch with retry, then settles its in-flight
// accounting regardless of outcome. Only fatal conditions propagate; a
// dropped batch is logged and the pipeline keeps running.
func (w *Writer) submitBatch(ctx context.Context, batch models.IRIBatch) error {
	// The startup probe gates the first publish.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.startupDone:
	}

	start := time.Now()
	failures, err := w.publishWithRetry(ctx, batch)
	duration := time.Since(start)

	w.retireBatch(len(batch.IRISet))
	batchSendDuration.Observe(duration.Seconds())

	if err != nil {
		var exit *ExitError
		if errors.As(err, &exit) || errors.Is(err, context.Canceled) {
			return err
		}
		w.log.Error().
			Err(err).
			Str("batch_id", batch.BatchID.String()).
			Int("iris", len(batch.IRISet)).
			Msg("dropping batch")
		return nil
	}

	w.log.Info().
		Dur("duration", duration).
		Int("failures", failures).
		Str("batch_id", batch.BatchID.String()).
		Int("iris", len(batch.IRISet)).
		Str("last_node", w.chain.CurrentNode()).
		Msg("batch sent")
	return nil
}

// publishWithRetry attempts to publish the batch until it succeeds, the
// retry budget is exhausted, or a terminal condition occurs. The backoff
// is linear in the failure count, capped, and skipped before the first
// attempt. The node ring advances after every attempt.
func (w *Writer) publishWithRetry(ctx context.Context, batch models.IRIBatch) (int, error) {
	iris := batch.IRIs()
	failures := 0

	for {
		if failures > 0 {
			sleep := min(time.Duration(failures)*3*time.Second, maxRetrySleep)
			w.log.Warn().
				Dur("sleep", sleep).
				Int("failure_count", failures).
				Int("iris", len(iris)).
				Msg("waiting before retry")
			if err := w.sleep(ctx, sleep); err != nil {
				return failures, err
			}
		} else {
			w.log.Info().Int("iris", len(iris)).Msg("publishing batch")
		}

		err := w.sendPodping(ctx, iris, w.cfg.Medium, w.cfg.Reason)
		w.chain.NextNode()

		if err == nil {
			if failures > 0 {
				w.log.Info().Int("failure_count", failures).Msg("failure cleared")
			}
			return failures, nil
		}
		if errors.Is(err, context.Canceled) {
			return failures, err
		}

		if errors.Is(err, ErrMissingPostingAuth) {
			for _, iriStr := range iris {
				w.log.Error().Str("iri", iriStr).Msg("unpublished IRI")
			}
			w.log.Error().Int("exit_code", ExitCodeInvalidPostingKey).Msg("terminating")
			return failures, &ExitError{Code: ExitCodeInvalidPostingKey, Err: err}
		}
		if errors.Is(err, ErrPayloadExceeded) {
			return failures, err
		}

		failures++
		sendFailures.Inc()
		w.log.Warn().Err(err).Int("iris", len(iris)).Msg("failed to send batch")

		if w.cfg.MaxRetries > 0 && failures > w.cfg.MaxRetries {
			return failures, fmt.Errorf("giving up after %d failures: %w", failures, err)
		}
	}
}
