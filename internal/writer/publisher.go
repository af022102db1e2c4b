package writer

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/innerwebblueprint/podping-hivewriter/internal/hive"
	"github.com/innerwebblueprint/podping-hivewriter/pkg/models"
)

var (
	// ErrPayloadExceeded marks a payload over the custom_json cap.
	// Non-retryable: the batch is dropped.
	ErrPayloadExceeded = errors.New("max custom_json payload exceeded")

	// ErrTooManyCustomJSONs marks the chain's per-account-per-block
	// custom_json quota. Retryable after node rotation and backoff.
	ErrTooManyCustomJSONs = errors.New("too many custom_json operations per block")

	// ErrMissingPostingAuth marks a broadcast rejected for missing
	// posting authority. Fatal.
	ErrMissingPostingAuth = errors.New("missing posting authority")
)

// missingPostingAuthName is the chain's structured error identifier.
const missingPostingAuthName = "tx_missing_posting_auth"

// tooManyCustomJSONsRE classifies the quota error from the node's
// human-readable message. It is checked after the structured error data
// name (which only identifies missing posting authority); the quota error
// itself is recognised by this message match alone.
var tooManyCustomJSONsRE = regexp.MustCompile(`plugin exception.*custom json.*`)

// constructOp wraps a canonical JSON payload as a custom_json operation,
// enforcing the chain's payload cap.
func (w *Writer) constructOp(payload []byte, opID string) (hive.CustomJSONOp, error) {
	if len(payload) > HiveCustomOpDataMaxLength {
		return hive.CustomJSONOp{}, fmt.Errorf("%w: %d bytes", ErrPayloadExceeded, len(payload))
	}
	return hive.CustomJSONOp{
		RequiredAuths:        []string{},
		RequiredPostingAuths: []string{w.cfg.ServerAccount},
		ID:                   opID,
		JSON:                 string(payload),
	}, nil
}

// sendNotification constructs and broadcasts one operation, classifying
// node errors. In dry-run mode construction and validation still run but
// nothing goes on the wire.
func (w *Writer) sendNotification(ctx context.Context, payload []byte, opID string) error {
	op, err := w.constructOp(payload, opID)
	if err != nil {
		return err
	}

	if w.cfg.DryRun {
		w.log.Info().
			Str("op_id", opID).
			Int("json_size", len(payload)).
			Msg("dry run, skipping broadcast")
		return nil
	}

	if err := w.chain.BroadcastCustomJSON(ctx, op); err != nil {
		w.log.Error().Err(err).Str("op_id", opID).Msg("broadcast failed")
		return classifyBroadcastError(err)
	}

	w.log.Info().
		Str("node", w.chain.CurrentNode()).
		Str("op_id", opID).
		Int("json_size", len(payload)).
		Msg("operation broadcast")
	return nil
}

// classifyBroadcastError maps node errors onto the writer's taxonomy.
func classifyBroadcastError(err error) error {
	var rpcErr *hive.RPCError
	if !errors.As(err, &rpcErr) {
		return err // transport error, transient
	}
	if rpcErr.DataName == missingPostingAuthName {
		return fmt.Errorf("%w: %s", ErrMissingPostingAuth, rpcErr.Message)
	}
	if tooManyCustomJSONsRE.MatchString(rpcErr.Message) {
		return fmt.Errorf("%w: %s", ErrTooManyCustomJSONs, rpcErr.Message)
	}
	return err
}

// SendIRI publishes a single IRI immediately, outside the batching
// pipeline.
func (w *Writer) SendIRI(ctx context.Context, iriStr string, medium models.Medium, reason models.Reason) error {
	return w.sendPodping(ctx, []string{iriStr}, medium, reason)
}

// sendPodping publishes a set of IRIs as one podping operation.
func (w *Writer) sendPodping(ctx context.Context, iris []string, medium models.Medium, reason models.Reason) error {
	payload, err := models.NewPodping(medium, reason, iris).JSON()
	if err != nil {
		return fmt.Errorf("failed to marshal podping payload: %w", err)
	}
	opID := models.HiveOperationID{Prefix: w.cfg.OperationID, Medium: medium, Reason: reason}

	if err := w.sendNotification(ctx, payload, opID.String()); err != nil {
		return err
	}

	w.totalSent.Add(uint64(len(iris)))
	irisSent.Add(float64(len(iris)))
	batchesSent.Inc()
	return nil
}
