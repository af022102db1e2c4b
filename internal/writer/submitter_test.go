package writer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/innerwebblueprint/podping-hivewriter/internal/hive"
	"github.com/innerwebblueprint/podping-hivewriter/pkg/models"
)

func makeBatch(w *Writer, t *testing.T, iris ...string) models.IRIBatch {
	t.Helper()
	set := make(map[string]struct{}, len(iris))
	for _, iri := range iris {
		require.NoError(t, w.AcceptIRI(iri))
		set[iri] = struct{}{}
	}
	return models.IRIBatch{BatchID: uuid.New(), IRISet: set}
}

func quotaError() error {
	return &hive.RPCError{
		Code:    -32003,
		Message: "plugin exception: tx would exceed maximum allowed custom json operations in block",
	}
}

func TestSubmitterRetriesOnQuotaError(t *testing.T) {
	chain := &fakeChain{broadcastErrs: []error{quotaError(), quotaError(), nil}}
	w, sleeps := newTestWriter(chain, testSettings(), Config{})
	close(w.startupDone)

	batch := makeBatch(w, t, "https://a.example/", "https://b.example/")
	require.Equal(t, 2, w.InFlight())

	require.NoError(t, w.submitBatch(context.Background(), batch))

	// Two failures: sleeps of 3s and 6s, one node advance per attempt.
	require.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second}, *sleeps)
	require.Equal(t, 3, chain.advanceCount())
	require.Len(t, chain.sentOps(), 1)
	require.Equal(t, 0, w.InFlight())

	_, _, sent := w.Totals()
	require.Equal(t, uint64(2), sent)
}

func TestSubmitterFatalOnMissingPostingAuth(t *testing.T) {
	chain := &fakeChain{broadcastErrs: []error{
		&hive.RPCError{Code: -32003, Message: "missing required posting authority", DataName: "tx_missing_posting_auth"},
	}}
	w, _ := newTestWriter(chain, testSettings(), Config{})
	close(w.startupDone)

	batch := makeBatch(w, t, "https://a.example/")
	err := w.submitBatch(context.Background(), batch)

	var exit *ExitError
	require.ErrorAs(t, err, &exit)
	require.Equal(t, ExitCodeInvalidPostingKey, exit.Code)
	require.Equal(t, 0, w.InFlight())
}

func TestSubmitterDropsOversizedBatch(t *testing.T) {
	chain := &fakeChain{}
	w, _ := newTestWriter(chain, testSettings(), Config{})
	close(w.startupDone)

	huge := "https://example.com/" + strings.Repeat("a", HiveCustomOpDataMaxLength)
	batch := models.IRIBatch{BatchID: uuid.New(), IRISet: map[string]struct{}{huge: {}}}

	require.NoError(t, w.submitBatch(context.Background(), batch))
	require.Empty(t, chain.sentOps())
}

func TestSubmitterHonorsMaxRetries(t *testing.T) {
	chain := &fakeChain{broadcastErrs: []error{
		errors.New("boom"), errors.New("boom"), errors.New("boom"),
	}}
	w, _ := newTestWriter(chain, testSettings(), Config{MaxRetries: 2})
	close(w.startupDone)

	batch := makeBatch(w, t, "https://a.example/")
	failures, err := w.publishWithRetry(context.Background(), batch)
	require.Error(t, err)
	require.Equal(t, 3, failures)
}

func TestSubmitterBackoffIsCapped(t *testing.T) {
	errs := make([]error, 150)
	for i := range errs {
		errs[i] = errors.New("boom")
	}
	chain := &fakeChain{broadcastErrs: errs}
	w, sleeps := newTestWriter(chain, testSettings(), Config{MaxRetries: 120})
	close(w.startupDone)

	batch := makeBatch(w, t, "https://a.example/")
	_, err := w.publishWithRetry(context.Background(), batch)
	require.Error(t, err)

	last := (*sleeps)[len(*sleeps)-1]
	require.Equal(t, maxRetrySleep, last)
}

func TestSubmitterWaitsForStartup(t *testing.T) {
	chain := &fakeChain{}
	w, _ := newTestWriter(chain, testSettings(), Config{})

	batch := makeBatch(w, t, "https://a.example/")

	done := make(chan error, 1)
	go func() {
		done <- w.submitBatch(context.Background(), batch)
	}()

	select {
	case err := <-done:
		t.Fatalf("submit completed before startup: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(w.startupDone)
	require.NoError(t, <-done)
	require.Len(t, chain.sentOps(), 1)
}

func TestSubmitterDryRunSkipsBroadcast(t *testing.T) {
	chain := &fakeChain{}
	w, _ := newTestWriter(chain, testSettings(), Config{DryRun: true})
	close(w.startupDone)

	batch := makeBatch(w, t, "https://example.com/feed.xml")
	require.NoError(t, w.submitBatch(context.Background(), batch))

	require.Empty(t, chain.sentOps())
	require.Equal(t, 0, w.InFlight())
	_, _, sent := w.Totals()
	require.Equal(t, uint64(1), sent)
}
