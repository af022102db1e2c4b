package writer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/innerwebblueprint/podping-hivewriter/pkg/models"
)

func collectBatch(t *testing.T, w *Writer, timeout time.Duration) models.IRIBatch {
	t.Helper()
	select {
	case batch := <-w.batchQueue:
		return batch
	case <-time.After(timeout):
		t.Fatal("no batch emitted within timeout")
		return models.IRIBatch{}
	}
}

func TestCoalescerDedupesWithinWindow(t *testing.T) {
	w, _ := newTestWriter(&fakeChain{}, testSettings(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.runCoalescer(ctx)

	require.NoError(t, w.AcceptIRI("https://a/"))
	require.NoError(t, w.AcceptIRI("https://a/"))
	require.NoError(t, w.AcceptIRI("https://b/"))

	batch := collectBatch(t, w, time.Second)
	require.Len(t, batch.IRISet, 2)
	require.Contains(t, batch.IRISet, "https://a/")
	require.Contains(t, batch.IRISet, "https://b/")

	_, deduped, _ := w.Totals()
	require.Equal(t, uint64(2), deduped)
}

func TestCoalescerClosesOnTime(t *testing.T) {
	w, _ := newTestWriter(&fakeChain{}, testSettings(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.runCoalescer(ctx)

	start := time.Now()
	require.NoError(t, w.AcceptIRI("https://example.com/feed.xml"))

	batch := collectBatch(t, w, time.Second)
	require.Len(t, batch.IRISet, 1)
	require.Less(t, time.Since(start), time.Second)
}

func TestCoalescerClosesOnSize(t *testing.T) {
	snap := testSettings()
	snap.HiveOperationPeriod = 10 * time.Second
	snap.MaxURLListBytes = 200
	w, _ := newTestWriter(&fakeChain{}, snap, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.runCoalescer(ctx)

	// Ten 30-byte IRIs; the size trigger must fire long before the
	// 10 second window would.
	for i := 0; i < 10; i++ {
		iri := "https://example.com/feed" + strings.Repeat("x", 5) + string(rune('0'+i))
		require.Len(t, iri, 30)
		require.NoError(t, w.AcceptIRI(iri))
	}

	batch := collectBatch(t, w, time.Second)
	require.LessOrEqual(t, len(batch.IRISet), 10)
	require.GreaterOrEqual(t, len(batch.IRISet), 1)

	// Projected size may exceed the budget by at most one element.
	size := 2
	for iri := range batch.IRISet {
		size += len(iri) + 2
	}
	size += len(batch.IRISet) - 1
	require.LessOrEqual(t, size, 200+32)
}

func TestCoalescerDiscardsEmptyWindow(t *testing.T) {
	snap := testSettings()
	snap.HiveOperationPeriod = 30 * time.Millisecond
	w, _ := newTestWriter(&fakeChain{}, snap, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.runCoalescer(ctx)

	select {
	case batch := <-w.batchQueue:
		t.Fatalf("unexpected batch from empty window: %v", batch.BatchID)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestCoalescerDistinctBatchIDs(t *testing.T) {
	w, _ := newTestWriter(&fakeChain{}, testSettings(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.runCoalescer(ctx)

	require.NoError(t, w.AcceptIRI("https://a.example/1"))
	first := collectBatch(t, w, time.Second)

	require.NoError(t, w.AcceptIRI("https://a.example/2"))
	second := collectBatch(t, w, time.Second)

	require.NotEqual(t, first.BatchID, second.BatchID)
}
