package hive

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeRingAdvanceWraps(t *testing.T) {
	ring := NewNodeRing([]string{"a", "b", "c"})

	require.Equal(t, "a", ring.Current())
	require.Equal(t, "b", ring.Advance())
	require.Equal(t, "c", ring.Advance())
	require.Equal(t, "a", ring.Advance())
	require.Equal(t, "a", ring.Current())
}

func TestNodeRingAdvancesOncePerCall(t *testing.T) {
	ring := NewNodeRing([]string{"a", "b", "c"})

	seen := make(map[string]int)
	for i := 0; i < 9; i++ {
		seen[ring.Advance()]++
	}
	// Nine advances over three nodes land on each exactly three times.
	require.Equal(t, map[string]int{"a": 3, "b": 3, "c": 3}, seen)
}

func TestNodeRingReplaceResetsCursor(t *testing.T) {
	ring := NewNodeRing([]string{"a", "b", "c"})
	ring.Advance()
	require.Equal(t, "b", ring.Current())

	ring.Replace([]string{"c", "a"})
	require.Equal(t, "c", ring.Current())
	require.Equal(t, 2, ring.Len())
}

func TestNodeRingConcurrentAdvance(t *testing.T) {
	ring := NewNodeRing([]string{"a", "b", "c", "d", "e"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ring.Advance()
		}()
	}
	wg.Wait()

	// 50 advances over 5 nodes: cursor back at the head.
	require.Equal(t, "a", ring.Current())
}

func TestNodeRingEmpty(t *testing.T) {
	ring := NewNodeRing(nil)
	require.Equal(t, "", ring.Current())
	require.Equal(t, "", ring.Advance())
}
