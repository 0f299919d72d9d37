package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIdempotencyCacheHitAndMiss(t *testing.T) {
	c := NewIdempotencyCache(time.Minute)

	_, ok := c.Get("tenant1", "key1", "idem1")
	require.False(t, ok)

	c.Store("tenant1", "key1", "idem1", IdempotencyResponse{Version: 3})

	resp, ok := c.Get("tenant1", "key1", "idem1")
	require.True(t, ok)
	require.EqualValues(t, 3, resp.Version)
}

func TestIdempotencyCacheExpires(t *testing.T) {
	c := NewIdempotencyCache(5 * time.Millisecond)
	c.Store("t", "k", "idem", IdempotencyResponse{Version: 1})

	require.Eventually(t, func() bool {
		_, ok := c.Get("t", "k", "idem")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	c := NewIdempotencyCache(5 * time.Millisecond)
	c.Store("t", "k1", "a", IdempotencyResponse{})
	c.Store("t", "k2", "b", IdempotencyResponse{})

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, 2, c.Sweep())
}

func TestGenerateProducesDistinctKeys(t *testing.T) {
	a := Generate("t", "k")
	b := Generate("t", "k")
	require.NotEqual(t, a, b)
	require.Len(t, a, 64)
}
