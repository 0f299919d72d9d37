package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllowRespectsBurst(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 2})

	require.True(t, l.Allow("tenant-a"))
	require.True(t, l.Allow("tenant-a"))
	require.False(t, l.Allow("tenant-a"))
}

func TestAllowIsPerKey(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 1})

	require.True(t, l.Allow("tenant-a"))
	require.False(t, l.Allow("tenant-a"))
	require.True(t, l.Allow("tenant-b"))
}
