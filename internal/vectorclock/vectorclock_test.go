package vectorclock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompareReflexiveOnEquality(t *testing.T) {
	a := Clock{"n1": 3, "n2": 5}
	b := a.Clone()
	require.Equal(t, Equal, Compare(a, b))
}

func TestCompareLessGreaterSymmetry(t *testing.T) {
	a := Clock{"n1": 1}
	b := Clock{"n1": 2}
	require.Equal(t, Less, Compare(a, b))
	require.Equal(t, Greater, Compare(b, a))
}

func TestCompareConcurrent(t *testing.T) {
	a := Clock{"n1": 2, "n2": 1}
	b := Clock{"n1": 1, "n2": 2}
	require.Equal(t, Concurrent, Compare(a, b))
	require.Equal(t, Concurrent, Compare(b, a))
}

func TestMergeTakesPointwiseMax(t *testing.T) {
	a := Clock{"n1": 2, "n2": 1}
	b := Clock{"n1": 1, "n2": 5, "n3": 9}
	merged := Merge(a, b)
	require.Equal(t, int64(2), merged["n1"])
	require.Equal(t, int64(5), merged["n2"])
	require.Equal(t, int64(9), merged["n3"])
}

func TestIncrementDoesNotMutateOriginal(t *testing.T) {
	a := Clock{"n1": 1}
	b := a.Increment("n1")
	require.Equal(t, int64(1), a["n1"])
	require.Equal(t, int64(2), b["n1"])
}
