package node

import (
	"context"
	"testing"

	"github.com/dSpringOnion/clidistcachelayer/internal/rpcpb"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type fakeCoordinatorClient struct {
	rpcpb.CoordinatorClient
	ringResp *rpcpb.GetRingResponse
	ringErr  error
	gotKnown uint64
}

func (f *fakeCoordinatorClient) GetRing(_ context.Context, in *rpcpb.GetRingRequest, _ ...grpc.CallOption) (*rpcpb.GetRingResponse, error) {
	f.gotKnown = in.KnownVersion
	return f.ringResp, f.ringErr
}

func TestRingCacheRefreshSkipsUnchanged(t *testing.T) {
	fake := &fakeCoordinatorClient{ringResp: &rpcpb.GetRingResponse{Changed: false}}
	c := NewRingCache(fake, 150, nil)

	require.NoError(t, c.Refresh(context.Background()))
	require.Empty(t, c.NodeIDs())
}

func TestRingCacheRefreshRebuildsOnChange(t *testing.T) {
	fake := &fakeCoordinatorClient{ringResp: &rpcpb.GetRingResponse{
		Changed:     true,
		RingVersion: 3,
		Nodes: []rpcpb.RingNode{
			{ID: "n1", Address: "10.0.0.1:7100"},
			{ID: "n2", Address: "10.0.0.2:7100"},
		},
	}}
	c := NewRingCache(fake, 150, nil)

	var notified []string
	c.OnChange(func(ids []string) { notified = ids })

	require.NoError(t, c.Refresh(context.Background()))
	require.ElementsMatch(t, []string{"n1", "n2"}, c.NodeIDs())
	require.ElementsMatch(t, []string{"n1", "n2"}, notified)

	addr, ok := c.Address("n1")
	require.True(t, ok)
	require.Equal(t, "10.0.0.1:7100", addr)

	replicas := c.GetReplicas("any-key", 2)
	require.Len(t, replicas, 2)
}

func TestRingCacheRefreshPropagatesErrors(t *testing.T) {
	fake := &fakeCoordinatorClient{ringErr: assertError{}}
	c := NewRingCache(fake, 150, nil)
	require.Error(t, c.Refresh(context.Background()))
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
