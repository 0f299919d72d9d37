package rpcpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ReplicationServer is the replication service.
type ReplicationServer interface {
	Replicate(context.Context, *ReplicateRequest) (*ReplicateResponse, error)
	Sync(*SyncRequest, Replication_SyncServer) error
}

// UnimplementedReplicationServer can be embedded for partial implementations.
type UnimplementedReplicationServer struct{}

func (UnimplementedReplicationServer) Replicate(context.Context, *ReplicateRequest) (*ReplicateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Replicate not implemented")
}
func (UnimplementedReplicationServer) Sync(*SyncRequest, Replication_SyncServer) error {
	return status.Error(codes.Unimplemented, "method Sync not implemented")
}

// Replication_SyncServer is the server-side stream for Sync.
type Replication_SyncServer interface {
	Send(*SyncEntry) error
	grpc.ServerStream
}

type replicationSyncServer struct {
	grpc.ServerStream
}

func (x *replicationSyncServer) Send(m *SyncEntry) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterReplicationServer registers srv under "rpcpb.Replication".
func RegisterReplicationServer(s grpc.ServiceRegistrar, srv ReplicationServer) {
	s.RegisterService(&replicationServiceDesc, srv)
}

func replicationReplicateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReplicateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplicationServer).Replicate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/rpcpb.Replication/Replicate"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReplicationServer).Replicate(ctx, req.(*ReplicateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func replicationSyncHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(SyncRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ReplicationServer).Sync(m, &replicationSyncServer{stream})
}

var replicationServiceDesc = grpc.ServiceDesc{
	ServiceName: "rpcpb.Replication",
	HandlerType: (*ReplicationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Replicate", Handler: replicationReplicateHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Sync", Handler: replicationSyncHandler, ServerStreams: true},
	},
	Metadata: "rpcpb/replication.proto",
}

// ReplicationClient is the client stub for ReplicationServer.
type ReplicationClient interface {
	Replicate(ctx context.Context, in *ReplicateRequest, opts ...grpc.CallOption) (*ReplicateResponse, error)
	Sync(ctx context.Context, in *SyncRequest, opts ...grpc.CallOption) (Replication_SyncClient, error)
}

type replicationClient struct {
	cc grpc.ClientConnInterface
}

// NewReplicationClient builds a client stub over cc.
func NewReplicationClient(cc grpc.ClientConnInterface) ReplicationClient {
	return &replicationClient{cc}
}

func (c *replicationClient) Replicate(ctx context.Context, in *ReplicateRequest, opts ...grpc.CallOption) (*ReplicateResponse, error) {
	out := new(ReplicateResponse)
	if err := c.cc.Invoke(ctx, "/rpcpb.Replication/Replicate", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Replication_SyncClient is the client-side stream for Sync.
type Replication_SyncClient interface {
	Recv() (*SyncEntry, error)
	grpc.ClientStream
}

type replicationSyncClient struct {
	grpc.ClientStream
}

func (x *replicationSyncClient) Recv() (*SyncEntry, error) {
	m := new(SyncEntry)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *replicationClient) Sync(ctx context.Context, in *SyncRequest, opts ...grpc.CallOption) (Replication_SyncClient, error) {
	stream, err := c.cc.NewStream(ctx, &replicationServiceDesc.Streams[0], "/rpcpb.Replication/Sync", opts...)
	if err != nil {
		return nil, err
	}
	x := &replicationSyncClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
