package rpcpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FailoverServer is the failover service.
type FailoverServer interface {
	InitiateFailover(context.Context, *InitiateFailoverRequest) (*InitiateFailoverResponse, error)
	Catchup(*CatchupRequest, Failover_CatchupServer) error
	GetFailoverStatus(context.Context, *FailoverStatusRequest) (*FailoverStatusResponse, error)
}

// UnimplementedFailoverServer can be embedded for partial implementations.
type UnimplementedFailoverServer struct{}

func (UnimplementedFailoverServer) InitiateFailover(context.Context, *InitiateFailoverRequest) (*InitiateFailoverResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method InitiateFailover not implemented")
}
func (UnimplementedFailoverServer) Catchup(*CatchupRequest, Failover_CatchupServer) error {
	return status.Error(codes.Unimplemented, "method Catchup not implemented")
}
func (UnimplementedFailoverServer) GetFailoverStatus(context.Context, *FailoverStatusRequest) (*FailoverStatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetFailoverStatus not implemented")
}

// Failover_CatchupServer is the server-side stream for Catchup.
type Failover_CatchupServer interface {
	Send(*SyncEntry) error
	grpc.ServerStream
}

type failoverCatchupServer struct {
	grpc.ServerStream
}

func (x *failoverCatchupServer) Send(m *SyncEntry) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterFailoverServer registers srv under "rpcpb.Failover".
func RegisterFailoverServer(s grpc.ServiceRegistrar, srv FailoverServer) {
	s.RegisterService(&failoverServiceDesc, srv)
}

func failoverInitiateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(InitiateFailoverRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FailoverServer).InitiateFailover(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/rpcpb.Failover/InitiateFailover"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FailoverServer).InitiateFailover(ctx, req.(*InitiateFailoverRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func failoverCatchupHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(CatchupRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(FailoverServer).Catchup(m, &failoverCatchupServer{stream})
}

func failoverGetStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(FailoverStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FailoverServer).GetFailoverStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/rpcpb.Failover/GetFailoverStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FailoverServer).GetFailoverStatus(ctx, req.(*FailoverStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var failoverServiceDesc = grpc.ServiceDesc{
	ServiceName: "rpcpb.Failover",
	HandlerType: (*FailoverServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "InitiateFailover", Handler: failoverInitiateHandler},
		{MethodName: "GetFailoverStatus", Handler: failoverGetStatusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Catchup", Handler: failoverCatchupHandler, ServerStreams: true},
	},
	Metadata: "rpcpb/failover.proto",
}

// FailoverClient is the client stub for FailoverServer.
type FailoverClient interface {
	InitiateFailover(ctx context.Context, in *InitiateFailoverRequest, opts ...grpc.CallOption) (*InitiateFailoverResponse, error)
	Catchup(ctx context.Context, in *CatchupRequest, opts ...grpc.CallOption) (Failover_CatchupClient, error)
	GetFailoverStatus(ctx context.Context, in *FailoverStatusRequest, opts ...grpc.CallOption) (*FailoverStatusResponse, error)
}

type failoverClient struct {
	cc grpc.ClientConnInterface
}

// NewFailoverClient builds a client stub over cc.
func NewFailoverClient(cc grpc.ClientConnInterface) FailoverClient {
	return &failoverClient{cc}
}

func (c *failoverClient) InitiateFailover(ctx context.Context, in *InitiateFailoverRequest, opts ...grpc.CallOption) (*InitiateFailoverResponse, error) {
	out := new(InitiateFailoverResponse)
	if err := c.cc.Invoke(ctx, "/rpcpb.Failover/InitiateFailover", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *failoverClient) GetFailoverStatus(ctx context.Context, in *FailoverStatusRequest, opts ...grpc.CallOption) (*FailoverStatusResponse, error) {
	out := new(FailoverStatusResponse)
	if err := c.cc.Invoke(ctx, "/rpcpb.Failover/GetFailoverStatus", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Failover_CatchupClient is the client-side stream for Catchup.
type Failover_CatchupClient interface {
	Recv() (*SyncEntry, error)
	grpc.ClientStream
}

type failoverCatchupClient struct {
	grpc.ClientStream
}

func (x *failoverCatchupClient) Recv() (*SyncEntry, error) {
	m := new(SyncEntry)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *failoverClient) Catchup(ctx context.Context, in *CatchupRequest, opts ...grpc.CallOption) (Failover_CatchupClient, error) {
	stream, err := c.cc.NewStream(ctx, &failoverServiceDesc.Streams[0], "/rpcpb.Failover/Catchup", opts...)
	if err != nil {
		return nil, err
	}
	x := &failoverCatchupClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
