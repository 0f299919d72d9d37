// Package rpcpb defines the wire messages and grpc-go service
// descriptors for the cache's RPC surface.
//
// The generated-code shape (server interface, "_ServiceDesc",
// RegisterXxxServer, client stub) is authored by hand here against real
// grpc-go and google.golang.org/grpc/encoding public APIs, without a
// .proto/protoc step. In place of actual protobuf wire encoding,
// messages are plain Go structs marshaled with encoding/json under a
// codec registered as "proto" (see JSONCodec below), so the transport
// itself, grpc.Server, grpc.ClientConn, interceptors, codes/status,
// deadlines, is the genuine grpc-go stack end to end.
package rpcpb

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName must be "proto": grpc-go's client and server negotiate the
// codec named "proto" by default when no content-subtype is set on the
// call, so registering our codec under that name lets ordinary
// grpc.Dial/grpc.NewServer usage (no per-call CallContentSubtype)
// exercise it transparently.
const codecName = "proto"

// JSONCodec implements encoding.Codec by marshaling messages as JSON.
// It stands in for the real protobuf wire codec a generated stub would
// use, letting the RPC layer use unmodified grpc-go server/client
// plumbing without depending on protoc-generated types.
type JSONCodec struct{}

func (JSONCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpcpb: marshal %T: %w", v, err)
	}
	return b, nil
}

func (JSONCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpcpb: unmarshal into %T: %w", v, err)
	}
	return nil
}

func (JSONCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(JSONCodec{})
}
