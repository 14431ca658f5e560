package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "trustgate.v1.TrustGate"

const (
	evaluateMethod     = "/" + ServiceName + "/Evaluate"
	recordSampleMethod = "/" + ServiceName + "/RecordSample"
)

// TrustGateServer is the server API.
type TrustGateServer interface {
	Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RecordSample(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// TrustGateClient is the client API.
type TrustGateClient interface {
	Evaluate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	RecordSample(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

// ServiceDesc describes the TrustGate service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TrustGateServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: evaluateHandler},
		{MethodName: "RecordSample", Handler: recordSampleHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "trustgate/v1/trustgate.proto",
}

// RegisterTrustGateServer registers srv on s.
func RegisterTrustGateServer(s grpc.ServiceRegistrar, srv TrustGateServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// NewTrustGateClient returns a client bound to cc.
func NewTrustGateClient(cc grpc.ClientConnInterface) TrustGateClient {
	return &trustGateClient{cc: cc}
}

type trustGateClient struct {
	cc grpc.ClientConnInterface
}

func (c *trustGateClient) Evaluate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, evaluateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *trustGateClient) RecordSample(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, recordSampleMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func evaluateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrustGateServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: evaluateMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TrustGateServer).Evaluate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func recordSampleHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrustGateServer).RecordSample(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: recordSampleMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TrustGateServer).RecordSample(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
