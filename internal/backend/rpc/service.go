// Package rpc runs models hosted by a gRPC inference sidecar.
//
// The service uses well-known protobuf types so no generated code is needed:
//
//	Load(Struct{task, model, device}) returns Struct{model_id, sample_rate}
//	Generate(Struct{model_id, description, params}) returns BytesValue (WAV)
//	Unload(Struct{model_id}) returns Empty
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName = "audiogen.inference.v1.Generator"

	methodLoad     = "/" + ServiceName + "/Load"
	methodGenerate = "/" + ServiceName + "/Generate"
	methodUnload   = "/" + ServiceName + "/Unload"
)

// GeneratorServer is the server side of the inference service.
type GeneratorServer interface {
	Load(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Generate(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error)
	Unload(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
}

// RegisterGeneratorServer registers srv on s.
func RegisterGeneratorServer(s grpc.ServiceRegistrar, srv GeneratorServer) {
	s.RegisterService(&generatorServiceDesc, srv)
}

var generatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GeneratorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Load", Handler: loadHandler},
		{MethodName: "Generate", Handler: generateHandler},
		{MethodName: "Unload", Handler: unloadHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func loadHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GeneratorServer).Load(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodLoad}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GeneratorServer).Load(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func generateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GeneratorServer).Generate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGenerate}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GeneratorServer).Generate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func unloadHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GeneratorServer).Unload(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodUnload}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GeneratorServer).Unload(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
