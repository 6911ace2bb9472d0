// Package grpcapi serves the openrvcore.v1.Gateway gRPC service. Requests
// and responses are google.protobuf.Struct messages, so no generated code
// is needed on either side.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "openrvcore.v1.Gateway"

	SendCommandMethod  = "/" + ServiceName + "/SendCommand"
	StreamFramesMethod = "/" + ServiceName + "/StreamFrames"
)

// GatewayServer is the server side of openrvcore.v1.Gateway.
//
//	service Gateway {
//	  rpc SendCommand(google.protobuf.Struct) returns (google.protobuf.Struct);
//	  rpc StreamFrames(google.protobuf.Struct) returns (stream google.protobuf.Struct);
//	}
type GatewayServer interface {
	SendCommand(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	StreamFrames(req *structpb.Struct, stream FrameStream) error
}

// FrameStream is the server end of StreamFrames.
type FrameStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type frameStream struct {
	grpc.ServerStream
}

func (s *frameStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func sendCommandHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GatewayServer).SendCommand(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SendCommandMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GatewayServer).SendCommand(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamFramesHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(GatewayServer).StreamFrames(in, &frameStream{stream})
}

// ServiceDesc registers a GatewayServer with grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendCommand", Handler: sendCommandHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamFrames", Handler: streamFramesHandler, ServerStreams: true},
	},
	Metadata: "openrvcore/v1/gateway.proto",
}

func RegisterGatewayServer(s grpc.ServiceRegistrar, srv GatewayServer) {
	s.RegisterService(&ServiceDesc, srv)
}
