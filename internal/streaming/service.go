// Package streaming exposes the rig over gRPC: command execution, status
// and a server stream of station events. Messages are protobuf well-known
// types so no generated code is needed.
package streaming

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "noseport.v1.RigService"

const (
	executeMethod      = "/" + ServiceName + "/Execute"
	getStatusMethod    = "/" + ServiceName + "/GetStatus"
	streamEventsMethod = "/" + ServiceName + "/StreamEvents"
)

// RigServer is the server API for RigService.
type RigServer interface {
	Execute(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StreamEvents(*emptypb.Empty, RigService_StreamEventsServer) error
}

type RigService_StreamEventsServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type rigStreamEventsServer struct {
	grpc.ServerStream
}

func (x *rigStreamEventsServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RigServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RigServer).Execute(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RigServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getStatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RigServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func streamEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RigServer).StreamEvents(in, &rigStreamEventsServer{stream})
}

// RigServiceDesc is the grpc.ServiceDesc for RigService.
var RigServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RigServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       streamEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "noseport/v1/rig.proto",
}

func RegisterRigServer(s grpc.ServiceRegistrar, srv RigServer) {
	s.RegisterService(&RigServiceDesc, srv)
}
