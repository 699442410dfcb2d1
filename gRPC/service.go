package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Service and method names of emotion.EmotionService. Messages are protobuf
// well-known types so no generated code is needed.
const (
	ServiceName          = "emotion.EmotionService"
	StatusMethod         = "/emotion.EmotionService/Status"
	InitializeMethod     = "/emotion.EmotionService/Initialize"
	ToggleMethod         = "/emotion.EmotionService/Toggle"
	ClassifyMethod       = "/emotion.EmotionService/Classify"
	ShutdownMethod       = "/emotion.EmotionService/Shutdown"
	WatchMethod          = "/emotion.EmotionService/Watch"
	watchStreamName      = "Watch"
	serviceMetadataProto = "emotion.proto"
)

type EmotionServiceServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Initialize(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Toggle(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Classify(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Watch(*emptypb.Empty, EmotionService_WatchServer) error
}

type EmotionService_WatchServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type emotionServiceWatchServer struct {
	grpc.ServerStream
}

func (x *emotionServiceWatchServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func RegisterEmotionServiceServer(s grpc.ServiceRegistrar, srv EmotionServiceServer) {
	s.RegisterService(&EmotionService_ServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](method string, newReq func() Req, call func(EmotionServiceServer, context.Context, Req) (Resp, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(EmotionServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: method,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(EmotionServiceServer), ctx, req.(Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func newEmpty() *emptypb.Empty {
	return new(emptypb.Empty)
}

func _EmotionService_Watch_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(EmotionServiceServer).Watch(m, &emotionServiceWatchServer{stream})
}

var EmotionService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EmotionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Status",
			Handler:    unaryHandler(StatusMethod, newEmpty, EmotionServiceServer.Status),
		},
		{
			MethodName: "Initialize",
			Handler:    unaryHandler(InitializeMethod, newEmpty, EmotionServiceServer.Initialize),
		},
		{
			MethodName: "Toggle",
			Handler:    unaryHandler(ToggleMethod, newEmpty, EmotionServiceServer.Toggle),
		},
		{
			MethodName: "Classify",
			Handler: unaryHandler(ClassifyMethod, func() *wrapperspb.BytesValue {
				return new(wrapperspb.BytesValue)
			}, EmotionServiceServer.Classify),
		},
		{
			MethodName: "Shutdown",
			Handler:    unaryHandler(ShutdownMethod, newEmpty, EmotionServiceServer.Shutdown),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    watchStreamName,
			Handler:       _EmotionService_Watch_Handler,
			ServerStreams: true,
		},
	},
	Metadata: serviceMetadataProto,
}

type EmotionServiceClient interface {
	Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Initialize(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Toggle(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Classify(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Watch(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (EmotionService_WatchClient, error)
}

type emotionServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewEmotionServiceClient(cc grpc.ClientConnInterface) EmotionServiceClient {
	return &emotionServiceClient{cc}
}

func (c *emotionServiceClient) Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, StatusMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *emotionServiceClient) Initialize(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, InitializeMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *emotionServiceClient) Toggle(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ToggleMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *emotionServiceClient) Classify(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ClassifyMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *emotionServiceClient) Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, ShutdownMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *emotionServiceClient) Watch(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (EmotionService_WatchClient, error) {
	stream, err := c.cc.NewStream(ctx, &EmotionService_ServiceDesc.Streams[0], WatchMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &emotionServiceWatchClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type EmotionService_WatchClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type emotionServiceWatchClient struct {
	grpc.ClientStream
}

func (x *emotionServiceWatchClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
