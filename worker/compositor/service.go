package compositor

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// The service carries Job and Result as protobuf Structs, so it needs
// no generated message code.
const (
	ServiceName         = "stacomp.Compositor"
	compositeMethod     = "Composite"
	compositeFullMethod = "/" + ServiceName + "/" + compositeMethod
)

type CompositorServer interface {
	Composite(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type CompositorClient interface {
	Composite(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

func compositeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CompositorServer).Composite(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: compositeFullMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CompositorServer).Composite(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CompositorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: compositeMethod,
			Handler:    compositeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stacomp/compositor.proto",
}

func RegisterCompositorServer(s grpc.ServiceRegistrar, srv CompositorServer) {
	s.RegisterService(&serviceDesc, srv)
}

type compositorClient struct {
	cc grpc.ClientConnInterface
}

func NewCompositorClient(cc grpc.ClientConnInterface) CompositorClient {
	return &compositorClient{cc}
}

func (c *compositorClient) Composite(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, compositeFullMethod, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}
