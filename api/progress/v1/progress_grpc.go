package progressv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/course-platform/internal/platform/grpcjson"
)

const ServiceName = "progress.v1.ProgressService"

const (
	ProgressService_GetProgress_FullMethodName    = "/" + ServiceName + "/GetProgress"
	ProgressService_CommitProgress_FullMethodName = "/" + ServiceName + "/CommitProgress"
	ProgressService_ListProgress_FullMethodName   = "/" + ServiceName + "/ListProgress"
)

type ProgressServiceClient interface {
	GetProgress(ctx context.Context, in *GetProgressRequest, opts ...grpc.CallOption) (*ProgressResponse, error)
	CommitProgress(ctx context.Context, in *CommitProgressRequest, opts ...grpc.CallOption) (*ProgressResponse, error)
	ListProgress(ctx context.Context, in *ListProgressRequest, opts ...grpc.CallOption) (*ListProgressResponse, error)
}

type progressServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewProgressServiceClient returns a client that always speaks the JSON codec.
func NewProgressServiceClient(cc grpc.ClientConnInterface) ProgressServiceClient {
	return &progressServiceClient{cc: cc}
}

func (c *progressServiceClient) GetProgress(ctx context.Context, in *GetProgressRequest, opts ...grpc.CallOption) (*ProgressResponse, error) {
	out := new(ProgressResponse)
	if err := c.cc.Invoke(ctx, ProgressService_GetProgress_FullMethodName, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *progressServiceClient) CommitProgress(ctx context.Context, in *CommitProgressRequest, opts ...grpc.CallOption) (*ProgressResponse, error) {
	out := new(ProgressResponse)
	if err := c.cc.Invoke(ctx, ProgressService_CommitProgress_FullMethodName, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *progressServiceClient) ListProgress(ctx context.Context, in *ListProgressRequest, opts ...grpc.CallOption) (*ListProgressResponse, error) {
	out := new(ListProgressResponse)
	if err := c.cc.Invoke(ctx, ProgressService_ListProgress_FullMethodName, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withJSON(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpcjson.CallOption()}, opts...)
}

// ProgressServiceServer is the server API for ProgressService.
type ProgressServiceServer interface {
	GetProgress(context.Context, *GetProgressRequest) (*ProgressResponse, error)
	CommitProgress(context.Context, *CommitProgressRequest) (*ProgressResponse, error)
	ListProgress(context.Context, *ListProgressRequest) (*ListProgressResponse, error)
}

// UnimplementedProgressServiceServer can be embedded for forward compatibility.
type UnimplementedProgressServiceServer struct{}

func (UnimplementedProgressServiceServer) GetProgress(context.Context, *GetProgressRequest) (*ProgressResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetProgress not implemented")
}

func (UnimplementedProgressServiceServer) CommitProgress(context.Context, *CommitProgressRequest) (*ProgressResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CommitProgress not implemented")
}

func (UnimplementedProgressServiceServer) ListProgress(context.Context, *ListProgressRequest) (*ListProgressResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListProgress not implemented")
}

func RegisterProgressServiceServer(s grpc.ServiceRegistrar, srv ProgressServiceServer) {
	s.RegisterService(&ProgressService_ServiceDesc, srv)
}

func _ProgressService_GetProgress_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetProgressRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProgressServiceServer).GetProgress(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ProgressService_GetProgress_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProgressServiceServer).GetProgress(ctx, req.(*GetProgressRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ProgressService_CommitProgress_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CommitProgressRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProgressServiceServer).CommitProgress(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ProgressService_CommitProgress_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProgressServiceServer).CommitProgress(ctx, req.(*CommitProgressRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ProgressService_ListProgress_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListProgressRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProgressServiceServer).ListProgress(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ProgressService_ListProgress_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProgressServiceServer).ListProgress(ctx, req.(*ListProgressRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ProgressService_ServiceDesc is the grpc.ServiceDesc for ProgressService.
var ProgressService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProgressServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetProgress", Handler: _ProgressService_GetProgress_Handler},
		{MethodName: "CommitProgress", Handler: _ProgressService_CommitProgress_Handler},
		{MethodName: "ListProgress", Handler: _ProgressService_ListProgress_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "progress/v1/progress.proto",
}
