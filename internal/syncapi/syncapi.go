// Package syncapi declares the gophstore.sync.v1.BlockSync gRPC service.
//
// Messages are protobuf well-known wrapper types, so the service needs no
// generated code: block numbers travel as Int32Value, manifests and sealed
// block files as BytesValue. Block contents stay encrypted end to end.
package syncapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified service name.
const ServiceName = "gophstore.sync.v1.BlockSync"

// Full method names.
const (
	ManifestMethod     = "/" + ServiceName + "/Manifest"
	FetchBlockMethod   = "/" + ServiceName + "/FetchBlock"
	PushBlockMethod    = "/" + ServiceName + "/PushBlock"
	PushManifestMethod = "/" + ServiceName + "/PushManifest"
)

// BlockSyncServer is implemented by the sync daemon.
type BlockSyncServer interface {
	// Manifest returns the server's manifest.
	Manifest(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
	// FetchBlock returns one sealed block file.
	FetchBlock(context.Context, *wrapperspb.Int32Value) (*wrapperspb.BytesValue, error)
	// PushBlock stores a sealed block file and returns its number.
	PushBlock(context.Context, *wrapperspb.BytesValue) (*wrapperspb.Int32Value, error)
	// PushManifest unions the pushed manifest into the server's and returns the result.
	PushManifest(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// UnimplementedBlockSyncServer answers every method with codes.Unimplemented.
type UnimplementedBlockSyncServer struct{}

func (UnimplementedBlockSyncServer) Manifest(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Manifest not implemented")
}

func (UnimplementedBlockSyncServer) FetchBlock(context.Context, *wrapperspb.Int32Value) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method FetchBlock not implemented")
}

func (UnimplementedBlockSyncServer) PushBlock(context.Context, *wrapperspb.BytesValue) (*wrapperspb.Int32Value, error) {
	return nil, status.Error(codes.Unimplemented, "method PushBlock not implemented")
}

func (UnimplementedBlockSyncServer) PushManifest(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method PushManifest not implemented")
}

// RegisterBlockSyncServer registers srv on s.
func RegisterBlockSyncServer(s grpc.ServiceRegistrar, srv BlockSyncServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary adapts a typed handler to grpc.MethodHandler.
func unary[Req any, Resp any](method string, call func(BlockSyncServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BlockSyncServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BlockSyncServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes BlockSync for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BlockSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Manifest", Handler: unary(ManifestMethod, BlockSyncServer.Manifest)},
		{MethodName: "FetchBlock", Handler: unary(FetchBlockMethod, BlockSyncServer.FetchBlock)},
		{MethodName: "PushBlock", Handler: unary(PushBlockMethod, BlockSyncServer.PushBlock)},
		{MethodName: "PushManifest", Handler: unary(PushManifestMethod, BlockSyncServer.PushManifest)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gophstore/sync/v1/sync.proto",
}

// BlockSyncClient is the client side of BlockSync.
type BlockSyncClient interface {
	Manifest(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	FetchBlock(ctx context.Context, in *wrapperspb.Int32Value, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	PushBlock(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.Int32Value, error)
	PushManifest(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type blockSyncClient struct {
	cc grpc.ClientConnInterface
}

// NewBlockSyncClient returns a client over cc.
func NewBlockSyncClient(cc grpc.ClientConnInterface) BlockSyncClient {
	return &blockSyncClient{cc: cc}
}

func (c *blockSyncClient) Manifest(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, ManifestMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *blockSyncClient) FetchBlock(ctx context.Context, in *wrapperspb.Int32Value, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, FetchBlockMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *blockSyncClient) PushBlock(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.Int32Value, error) {
	out := new(wrapperspb.Int32Value)
	if err := c.cc.Invoke(ctx, PushBlockMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *blockSyncClient) PushManifest(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, PushManifestMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
