// Package grpcserver serves the BlockSync API for one database.
package grpcserver

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/and161185/gophstore/internal/convert"
	"github.com/and161185/gophstore/internal/errs"
	blockmeta "github.com/and161185/gophstore/internal/metadata"
	"github.com/and161185/gophstore/internal/syncapi"
)

// Server moves sealed metadata blocks in and out of a database without holding its key.
type Server struct {
	syncapi.UnimplementedBlockSyncServer
	x       *blockmeta.Exchange
	signKey []byte
	log     *zap.Logger

	// OnDelivered runs after a pushed manifest was merged, e.g. the store's
	// MetadataIsReadyToMerge when the daemon shares a process with one.
	OnDelivered func(ctx context.Context) error
}

// New constructs a server over x. Tokens must be HS256-signed with signKey.
func New(x *blockmeta.Exchange, signKey []byte, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{x: x, signKey: signKey, log: log}
}

// Manifest returns the stored manifest.
func (s *Server) Manifest(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	if _, err := s.device(ctx); err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	data, err := s.x.Manifest(ctx)
	if err != nil {
		return nil, toStatus("manifest", err)
	}
	return convert.ToProtoPayload(data), nil
}

// FetchBlock returns one sealed block.
func (s *Server) FetchBlock(ctx context.Context, req *wrapperspb.Int32Value) (*wrapperspb.BytesValue, error) {
	if _, err := s.device(ctx); err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	k, err := convert.FromProtoBlockRef(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad block: %v", err)
	}
	data, err := s.x.Block(ctx, k)
	if err != nil {
		return nil, toStatus("fetch block", err)
	}
	return convert.ToProtoPayload(data), nil
}

// PushBlock validates the block header and stores the block.
func (s *Server) PushBlock(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.Int32Value, error) {
	dev, err := s.device(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	data, err := convert.FromProtoPayload(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad block: %v", err)
	}
	k, err := s.x.ImportBlock(ctx, data)
	if err != nil {
		return nil, toStatus("push block", err)
	}
	s.log.Debug("block received", zap.Stringer("device", dev), zap.Int("block", k))
	return convert.ToProtoBlockRef(k), nil
}

// PushManifest unions the pushed manifest into the stored one and fires OnDelivered.
func (s *Server) PushManifest(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	dev, err := s.device(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	data, err := convert.FromProtoPayload(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad manifest: %v", err)
	}
	m, err := s.x.ImportManifest(ctx, data)
	if err != nil {
		return nil, toStatus("push manifest", err)
	}
	s.log.Info("manifest received", zap.Stringer("device", dev), zap.Int("blocks", len(m.Blocks)))
	if s.OnDelivered != nil {
		if err := s.OnDelivered(ctx); err != nil {
			s.log.Warn("delivery hook failed", zap.Error(err))
		}
	}
	out, err := m.Encode()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode manifest: %v", err)
	}
	return convert.ToProtoPayload(out), nil
}

func toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrDamaged):
		return status.Errorf(codes.InvalidArgument, "%s: rejected", op)
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}
