package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/repository"
)

// Exchange moves manifest and block files in and out of a repository without the key.
// Incoming files are validated structurally only; merge does the rest.
type Exchange struct {
	repo repository.BlobRepository
}

// NewExchange returns an Exchange over repo.
func NewExchange(repo repository.BlobRepository) *Exchange { return &Exchange{repo: repo} }

// Manifest returns the raw manifest.
func (x *Exchange) Manifest(ctx context.Context) ([]byte, error) {
	data, err := x.repo.Read(ctx, repository.NameManifest)
	if err != nil {
		return nil, err
	}
	if _, err := ParseManifest(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Block returns the raw file of block k.
func (x *Exchange) Block(ctx context.Context, k int) ([]byte, error) {
	if k < 0 {
		return nil, fmt.Errorf("block %d: %w", k, errs.ErrNotFound)
	}
	return x.repo.Read(ctx, repository.BlockName(k))
}

// ImportBlock validates an incoming block file and stores it under its own number.
func (x *Exchange) ImportBlock(ctx context.Context, data []byte) (int, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return 0, err
	}
	local, err := x.local(ctx)
	if err != nil {
		return 0, err
	}
	if local != nil && (h.DB != local.DB || h.Partition != local.Partition || h.Block >= local.BlockCount) {
		return 0, fmt.Errorf("block %d of another database: %w", h.Block, errs.ErrDamaged)
	}
	if err := x.repo.Write(ctx, repository.BlockName(h.Block), data); err != nil {
		return 0, err
	}
	return h.Block, nil
}

// ImportManifest unions an incoming manifest with the local one.
// Blocks should be imported first so the result is immediately ready to merge.
func (x *Exchange) ImportManifest(ctx context.Context, data []byte) (Manifest, error) {
	in, err := ParseManifest(data)
	if err != nil {
		return Manifest{}, err
	}
	local, err := x.local(ctx)
	if err != nil {
		return Manifest{}, err
	}
	if local != nil {
		if !local.Compatible(in) {
			return Manifest{}, fmt.Errorf("manifest of another database: %w", errs.ErrDamaged)
		}
		for _, k := range local.Blocks {
			in.Add(k)
		}
	}
	out, err := in.Encode()
	if err != nil {
		return Manifest{}, err
	}
	if err := x.repo.Write(ctx, repository.NameManifest, out); err != nil {
		return Manifest{}, err
	}
	return in, nil
}

func (x *Exchange) local(ctx context.Context) (*Manifest, error) {
	data, err := x.repo.Read(ctx, repository.NameManifest)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
