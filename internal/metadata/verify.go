package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/and161185/gophstore/internal/descriptor"
	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/repository"
)

// VerifyStoreIntegrity reports whether repo holds a structurally sound store.
// It needs no key and decrypts nothing.
func VerifyStoreIntegrity(ctx context.Context, repo repository.BlobRepository) bool {
	return Verify(ctx, repo) == nil
}

// Verify is VerifyStoreIntegrity with the reason for failure.
func Verify(ctx context.Context, repo repository.BlobRepository) error {
	salt, err := repo.Read(ctx, repository.NameSalt)
	if err != nil {
		return fmt.Errorf("salt: %w", err)
	}
	if _, err := descriptor.DecodeSalt(salt); err != nil {
		return err
	}
	for _, name := range []string{repository.NameDescriptor, repository.NameTrunk} {
		data, err := repo.Read(ctx, name)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if _, err := descriptor.DecodeBlob(data); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	var m *Manifest
	data, err := repo.Read(ctx, repository.NameManifest)
	switch {
	case err == nil:
		mm, err := ParseManifest(data)
		if err != nil {
			return err
		}
		m = &mm
	case !errors.Is(err, errs.ErrNotFound):
		return err
	}

	names, err := repo.List(ctx, repository.BlockPrefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if strings.HasSuffix(name, repository.Staging("")) {
			continue
		}
		k, ok := repository.ParseBlockName(name)
		if !ok {
			return fmt.Errorf("unexpected block file %s: %w", name, errs.ErrDamaged)
		}
		data, err := repo.Read(ctx, name)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		h, err := ParseHeader(data)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if h.Block != k {
			return fmt.Errorf("%s claims block %d: %w", name, h.Block, errs.ErrDamaged)
		}
		if m != nil && (h.DB != m.DB || h.Partition != m.Partition || k >= m.BlockCount) {
			return fmt.Errorf("%s does not match manifest: %w", name, errs.ErrDamaged)
		}
	}
	return nil
}
