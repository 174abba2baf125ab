// Package repository defines the persistence driver consumed by the store engine.
package repository

import (
	"context"
	"fmt"
	"strings"
)

// BlobRepository stores named blobs under a database root.
// Missing blobs are reported as errs.ErrNotFound.
type BlobRepository interface {
	// Read returns the blob contents.
	Read(ctx context.Context, name string) ([]byte, error)

	// Write replaces the blob atomically.
	Write(ctx context.Context, name string, data []byte) error

	// Delete removes the blob; deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// Exists reports whether the blob is present.
	Exists(ctx context.Context, name string) (bool, error)

	// List returns the sorted names starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Path returns a human-readable location of the blob, used for write hooks and logs.
	Path(name string) string

	// Root returns the database root.
	Root() string
}

// Logical blob names.
const (
	NameSalt       = "salt"
	NameDescriptor = "descriptor"
	NameTrunk      = "trunk"
	NameManifest   = "metadata/manifest"

	// BlockPrefix is the common prefix of metadata block names.
	BlockPrefix = "metadata/block-"
	// AttachmentPrefix is the common prefix of attachment blobs.
	AttachmentPrefix = "attachments/"

	stagingSuffix = ".next"
)

// BlockName returns the blob name of metadata block k.
func BlockName(k int) string { return fmt.Sprintf("%s%02d", BlockPrefix, k) }

// ParseBlockName extracts the block number from a block blob name.
func ParseBlockName(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, BlockPrefix)
	if !ok || rest == "" {
		return 0, false
	}
	n := 0
	for _, c := range rest {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
		if n > 1<<16 {
			return 0, false
		}
	}
	return n, true
}

// AttachmentName returns the blob name of an attachment.
func AttachmentName(id string) string { return AttachmentPrefix + id }

// Staging returns the name a blob is staged under during a master-password change.
func Staging(name string) string { return name + stagingSuffix }

// ValidName rejects names that could escape the database root.
func ValidName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("invalid blob name %q", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid blob name %q", name)
		}
	}
	return nil
}

// Blob is a named blob for batch writes.
type Blob struct {
	Name string
	Data []byte
}

// BatchWriter is implemented by drivers that can replace several blobs in one transaction.
type BatchWriter interface {
	WriteAll(ctx context.Context, blobs []Blob) error
}

// WriteAll writes blobs through a BatchWriter when r has one, otherwise one by one in order.
func WriteAll(ctx context.Context, r BlobRepository, blobs []Blob) error {
	if bw, ok := r.(BatchWriter); ok {
		return bw.WriteAll(ctx, blobs)
	}
	for _, b := range blobs {
		if err := r.Write(ctx, b.Name, b.Data); err != nil {
			return err
		}
	}
	return nil
}
