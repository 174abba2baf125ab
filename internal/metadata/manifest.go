package metadata

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gophstore/internal/errs"
)

// Manifest lists the block files written for the current database generation.
// It is plaintext so completeness can be checked without the key.
type Manifest struct {
	Format     int       `json:"format"`
	Partition  int       `json:"partition"`
	DB         uuid.UUID `json:"db"`
	BlockCount int       `json:"block_count"`
	Blocks     []int     `json:"blocks"`
}

// ParseManifest decodes and validates a manifest.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest json: %w", errs.ErrDamaged)
	}
	if m.Format != BlockFormat || m.Partition < 1 || m.BlockCount <= 0 || m.DB == uuid.Nil {
		return Manifest{}, fmt.Errorf("manifest header: %w", errs.ErrDamaged)
	}
	for _, b := range m.Blocks {
		if b < 0 || b >= m.BlockCount {
			return Manifest{}, fmt.Errorf("manifest block %d out of range: %w", b, errs.ErrDamaged)
		}
	}
	m.normalize()
	return m, nil
}

// Encode serializes the manifest with its block list sorted and deduplicated.
func (m Manifest) Encode() ([]byte, error) {
	m.Blocks = slices.Clone(m.Blocks)
	m.normalize()
	return json.Marshal(m)
}

// Has reports whether block k is listed.
func (m Manifest) Has(k int) bool {
	_, ok := slices.BinarySearch(m.Blocks, k)
	return ok
}

// Add lists block k.
func (m *Manifest) Add(k int) {
	m.Blocks = append(m.Blocks, k)
	m.normalize()
}

// Compatible reports whether blocks described by o can be merged into a store described by m.
func (m Manifest) Compatible(o Manifest) bool {
	return m.DB == o.DB && m.Partition == o.Partition && m.BlockCount == o.BlockCount
}

func (m *Manifest) normalize() {
	if m.Blocks == nil {
		m.Blocks = []int{}
	}
	slices.Sort(m.Blocks)
	m.Blocks = slices.Compact(m.Blocks)
}
