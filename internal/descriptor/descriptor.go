// Package descriptor holds the encrypted database descriptor and the plaintext salt record.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gophstore/internal/crypto"
	"github.com/and161185/gophstore/internal/crypto/box"
	"github.com/and161185/gophstore/internal/errs"
)

// Format constants written into every new descriptor.
const (
	FormatVersion    = 1
	PartitionVersion = 1
	DefaultBlocks    = 16

	marker = "gophstore/descriptor"
)

// Descriptor describes the database itself. It is only ever persisted sealed.
type Descriptor struct {
	FormatVersion    int       `json:"format_version"`
	DBUUID           uuid.UUID `json:"db_uuid"`
	CreatedAt        int64     `json:"created_at"`
	Marker           string    `json:"marker"`
	BlockCount       int       `json:"block_count"`
	PartitionVersion int       `json:"partition_version"`
}

// New builds the initial descriptor of a database.
func New(dbuuid uuid.UUID, now time.Time) Descriptor {
	return Descriptor{
		FormatVersion:    FormatVersion,
		DBUUID:           dbuuid,
		CreatedAt:        now.UnixMilli(),
		Marker:           marker,
		BlockCount:       DefaultBlocks,
		PartitionVersion: PartitionVersion,
	}
}

// Seal encrypts d under key. A nil nonce is replaced by a random one.
func Seal(d Descriptor, key, nonce []byte) (box.Blob, error) {
	pt, err := json.Marshal(d)
	if err != nil {
		return box.Blob{}, fmt.Errorf("marshal descriptor: %w", err)
	}
	return box.Seal(pt, key, nonce)
}

// Open decrypts and validates a sealed descriptor.
//
// An authentication failure means the key is wrong; anything structural means
// the file is damaged. A descriptor that decrypts but declares a newer format
// yields errs.ErrUnsupportedVersion.
func Open(b box.Blob, key []byte) (Descriptor, error) {
	pt, err := box.Open(b, key)
	switch {
	case errors.Is(err, box.ErrAuth):
		return Descriptor{}, errs.ErrWrongPassword
	case errors.Is(err, box.ErrMalformed):
		return Descriptor{}, fmt.Errorf("descriptor: %w", errs.ErrDamaged)
	case err != nil:
		return Descriptor{}, err
	}
	defer crypto.Zero(pt)

	var d Descriptor
	if err := json.Unmarshal(pt, &d); err != nil {
		return Descriptor{}, fmt.Errorf("descriptor json: %w", errs.ErrDamaged)
	}
	if d.Marker != marker || d.FormatVersion < 1 {
		return Descriptor{}, fmt.Errorf("descriptor marker: %w", errs.ErrDamaged)
	}
	if d.FormatVersion > FormatVersion || d.PartitionVersion > PartitionVersion {
		return Descriptor{}, fmt.Errorf("descriptor v%d/p%d: %w", d.FormatVersion, d.PartitionVersion, errs.ErrUnsupportedVersion)
	}
	if d.BlockCount <= 0 || d.PartitionVersion < 1 || d.DBUUID == uuid.Nil {
		return Descriptor{}, fmt.Errorf("descriptor fields: %w", errs.ErrDamaged)
	}
	return d, nil
}

// Rekey is the outcome of a master-password change, not yet persisted.
type Rekey struct {
	Salt       SaltRecord
	Key        []byte
	Descriptor box.Blob
}

// ChangeMasterPassword derives a key for newPassword from a fresh salt and seals d under it.
// Nothing is written; the caller switches over atomically.
func ChangeMasterPassword(newPassword []byte, d Descriptor, params crypto.KDFParams) (Rekey, error) {
	if err := params.Validate(); err != nil {
		return Rekey{}, err
	}
	salt, err := crypto.NewSalt()
	if err != nil {
		return Rekey{}, err
	}
	key := crypto.DeriveKey(newPassword, salt, params)
	blob, err := Seal(d, key, nil)
	if err != nil {
		crypto.Zero(key)
		return Rekey{}, err
	}
	return Rekey{Salt: SaltRecord{Salt: salt, KDF: params}, Key: key, Descriptor: blob}, nil
}
