package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/and161185/gophstore/internal/crypto"
	"github.com/and161185/gophstore/internal/crypto/box"
	"github.com/and161185/gophstore/internal/errs"
)

const minSaltLen = 16

// SaltRecord is the plaintext salt file: the salt plus the KDF parameters the
// database was created with.
type SaltRecord struct {
	Salt []byte           `json:"salt"`
	KDF  crypto.KDFParams `json:"kdf"`
}

// EncodeSalt serializes a salt record.
func EncodeSalt(r SaltRecord) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeSalt parses a salt record. Unknown KDF algorithms are reported as unsupported.
func DecodeSalt(data []byte) (SaltRecord, error) {
	var r SaltRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return SaltRecord{}, fmt.Errorf("salt json: %w", errs.ErrDamaged)
	}
	if len(r.Salt) < minSaltLen {
		return SaltRecord{}, fmt.Errorf("salt length %d: %w", len(r.Salt), errs.ErrDamaged)
	}
	if r.KDF.Algo != crypto.AlgoArgon2id {
		return SaltRecord{}, fmt.Errorf("kdf %q: %w", r.KDF.Algo, errs.ErrUnsupportedVersion)
	}
	if err := r.KDF.Validate(); err != nil {
		return SaltRecord{}, fmt.Errorf("kdf params: %w", errs.ErrDamaged)
	}
	return r, nil
}

// EncodeBlob serializes a sealed blob for storage.
func EncodeBlob(b box.Blob) ([]byte, error) {
	return json.Marshal(b)
}

// DecodeBlob parses a stored blob and checks its shape without decrypting it.
func DecodeBlob(data []byte) (box.Blob, error) {
	var b box.Blob
	if err := json.Unmarshal(data, &b); err != nil {
		return box.Blob{}, fmt.Errorf("blob json: %w", errs.ErrDamaged)
	}
	if !b.WellFormed() {
		return box.Blob{}, fmt.Errorf("blob shape: %w", errs.ErrDamaged)
	}
	return b, nil
}

// OpenBlob decrypts a stored blob, mapping crypto failures onto store errors.
func OpenBlob(data, key []byte) ([]byte, error) {
	b, err := DecodeBlob(data)
	if err != nil {
		return nil, err
	}
	pt, err := box.Open(b, key)
	switch {
	case errors.Is(err, box.ErrAuth):
		return nil, errs.ErrWrongPassword
	case errors.Is(err, box.ErrMalformed):
		return nil, errs.ErrDamaged
	}
	return pt, err
}

// SealBlob encrypts plaintext under key with a random nonce and encodes the result.
func SealBlob(plaintext, key []byte) ([]byte, error) {
	b, err := box.Seal(plaintext, key, nil)
	if err != nil {
		return nil, err
	}
	return EncodeBlob(b)
}
