// Package crypto implements master-key derivation and small helpers for key material.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// KeyLen is the size of a derived master key.
	KeyLen = 32
	// SaltLen is the size of a freshly generated salt.
	SaltLen = 32

	// AlgoArgon2id is the only supported derivation algorithm.
	AlgoArgon2id = "argon2id"
)

// Argon2id parameters for new databases.
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
)

// KDFParams holds the derivation parameters persisted next to the salt,
// so existing databases keep opening with the parameters they were created with.
type KDFParams struct {
	Algo        string `json:"algo"`
	Memory      uint32 `json:"memory"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

// DefaultKDFParams returns the parameters used for newly created databases.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		Algo:        AlgoArgon2id,
		Memory:      argonMemory,
		Iterations:  argonTime,
		Parallelism: argonThreads,
	}
}

// TestKDFParams returns cheap parameters for tests and demo databases.
func TestKDFParams() KDFParams {
	return KDFParams{Algo: AlgoArgon2id, Memory: 64, Iterations: 1, Parallelism: 1}
}

// Validate rejects parameters this build cannot derive with.
func (p KDFParams) Validate() error {
	if p.Algo != AlgoArgon2id {
		return fmt.Errorf("unsupported kdf %q", p.Algo)
	}
	if p.Iterations == 0 || p.Memory == 0 || p.Parallelism == 0 {
		return fmt.Errorf("kdf parameters must be positive")
	}
	return nil
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewSalt generates a database salt.
func NewSalt() ([]byte, error) {
	salt, err := RandBytes(SaltLen)
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives the master key from password and salt using Argon2id.
func DeriveKey(password, salt []byte, p KDFParams) []byte {
	return argon2.IDKey(password, salt, p.Iterations, p.Memory, p.Parallelism, KeyLen)
}

// Equal compares key material in constant time.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
