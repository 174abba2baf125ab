// Package box contains the authenticated symmetric primitive (NaCl secretbox) used for
// every encrypted blob of a store.
package box

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// Params
const (
	KeyLen   = 32
	NonceLen = 24
	Overhead = secretbox.Overhead
)

var (
	// ErrAuth indicates the ciphertext failed authentication (wrong key, wrong nonce or tampering).
	ErrAuth = errors.New("box: message authentication failed")
	// ErrMalformed indicates the input cannot be a secretbox at all.
	ErrMalformed = errors.New("box: malformed input")
)

// Blob is a ciphertext with the nonce it was sealed under.
type Blob struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Rand returns n cryptographically secure random bytes.
func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Seal encrypts plaintext under key. A nil nonce is replaced by a random one.
// Sealing is deterministic for a given key and nonce.
func Seal(plaintext, key, nonce []byte) (Blob, error) {
	if len(key) != KeyLen {
		return Blob{}, ErrMalformed
	}
	if nonce == nil {
		var err error
		if nonce, err = Rand(NonceLen); err != nil {
			return Blob{}, err
		}
	}
	if len(nonce) != NonceLen {
		return Blob{}, ErrMalformed
	}
	var k [KeyLen]byte
	var n [NonceLen]byte
	copy(k[:], key)
	copy(n[:], nonce)
	defer clear(k[:])

	ct := secretbox.Seal(nil, plaintext, &n, &k)
	return Blob{Nonce: append([]byte(nil), nonce...), Ciphertext: ct}, nil
}

// Open decrypts b with key. ErrMalformed and ErrAuth are returned distinctly so
// callers can tell a damaged file from a wrong key.
func Open(b Blob, key []byte) ([]byte, error) {
	if len(key) != KeyLen || len(b.Nonce) != NonceLen || len(b.Ciphertext) < Overhead {
		return nil, ErrMalformed
	}
	var k [KeyLen]byte
	var n [NonceLen]byte
	copy(k[:], key)
	copy(n[:], b.Nonce)
	defer clear(k[:])

	pt, ok := secretbox.Open(nil, b.Ciphertext, &n, &k)
	if !ok {
		return nil, ErrAuth
	}
	if pt == nil {
		pt = []byte{}
	}
	return pt, nil
}

// WellFormed reports whether b has the shape of a secretbox without decrypting it.
func (b Blob) WellFormed() bool {
	return len(b.Nonce) == NonceLen && len(b.Ciphertext) >= Overhead
}

// SealCombined seals plaintext with a random nonce and returns nonce||ciphertext.
func SealCombined(plaintext, key []byte) ([]byte, error) {
	b, err := Seal(plaintext, key, nil)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(b.Nonce)+len(b.Ciphertext))
	out = append(out, b.Nonce...)
	out = append(out, b.Ciphertext...)
	return out, nil
}

// OpenCombined decrypts data produced by SealCombined.
func OpenCombined(data, key []byte) ([]byte, error) {
	if len(data) < NonceLen+Overhead {
		return nil, ErrMalformed
	}
	return Open(Blob{Nonce: data[:NonceLen], Ciphertext: data[NonceLen:]}, key)
}
