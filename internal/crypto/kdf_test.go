package crypto

import (
	"bytes"
	"testing"
)

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal", n)
	}
	if bytes.Equal(a, make([]byte, n)) {
		t.Fatalf("RandBytes returned all zeros")
	}
}

func TestNewSalt_Length(t *testing.T) {
	t.Parallel()

	s, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	if len(s) != SaltLen {
		t.Fatalf("salt len=%d, want=%d", len(s), SaltLen)
	}
}

func TestDeriveKey_DeterministicOnSameInput(t *testing.T) {
	t.Parallel()

	p := TestKDFParams()
	pw := []byte("correct-horse")
	salt := []byte("NaCl-32-bytes-of-salt-for-tests!")

	k1 := DeriveKey(pw, salt, p)
	k2 := DeriveKey(pw, salt, p)
	if len(k1) != KeyLen {
		t.Fatalf("key len=%d", len(k1))
	}
	if !Equal(k1, k2) {
		t.Fatalf("key not deterministic for same input")
	}
	if Equal(k1, DeriveKey(pw, []byte("another-salt----"), p)) {
		t.Fatalf("key should differ when salt differs")
	}
	if Equal(k1, DeriveKey([]byte("correct-horse!"), salt, p)) {
		t.Fatalf("key should differ when password differs")
	}
	q := p
	q.Iterations = 2
	if Equal(k1, DeriveKey(pw, salt, q)) {
		t.Fatalf("key should differ when parameters differ")
	}
}

func TestKDFParams_Validate(t *testing.T) {
	t.Parallel()

	if err := DefaultKDFParams().Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}
	if err := (KDFParams{Algo: "scrypt", Memory: 1, Iterations: 1, Parallelism: 1}).Validate(); err == nil {
		t.Fatalf("want error on unknown algo")
	}
	if err := (KDFParams{Algo: AlgoArgon2id}).Validate(); err == nil {
		t.Fatalf("want error on zero params")
	}
}

func TestZero(t *testing.T) {
	t.Parallel()

	b := []byte{1, 2, 3}
	Zero(b)
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Fatalf("Zero left data: %v", b)
	}
}
