package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"
)

func incoming(token string) context.Context {
	md := metadata.Pairs("authorization", "Bearer "+token)
	return metadata.NewIncomingContext(context.Background(), md)
}

func signed(t *testing.T, key []byte, m jwt.SigningMethod, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(m, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestDeviceFrom(t *testing.T) {
	t.Parallel()

	if _, ok := DeviceFrom(context.Background()); ok {
		t.Fatalf("empty ctx must carry no device")
	}
	if _, ok := DeviceFrom(WithDevice(context.Background(), uuid.Nil)); ok {
		t.Fatalf("nil device must not count")
	}

	dev := uuid.Must(uuid.NewV4())
	got, ok := DeviceFrom(WithDevice(context.Background(), dev))
	if !ok || got != dev {
		t.Fatalf("got %s ok=%v, want %s", got, ok, dev)
	}
}

func TestDevice_PrefersStoredDevice(t *testing.T) {
	t.Parallel()

	key := []byte("k")
	s := &Server{signKey: key}
	stored := uuid.Must(uuid.NewV4())
	tok, err := IssueToken(key, uuid.Must(uuid.NewV4()), time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// the token in metadata names another device; the stored one wins
	got, err := s.device(WithDevice(incoming(tok), stored))
	if err != nil || got != stored {
		t.Fatalf("got=%s err=%v", got, err)
	}

	if _, err := s.device(context.Background()); !errors.Is(err, errNoToken) {
		t.Fatalf("want errNoToken, got %v", err)
	}
}

func TestTokenDevice_IssuedTokenVerifies(t *testing.T) {
	t.Parallel()

	key := []byte("k")
	dev := uuid.Must(uuid.NewV4())
	tok, err := IssueToken(key, dev, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := (&Server{signKey: key}).tokenDevice(incoming(tok))
	if err != nil || got != dev {
		t.Fatalf("got=%s err=%v", got, err)
	}
}

func TestTokenDevice_Rejects(t *testing.T) {
	t.Parallel()

	key := []byte("daemon-key")
	dev := uuid.Must(uuid.NewV4())
	now := time.Now().UTC()

	issued := func(k []byte, d uuid.UUID, ttl time.Duration) string {
		tok, err := IssueToken(k, d, ttl)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		return tok
	}

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"expired", issued(key, dev, -time.Hour), errTokenClock},
		{"other daemon key", issued([]byte("other-key"), dev, time.Hour), errBadToken},
		{"nil device", issued(key, uuid.Nil, time.Hour), errBadDevice},
		{"not a jwt", "not.a.jwt", errBadToken},
		{
			"hs384",
			signed(t, key, jwt.SigningMethodHS384, jwt.RegisteredClaims{
				Subject:   dev.String(),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			}),
			errBadToken,
		},
		{
			"subject not a uuid",
			signed(t, key, jwt.SigningMethodHS256, jwt.RegisteredClaims{
				Subject:   "laptop",
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			}),
			errBadDevice,
		},
		{
			"no expiry",
			signed(t, key, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: dev.String()}),
			errTokenClock,
		},
		{
			"not yet valid",
			signed(t, key, jwt.SigningMethodHS256, jwt.RegisteredClaims{
				Subject:   dev.String(),
				NotBefore: jwt.NewNumericDate(now.Add(10 * time.Minute)),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			}),
			errTokenClock,
		},
	}

	s := &Server{signKey: key}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.tokenDevice(incoming(tc.token)); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	md := metadata.New(nil)
	md.Append("authorization", "Basic Zm9vOmJhcg==")
	md.Append("authorization", "Bearer   ")
	md.Append("authorization", "  BEARER   tok.part.sig  ")
	got, err := bearerToken(metadata.NewIncomingContext(context.Background(), md))
	if err != nil || got != "tok.part.sig" {
		t.Fatalf("got=%q err=%v", got, err)
	}

	md = metadata.Pairs("authorization", "Bearertok")
	if _, err := bearerToken(metadata.NewIncomingContext(context.Background(), md)); !errors.Is(err, errNoToken) {
		t.Fatalf("want errNoToken, got %v", err)
	}
}
