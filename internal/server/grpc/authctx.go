package grpcserver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"
)

// tokenLeeway absorbs clock skew between devices and the daemon.
const tokenLeeway = 30 * time.Second

var (
	errNoToken    = errors.New("no bearer token")
	errBadToken   = errors.New("invalid token")
	errBadDevice  = errors.New("token subject is not a device id")
	errTokenClock = errors.New("token expired or not valid yet")
)

type deviceKey struct{}

// WithDevice records the device AuthUnary authenticated.
func WithDevice(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, deviceKey{}, id)
}

// DeviceFrom returns the device recorded by WithDevice. The nil UUID never counts.
func DeviceFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(deviceKey{}).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// IssueToken signs an HS256 device token valid for ttl.
func IssueToken(signKey []byte, device uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   device.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signKey)
}

// device returns the authenticated device, preferring what AuthUnary stored.
func (s *Server) device(ctx context.Context) (uuid.UUID, error) {
	if id, ok := DeviceFrom(ctx); ok {
		return id, nil
	}
	return s.tokenDevice(ctx)
}

// tokenDevice verifies the bearer token in the incoming metadata and returns its subject.
func (s *Server) tokenDevice(ctx context.Context) (uuid.UUID, error) {
	raw, err := bearerToken(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	var claims jwt.RegisteredClaims
	_, err = jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.signKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return uuid.Nil, errBadToken
	}
	if err := jwt.NewValidator(jwt.WithLeeway(tokenLeeway), jwt.WithExpirationRequired()).Validate(&claims); err != nil {
		return uuid.Nil, errTokenClock
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errBadDevice
	}
	return id, nil
}

// bearerToken picks the first non-empty bearer credential among the authorization values.
func bearerToken(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errNoToken
	}
	for _, v := range md.Get("authorization") {
		scheme, tok, found := strings.Cut(strings.TrimSpace(v), " ")
		if !found || !strings.EqualFold(scheme, "bearer") {
			continue
		}
		if tok = strings.TrimSpace(tok); tok != "" {
			return tok, nil
		}
	}
	return "", errNoToken
}
