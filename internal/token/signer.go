// Package token signs and verifies HS256 access and refresh tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/gatekeeper/internal/clock"
	"github.com/and161185/gatekeeper/internal/errs"
	"github.com/and161185/gatekeeper/internal/ids"
)

// Class distinguishes short-lived access tokens from long-lived refresh tokens.
type Class string

const (
	Access  Class = "access"
	Refresh Class = "refresh"
)

// Claims is the claim set carried by every issued token.
type Claims struct {
	Version int64    `json:"ver"`
	Roles   []string `json:"roles"`
	Type    Class    `json:"typ"`
	jwt.RegisteredClaims
}

// PrincipalID parses the subject as a principal id.
func (c *Claims) PrincipalID() (uuid.UUID, error) {
	return uuid.FromString(c.Subject)
}

// Config holds per-class secrets and lifetimes.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

type classKey struct {
	secret []byte
	ttl    time.Duration
}

// Signer mints and verifies tokens for both classes.
type Signer struct {
	keys   map[Class]classKey
	issuer string
	clk    clock.Clock
}

// NewSigner validates cfg and returns a Signer. Access and refresh secrets must differ.
func NewSigner(cfg Config, clk clock.Clock) (*Signer, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token: empty signing secret")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("token: access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: ttl must be positive")
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Signer{
		keys: map[Class]classKey{
			Access:  {secret: cfg.AccessSecret, ttl: cfg.AccessTTL},
			Refresh: {secret: cfg.RefreshSecret, ttl: cfg.RefreshTTL},
		},
		issuer: cfg.Issuer,
		clk:    clk,
	}, nil
}

// Sign issues a token of the given class for subject with a version and role snapshot.
func (s *Signer) Sign(subject uuid.UUID, version int64, roles []string, class Class) (string, time.Time, error) {
	k, ok := s.keys[class]
	if !ok {
		return "", time.Time{}, fmt.Errorf("token: unknown class %q", class)
	}
	now := s.clk.Now()
	exp := now.Add(k.ttl)
	claims := Claims{
		Version: version,
		Roles:   append([]string(nil), roles...),
		Type:    class,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ids.New(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	// NumericDate truncates to seconds; report what the token actually carries.
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature, expiry and class of raw. Errors wrap one of
// errs.ErrMalformed, errs.ErrInvalidSignature, errs.ErrExpired or errs.ErrWrongClass.
func (s *Signer) Verify(raw string, class Class) (*Claims, error) {
	k, ok := s.keys[class]
	if !ok {
		return nil, fmt.Errorf("token: unknown class %q", class)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clk.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return k.secret, nil
	}, opts...)
	if err != nil {
		return nil, mapParseError(err)
	}
	if claims.Type != class {
		return nil, errs.ErrWrongClass
	}
	if _, err := claims.PrincipalID(); err != nil {
		return nil, fmt.Errorf("%w: subject", errs.ErrMalformed)
	}
	return &claims, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", errs.ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", errs.ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", errs.ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", errs.ErrMalformed, err)
	}
}
