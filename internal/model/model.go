// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Built-in role names.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// TokenPair collects an access/refresh token pair issued together.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Principal represents an end-user account. Secrets are never stored in plaintext.
type Principal struct {
	ID        uuid.UUID // PK
	Username  string    // unique
	Email     string    // unique
	PwdHash   []byte    // Argon2id(password, SaltAuth)
	SaltAuth  []byte    // per-user auth salt
	Roles     []string
	Version   int64 // bumped by "invalidate all sessions" only (>= 0)
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasRole reports whether the principal carries role r.
func (p *Principal) HasRole(r string) bool {
	for _, have := range p.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// Service is a machine identity allowed to call the validation surface.
type Service struct {
	ID             uuid.UUID
	Name           string // unique
	Description    string
	APIKey         string // unique, 64 hex chars
	SecretHash     []byte // SHA-256 of the issued secret
	AllowedOrigins []string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ServiceCredentials is returned once on creation or regeneration; the secret is not retrievable later.
type ServiceCredentials struct {
	APIKey string
	Secret string
}

// ServicePatch is a partial update of a service; nil fields are left unchanged.
type ServicePatch struct {
	Name           *string
	Description    *string
	AllowedOrigins *[]string
	Active         *bool
}
