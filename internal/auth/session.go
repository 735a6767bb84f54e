// Package auth issues and validates the signed session tokens the API
// hands out. A session token carries the caller's full identity (user,
// organization, role) so request handling never needs a lookup to
// scope queries.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/andinalegal/lexcase/backend/internal/identity"
)

const (
	defaultSessionTTL = 12 * time.Hour
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// SessionClaims is the JWT payload for an authenticated session.
type SessionClaims struct {
	jwt.RegisteredClaims
	Role           string `json:"role"`
	OrganizationID string `json:"org,omitempty"`
}

// SessionIssuerConfig configures the session token issuer.
type SessionIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	SessionTTL    time.Duration
	Clock         func() time.Time
}

// SessionIssuer signs and validates session tokens.
type SessionIssuer struct {
	config SessionIssuerConfig
	clock  func() time.Time
}

// NewSessionIssuer constructs a SessionIssuer with sane defaults.
func NewSessionIssuer(cfg SessionIssuerConfig) *SessionIssuer {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionIssuer{
		config: SessionIssuerConfig{
			SigningSecret: cfg.SigningSecret,
			Issuer:        cfg.Issuer,
			Audience:      cfg.Audience,
			SessionTTL:    ttl,
			Clock:         clock,
		},
		clock: clock,
	}
}

// IssueSession produces a signed session token and its expiry
// (seconds) for the given identity.
func (i *SessionIssuer) IssueSession(_ context.Context, who identity.Identity) (string, int64, error) {
	if len(i.config.SigningSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if who.ID == "" {
		return "", 0, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.SessionTTL).UTC()

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   who.ID,
			Issuer:    i.config.Issuer,
			Audience:  []string{i.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role:           string(who.Role),
		OrganizationID: who.OrganizationID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateSession ensures the session token is well formed and returns
// the identity it carries.
func (i *SessionIssuer) ValidateSession(tokenString string) (identity.Identity, error) {
	if len(i.config.SigningSecret) == 0 {
		return identity.Identity{}, errMissingSigningSecret
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return identity.Identity{}, err
	}
	if claims.Subject == "" {
		return identity.Identity{}, errMissingSubjectClaim
	}

	role, err := identity.ParseRole(claims.Role)
	if err != nil {
		return identity.Identity{}, err
	}

	return identity.Identity{
		ID:             claims.Subject,
		OrganizationID: claims.OrganizationID,
		Role:           role,
	}, nil
}
