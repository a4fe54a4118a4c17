package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultUserID   = "anonymous"
	DefaultUserName = "Anonymous User"
	DefaultTTL      = 24 * time.Hour
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("expired token")
	ErrMissingSigning = errors.New("token signing is not configured")
)

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type CollaborationRole struct {
	Role string `json:"role"`
}

type AIScope struct {
	Permissions []string `json:"permissions"`
}

type Scopes struct {
	Collaboration map[string]CollaborationRole `json:"collaboration"`
	AI            AIScope                      `json:"ai"`
}

// CollaborationClaims is the payload the editor's cloud services expect.
// The audience is the environment id, serialized as a plain string.
type CollaborationClaims struct {
	Audience  string           `json:"aud"`
	Subject   string           `json:"sub"`
	IssuedAt  *jwt.NumericDate `json:"iat,omitempty"`
	ExpiresAt *jwt.NumericDate `json:"exp,omitempty"`
	User      User             `json:"user"`
	Auth      Scopes           `json:"auth"`
}

var _ jwt.Claims = CollaborationClaims{}

func (c CollaborationClaims) GetExpirationTime() (*jwt.NumericDate, error) { return c.ExpiresAt, nil }
func (c CollaborationClaims) GetIssuedAt() (*jwt.NumericDate, error)       { return c.IssuedAt, nil }
func (c CollaborationClaims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c CollaborationClaims) GetIssuer() (string, error)                   { return "", nil }
func (c CollaborationClaims) GetSubject() (string, error)                  { return c.Subject, nil }
func (c CollaborationClaims) GetAudience() (jwt.ClaimStrings, error) {
	if c.Audience == "" {
		return nil, nil
	}
	return jwt.ClaimStrings{c.Audience}, nil
}

// NewClaims grants user collaboration writer access to every channel and
// AI admin permission in environmentID. Empty id and name fall back to the
// anonymous user.
func NewClaims(environmentID string, user User, now time.Time, ttl time.Duration) CollaborationClaims {
	if user.ID == "" {
		user.ID = DefaultUserID
	}
	if user.Name == "" {
		user.Name = DefaultUserName
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return CollaborationClaims{
		Audience:  environmentID,
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		User:      user,
		Auth: Scopes{
			Collaboration: map[string]CollaborationRole{"*": {Role: "writer"}},
			AI:            AIScope{Permissions: []string{"ai:admin"}},
		},
	}
}

// IssueToken signs claims with HS256.
func IssueToken(secret []byte, claims CollaborationClaims) (string, error) {
	if len(secret) == 0 || claims.Audience == "" {
		return "", ErrMissingSigning
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies a token issued for environmentID.
func ParseToken(secret []byte, environmentID, token string) (CollaborationClaims, error) {
	var claims CollaborationClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithAudience(environmentID))
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return CollaborationClaims{}, ErrExpiredToken
	default:
		return CollaborationClaims{}, ErrInvalidToken
	}
}
