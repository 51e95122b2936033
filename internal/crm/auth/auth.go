// Package auth verifies session tokens and resolves the caller's hub and
// role set. Token issuing belongs to the external auth provider; this
// package only validates.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/hubline/crm/internal/platform/errors"
)

// Roles granting access to the CRM module.
const (
	// RoleCRM is the baseline module-access role.
	RoleCRM = "crm"
	// RoleAdmin sees every client in the hub.
	RoleAdmin = "crm_admin"
	// RoleManager sees only clients assigned via the manager link.
	RoleManager = "crm_manager"
)

// User is the authenticated caller derived from a verified session token.
type User struct {
	HubID int64
	Email string
	Name  string
	Roles []string
}

// HasRole reports whether the user carries the given role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// sessionClaims is the internal claims type used for JWT parsing.
type sessionClaims struct {
	jwt.RegisteredClaims
	HubID int64    `json:"hub_id"`
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// Verifier validates HS256 session tokens.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier builds a Verifier for the shared session secret.
func NewVerifier(secret []byte, now func() time.Time) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("session secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: secret, now: now}, nil
}

// Verify parses and validates a session token, returning the caller.
func (v *Verifier) Verify(token string) (User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return User{}, apperrors.New(apperrors.CodeUnauthorized, "session token is required")
	}
	if v == nil || len(v.secret) == 0 {
		return User{}, errors.New("session verifier is not configured")
	}

	var parsed sessionClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return User{}, mapJWTError(err)
	}

	if parsed.HubID <= 0 {
		return User{}, apperrors.New(apperrors.CodeUnauthorized, "session hub is required")
	}
	email := strings.ToLower(strings.TrimSpace(parsed.Email))
	if email == "" {
		return User{}, apperrors.New(apperrors.CodeUnauthorized, "session email is required")
	}

	return User{
		HubID: parsed.HubID,
		Email: email,
		Name:  strings.TrimSpace(parsed.Name),
		Roles: parsed.Roles,
	}, nil
}

// Issue mints a session token. Used by tests and local tooling; production
// tokens come from the auth provider sharing the same secret.
func Issue(secret []byte, user User, ttl time.Duration, now func() time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("session secret is required")
	}
	if now == nil {
		now = time.Now
	}
	issuedAt := now().UTC()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		HubID: user.HubID,
		Email: user.Email,
		Name:  user.Name,
		Roles: user.Roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnauthorized, "sign session token", err)
	}
	return signed, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return apperrors.New(apperrors.CodeUnauthorized, "session token is expired")
	}
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return apperrors.New(apperrors.CodeUnauthorized, "session signature is invalid")
	}
	return apperrors.New(apperrors.CodeUnauthorized, "session token is invalid")
}
