/*
Credential verification for the realtime layer.

Two credentials exist: the long-lived session token issued at login,
and the short-lived connection token minted per realtime connection
attempt. The connection token is deliberately scoped down to a bare
subject claim and a five minute expiry so that a leaked realtime token
is worth very little, independent of the session's own lifetime.

Every verifier in this package reads the user id from the JWT "sub"
claim. Nothing reads any other claim name for identity.
*/
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultConnectionTokenTTL = 5 * time.Minute

var (
	ErrTokenMissing = errors.New("credential missing")
	ErrTokenInvalid = errors.New("credential invalid")
	ErrTokenExpired = errors.New("credential expired")
)

// Identity is what a verified session credential resolves to. Username
// rides along so clients can self-filter (e.g. hide their own typing
// indicator) without an extra lookup.
type Identity struct {
	UserID   string
	Username string
}

type sessionClaims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies both credential kinds with one
// server-held HMAC secret.
type TokenService struct {
	secret     []byte
	sessionTTL time.Duration
	connTTL    time.Duration
}

func NewTokenService(secret string, sessionTTL, connectionTTL time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("auth: secret cannot be empty")
	}
	if connectionTTL <= 0 {
		connectionTTL = DefaultConnectionTokenTTL
	}
	if sessionTTL <= 0 {
		sessionTTL = 7 * 24 * time.Hour
	}
	return &TokenService{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
		connTTL:    connectionTTL,
	}, nil
}

// MintSessionToken issues the long-lived login credential.
func (s *TokenService) MintSessionToken(id Identity) (string, error) {
	if id.UserID == "" {
		return "", errors.New("auth: user id required")
	}
	now := time.Now()
	claims := sessionClaims{
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// MintConnectionToken issues a fresh handshake credential for one
// user. Safe to call repeatedly; every call yields a new token with a
// new expiry and no state is kept server side.
func (s *TokenService) MintConnectionToken(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("auth: user id required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.connTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifySessionToken validates the login credential and extracts the
// caller's identity.
func (s *TokenService) VerifySessionToken(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrTokenMissing
	}
	var claims sessionClaims
	if err := s.parse(token, &claims); err != nil {
		return Identity{}, err
	}
	if claims.Subject == "" {
		return Identity{}, ErrTokenInvalid
	}
	return Identity{UserID: claims.Subject, Username: claims.Username}, nil
}

// VerifyConnectionToken validates a handshake credential and returns
// the subject user id.
func (s *TokenService) VerifyConnectionToken(token string) (string, error) {
	if token == "" {
		return "", ErrTokenMissing
	}
	var claims jwt.RegisteredClaims
	if err := s.parse(token, &claims); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrTokenInvalid
	}
	return claims.Subject, nil
}

// IdentityFromRequest resolves the session credential on an HTTP
// request, looking at the Authorization bearer header first and the
// session cookie second.
func (s *TokenService) IdentityFromRequest(r *http.Request) (Identity, error) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return s.VerifySessionToken(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie("session"); err == nil && c.Value != "" {
		return s.VerifySessionToken(c.Value)
	}
	return Identity{}, ErrTokenMissing
}

func (s *TokenService) parse(token string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	switch {
	case err == nil && parsed.Valid:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}
