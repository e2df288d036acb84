// Package auth guards the run endpoints with HS256 bearer tokens.
//
// Auth is optional: it is switched on by setting JWT_SECRET. Tokens are
// minted offline with the `token` command and carry the client name in the
// "sub" claim:
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header:    {"alg":"HS256","typ":"JWT"}
//	- Payload:   {"jti":"...","sub":"ci-runner","iss":"code-runner","iat":...,"exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secret)
//
// Verification needs only the secret, so the runner keeps no client state.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const (
	issuer = "code-runner"

	// DefaultTokenTTL is the lifetime of tokens minted without an explicit one.
	DefaultTokenTTL = 30 * 24 * time.Hour
)

// TokenService mints and checks client tokens.
type TokenService struct {
	key    []byte
	parser *jwt.Parser
}

// NewTokenService returns a TokenService keyed by secret, which must be at
// least 16 characters. Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{
		key: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}, nil
}

// Generate signs a token for client valid for DefaultTokenTTL.
func (s *TokenService) Generate(client string) (string, error) {
	return s.GenerateWithDuration(client, DefaultTokenTTL)
}

// GenerateWithDuration signs a token for client valid for ttl. Each token
// gets a unique id so individual tokens can be told apart in logs.
func (s *TokenService) GenerateWithDuration(client string, ttl time.Duration) (string, error) {
	if client == "" {
		return "", errors.New("auth: client name is required")
	}

	issued := time.Now()
	rc := jwt.RegisteredClaims{
		ID:        xid.NewWithTime(issued).String(),
		Subject:   client,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, rc).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("auth: sign: %w", err)
	}
	return signed, nil
}

// Validate checks tokenStr and returns the client in its subject. Only
// HS256 is accepted: "none" and asymmetric algorithms fail before the
// signature is checked.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	var rc jwt.RegisteredClaims
	if _, err := s.parser.ParseWithClaims(tokenStr, &rc, s.keyFor); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}
	if rc.Subject == "" {
		return "", errors.New("auth: token has no subject")
	}
	return rc.Subject, nil
}

func (s *TokenService) keyFor(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
	}
	return s.key, nil
}
