// Package auth validates the bearer tokens presented to the initiate endpoint
// and in the websocket auth handshake. The token subject is the caller's
// contact number.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any token that fails parsing or validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// DefaultAccessTTL matches the lifetime of access tokens issued at login.
const DefaultAccessTTL = 30 * time.Minute

type Claims struct {
	jwt.RegisteredClaims
	TokenType string `json:"type,omitempty"`
}

// Validator verifies HMAC-signed JWTs with a shared secret.
type Validator struct {
	secret []byte
	method *jwt.SigningMethodHMAC
}

func NewValidator(secret, algorithm string) (*Validator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("auth: JWT secret is required")
	}
	var method *jwt.SigningMethodHMAC
	switch strings.ToUpper(strings.TrimSpace(algorithm)) {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", algorithm)
	}
	return &Validator{secret: []byte(secret), method: method}, nil
}

// ContactNumber validates tokenStr and returns its subject.
func (v *Validator) ContactNumber(tokenStr string) (string, error) {
	claims, err := v.Validate(tokenStr)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (v *Validator) Validate(tokenStr string) (*Claims, error) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tokenStr), "Bearer "))
	if tokenStr == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if token.Method.Alg() != v.method.Alg() {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return v.secret, nil
		},
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}
	if claims.TokenType == "refresh" {
		return nil, fmt.Errorf("%w: refresh token presented as access token", ErrInvalidToken)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// IssueToken signs an access token for contact. Used by tooling and tests;
// production tokens come from the login service sharing the same secret.
func (v *Validator) IssueToken(contact string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   contact,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		TokenType: "access",
	}
	signed, err := jwt.NewWithClaims(v.method, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
