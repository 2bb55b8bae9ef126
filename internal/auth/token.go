package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roach88/shiftsync/internal/clock"
)

// Issuer is the token issuer name written into and required from tokens.
const Issuer = "shiftsync"

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims for a device or user token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 tokens with a shared secret.
type Tokens struct {
	secret []byte
	clock  clock.Clock
	ttl    time.Duration
}

// NewTokens creates a signer. ttl <= 0 means tokens never expire.
func NewTokens(secret []byte, c clock.Clock, ttl time.Duration) *Tokens {
	if c == nil {
		c = clock.System{}
	}
	return &Tokens{secret: secret, clock: c, ttl: ttl}
}

// Issue signs a token for actor.
func (t *Tokens) Issue(actor Actor) (string, error) {
	if len(t.secret) == 0 {
		return "", fmt.Errorf("issue token: empty secret")
	}
	now := t.clock.Now()
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   Issuer,
			Subject:  actor.EmployeeID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if t.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(t.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns the actor it names.
func (t *Tokens) Parse(token string) (Actor, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(t.clock.Now),
	)
	if err != nil || !parsed.Valid {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Actor{}, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Actor{EmployeeID: claims.Subject, Role: role}, nil
}
