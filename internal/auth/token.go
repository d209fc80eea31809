package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/ayush/finalapi/internal/config"
)

// ErrInvalidToken is returned by ParseToken for any token that fails validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the claim set embedded in every issued token.
type Claims struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 tokens with a key fixed at startup.
type TokenIssuer struct {
	key      []byte
	issuer   string
	audience string
	expiry   time.Duration
	now      func() time.Time
}

// NewTokenIssuer validates cfg and returns an issuer. A missing or weak key is
// a configuration error.
func NewTokenIssuer(cfg config.JWT) (*TokenIssuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TokenIssuer{
		key:      []byte(cfg.SecretKey),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		expiry:   cfg.Expiry,
		now:      time.Now,
	}, nil
}

// WithClock returns a copy of the issuer that reads time from now.
func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	c := *i
	c.now = now
	return &c
}

// CreateToken issues a token for the given identity. Every call yields a
// distinct token.
func (i *TokenIssuer) CreateToken(userID, username string, roles []string) (string, error) {
	issuedAt := i.now()
	claims := Claims{
		Name:  username,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(i.expiry)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").With("subject", userID).Wrap(err)
	}
	return signed, nil
}

// ParseToken verifies signature, algorithm, issuer, audience and lifetime.
// Expired tokens wrap jwt.ErrTokenExpired.
func (i *TokenIssuer) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return i.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID").Wrap(errors.Join(ErrInvalidToken, err))
	}
	if !token.Valid {
		return nil, oops.Code("TOKEN_INVALID").Wrap(ErrInvalidToken)
	}
	return claims, nil
}

type claimsKey struct{}

// WithClaims returns a context carrying the verified claims.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims stored by WithClaims, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}
