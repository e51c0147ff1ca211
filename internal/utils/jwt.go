package utils // package utils provides the credential helpers: password hashing and bearer tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/psych-forms/internal/model"
)

// DefaultTokenTTL is the lifetime of an access token when the caller does
// not configure one.
const DefaultTokenTTL = 7 * 24 * time.Hour

var (
	// ErrExpiredToken is returned when the token signature is valid but
	// its exp claim is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrInvalidToken covers every other decoding failure: malformed
	// input, bad signature, unexpected algorithm or missing claims.
	ErrInvalidToken = errors.New("invalid token")
)

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// accessClaims is the claim set carried by access tokens.  The subject is
// the principal id and Role holds the canonical role name.
type accessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewAccessToken builds and signs an HS256 JWT for a principal.  A zero
// or negative ttl falls back to DefaultTokenTTL.
func NewAccessToken(secret, principalID string, role model.Role, ttl time.Duration) (AccessToken, error) {
	return newAccessTokenAt(secret, principalID, role, ttl, time.Now().UTC())
}

func newAccessTokenAt(secret, principalID string, role model.Role, ttl time.Duration, now time.Time) (AccessToken, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	exp := now.Add(ttl)
	claims := accessClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies signature, algorithm and expiry of raw and
// returns the principal it names.  It does not check that the principal
// still exists; callers look it up in the store.
func ParseAccessToken(secret, raw string) (model.Principal, error) {
	var claims accessClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.Principal{}, ErrExpiredToken
		}
		return model.Principal{}, ErrInvalidToken
	}
	if !tok.Valid || claims.Subject == "" {
		return model.Principal{}, ErrInvalidToken
	}
	role := model.Role(claims.Role)
	if !role.Valid() {
		return model.Principal{}, ErrInvalidToken
	}
	return model.Principal{ID: claims.Subject, Role: role}, nil
}
