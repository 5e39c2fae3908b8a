package oidckit

import (
	"errors"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// TokenClaims is the subset of an issued identity token the client needs.
type TokenClaims struct {
	Subject    string
	Audience   []string
	IssuedAt   time.Time // zero when absent
	Expiration time.Time // zero when absent
}

// ErrNotJWT is returned by ParseUnverified for opaque tokens.
var ErrNotJWT = errors.New("oidc: token is not a compact JWT")

// ParseUnverified decodes a compact JWT without checking its signature or
// validating its time claims.
func ParseUnverified(raw string) (*TokenClaims, error) {
	if strings.Count(raw, ".") != 2 {
		return nil, ErrNotJWT
	}
	token, err := jwt.ParseString(raw, jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return nil, err
	}
	return &TokenClaims{
		Subject:    token.Subject(),
		Audience:   token.Audience(),
		IssuedAt:   token.IssuedAt(),
		Expiration: token.Expiration(),
	}, nil
}
