package oidckit

import (
	"context"
	"errors"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// AssertionClaims captures the fields of a JWT-bearer assertion presented to a
// token endpoint.
type AssertionClaims struct {
	KeyID          string
	Issuer         string
	Subject        string
	TargetAudience string
	IssuedAt       time.Time
	Expiration     time.Time
}

// AssertionVerifier validates assertions against a key set and the token
// endpoint they must be addressed to.
type AssertionVerifier struct {
	tokenURL string
	keySet   jwk.Set
	clock    clock.Clock
	skew     time.Duration
}

// VerifierOpt configures an assertion verifier.
type VerifierOpt func(*AssertionVerifier)

// WithClock sets the time source used for exp/iat validation.
func WithClock(c clock.Clock) VerifierOpt {
	return func(v *AssertionVerifier) {
		v.clock = c
	}
}

// WithSkew tolerates clock drift between signer and verifier.
func WithSkew(d time.Duration) VerifierOpt {
	return func(v *AssertionVerifier) {
		v.skew = d
	}
}

// NewAssertionVerifier builds a verifier for assertions addressed to tokenURL.
func NewAssertionVerifier(tokenURL string, keySet jwk.Set, opts ...VerifierOpt) *AssertionVerifier {
	v := &AssertionVerifier{
		tokenURL: tokenURL,
		keySet:   keySet,
		clock:    clock.NewClock(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyAssertion checks signature, audience and time claims, then extracts
// the assertion claims. iss and sub must match and target_audience must be set.
func VerifyAssertion(ctx context.Context, rawToken string, v *AssertionVerifier) (*AssertionClaims, error) {
	if v == nil {
		return nil, errors.New("oidc: missing verifier")
	}
	if v.keySet == nil {
		return nil, errors.New("oidc: missing key set")
	}
	token, err := jwt.ParseString(
		rawToken,
		jwt.WithKeySet(v.keySet),
		jwt.WithValidate(true),
		jwt.WithAudience(v.tokenURL),
		jwt.WithClock(v.clock),
		jwt.WithAcceptableSkew(v.skew),
		jwt.WithContext(ctx),
	)
	if err != nil {
		return nil, err
	}
	if token.Issuer() == "" || token.Issuer() != token.Subject() {
		return nil, errors.New("oidc: assertion iss and sub must match")
	}
	claims := &AssertionClaims{
		Issuer:     token.Issuer(),
		Subject:    token.Subject(),
		IssuedAt:   token.IssuedAt(),
		Expiration: token.Expiration(),
	}
	if raw, ok := token.Get("target_audience"); ok {
		if s, ok := raw.(string); ok {
			claims.TargetAudience = s
		}
	}
	if claims.TargetAudience == "" {
		return nil, errors.New("oidc: missing target_audience")
	}
	if raw, ok := token.Get("kid"); ok {
		if s, ok := raw.(string); ok {
			claims.KeyID = s
		}
	}
	return claims, nil
}
