package account

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/PaulFidika/iapkit/core"
	jwtkit "github.com/PaulFidika/iapkit/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
)

// AssertionLifetime is the exp - iat span of every minted assertion.
const AssertionLifetime = time.Hour

// Signer mints JWT-bearer assertions for a service account. It holds no
// mutable state and is safe for concurrent use.
type Signer struct {
	signer   *jwtkit.RSASigner
	issuer   string
	tokenURL string
	clock    clock.Clock
}

// SignerOpt configures a Signer.
type SignerOpt func(*Signer)

// WithClock overrides the time source used for iat/exp.
func WithClock(c clock.Clock) SignerOpt {
	return func(s *Signer) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewSigner validates the service account and parses its private key.
func NewSigner(sa ServiceAccount, opts ...SignerOpt) (*Signer, error) {
	if err := sa.validateFields(); err != nil {
		return nil, err
	}
	rs, err := sa.rsaSigner()
	if err != nil {
		return nil, err
	}
	s := &Signer{
		signer:   rs,
		issuer:   sa.ClientEmail,
		tokenURL: sa.TokenURI,
		clock:    clock.NewClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Signer) Issuer() string            { return s.issuer }
func (s *Signer) KeyID() string             { return s.signer.KID() }
func (s *Signer) TokenURL() string          { return s.tokenURL }
func (s *Signer) PublicKey() *rsa.PublicKey { return s.signer.PublicKey() }

// Mint signs an assertion requesting an identity token for targetAudience.
func (s *Signer) Mint(ctx context.Context, targetAudience string) (string, error) {
	if strings.TrimSpace(targetAudience) == "" {
		return "", fmt.Errorf("%w: account: target audience is empty", core.ErrConfiguration)
	}
	iat := s.clock.Now().Unix()
	claims := jwt.MapClaims{
		"kid":             s.signer.KID(),
		"iss":             s.issuer,
		"sub":             s.issuer,
		"aud":             s.tokenURL,
		"iat":             iat,
		"exp":             iat + int64(AssertionLifetime/time.Second),
		"target_audience": targetAudience,
	}
	assertion, err := s.signer.Sign(ctx, claims)
	if err != nil {
		return "", fmt.Errorf("account: mint assertion: %w", err)
	}
	return assertion, nil
}
