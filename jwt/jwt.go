package jwtkit

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/PaulFidika/iapkit/core"
	jwt "github.com/golang-jwt/jwt/v5"
)

// Signer issues asymmetric JWTs.
type Signer interface {
	// Algorithm returns the JWS algorithm (e.g., RS256).
	Algorithm() string
	// KID returns the key id placed in the JWS header.
	KID() string
	// Sign creates a signed JWT with provided claims.
	Sign(ctx context.Context, claims jwt.MapClaims) (token string, err error)
}

// RSASigner signs RS256 JWTs with a single RSA private key.
type RSASigner struct {
	key *rsa.PrivateKey
	kid string
}

var _ Signer = (*RSASigner)(nil)

// NewRSASigner generates a fresh key. Intended for tests and fake endpoints.
func NewRSASigner(bits int, kid string) (*RSASigner, error) {
	if bits == 0 {
		bits = 2048
	}
	k, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return &RSASigner{key: k, kid: kid}, nil
}

func (s *RSASigner) Algorithm() string           { return jwt.SigningMethodRS256.Alg() }
func (s *RSASigner) KID() string                 { return s.kid }
func (s *RSASigner) PublicKey() *rsa.PublicKey   { return &s.key.PublicKey }
func (s *RSASigner) PrivateKey() *rsa.PrivateKey { return s.key }

func (s *RSASigner) Sign(_ context.Context, claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.kid
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrSigning, err)
	}
	return signed, nil
}

// PrivateKeyPEM encodes the private key as PKCS#8 PEM, the layout Google
// service account files use.
func (s *RSASigner) PrivateKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(s.key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// NewRSASignerFromPEM constructs an RSASigner from a PEM-encoded private key.
// PKCS#1 ("RSA PRIVATE KEY") and PKCS#8 ("PRIVATE KEY") blocks are accepted.
// Errors wrap core.ErrCredential.
func NewRSASignerFromPEM(kid string, pemBytes []byte) (*RSASigner, error) {
	key, err := parseRSAPrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrCredential, err)
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid RSA private key: %w", core.ErrCredential, err)
	}
	return &RSASigner{key: key, kid: kid}, nil
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	if len(pemBytes) == 0 {
		return nil, errors.New("empty RSA private key pem")
	}
	blk, _ := pem.Decode(pemBytes)
	if blk == nil {
		return nil, errors.New("failed to decode RSA private key pem")
	}
	switch blk.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(blk.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(blk.Bytes)
		if err != nil {
			return nil, err
		}
		parsed, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("pkcs8 key is not RSA private key")
		}
		return parsed, nil
	default:
		return nil, fmt.Errorf("unsupported pem block type %q", blk.Type)
	}
}
