package oidckit

import (
	"context"
	"crypto/rsa"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	jwtkit "github.com/PaulFidika/iapkit/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"
)

const tokenURL = "https://oauth2.googleapis.com/token"

func newKeySet(t *testing.T, s *jwtkit.RSASigner) jwk.Set {
	t.Helper()
	set, err := jwtkit.NewJWKS(map[string]*rsa.PublicKey{s.KID(): s.PublicKey()}).KeySet()
	require.NoError(t, err)
	return set
}

func assertionClaims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"kid":             "k1",
		"iss":             "robot@example.iam.gserviceaccount.com",
		"sub":             "robot@example.iam.gserviceaccount.com",
		"aud":             tokenURL,
		"iat":             now.Unix(),
		"exp":             now.Add(time.Hour).Unix(),
		"target_audience": "client.apps.googleusercontent.com",
	}
}

func TestVerifyAssertion(t *testing.T) {
	signer, err := jwtkit.NewRSASigner(2048, "k1")
	require.NoError(t, err)
	clk := fakeclock.NewFakeClock(time.Unix(1_700_000_000, 0))
	v := NewAssertionVerifier(tokenURL, newKeySet(t, signer), WithClock(clk))

	tok, err := signer.Sign(context.Background(), assertionClaims(clk.Now()))
	require.NoError(t, err)

	claims, err := VerifyAssertion(context.Background(), tok, v)
	require.NoError(t, err)
	require.Equal(t, "k1", claims.KeyID)
	require.Equal(t, "robot@example.iam.gserviceaccount.com", claims.Issuer)
	require.Equal(t, "client.apps.googleusercontent.com", claims.TargetAudience)
	require.Equal(t, clk.Now().Unix(), claims.IssuedAt.Unix())
	require.Equal(t, clk.Now().Add(time.Hour).Unix(), claims.Expiration.Unix())
}

func TestVerifyAssertion_Rejects(t *testing.T) {
	signer, err := jwtkit.NewRSASigner(2048, "k1")
	require.NoError(t, err)
	other, err := jwtkit.NewRSASigner(2048, "k1")
	require.NoError(t, err)
	clk := fakeclock.NewFakeClock(time.Unix(1_700_000_000, 0))
	v := NewAssertionVerifier(tokenURL, newKeySet(t, signer), WithClock(clk))

	cases := []struct {
		desc   string
		signer *jwtkit.RSASigner
		mutate func(jwt.MapClaims)
	}{
		{desc: "wrong audience", signer: signer, mutate: func(c jwt.MapClaims) { c["aud"] = "https://elsewhere/token" }},
		{desc: "iss differs from sub", signer: signer, mutate: func(c jwt.MapClaims) { c["sub"] = "someone-else" }},
		{desc: "missing target_audience", signer: signer, mutate: func(c jwt.MapClaims) { delete(c, "target_audience") }},
		{desc: "expired", signer: signer, mutate: func(c jwt.MapClaims) { c["exp"] = clk.Now().Add(-time.Minute).Unix() }},
		{desc: "unknown key", signer: other, mutate: func(jwt.MapClaims) {}},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			claims := assertionClaims(clk.Now())
			tc.mutate(claims)
			tok, err := tc.signer.Sign(context.Background(), claims)
			require.NoError(t, err)
			_, err = VerifyAssertion(context.Background(), tok, v)
			require.Error(t, err)
		})
	}
}

func TestVerifyAssertion_NilVerifier(t *testing.T) {
	_, err := VerifyAssertion(context.Background(), "x.y.z", nil)
	require.Error(t, err)
}

func TestParseUnverified(t *testing.T) {
	signer, err := jwtkit.NewRSASigner(2048, "k1")
	require.NoError(t, err)
	iat := time.Unix(1_700_000_000, 0)
	tok, err := signer.Sign(context.Background(), jwt.MapClaims{
		"sub": "robot",
		"aud": "client",
		"iat": iat.Unix(),
		"exp": iat.Add(-time.Hour).Unix(),
	})
	require.NoError(t, err)

	claims, err := ParseUnverified(tok)
	require.NoError(t, err)
	require.Equal(t, "robot", claims.Subject)
	require.Equal(t, []string{"client"}, claims.Audience)
	require.True(t, iat.Equal(claims.IssuedAt))

	_, err = ParseUnverified("tok123")
	require.ErrorIs(t, err, ErrNotJWT)
}
