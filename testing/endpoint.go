// Package testing provides utilities for testing applications that use iapkit.
// It provides a fake Google token endpoint that verifies JWT-bearer assertions
// and issues signed identity tokens, plus generated service accounts bound to
// it, enabling integration tests without reaching Google.
//
// Example usage:
//
//	endpoint := testing.NewTokenEndpoint()
//	defer endpoint.Close()
//
//	sa := endpoint.NewServiceAccount("robot@test-project.iam.gserviceaccount.com")
//	cache, err := iapkit.New(iapkit.Config{ClientID: "client.apps.googleusercontent.com", ServiceAccount: sa})
package testing

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/PaulFidika/iapkit/account"
	jwtkit "github.com/PaulFidika/iapkit/jwt"
	oidckit "github.com/PaulFidika/iapkit/oidc"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// GrantTypeJWTBearer is the only grant the endpoint accepts.
const GrantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// IDTokenIssuer is the iss claim of issued identity tokens.
const IDTokenIssuer = "https://accounts.google.com"

// TokenEndpoint is an httptest-backed stand-in for oauth2.googleapis.com/token.
// It serves POST /token and the registered service account keys at GET /certs.
type TokenEndpoint struct {
	server *httptest.Server
	signer *jwtkit.RSASigner
	clock  clock.Clock

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	requests    int
	failStatus  int
	delay       time.Duration
	omitIDToken bool
	opaque      string
	hold        chan struct{}
	last        *oidckit.AssertionClaims
}

// EndpointOpt configures a TokenEndpoint.
type EndpointOpt func(*TokenEndpoint)

// WithClock sets the time source for assertion validation and issued iat/exp.
func WithClock(c clock.Clock) EndpointOpt {
	return func(e *TokenEndpoint) {
		e.clock = c
	}
}

// NewTokenEndpoint starts the fake endpoint. Call Close() when done.
func NewTokenEndpoint(opts ...EndpointOpt) *TokenEndpoint {
	signer, err := jwtkit.NewRSASigner(2048, "google-test-key")
	if err != nil {
		panic("failed to create RSA signer: " + err.Error())
	}
	e := &TokenEndpoint{
		signer: signer,
		clock:  clock.NewClock(),
		keys:   map[string]*rsa.PublicKey{},
	}
	for _, opt := range opts {
		opt(e)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", e.handleToken)
	mux.HandleFunc("/certs", e.handleCerts)
	e.server = httptest.NewServer(mux)
	return e
}

// URL returns the base URL of the server.
func (e *TokenEndpoint) URL() string { return e.server.URL }

// TokenURL is the token_uri to put in service accounts.
func (e *TokenEndpoint) TokenURL() string { return e.server.URL + "/token" }

// CertsURL serves the registered service account public keys as JWKS.
func (e *TokenEndpoint) CertsURL() string { return e.server.URL + "/certs" }

// Client returns an HTTP client for the server.
func (e *TokenEndpoint) Client() *http.Client { return e.server.Client() }

// Close shuts down the server, releasing any held requests first.
func (e *TokenEndpoint) Close() {
	e.Release()
	if e.server != nil {
		e.server.Close()
	}
}

// NewServiceAccount generates a key pair, registers the public half and
// returns a complete service account whose token_uri points here.
func (e *TokenEndpoint) NewServiceAccount(email string) account.ServiceAccount {
	kid := uuid.NewString()
	signer, err := jwtkit.NewRSASigner(2048, kid)
	if err != nil {
		panic("failed to create RSA signer: " + err.Error())
	}
	pemBytes, err := signer.PrivateKeyPEM()
	if err != nil {
		panic("failed to encode private key: " + err.Error())
	}
	e.RegisterKey(kid, signer.PublicKey())
	return account.ServiceAccount{
		Type:                    "service_account",
		ProjectID:               "test-project-id",
		PrivateKeyID:            kid,
		PrivateKey:              string(pemBytes),
		ClientEmail:             email,
		ClientID:                "123456789",
		AuthURI:                 "https://accounts.google.com/o/oauth2/auth",
		TokenURI:                e.TokenURL(),
		AuthProviderX509CertURL: "https://www.googleapis.com/oauth2/v1/certs",
		ClientX509CertURL:       e.CertsURL(),
	}
}

// RegisterKey trusts pub for assertions carrying kid.
func (e *TokenEndpoint) RegisterKey(kid string, pub *rsa.PublicKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keys[kid] = pub
}

// Requests returns how many POST /token requests were received.
func (e *TokenEndpoint) Requests() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests
}

// LastAssertion returns the claims of the last verified assertion, or nil.
func (e *TokenEndpoint) LastAssertion() *oidckit.AssertionClaims {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// FailWith makes subsequent token requests answer with status.
func (e *TokenEndpoint) FailWith(status int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failStatus = status
}

// Succeed clears FailWith, OmitIDToken and ReturnOpaque.
func (e *TokenEndpoint) Succeed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failStatus = 0
	e.omitIDToken = false
	e.opaque = ""
}

// SetDelay delays every token response by d of real time.
func (e *TokenEndpoint) SetDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

// OmitIDToken makes responses succeed without an id_token field.
func (e *TokenEndpoint) OmitIDToken() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.omitIDToken = true
}

// ReturnOpaque makes responses carry token verbatim instead of a signed JWT.
func (e *TokenEndpoint) ReturnOpaque(token string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opaque = token
}

// Hold parks token requests until Release is called. Requests are still
// counted on arrival.
func (e *TokenEndpoint) Hold() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hold == nil {
		e.hold = make(chan struct{})
	}
}

// Release lets held requests proceed.
func (e *TokenEndpoint) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hold != nil {
		close(e.hold)
		e.hold = nil
	}
}

// PublicKey is the key identity tokens are signed with.
func (e *TokenEndpoint) PublicKey() *rsa.PublicKey { return e.signer.PublicKey() }

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	Assertion string `json:"assertion"`
}

func (e *TokenEndpoint) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	e.mu.Lock()
	e.requests++
	hold := e.hold
	delay := e.delay
	failStatus := e.failStatus
	omit := e.omitIDToken
	opaque := e.opaque
	keys := jwtkit.NewJWKS(e.keys)
	e.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if failStatus != 0 {
		writeError(w, failStatus, "internal_failure", "failure injected by test")
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be JSON")
		return
	}
	if req.GrantType != GrantTypeJWTBearer {
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", req.GrantType)
		return
	}
	set, err := keys.KeySet()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_failure", err.Error())
		return
	}
	verifier := oidckit.NewAssertionVerifier(e.TokenURL(), set, oidckit.WithClock(e.clock))
	claims, err := oidckit.VerifyAssertion(r.Context(), req.Assertion, verifier)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_grant", err.Error())
		return
	}

	e.mu.Lock()
	e.last = claims
	e.mu.Unlock()

	resp := map[string]string{}
	switch {
	case omit:
		resp["access_token"] = "not-an-id-token"
	case opaque != "":
		resp["id_token"] = opaque
	default:
		tok, err := e.issueIDToken(r.Context(), claims)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_failure", err.Error())
			return
		}
		resp["id_token"] = tok
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (e *TokenEndpoint) issueIDToken(ctx context.Context, a *oidckit.AssertionClaims) (string, error) {
	now := e.clock.Now()
	return e.signer.Sign(ctx, jwt.MapClaims{
		"iss":            IDTokenIssuer,
		"aud":            a.TargetAudience,
		"azp":            a.Issuer,
		"sub":            a.Issuer,
		"email":          a.Issuer,
		"email_verified": true,
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
		"jti":            uuid.NewString(),
	})
}

func (e *TokenEndpoint) handleCerts(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	ks := jwtkit.NewJWKS(e.keys)
	e.mu.Unlock()
	jwtkit.ServeJWKS(w, r, ks)
}

func writeError(w http.ResponseWriter, status int, code, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": desc,
	})
}
