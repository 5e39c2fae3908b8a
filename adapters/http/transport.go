package authhttp

import (
	"context"
	"fmt"
	"net/http"
)

// TokenProvider returns a bearer token valid for the next request.
// *iapkit.TokenCache implements it.
type TokenProvider interface {
	GetToken(ctx context.Context) (string, error)
}

// Invalidator drops a cached token. *iapkit.TokenCache implements it.
type Invalidator interface {
	Invalidate()
}

// Transport sets "Authorization: Bearer <token>" on every request it forwards.
type Transport struct {
	provider TokenProvider
	base     http.RoundTripper

	invalidateOn401 bool
}

// TransportOpt configures a Transport.
type TransportOpt func(*Transport)

// WithInvalidateOnUnauthorized drops the cached token when the proxy answers
// 401, so the next request mints a new one. The 401 response is returned as is.
func WithInvalidateOnUnauthorized() TransportOpt {
	return func(t *Transport) {
		t.invalidateOn401 = true
	}
}

// NewTransport wraps base; nil means http.DefaultTransport.
func NewTransport(provider TokenProvider, base http.RoundTripper, opts ...TransportOpt) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &Transport{provider: provider, base: base}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewClient returns an *http.Client whose requests carry IAP credentials.
func NewClient(provider TokenProvider, opts ...TransportOpt) *http.Client {
	return &http.Client{Transport: NewTransport(provider, nil, opts...)}
}

// RoundTrip clones req before setting the header, as RoundTrippers must not
// modify the caller's request.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.provider.GetToken(req.Context())
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, fmt.Errorf("authhttp: get token: %w", err)
	}

	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if t.invalidateOn401 && resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := t.provider.(Invalidator); ok {
			inv.Invalidate()
		}
	}
	return resp, nil
}
