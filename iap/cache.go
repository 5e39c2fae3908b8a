// Package iapkit authenticates HTTP requests to services behind Google
// Identity-Aware Proxy. A TokenCache exchanges service account assertions for
// IAP-scoped identity tokens and reuses each token until it goes stale.
package iapkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/PaulFidika/iapkit/account"
	"github.com/PaulFidika/iapkit/core"
	"github.com/PaulFidika/iapkit/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// refreshKey is the only singleflight key; one cache holds one token.
const refreshKey = "refresh"

// Exchanger POSTs body as JSON to tokenURL and returns the JSON response body.
// Errors for non-2xx statuses, connection failures and timeouts should wrap
// core.ErrTransport; other errors are wrapped with it.
type Exchanger interface {
	Exchange(ctx context.Context, tokenURL string, body any, timeout time.Duration) ([]byte, error)
}

var _ Exchanger = (*transport.Client)(nil)

// TokenCache serves IAP identity tokens. The fast path is a lock-free read of
// the current snapshot; misses join a single in-flight refresh shared by
// GetToken and GetTokenAsync callers alike.
type TokenCache struct {
	clientID  string
	grantType string
	soft      time.Duration
	timeout   time.Duration

	signer     *account.Signer
	exchanger  Exchanger
	httpClient transport.HTTPClient
	clock      clock.Clock
	log        logrus.FieldLogger
	events     core.RefreshLogger

	current atomic.Pointer[snapshot]
	flight  singleflight.Group
}

// Option configures a TokenCache.
type Option func(*TokenCache)

// WithClock overrides the time source for assertions and freshness checks.
func WithClock(c clock.Clock) Option {
	return func(tc *TokenCache) {
		if c != nil {
			tc.clock = c
		}
	}
}

// WithExchanger replaces the default JSON-over-HTTP token exchange.
func WithExchanger(e Exchanger) Option {
	return func(tc *TokenCache) {
		tc.exchanger = e
	}
}

// WithHTTPClient sets the client used by the default exchanger.
func WithHTTPClient(c transport.HTTPClient) Option {
	return func(tc *TokenCache) {
		tc.httpClient = c
	}
}

// WithLogger sets the logger; defaults to logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(tc *TokenCache) {
		if l != nil {
			tc.log = l
		}
	}
}

// WithRefreshLogger reports every refresh outcome to l.
func WithRefreshLogger(l core.RefreshLogger) Option {
	return func(tc *TokenCache) {
		tc.events = l
	}
}

// Result is delivered by GetTokenAsync.
type Result struct {
	Token string
	Err   error
}

type exchangeRequest struct {
	GrantType string `json:"grant_type"`
	Assertion string `json:"assertion"`
}

type exchangeResponse struct {
	IDToken string `json:"id_token"`
}

// New validates cfg, parses the service account key and returns an empty cache.
// All configuration errors wrap core.ErrConfiguration.
func New(cfg Config, opts ...Option) (*TokenCache, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	tc := &TokenCache{
		clientID:  cfg.ClientID,
		grantType: cfg.GrantType,
		soft:      cfg.SoftExpiration,
		timeout:   cfg.ExchangeTimeout,
		clock:     clock.NewClock(),
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(tc)
	}
	signer, err := account.NewSigner(cfg.ServiceAccount, account.WithClock(tc.clock))
	if err != nil {
		return nil, err
	}
	tc.signer = signer
	if tc.exchanger == nil {
		tc.exchanger = transport.New(tc.httpClient, transport.WithLogger(tc.log))
	}
	return tc, nil
}

// ClientID returns the audience tokens are minted for.
func (c *TokenCache) ClientID() string { return c.clientID }

// SoftExpiration returns the freshness window.
func (c *TokenCache) SoftExpiration() time.Duration { return c.soft }

// State reports the freshness of the cached token at the current time.
func (c *TokenCache) State() State {
	s := c.current.Load()
	switch {
	case s == nil:
		return StateEmpty
	case s.freshAt(c.clock.Now(), c.soft):
		return StateFresh
	default:
		return StateStale
	}
}

// Invalidate drops the cached token so the next call refreshes, e.g. after the
// proxy rejected it.
func (c *TokenCache) Invalidate() {
	c.log.WithField("audience", c.clientID).Debug("iap: invalidating cached token")
	c.current.Store(nil)
}

// GetToken returns a fresh token, blocking while a refresh is in flight.
// ctx bounds only this caller's wait: if it ends first, ctx.Err() is returned
// and the refresh carries on for other callers.
func (c *TokenCache) GetToken(ctx context.Context) (string, error) {
	s, err := c.get(ctx)
	if err != nil {
		return "", err
	}
	return s.token, nil
}

// GetTokenAsync is the non-blocking form of GetToken. The returned channel
// receives exactly one Result; it is already filled when the cache is fresh.
func (c *TokenCache) GetTokenAsync(ctx context.Context) <-chan Result {
	out := make(chan Result, 1)
	if s := c.fresh(); s != nil {
		out <- Result{Token: s.token}
		return out
	}
	go func() {
		s, err := c.get(ctx)
		if err != nil {
			out <- Result{Err: err}
			return
		}
		out <- Result{Token: s.token}
	}()
	return out
}

// fresh returns the current snapshot if still within the soft expiration.
func (c *TokenCache) fresh() *snapshot {
	s := c.current.Load()
	if s.freshAt(c.clock.Now(), c.soft) {
		return s
	}
	return nil
}

func (c *TokenCache) get(ctx context.Context) (*snapshot, error) {
	if s := c.fresh(); s != nil {
		return s, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := c.flight.DoChan(refreshKey, func() (any, error) {
		return c.refresh(ctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refresh runs inside the single flight. It re-checks freshness because a
// flight that just finished may already have replaced the snapshot.
func (c *TokenCache) refresh(ctx context.Context) (*snapshot, error) {
	if s := c.fresh(); s != nil {
		return s, nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	log := c.log.WithFields(logrus.Fields{
		"audience":  c.clientID,
		"token_url": c.signer.TokenURL(),
	})
	log.Debug("iap: fetching new token")

	token, err := c.fetch(ctx)
	if err != nil {
		log.WithError(err).Error("iap: failed to fetch token")
		c.logRefresh(ctx, time.Time{}, err)
		return nil, fmt.Errorf("iap: refresh token: %w", err)
	}

	s := newSnapshot(token, c.clock.Now())
	c.current.Store(s)
	log.WithField("issued_at", s.issuedAt.Format(time.RFC3339)).Info("iap: fetched new identity token")
	c.logRefresh(ctx, s.issuedAt, nil)
	return s, nil
}

func (c *TokenCache) fetch(ctx context.Context) (string, error) {
	assertion, err := c.signer.Mint(ctx, c.clientID)
	if err != nil {
		return "", err
	}

	body, err := c.exchanger.Exchange(ctx, c.signer.TokenURL(), exchangeRequest{
		GrantType: c.grantType,
		Assertion: assertion,
	}, c.timeout)
	if err != nil {
		if !errors.Is(err, core.ErrTransport) {
			err = fmt.Errorf("%w: %w", core.ErrTransport, err)
		}
		return "", err
	}

	var resp exchangeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: decode token response: %w", core.ErrResponseFormat, err)
	}
	if resp.IDToken == "" {
		return "", fmt.Errorf("%w: token response has no id_token", core.ErrResponseFormat)
	}
	return resp.IDToken, nil
}

func (c *TokenCache) logRefresh(ctx context.Context, issuedAt time.Time, err error) {
	if c.events != nil {
		c.events.LogRefresh(ctx, c.clientID, issuedAt, err)
	}
}
