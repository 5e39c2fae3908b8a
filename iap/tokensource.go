package iapkit

import (
	"context"

	"golang.org/x/oauth2"
)

type tokenSource struct {
	ctx   context.Context
	cache *TokenCache
}

// TokenSource adapts the cache to oauth2.TokenSource so it can back clients
// built on golang.org/x/oauth2 (oauth2.NewClient, google API options). Expiry
// is the soft expiration, so oauth2 wrappers refresh no later than the cache.
func (c *TokenCache) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, cache: c}
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	s, err := ts.cache.get(ts.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: s.token,
		TokenType:   "Bearer",
		Expiry:      s.expiry(ts.cache.soft),
	}, nil
}
