package iapkit

import (
	"time"

	oidckit "github.com/PaulFidika/iapkit/oidc"
)

// State is the freshness of a TokenCache.
type State int

const (
	StateEmpty State = iota
	StateFresh
	StateStale
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}

// snapshot is an immutable cached token. It is replaced wholesale, never
// mutated, so readers may hold one without locking.
type snapshot struct {
	token    string
	issuedAt time.Time
}

// newSnapshot derives issuedAt from the token's own iat claim, falling back to
// obtainedAt for opaque tokens or tokens without iat.
func newSnapshot(token string, obtainedAt time.Time) *snapshot {
	issuedAt := obtainedAt
	if claims, err := oidckit.ParseUnverified(token); err == nil && !claims.IssuedAt.IsZero() {
		issuedAt = claims.IssuedAt
	}
	return &snapshot{token: token, issuedAt: issuedAt}
}

// freshAt reports now < issuedAt + soft.
func (s *snapshot) freshAt(now time.Time, soft time.Duration) bool {
	return s != nil && now.Before(s.issuedAt.Add(soft))
}

func (s *snapshot) expiry(soft time.Duration) time.Time {
	return s.issuedAt.Add(soft)
}
