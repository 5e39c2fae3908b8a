package core

import (
	"context"
	"time"
)

// RefreshLogger records token refresh outcomes to an external sink (e.g., metrics).
// Implementations should be non-blocking and best-effort. err is nil on success,
// issuedAt is zero on failure.
type RefreshLogger interface {
	LogRefresh(ctx context.Context, audience string, issuedAt time.Time, err error)
}
