package iapkit

import (
	"fmt"
	"strings"
	"time"

	"github.com/PaulFidika/iapkit/account"
	"github.com/PaulFidika/iapkit/core"
)

const (
	// DefaultSoftExpiration is how long a token is served before it is re-minted.
	DefaultSoftExpiration = 30 * time.Minute
	// MaxSoftExpiration matches the lifetime of Google-issued identity tokens.
	MaxSoftExpiration = time.Hour
	// DefaultGrantType is the OAuth 2.0 JWT-bearer grant (RFC 7523).
	DefaultGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	// DefaultExchangeTimeout bounds one token-exchange round trip.
	DefaultExchangeTimeout = 4 * time.Second
)

// Config describes the IAP-protected resource and the credential used for it.
type Config struct {
	// ClientID is the OAuth client id of the IAP resource; it becomes the
	// target_audience of every assertion. Required.
	ClientID string
	// ServiceAccount signs the assertions. Required.
	ServiceAccount account.ServiceAccount
	// SoftExpiration defaults to DefaultSoftExpiration; must not exceed MaxSoftExpiration.
	SoftExpiration time.Duration
	// GrantType defaults to DefaultGrantType.
	GrantType string
	// ExchangeTimeout defaults to DefaultExchangeTimeout.
	ExchangeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SoftExpiration == 0 {
		c.SoftExpiration = DefaultSoftExpiration
	}
	if strings.TrimSpace(c.GrantType) == "" {
		c.GrantType = DefaultGrantType
	}
	if c.ExchangeTimeout == 0 {
		c.ExchangeTimeout = DefaultExchangeTimeout
	}
	return c
}

func (c Config) validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("%w: iap: client id is required", core.ErrConfiguration)
	}
	if c.SoftExpiration < 0 {
		return fmt.Errorf("%w: iap: soft expiration must be positive, got %s", core.ErrConfiguration, c.SoftExpiration)
	}
	if c.SoftExpiration > MaxSoftExpiration {
		return fmt.Errorf("%w: iap: soft expiration must not exceed %s, got %s", core.ErrConfiguration, MaxSoftExpiration, c.SoftExpiration)
	}
	if c.ExchangeTimeout < 0 {
		return fmt.Errorf("%w: iap: exchange timeout must be positive, got %s", core.ErrConfiguration, c.ExchangeTimeout)
	}
	return nil
}
