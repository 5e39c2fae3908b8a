// Package transport posts token-exchange requests as JSON and returns the raw
// JSON response body. Every failure wraps core.ErrTransport; there is no retry.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PaulFidika/iapkit/core"
	"github.com/sirupsen/logrus"
)

// maxResponseBytes caps how much of a token response is read.
const maxResponseBytes = 1 << 20

// HTTPClient is the subset of *http.Client used to send requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ HTTPClient = (*http.Client)(nil)

// StatusError is returned for non-2xx responses. It matches core.ErrTransport.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool { return target == core.ErrTransport }

// Client is the default token-exchange transport.
type Client struct {
	http HTTPClient
	log  logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger; defaults to logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New wraps client; a nil client means http.DefaultClient.
func New(client HTTPClient, opts ...Option) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	c := &Client{http: client, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchange POSTs body as JSON to url and returns the response body. timeout
// bounds the whole round trip including reading the body; zero means ctx only.
func (c *Client) Exchange(ctx context.Context, url string, body any, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	log := c.log.WithField("token_url", url)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request body: %w", core.ErrTransport, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", core.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: request timed out after %s: %w", core.ErrTransport, timeout, err)
		}
		return nil, fmt.Errorf("%w: request failed: %w", core.ErrTransport, err)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if closeErr := resp.Body.Close(); closeErr != nil {
		log.WithError(closeErr).Warn("transport: failed to close response body")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %w", core.ErrTransport, err)
	}

	log.WithFields(logrus.Fields{
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("transport: token exchange response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}
