package authhttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	iapkit "github.com/PaulFidika/iapkit/iap"
	iaptest "github.com/PaulFidika/iapkit/testing"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	token       string
	err         error
	invalidated atomic.Int32
}

func (p *staticProvider) GetToken(context.Context) (string, error) { return p.token, p.err }
func (p *staticProvider) Invalidate()                              { p.invalidated.Add(1) }

func echoAuth(status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Authorization", r.Header.Get("Authorization"))
		w.WriteHeader(status)
	}))
}

func TestTransport_SetsBearer(t *testing.T) {
	srv := echoAuth(http.StatusOK)
	defer srv.Close()

	client := NewClient(&staticProvider{token: "tok123"})
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "Bearer tok123", resp.Header.Get("X-Seen-Authorization"))
	require.Empty(t, req.Header.Get("Authorization"))
}

func TestTransport_ProviderError(t *testing.T) {
	srv := echoAuth(http.StatusOK)
	defer srv.Close()

	sentinel := errors.New("no token")
	client := &http.Client{Transport: NewTransport(&staticProvider{err: sentinel}, nil)}
	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("payload"))
	require.NoError(t, err)

	_, err = client.Do(req)
	require.ErrorIs(t, err, sentinel)
}

func TestTransport_InvalidateOnUnauthorized(t *testing.T) {
	srv := echoAuth(http.StatusUnauthorized)
	defer srv.Close()

	p := &staticProvider{token: "tok123"}
	resp, err := NewClient(p).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Zero(t, p.invalidated.Load())

	resp, err = NewClient(p, WithInvalidateOnUnauthorized()).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.EqualValues(t, 1, p.invalidated.Load())
}

func TestTransport_WithTokenCache(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(1_700_000_000, 0))
	endpoint := iaptest.NewTokenEndpoint(iaptest.WithClock(clk))
	defer endpoint.Close()
	endpoint.ReturnOpaque("tok123")

	logger, _ := test.NewNullLogger()
	cache, err := iapkit.New(iapkit.Config{
		ClientID:       "client.apps.googleusercontent.com",
		ServiceAccount: endpoint.NewServiceAccount("robot@test-project.iam.gserviceaccount.com"),
	}, iapkit.WithClock(clk), iapkit.WithHTTPClient(endpoint.Client()), iapkit.WithLogger(logger))
	require.NoError(t, err)

	srv := echoAuth(http.StatusUnauthorized)
	defer srv.Close()
	client := NewClient(cache, WithInvalidateOnUnauthorized())

	for i := 0; i < 2; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, "Bearer tok123", resp.Header.Get("X-Seen-Authorization"))
	}
	require.Equal(t, 2, endpoint.Requests())
	require.Equal(t, iapkit.StateEmpty, cache.State())
}
