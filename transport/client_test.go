package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/PaulFidika/iapkit/core"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestExchange_PostsJSON(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id_token":"tok123"}`))
	}))
	defer srv.Close()

	c := New(srv.Client())
	body, err := c.Exchange(context.Background(), srv.URL, map[string]string{"grant_type": "g", "assertion": "a"}, 4*time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `{"id_token":"tok123"}`, string(body))
	require.Equal(t, map[string]string{"grant_type": "g", "assertion": "a"}, got)
}

func TestExchange_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.Client()).Exchange(context.Background(), srv.URL, map[string]string{}, time.Second)
	require.ErrorIs(t, err, core.ErrTransport)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusInternalServerError, se.StatusCode)
	require.Contains(t, se.Body, "boom")
}

func TestExchange_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := New(srv.Client()).Exchange(context.Background(), srv.URL, map[string]string{}, 50*time.Millisecond)
	require.ErrorIs(t, err, core.ErrTransport)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, time.Since(start) < 2*time.Second)
}

func TestExchange_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	_, err := New(nil, WithLogger(logger)).Exchange(context.Background(), url, map[string]string{}, time.Second)
	require.ErrorIs(t, err, core.ErrTransport)
	require.Empty(t, hook.AllEntries())
}
