// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostLimiterDisabled(t *testing.T) {
	l := NewHostLimiter(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "api.example"))
	}

	var nilLimiter *HostLimiter
	assert.NoError(t, nilLimiter.Wait(context.Background(), "api.example"))
}

func TestHostLimiterPerHost(t *testing.T) {
	l := NewHostLimiter(1) // one request per minute per host

	require.NoError(t, l.Wait(context.Background(), "a.example"))
	require.NoError(t, l.Wait(context.Background(), "b.example"), "hosts have separate budgets")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "a.example"), "second request to the same host must wait")
}

func TestHostLimiterDo(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)

	resp, err := NewHostLimiter(600).Do(context.Background(), ts.Client(), req, 1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
