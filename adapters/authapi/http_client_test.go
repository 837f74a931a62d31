package authapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/bifrost/core"
	"github.com/layer-3/bifrost/ratelimit"
)

func TestChallengeRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/challenge", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "0xabc", req["address"])

		_ = json.NewEncoder(w).Encode(map[string]string{
			"message": "sign in please",
			"nonce":   "nonce-1",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	grant, err := client.Challenge(context.Background(), "0xabc", 1, core.ModeLive)
	require.NoError(t, err)
	assert.Equal(t, "sign in please", grant.Message)
	assert.Equal(t, "nonce-1", grant.Nonce)
}

func TestVerifySurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid signature"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	_, err := client.Verify(context.Background(), "msg", "0xsig", core.ModeLive)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid signature")
}

func TestTransientFailuresAreRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"valid": true})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	valid, err := client.ValidateSession(context.Background(), "token")
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOutboundBudgetEnforced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"valid": true})
	}))
	defer server.Close()

	clock := &stubClock{now: time.Now()}
	client := NewClient(server.URL, ratelimit.NewRegistry(clock))

	// The outbound window allows 60 calls per minute; the 61st is denied
	// locally with a typed retry hint, before touching the network.
	var err error
	for i := 0; i < 60; i++ {
		_, err = client.ValidateSession(context.Background(), "token")
		require.NoError(t, err)
	}
	_, err = client.ValidateSession(context.Background(), "token")
	require.Error(t, err)
	assert.Equal(t, core.CodeRateLimited, core.CodeOf(err))

	var coded *core.Error
	require.ErrorAs(t, err, &coded)
	assert.Greater(t, coded.RetryAfterMs, int64(0))

	// Once the window slides past, calls are admitted again.
	clock.now = clock.now.Add(time.Minute + time.Second)
	_, err = client.ValidateSession(context.Background(), "token")
	require.NoError(t, err)
}

func TestCanceledContextBecomesTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := NewClient(server.URL, nil)
	err := client.Disconnect(ctx, "token")
	require.Error(t, err)
	assert.Equal(t, core.CodeRequestTimeout, core.CodeOf(err))
}

type stubClock struct{ now time.Time }

func (c *stubClock) Now() time.Time { return c.now }
