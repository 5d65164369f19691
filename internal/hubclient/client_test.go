package hubclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/store/memory"
)

const testKey = "secret"

func newTestHub(t *testing.T) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := hub.New(memory.New(), hub.Options{Logger: logger})
	require.NoError(t, h.Init(context.Background()))

	authn, err := auth.New(config.Config{
		AuthMode:       config.AuthModeAPIKey,
		APIKey:         testKey,
		IdentityHeader: "X-Aero-Account-Id",
	})
	require.NoError(t, err)

	ts := httptest.NewServer(signaling.NewServer(signaling.Config{Hub: h, Auth: authn, Logger: logger}).Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestClient_RoundTrip(t *testing.T) {
	base := newTestHub(t)
	ctx := context.Background()
	alice := New(base, testKey, "alice")
	bob := New(base, testKey, "bob")

	// Standard base64 keys contain '/' and '+'.
	key := hub.SessionKey("ab/cd+ef==")

	_, err := alice.Get(ctx, key)
	assert.ErrorIs(t, err, hub.ErrNotFound)

	require.NoError(t, alice.PublishOffer(ctx, key, hub.StringPtr("o1"), true))
	assert.ErrorIs(t, alice.PublishAnswer(ctx, key, "a", true, "o1", "r"), hub.ErrSelfAnswerForbidden)
	assert.ErrorIs(t, bob.PublishAnswer(ctx, key, "a", true, "stale", "r"), hub.ErrOfferMismatch)
	require.NoError(t, bob.PublishAnswer(ctx, key, "a1", true, "o1", "r1"))

	rec, err := alice.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec.Answer)
	assert.Equal(t, hub.AccountID("bob"), rec.Answer.AccountID)

	assert.ErrorIs(t, bob.ConsumeAnswer(ctx, key, *rec.Answer), hub.ErrUnauthorized)
	require.NoError(t, alice.ConsumeAnswer(ctx, key, *rec.Answer))

	rec, err = bob.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, rec.Offer)
	assert.Equal(t, []string{"r1"}, rec.RestreamHistory)

	require.NoError(t, alice.StopStreaming(ctx, key))
	rec, err = bob.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, rec.RestreamHistory)
}

func TestClient_AuthFailure(t *testing.T) {
	base := newTestHub(t)
	c := New(base, "wrong", "alice")

	err := c.PublishOffer(context.Background(), "k", hub.StringPtr("o"), true)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "err=%v", err)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, signaling.CodeAuthFailed, apiErr.Code)

	_, err = c.Watch(context.Background(), "k")
	require.True(t, errors.As(err, &apiErr), "err=%v", err)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestClient_Watch(t *testing.T) {
	base := newTestHub(t)
	alice := New(base, testKey, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w, err := alice.Watch(ctx, "k")
	require.NoError(t, err)
	defer w.Close()

	_, ok, err := w.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, alice.PublishOffer(ctx, "k", hub.StringPtr("o1"), true))
	rec, ok, err := w.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, rec.Offer)
	assert.Equal(t, "o1", *rec.Offer)

	short, cancelShort := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancelShort()
	_, _, err = w.Next(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_ICEServers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.example.com"}},
			{URLs: []string{"turns:turn.example.com:5349"}},
		},
		TURNREST: config.TURNRESTConfig{SharedSecret: "turn-secret", TTL: time.Minute, UsernamePrefix: "aero"},
	}
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{}, httpserver.Options{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	servers, err := New(ts.URL, "", "alice").ICEServers(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"stun:stun.example.com"}, servers[0].URLs)
	assert.Nil(t, servers[0].Credential)
	assert.Contains(t, servers[1].Username, ":aero:")
	assert.NotEmpty(t, servers[1].Credential)
}
