package signaling

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
)

func (e *testEnv) watchURL(key, query string) string {
	return "ws" + strings.TrimPrefix(e.baseURL, "http") + "/v1/sessions/" + key + "/watch" + query
}

func readWatch(t *testing.T, c *websocket.Conn) WatchMessage {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WatchMessage
	if err := c.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWatch_QueryAuthStreamsSnapshots(t *testing.T) {
	e := newTestEnv(t, nil)

	c, _, err := websocket.DefaultDialer.Dial(e.watchURL("k", "?apiKey="+testAPIKey), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	first := readWatch(t, c)
	if first.Type != watchTypeRecord || first.Exists || first.Record != nil {
		t.Fatalf("initial snapshot=%+v, want empty", first)
	}

	ctx := context.Background()
	if err := e.hub.PublishOffer(ctx, "k", hub.StringPtr("o1"), true, "alice"); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}
	msg := readWatch(t, c)
	if !msg.Exists || msg.Record == nil || msg.Record.Offer == nil || *msg.Record.Offer != "o1" {
		t.Fatalf("snapshot=%+v", msg)
	}

	if err := e.hub.PublishAnswer(ctx, "k", "a1", true, "o1", "r1", "bob"); err != nil {
		t.Fatalf("PublishAnswer: %v", err)
	}
	msg = readWatch(t, c)
	if msg.Record == nil || msg.Record.Answer == nil || msg.Record.Answer.AccountID != "bob" {
		t.Fatalf("snapshot=%+v", msg)
	}
}

func TestWatch_AuthMessage(t *testing.T) {
	e := newTestEnv(t, nil)
	if err := e.hub.PublishOffer(context.Background(), "k", hub.StringPtr("o1"), true, "alice"); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}

	c, _, err := websocket.DefaultDialer.Dial(e.watchURL("k", ""), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.WriteJSON(WatchMessage{Type: watchTypeAuth, APIKey: testAPIKey}); err != nil {
		t.Fatalf("write auth: %v", err)
	}
	msg := readWatch(t, c)
	if !msg.Exists || msg.Record == nil || msg.Record.OwnerID != "alice" {
		t.Fatalf("snapshot=%+v", msg)
	}
}

func TestWatch_RejectsBadCredentials(t *testing.T) {
	e := newTestEnv(t, nil)

	t.Run("query", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(e.watchURL("k", "?apiKey=wrong"), nil)
		if err == nil {
			t.Fatalf("expected dial to fail")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("resp=%v, want 401", resp)
		}
	})

	t.Run("auth message", func(t *testing.T) {
		c, _, err := websocket.DefaultDialer.Dial(e.watchURL("k", ""), nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer c.Close()
		if err := c.WriteJSON(WatchMessage{Type: watchTypeAuth, APIKey: "wrong"}); err != nil {
			t.Fatalf("write: %v", err)
		}
		msg := readWatch(t, c)
		if msg.Type != watchTypeError || msg.Code != CodeAuthFailed {
			t.Fatalf("msg=%+v", msg)
		}
		_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, err = c.ReadMessage()
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) || closeErr.Code != websocket.ClosePolicyViolation {
			t.Fatalf("err=%v, want policy violation close", err)
		}
	})
}

func TestWatch_AuthTimeout(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.SignalingAuthTimeout = 50 * time.Millisecond })

	c, _, err := websocket.DefaultDialer.Dial(e.watchURL("k", ""), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = c.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.ClosePolicyViolation || closeErr.Text != "authentication timeout" {
		t.Fatalf("err=%v, want authentication timeout close", err)
	}
}

func TestWatch_ServerPings(t *testing.T) {
	e := newTestEnv(t, func(c *Config) {
		c.WatchIdleTimeout = time.Second
		c.WatchPingInterval = 20 * time.Millisecond
	})

	c, _, err := websocket.DefaultDialer.Dial(e.watchURL("k", "?apiKey="+testAPIKey), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	pinged := make(chan struct{}, 1)
	c.SetPingHandler(func(data string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	// Reading drives control frame handlers.
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(5 * time.Second):
		t.Fatalf("no ping received")
	}
}

func TestWatch_RateLimitsClientMessages(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.MaxWatchMessagesPerSecond = 1 })

	c, _, err := websocket.DefaultDialer.Dial(e.watchURL("k", "?apiKey="+testAPIKey), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	_ = readWatch(t, c)

	for i := 0; i < 3; i++ {
		_ = c.WriteJSON(WatchMessage{Type: watchTypeAuth, APIKey: testAPIKey})
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_ = c.SetReadDeadline(deadline)
		var msg WatchMessage
		if err := c.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation {
				return
			}
			t.Fatalf("err=%v, want policy violation close", err)
		}
		if msg.Type == watchTypeError && msg.Code != CodeRateLimited {
			t.Fatalf("msg=%+v", msg)
		}
	}
	t.Fatalf("connection was not closed")
}
