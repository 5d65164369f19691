package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/metrics"
)

const (
	wsWriteWait = 1 * time.Second

	// Clients only send auth and close frames.
	maxWatchMessageBytes = 8 * 1024
)

var watchUpgrader = websocket.Upgrader{
	// Origin checks are enforced by the Origin middleware wrapping the route.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	key, ok := s.sessionKey(w, r)
	if !ok {
		return
	}
	if s.cfg.Auth == nil {
		writeJSONError(w, http.StatusInternalServerError, hub.CodeInternal, "authentication not configured")
		return
	}

	// Credentials in the URL or headers are checked before upgrading. Without
	// them the client must send an auth message first.
	authenticated := false
	cred, err := auth.CredentialFromRequest(s.cfg.Auth.Mode(), r)
	switch {
	case err == nil:
		if err := s.cfg.Auth.Verify(cred); err != nil {
			s.cfg.Metrics.Inc(metrics.AuthFailure)
			s.cfg.Metrics.Inc(metrics.WatchRejected)
			writeJSONError(w, http.StatusUnauthorized, CodeAuthFailed, err.Error())
			return
		}
		authenticated = true
	case !errors.Is(err, auth.ErrMissingCredentials):
		writeJSONError(w, http.StatusInternalServerError, hub.CodeInternal, err.Error())
		return
	}

	conn, err := watchUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	n := s.maxWatchMessagesPerSecond()
	ws := &watchSession{
		srv:     s,
		conn:    conn,
		key:     key,
		limiter: rate.NewLimiter(rate.Limit(n), n),
		done:    make(chan struct{}),
	}
	ws.run(r.Context(), authenticated)
}

type watchSession struct {
	srv     *Server
	conn    *websocket.Conn
	key     hub.SessionKey
	limiter *rate.Limiter

	writeMu sync.Mutex
	done    chan struct{}
}

func (ws *watchSession) run(ctx context.Context, authenticated bool) {
	defer ws.conn.Close()

	ws.conn.SetReadLimit(maxWatchMessageBytes)

	if !authenticated && !ws.authenticate() {
		return
	}

	idle := ws.srv.watchIdleTimeout()
	_ = ws.conn.SetReadDeadline(time.Now().Add(idle))
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(idle))
	})

	// Subscribe before reading the current record so no commit falls between
	// the snapshot and the first notification.
	sub := ws.srv.cfg.Hub.Watch(ws.key)
	defer sub.Close()

	rec, exists, err := ws.srv.cfg.Hub.Get(ctx, ws.key)
	if err != nil {
		ws.fail(hub.Code(err), "failed to read session", websocket.CloseInternalServerErr, hub.Code(err))
		return
	}
	if err := ws.sendRecord(rec, exists); err != nil {
		return
	}

	go ws.readLoop(idle)

	ping := time.NewTicker(ws.srv.watchPingInterval())
	defer ping.Stop()

	for {
		select {
		case rec := <-sub.C():
			if err := ws.sendRecord(rec, true); err != nil {
				return
			}
		case <-ping.C:
			if err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-ws.done:
			return
		}
	}
}

// authenticate waits for the first message, which must be an auth message.
func (ws *watchSession) authenticate() bool {
	srv := ws.srv
	_ = ws.conn.SetReadDeadline(time.Now().Add(srv.signalingAuthTimeout()))

	msgType, data, err := ws.conn.ReadMessage()
	if err != nil {
		if isTimeout(err) {
			srv.cfg.Metrics.Inc(metrics.AuthFailure)
			srv.cfg.Metrics.Inc(metrics.WatchRejected)
			ws.closeWith(websocket.ClosePolicyViolation, "authentication timeout")
		}
		return false
	}
	if msgType != websocket.TextMessage {
		ws.fail(CodeBadRequest, "expected text message", websocket.CloseUnsupportedData, "expected text message")
		return false
	}
	msg, err := parseWatchMessage(data)
	if err != nil {
		ws.fail(CodeBadRequest, err.Error(), websocket.ClosePolicyViolation, "bad message")
		return false
	}
	if msg.Type != watchTypeAuth {
		srv.cfg.Metrics.Inc(metrics.WatchRejected)
		ws.fail(CodeAuthFailed, "authentication required", websocket.ClosePolicyViolation, "authentication required")
		return false
	}

	cred, err := auth.CredentialFromAuthMessage(srv.cfg.Auth.Mode(), auth.WireAuthMessage{
		Type:   string(msg.Type),
		APIKey: msg.APIKey,
		Token:  msg.Token,
	})
	if err == nil {
		err = srv.cfg.Auth.Verify(cred)
	}
	if err != nil {
		srv.cfg.Metrics.Inc(metrics.AuthFailure)
		srv.cfg.Metrics.Inc(metrics.WatchRejected)
		ws.fail(CodeAuthFailed, err.Error(), websocket.ClosePolicyViolation, "unauthorized")
		return false
	}
	return true
}

func (ws *watchSession) readLoop(idle time.Duration) {
	defer close(ws.done)
	for {
		msgType, data, err := ws.conn.ReadMessage()
		if err != nil {
			return
		}
		// Read before rate limiting so the close frame isn't lost to a TCP reset
		// over unread data.
		if !ws.limiter.Allow() {
			ws.srv.cfg.Metrics.Inc(metrics.RateLimited)
			ws.fail(CodeRateLimited, "rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		_ = ws.conn.SetReadDeadline(time.Now().Add(idle))
		if msgType != websocket.TextMessage {
			ws.fail(CodeBadRequest, "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}
		msg, err := parseWatchMessage(data)
		if err != nil {
			ws.fail(CodeBadRequest, err.Error(), websocket.ClosePolicyViolation, "bad message")
			return
		}
		switch msg.Type {
		case watchTypeAuth:
			// Tolerated: clients may send auth even after query-string auth.
		case watchTypeClose:
			ws.closeWith(websocket.CloseNormalClosure, "")
			return
		}
	}
}

func (ws *watchSession) sendRecord(rec hub.Record, exists bool) error {
	msg := WatchMessage{Type: watchTypeRecord, Exists: exists}
	if exists {
		msg.Record = &rec
	}
	return ws.send(msg)
}

func (ws *watchSession) send(msg WatchMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	_ = ws.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ws.conn.WriteMessage(websocket.TextMessage, data)
}

func (ws *watchSession) fail(code, message string, closeCode int, closeReason string) {
	_ = ws.send(WatchMessage{Type: watchTypeError, Code: code, Message: message})
	ws.closeWith(closeCode, closeReason)
}

func (ws *watchSession) closeWith(code int, reason string) {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	_ = ws.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
