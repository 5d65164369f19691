package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/ratelimit"
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Hub     *hub.Hub
	Auth    *auth.Authenticator
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Origin wraps every session route. It is expected to reject disallowed
	// browser origins and answer CORS preflights. nil disables origin checks.
	Origin func(http.Handler) http.Handler

	MaxRequestBodyBytes            int64
	MaxSessionKeyBytes             int
	MaxRequestsPerSecondPerAccount int
	// RateLimitMaxKeys bounds tracked accounts; 0 uses ratelimit.DefaultMaxKeys.
	RateLimitMaxKeys int

	// Watch WebSocket.
	SignalingAuthTimeout      time.Duration
	WatchIdleTimeout          time.Duration
	WatchPingInterval         time.Duration
	MaxWatchMessagesPerSecond int
}

// Server implements the hub's session API.
//
// Endpoints:
//   - GET  /v1/sessions/{key}          : current record
//   - POST /v1/sessions/{key}/offer    : publish or clear the owner's offer
//   - POST /v1/sessions/{key}/answer   : publish or refresh a viewer's answer
//   - POST /v1/sessions/{key}/consume  : owner takes the answer it observed
//   - GET  /v1/sessions/{key}/watch    : WebSocket pushing committed snapshots
type Server struct {
	cfg     Config
	log     *slog.Logger
	limiter *ratelimit.Keyed
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, log: logger}
	s.limiter = ratelimit.NewKeyed(ratelimit.Config{
		PerSecond: cfg.MaxRequestsPerSecondPerAccount,
		MaxKeys:   cfg.RateLimitMaxKeys,
		OnEvict:   func() { cfg.Metrics.Inc(metrics.RateLimitEvicted) },
	})
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /v1/sessions/{key}", s.wrap(s.handleGet))
	mux.Handle("POST /v1/sessions/{key}/offer", s.wrap(s.handleOffer))
	mux.Handle("POST /v1/sessions/{key}/answer", s.wrap(s.handleAnswer))
	mux.Handle("POST /v1/sessions/{key}/consume", s.wrap(s.handleConsume))
	mux.Handle("GET /v1/sessions/{key}/watch", s.wrap(s.handleWatch))
	mux.Handle("OPTIONS /v1/sessions/", s.wrap(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) wrap(h http.HandlerFunc) http.Handler {
	if s.cfg.Origin == nil {
		return h
	}
	return s.cfg.Origin(h)
}

func (s *Server) maxRequestBodyBytes() int64 {
	if s.cfg.MaxRequestBodyBytes <= 0 {
		return 256 * 1024
	}
	return s.cfg.MaxRequestBodyBytes
}

func (s *Server) maxSessionKeyBytes() int {
	if s.cfg.MaxSessionKeyBytes <= 0 {
		return 256
	}
	return s.cfg.MaxSessionKeyBytes
}

func (s *Server) signalingAuthTimeout() time.Duration {
	if s.cfg.SignalingAuthTimeout <= 0 {
		return 2 * time.Second
	}
	return s.cfg.SignalingAuthTimeout
}

func (s *Server) watchIdleTimeout() time.Duration {
	if s.cfg.WatchIdleTimeout <= 0 {
		return 60 * time.Second
	}
	return s.cfg.WatchIdleTimeout
}

func (s *Server) watchPingInterval() time.Duration {
	if s.cfg.WatchPingInterval <= 0 || s.cfg.WatchPingInterval >= s.watchIdleTimeout() {
		return s.watchIdleTimeout() / 3
	}
	return s.cfg.WatchPingInterval
}

func (s *Server) maxWatchMessagesPerSecond() int {
	if s.cfg.MaxWatchMessagesPerSecond <= 0 {
		return 10
	}
	return s.cfg.MaxWatchMessagesPerSecond
}

func (s *Server) sessionKey(w http.ResponseWriter, r *http.Request) (hub.SessionKey, bool) {
	key := r.PathValue("key")
	switch {
	case key == "":
		writeJSONError(w, http.StatusBadRequest, CodeInvalidSessionKey, "session key is required")
		return "", false
	case len(key) > s.maxSessionKeyBytes():
		writeJSONError(w, http.StatusBadRequest, CodeInvalidSessionKey, fmt.Sprintf("session key exceeds %d bytes", s.maxSessionKeyBytes()))
		return "", false
	case !utf8.ValidString(key):
		writeJSONError(w, http.StatusBadRequest, CodeInvalidSessionKey, "session key must be valid UTF-8")
		return "", false
	}
	return hub.SessionKey(key), true
}

// caller authenticates r and applies the per-account rate limit.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (hub.AccountID, bool) {
	if s.cfg.Auth == nil {
		writeJSONError(w, http.StatusInternalServerError, hub.CodeInternal, "authentication not configured")
		return "", false
	}
	id, err := s.cfg.Auth.Caller(r)
	if err != nil {
		s.cfg.Metrics.Inc(metrics.AuthFailure)
		writeJSONError(w, http.StatusUnauthorized, CodeAuthFailed, err.Error())
		return "", false
	}
	if !s.limiter.Allow(string(id)) {
		s.cfg.Metrics.Inc(metrics.RateLimited)
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests")
		return "", false
	}
	return id, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key, ok := s.sessionKey(w, r)
	if !ok {
		return
	}
	if s.cfg.Auth != nil {
		cred, err := auth.CredentialFromRequest(s.cfg.Auth.Mode(), r)
		if err == nil {
			err = s.cfg.Auth.Verify(cred)
		}
		if err != nil {
			s.cfg.Metrics.Inc(metrics.AuthFailure)
			writeJSONError(w, http.StatusUnauthorized, CodeAuthFailed, err.Error())
			return
		}
	}

	rec, found, err := s.cfg.Hub.Get(r.Context(), key)
	if err != nil {
		s.writeHubError(w, err)
		return
	}
	if !found {
		s.writeHubError(w, hub.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	key, ok := s.sessionKey(w, r)
	if !ok {
		return
	}
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req OfferRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if err := s.cfg.Hub.PublishOffer(r.Context(), key, req.Offer, req.IsNew, caller); err != nil {
		s.writeHubError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	key, ok := s.sessionKey(w, r)
	if !ok {
		return
	}
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req AnswerRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if err := s.cfg.Hub.PublishAnswer(r.Context(), key, req.Payload, req.IsNew, req.ExpectedOffer, req.RestreamKey, caller); err != nil {
		s.writeHubError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	key, ok := s.sessionKey(w, r)
	if !ok {
		return
	}
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req ConsumeRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		s.cfg.Metrics.Inc(metrics.BadRequest)
		writeJSONError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	if err := s.cfg.Hub.ConsumeAnswer(r.Context(), key, *req.ExpectedAnswer, caller); err != nil {
		s.writeHubError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxRequestBodyBytes()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, CodeRequestTooLarge, err.Error())
			return false
		}
		writeJSONError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return false
	}
	if err := decodeStrictJSON(body, v); err != nil {
		s.cfg.Metrics.Inc(metrics.BadRequest)
		writeJSONError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) writeHubError(w http.ResponseWriter, err error) {
	code := hub.Code(err)
	status := StatusForCode(code)
	msg := err.Error()
	if code == hub.CodeInternal {
		// Store failures are logged by the hub; don't leak them to clients.
		msg = "internal error"
	}
	if code == hub.CodeNotInitialized {
		s.cfg.Metrics.Inc(metrics.HubNotReady)
	}
	writeJSONError(w, status, code, msg)
}

// StatusForCode maps hub wire codes to HTTP statuses.
func StatusForCode(code string) int {
	switch code {
	case hub.CodeNotFound:
		return http.StatusNotFound
	case hub.CodeUnauthorized, hub.CodeSelfAnswerForbidden, hub.CodeAnswerOwnerMismatch:
		return http.StatusForbidden
	case hub.CodeOfferMismatch, hub.CodeAnswerAlreadyPresent, hub.CodeMissingPriorAnswer, hub.CodeAnswerChanged, hub.CodeAlreadyInitialized:
		return http.StatusConflict
	case hub.CodeNotInitialized:
		return http.StatusServiceUnavailable
	case CodeAuthFailed:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeBadRequest, CodeInvalidSessionKey:
		return http.StatusBadRequest
	case CodeRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: strings.TrimSpace(message)})
}
