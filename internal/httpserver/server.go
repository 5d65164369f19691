// Package httpserver hosts the hub's HTTP surface: health, readiness, build
// info, ICE configuration and metrics. Session routes are registered onto Mux
// by the signaling package.
package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/turnrest"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

type Options struct {
	// HubReady reports whether the session store has been bootstrapped.
	// /readyz fails until it returns true. nil means always ready.
	HubReady func() bool
	Metrics  *metrics.Metrics
}

type Server struct {
	log    *slog.Logger
	cfg    config.Config
	build  BuildInfo
	opts   Options
	origin origin.Policy
	turn   *turnrest.Issuer
	// turnErr is set when TURN REST is enabled but unusable.
	turnErr error

	serving atomic.Bool

	mux *http.ServeMux
	srv *http.Server
}

func New(cfg config.Config, logger *slog.Logger, build BuildInfo, opts Options) *Server {
	s := &Server{
		log:    logger,
		cfg:    cfg,
		build:  build,
		opts:   opts,
		origin: origin.NewPolicy(cfg.AllowedOrigins),
		mux:    http.NewServeMux(),
	}
	if cfg.TURNREST.Enabled() {
		s.turn, s.turnErr = turnrest.NewIssuer(turnrest.Config{
			SharedSecret:   cfg.TURNREST.SharedSecret,
			TTL:            cfg.TURNREST.TTL,
			UsernamePrefix: cfg.TURNREST.UsernamePrefix,
		})
		if s.turnErr != nil {
			logger.Error("turn rest disabled", "err", s.turnErr)
		}
	}

	s.registerRoutes()

	handler := chain(s.mux,
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
	)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// Write/idle timeouts stay zero: the watch endpoint holds upgraded
		// connections open.
	}

	return s
}

// Mux returns the underlying ServeMux for registering additional routes.
// It must only be used during startup before Serve is called.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// OriginMiddleware applies the configured Origin policy and CORS headers.
func (s *Server) OriginMiddleware() Middleware {
	return s.originMiddleware()
}

func (s *Server) Serve(l net.Listener) error {
	s.serving.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.serving.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) iceError() error {
	if err := s.cfg.ICEConfigError(); err != nil {
		return err
	}
	return s.turnErr
}

func (s *Server) ready() (bool, string) {
	if !s.serving.Load() {
		return false, "not serving"
	}
	if s.opts.HubReady != nil && !s.opts.HubReady() {
		return false, "session store not initialized"
	}
	if err := s.iceError(); err != nil {
		return false, err.Error()
	}
	return true, ""
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if ok, reason := s.ready(); !ok {
			s.opts.Metrics.Inc(metrics.HubNotReady)
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": reason})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	s.mux.HandleFunc("GET /webrtc/ice", s.withOriginPolicy(func(w http.ResponseWriter, r *http.Request) {
		if err := s.iceError(); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
			return
		}
		servers := s.cfg.ICEServers
		if s.turn != nil {
			var err error
			if servers, err = s.turn.Apply(servers); err != nil {
				s.log.Error("issue turn credentials", "err", err)
				WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
				return
			}
			// Credentials are per response.
			w.Header().Set("Cache-Control", "no-store")
		}
		WriteJSON(w, http.StatusOK, map[string]any{"iceServers": config.PublicICEServers(servers)})
	}))

	if s.opts.Metrics != nil {
		s.mux.Handle("GET /metrics", metrics.PrometheusHandler(s.opts.Metrics))
	}
}

type Middleware func(http.Handler) http.Handler

func chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	h := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func recoverMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic in http handler", "recover", rec, "stack", string(debug.Stack()))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

const maxRequestIDLen = 128

func requestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" || len(reqID) > maxRequestIDLen {
				reqID = uuid.NewString()
			}
			r.Header.Set("X-Request-ID", reqID)
			w.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets the watch endpoint upgrade to a WebSocket through the logger.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func requestLoggerMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			reqID := r.Header.Get("X-Request-ID")
			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", reqID,
			)
		})
	}
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

func (s *Server) Close() error {
	s.serving.Store(false)
	return s.srv.Close()
}
