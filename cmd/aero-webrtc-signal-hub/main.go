package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-webrtc-signal-hub",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"auth_mode", cfg.AuthMode,
		"store_backend", cfg.StoreBackend,
		"ice_servers", len(cfg.ICEServers),
		"max_requests_per_second_per_account", cfg.MaxRequestsPerSecondPerAccount,
	)
	logStartupSecurityWarnings(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)
	a, err := newApp(ctx, cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: builtAt})
	if err != nil {
		logger.Error("failed to start", "err", err)
		os.Exit(2)
	}
	defer a.Close()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			a.Close()
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		a.Close()
		os.Exit(1)
	}
}

// app is the wired service: store, hub and HTTP surface.
type app struct {
	store   hub.Store
	hub     *hub.Hub
	metrics *metrics.Metrics
	srv     *httpserver.Server
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, build httpserver.BuildInfo) (*app, error) {
	m := metrics.New()

	store, err := openStore(ctx, cfg, m)
	if err != nil {
		return nil, err
	}

	h := hub.New(store, hub.Options{Logger: logger, Metrics: m})
	if err := h.Init(ctx); err != nil && !errors.Is(err, hub.ErrAlreadyInitialized) {
		_ = store.Close()
		return nil, err
	}

	authn, err := auth.New(cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("configure auth: %w", err)
	}

	srv := httpserver.New(cfg, logger, build, httpserver.Options{
		HubReady: h.Ready,
		Metrics:  m,
	})
	sig := signaling.NewServer(signaling.Config{
		Hub:     h,
		Auth:    authn,
		Metrics: m,
		Logger:  logger,
		Origin:  srv.OriginMiddleware(),

		MaxRequestBodyBytes:            cfg.MaxRequestBodyBytes,
		MaxSessionKeyBytes:             cfg.MaxSessionKeyBytes,
		MaxRequestsPerSecondPerAccount: cfg.MaxRequestsPerSecondPerAccount,

		SignalingAuthTimeout:      cfg.SignalingAuthTimeout,
		WatchIdleTimeout:          cfg.WatchWSIdleTimeout,
		WatchPingInterval:         cfg.WatchWSPingInterval,
		MaxWatchMessagesPerSecond: cfg.MaxWatchMessagesPerSecond,
	})
	sig.RegisterRoutes(srv.Mux())

	return &app{store: store, hub: h, metrics: m, srv: srv}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("close session store", "err", err)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
