package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	return slog.New(h), func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	return &recordingHandler{
		mu:      h.mu,
		records: h.records,
		attrs:   append([]slog.Attr(nil), h.attrs...),
		groups:  append([]string(nil), h.groups...),
	}
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := map[string]recordedLog{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func TestStartupSecurityWarnings_AuthModeNone(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:           config.ModeDev,
		AuthMode:       config.AuthModeNone,
		IdentityHeader: config.DefaultIdentityHeader,
	})

	r, ok := warningCodes(records())["auth_mode_none"]
	if !ok {
		t.Fatalf("expected warning_code=auth_mode_none, got %#v", records())
	}
	if r.attrs["auth_mode"] != config.AuthModeNone {
		t.Fatalf("auth_mode attr = %#v, want %q", r.attrs["auth_mode"], config.AuthModeNone)
	}
}

func TestStartupSecurityWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:           config.ModeDev,
		AuthMode:       config.AuthModeAPIKey,
		APIKey:         "secret",
		AllowedOrigins: []string{"*"},
	})

	if _, ok := warningCodes(records())["allowed_origins_wildcard"]; !ok {
		t.Fatalf("expected warning_code=allowed_origins_wildcard, got %#v", records())
	}
}

func TestStartupSecurityWarnings_APIKeyIdentityHeader(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:           config.ModeProd,
		AuthMode:       config.AuthModeAPIKey,
		APIKey:         "secret",
		IdentityHeader: "X-Gateway-Account",
	})

	r, ok := warningCodes(records())["auth_mode_api_key_identity_header"]
	if !ok {
		t.Fatalf("expected warning_code=auth_mode_api_key_identity_header, got %#v", records())
	}
	if r.attrs["identity_header"] != "X-Gateway-Account" {
		t.Fatalf("identity_header attr = %#v", r.attrs["identity_header"])
	}
}

func TestStartupSecurityWarnings_WatchPerInstance(t *testing.T) {
	for _, backend := range []config.StoreBackend{config.StoreBackendPostgres, config.StoreBackendRedis} {
		logger, records := newRecordingLogger()
		logStartupSecurityWarnings(logger, config.Config{
			Mode:         config.ModeDev,
			AuthMode:     config.AuthModeJWT,
			JWTSecret:    "secret",
			JWTIssuer:    "https://issuer.example",
			JWTAudience:  "signal-hub",
			StoreBackend: backend,
		})
		got := warningCodes(records())
		if _, ok := got["watch_per_instance"]; !ok || len(got) != 1 {
			t.Fatalf("%s: warnings=%#v, want only watch_per_instance", backend, got)
		}
	}

	for _, backend := range []config.StoreBackend{config.StoreBackendMemory, config.StoreBackendSQLite} {
		logger, records := newRecordingLogger()
		logStartupSecurityWarnings(logger, config.Config{Mode: config.ModeDev, AuthMode: config.AuthModeJWT, JWTSecret: "secret", StoreBackend: backend})
		if _, ok := warningCodes(records())["watch_per_instance"]; ok {
			t.Fatalf("%s: unexpected watch_per_instance", backend)
		}
	}
}

func TestStartupSecurityWarnings_ProdDefaults(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:                           config.ModeProd,
		AuthMode:                       config.AuthModeJWT,
		JWTSecret:                      "secret",
		StoreBackend:                   config.StoreBackendMemory,
		MaxRequestsPerSecondPerAccount: 0,
		MaxRequestBodyBytes:            8 << 20,
	})

	got := warningCodes(records())
	for _, code := range []string{
		"jwt_claims_unchecked",
		"memory_store_in_prod",
		"rate_limit_disabled_in_prod",
		"max_request_body_large",
	} {
		if _, ok := got[code]; !ok {
			t.Fatalf("missing warning_code=%s, got %#v", code, records())
		}
	}
}

func TestStartupSecurityWarnings_QuietForSafeConfig(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:                           config.ModeProd,
		AuthMode:                       config.AuthModeJWT,
		JWTSecret:                      "secret",
		JWTIssuer:                      "https://issuer.example",
		JWTAudience:                    "signal-hub",
		StoreBackend:                   config.StoreBackendSQLite,
		MaxRequestsPerSecondPerAccount: config.DefaultMaxRequestsPerSecondPerAccount,
		MaxRequestBodyBytes:            config.DefaultMaxRequestBodyBytes,
		AllowedOrigins:                 []string{"https://app.example"},
	})

	if got := warningCodes(records()); len(got) != 0 {
		t.Fatalf("unexpected warnings: %#v", got)
	}
}
