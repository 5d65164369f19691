package main

import (
	"log/slog"
	"slices"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone {
		logger.Warn("startup security warning: AUTH_MODE=none trusts the identity header from any client",
			"warning_code", "auth_mode_none",
			"auth_mode", cfg.AuthMode,
			"identity_header", cfg.IdentityHeader,
			"mode", cfg.Mode,
		)
	}

	if cfg.AuthMode == config.AuthModeAPIKey {
		logger.Warn("startup security warning: AUTH_MODE=api_key takes the account from the identity header; it must be set by a trusted gateway that strips client-supplied values",
			"warning_code", "auth_mode_api_key_identity_header",
			"auth_mode", cfg.AuthMode,
			"identity_header", cfg.IdentityHeader,
			"mode", cfg.Mode,
		)
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.AuthMode == config.AuthModeJWT && (cfg.JWTIssuer == "" || cfg.JWTAudience == "") {
		logger.Warn("startup security warning: JWT issuer or audience is unset (tokens minted for other services are accepted)",
			"warning_code", "jwt_claims_unchecked",
			"jwt_issuer_set", cfg.JWTIssuer != "",
			"jwt_audience_set", cfg.JWTAudience != "",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.StoreBackend == config.StoreBackendMemory {
		logger.Warn("startup warning: STORE_BACKEND=memory while --mode=prod (session records and restream history are lost on restart)",
			"warning_code", "memory_store_in_prod",
			"store_backend", cfg.StoreBackend,
			"mode", cfg.Mode,
		)
	}

	if cfg.StoreBackend == config.StoreBackendPostgres || cfg.StoreBackend == config.StoreBackendRedis {
		logger.Warn("startup warning: watch subscribers only see changes committed through this instance; run a single instance per shared store or have clients re-read on reconnect",
			"warning_code", "watch_per_instance",
			"store_backend", cfg.StoreBackend,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxRequestsPerSecondPerAccount <= 0 {
		logger.Warn("startup security warning: MAX_REQUESTS_PER_SECOND_PER_ACCOUNT is unset/0 (unlimited) while --mode=prod",
			"warning_code", "rate_limit_disabled_in_prod",
			"max_requests_per_second_per_account", cfg.MaxRequestsPerSecondPerAccount,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxRequestBodyBytes > 4<<20 { // 4MiB
		logger.Warn("startup security warning: MAX_REQUEST_BODY_BYTES is very large (every record field is stored and replayed to watchers)",
			"warning_code", "max_request_body_large",
			"max_request_body_bytes", cfg.MaxRequestBodyBytes,
			"mode", cfg.Mode,
		)
	}
}
