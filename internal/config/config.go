package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/origin"
)

const (
	envVarListenAddr      = "AERO_SIGNAL_HUB_LISTEN_ADDR"
	envVarPublicBaseURL   = "AERO_SIGNAL_HUB_PUBLIC_BASE_URL"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "AERO_SIGNAL_HUB_LOG_FORMAT"
	envVarLogLevel        = "AERO_SIGNAL_HUB_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_SIGNAL_HUB_SHUTDOWN_TIMEOUT"
	envVarMode            = "AERO_SIGNAL_HUB_MODE"

	// Caller identity.
	envVarAuthMode       = "AUTH_MODE"
	envVarAPIKey         = "API_KEY"
	envVarJWTSecret      = "JWT_SECRET"
	envVarJWTIssuer      = "JWT_ISSUER"
	envVarJWTAudience    = "JWT_AUDIENCE"
	envVarIdentityHeader = "IDENTITY_HEADER"

	// Session store.
	envVarStoreBackend   = "STORE_BACKEND"
	envVarSQLitePath     = "SQLITE_PATH"
	envVarPostgresDSN    = "POSTGRES_DSN"
	envVarRedisAddr      = "REDIS_ADDR"
	envVarRedisPassword  = "REDIS_PASSWORD"
	envVarRedisDB        = "REDIS_DB"
	envVarRedisKeyPrefix = "REDIS_KEY_PREFIX"

	// Request hardening.
	envVarMaxRequestBodyBytes            = "MAX_REQUEST_BODY_BYTES"
	envVarMaxSessionKeyBytes             = "MAX_SESSION_KEY_BYTES"
	envVarMaxRequestsPerSecondPerAccount = "MAX_REQUESTS_PER_SECOND_PER_ACCOUNT"

	// Watch WebSocket.
	envVarSignalingAuthTimeout      = "SIGNALING_AUTH_TIMEOUT"
	envVarWatchWSIdleTimeout        = "WATCH_WS_IDLE_TIMEOUT"
	envVarWatchWSPingInterval       = "WATCH_WS_PING_INTERVAL"
	envVarMaxWatchMessagesPerSecond = "MAX_WATCH_MESSAGES_PER_SECOND"

	// TURN REST credentials for /webrtc/ice.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTL            = "TURN_REST_TTL"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"

	DefaultListenAddr     = "127.0.0.1:8080"
	DefaultShutdown       = 15 * time.Second
	DefaultMode           = ModeDev
	DefaultAuthMode       = AuthModeAPIKey
	DefaultIdentityHeader = "X-Aero-Account-Id"

	DefaultStoreBackend   = StoreBackendMemory
	DefaultSQLitePath     = "signal-hub.db"
	DefaultRedisKeyPrefix = "aero:signal-hub:"

	DefaultMaxRequestBodyBytes            = int64(256 * 1024)
	DefaultMaxSessionKeyBytes             = 256
	DefaultMaxRequestsPerSecondPerAccount = 20

	DefaultSignalingAuthTimeout      = 2 * time.Second
	DefaultWatchWSIdleTimeout        = 60 * time.Second
	DefaultWatchWSPingInterval       = 20 * time.Second
	DefaultMaxWatchMessagesPerSecond = 10

	DefaultTURNRESTTTL            = time.Hour
	DefaultTURNRESTUsernamePrefix = "aero"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeAPIKey AuthMode = "api_key"
	AuthModeJWT    AuthMode = "jwt"
)

type StoreBackend string

const (
	StoreBackendMemory   StoreBackend = "memory"
	StoreBackendSQLite   StoreBackend = "sqlite"
	StoreBackendPostgres StoreBackend = "postgres"
	StoreBackendRedis    StoreBackend = "redis"
)

type Config struct {
	ListenAddr      string
	PublicBaseURL   string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	AuthMode    AuthMode
	APIKey      string
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	// IdentityHeader names the request header carrying the caller's account
	// ID in none and api_key modes.
	IdentityHeader string

	StoreBackend   StoreBackend
	SQLitePath     string
	PostgresDSN    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	MaxRequestBodyBytes int64
	MaxSessionKeyBytes  int
	// MaxRequestsPerSecondPerAccount bounds mutating calls per caller. A value
	// <= 0 disables the limit.
	MaxRequestsPerSecondPerAccount int

	SignalingAuthTimeout      time.Duration
	WatchWSIdleTimeout        time.Duration
	WatchWSPingInterval       time.Duration
	MaxWatchMessagesPerSecond int

	ICEServers []webrtc.ICEServer
	TURNREST   TURNRESTConfig

	iceConfigErr error
}

// TURNRESTConfig enables per-request TURN credentials signed with a secret
// shared with the TURN server.
type TURNRESTConfig struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
}

func (c TURNRESTConfig) Enabled() bool {
	return c.SharedSecret != ""
}

// ICEConfigError reports an invalid ICE server configuration. It is surfaced
// through /readyz rather than failing startup.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	publicBaseURL := envOrDefault(lookup, envVarPublicBaseURL, "")
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	authModeDefault := envOrDefault(lookup, envVarAuthMode, string(DefaultAuthMode))
	apiKey := envOrDefault(lookup, envVarAPIKey, "")
	jwtSecret := envOrDefault(lookup, envVarJWTSecret, "")
	jwtIssuer := envOrDefault(lookup, envVarJWTIssuer, "")
	jwtAudience := envOrDefault(lookup, envVarJWTAudience, "")
	identityHeader := envOrDefault(lookup, envVarIdentityHeader, DefaultIdentityHeader)

	storeBackendDefault := envOrDefault(lookup, envVarStoreBackend, string(DefaultStoreBackend))
	sqlitePath := envOrDefault(lookup, envVarSQLitePath, DefaultSQLitePath)
	postgresDSN := envOrDefault(lookup, envVarPostgresDSN, "")
	redisAddr := envOrDefault(lookup, envVarRedisAddr, "")
	redisPassword := envOrDefault(lookup, envVarRedisPassword, "")
	redisKeyPrefix := envOrDefault(lookup, envVarRedisKeyPrefix, DefaultRedisKeyPrefix)
	redisDB, err := envIntOrDefault(lookup, envVarRedisDB, 0)
	if err != nil {
		return Config{}, err
	}

	maxRequestBodyBytes := DefaultMaxRequestBodyBytes
	if raw, ok := lookup(envVarMaxRequestBodyBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxRequestBodyBytes, raw, err)
		}
		maxRequestBodyBytes = n
	}
	maxSessionKeyBytes, err := envIntOrDefault(lookup, envVarMaxSessionKeyBytes, DefaultMaxSessionKeyBytes)
	if err != nil {
		return Config{}, err
	}
	maxRequestsPerSecondPerAccount, err := envIntOrDefault(lookup, envVarMaxRequestsPerSecondPerAccount, DefaultMaxRequestsPerSecondPerAccount)
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	signalingAuthTimeout, err := envDurationOrDefault(lookup, envVarSignalingAuthTimeout, DefaultSignalingAuthTimeout)
	if err != nil {
		return Config{}, err
	}
	watchWSIdleTimeout, err := envDurationOrDefault(lookup, envVarWatchWSIdleTimeout, DefaultWatchWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	watchWSPingInterval, err := envDurationOrDefault(lookup, envVarWatchWSPingInterval, DefaultWatchWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	maxWatchMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxWatchMessagesPerSecond, DefaultMaxWatchMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	turnRESTSharedSecret := strings.TrimSpace(envOrDefault(lookup, envVarTURNRESTSharedSecret, ""))
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)
	turnRESTTTL, err := envDurationOrDefault(lookup, envVarTURNRESTTTL, DefaultTURNRESTTTL)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("aero-webrtc-signal-hub", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr         string
		logFormatStr    string
		logLevelStr     string
		authModeStr     string
		storeBackendStr string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&publicBaseURL, "public-base-url", publicBaseURL, "Public base URL (optional; used for logging)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config (AERO_ICE_SERVERS_JSON)")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs (AERO_STUN_URLS)")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs (AERO_TURN_URLS)")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username (AERO_TURN_USERNAME)")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential (AERO_TURN_CREDENTIAL)")
	fs.DurationVar(&turnRESTTTL, "turn-rest-ttl", turnRESTTTL, "TURN REST credential lifetime (env "+envVarTURNRESTTTL+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix (env "+envVarTURNRESTUsernamePrefix+")")

	fs.StringVar(&authModeStr, "auth-mode", authModeDefault, "Caller auth mode: none, api_key, or jwt (env "+envVarAuthMode+")")
	fs.StringVar(&identityHeader, "identity-header", identityHeader, "Header carrying the caller account ID in none/api_key modes (env "+envVarIdentityHeader+")")
	fs.StringVar(&storeBackendStr, "store-backend", storeBackendDefault, "Session store: memory, sqlite, postgres, or redis (env "+envVarStoreBackend+")")
	fs.StringVar(&sqlitePath, "sqlite-path", sqlitePath, "SQLite database path (env "+envVarSQLitePath+")")
	fs.StringVar(&postgresDSN, "postgres-dsn", postgresDSN, "PostgreSQL DSN (env "+envVarPostgresDSN+")")
	fs.StringVar(&redisAddr, "redis-addr", redisAddr, "Redis address host:port (env "+envVarRedisAddr+")")

	fs.Int64Var(&maxRequestBodyBytes, "max-request-body-bytes", maxRequestBodyBytes, "Max HTTP request body size in bytes (env "+envVarMaxRequestBodyBytes+")")
	fs.IntVar(&maxSessionKeyBytes, "max-session-key-bytes", maxSessionKeyBytes, "Max session key length in bytes (env "+envVarMaxSessionKeyBytes+")")
	fs.IntVar(&maxRequestsPerSecondPerAccount, "max-requests-per-second-per-account", maxRequestsPerSecondPerAccount, "Mutating requests/sec per account (0 = unlimited; env "+envVarMaxRequestsPerSecondPerAccount+")")
	fs.DurationVar(&signalingAuthTimeout, "signaling-auth-timeout", signalingAuthTimeout, "Watch WS auth message timeout (env "+envVarSignalingAuthTimeout+")")
	fs.DurationVar(&watchWSIdleTimeout, "watch-ws-idle-timeout", watchWSIdleTimeout, "Close idle watch WebSocket connections after this duration (env "+envVarWatchWSIdleTimeout+")")
	fs.DurationVar(&watchWSPingInterval, "watch-ws-ping-interval", watchWSPingInterval, "Send ping frames on watch WebSocket connections at this interval (must be < --watch-ws-idle-timeout; env "+envVarWatchWSPingInterval+")")
	fs.IntVar(&maxWatchMessagesPerSecond, "max-watch-messages-per-second", maxWatchMessagesPerSecond, "Max inbound watch WS messages per second (env "+envVarMaxWatchMessagesPerSecond+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	authMode, err := parseAuthMode(authModeStr)
	if err != nil {
		return Config{}, err
	}
	storeBackend, err := parseStoreBackend(storeBackendStr)
	if err != nil {
		return Config{}, err
	}

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}
	if authMode == AuthModeAPIKey && strings.TrimSpace(apiKey) == "" {
		return Config{}, fmt.Errorf("%s must be set when %s=%s", envVarAPIKey, envVarAuthMode, AuthModeAPIKey)
	}
	if authMode == AuthModeJWT && strings.TrimSpace(jwtSecret) == "" {
		return Config{}, fmt.Errorf("%s must be set when %s=%s", envVarJWTSecret, envVarAuthMode, AuthModeJWT)
	}
	identityHeader = strings.TrimSpace(identityHeader)
	if authMode != AuthModeJWT && !isHTTPToken(identityHeader) {
		return Config{}, fmt.Errorf("invalid %s/--identity-header %q", envVarIdentityHeader, identityHeader)
	}
	switch storeBackend {
	case StoreBackendSQLite:
		if strings.TrimSpace(sqlitePath) == "" {
			return Config{}, fmt.Errorf("%s must be set when %s=%s", envVarSQLitePath, envVarStoreBackend, storeBackend)
		}
	case StoreBackendPostgres:
		if strings.TrimSpace(postgresDSN) == "" {
			return Config{}, fmt.Errorf("%s must be set when %s=%s", envVarPostgresDSN, envVarStoreBackend, storeBackend)
		}
	case StoreBackendRedis:
		if strings.TrimSpace(redisAddr) == "" {
			return Config{}, fmt.Errorf("%s must be set when %s=%s", envVarRedisAddr, envVarStoreBackend, storeBackend)
		}
	}
	if maxRequestBodyBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-request-body-bytes must be > 0", envVarMaxRequestBodyBytes)
	}
	if maxSessionKeyBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-session-key-bytes must be > 0", envVarMaxSessionKeyBytes)
	}
	if signalingAuthTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-auth-timeout must be > 0", envVarSignalingAuthTimeout)
	}
	if watchWSIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--watch-ws-idle-timeout must be > 0", envVarWatchWSIdleTimeout)
	}
	if watchWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--watch-ws-ping-interval must be > 0", envVarWatchWSPingInterval)
	}
	if watchWSPingInterval >= watchWSIdleTimeout {
		return Config{}, fmt.Errorf("%s/--watch-ws-ping-interval must be < %s/--watch-ws-idle-timeout", envVarWatchWSPingInterval, envVarWatchWSIdleTimeout)
	}
	if maxWatchMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-watch-messages-per-second must be > 0", envVarMaxWatchMessagesPerSecond)
	}

	if turnRESTSharedSecret != "" {
		if turnRESTTTL < time.Second {
			return Config{}, fmt.Errorf("%s/--turn-rest-ttl must be >= 1s when %s is set", envVarTURNRESTTTL, envVarTURNRESTSharedSecret)
		}
		if strings.TrimSpace(turnRESTUsernamePrefix) == "" {
			return Config{}, fmt.Errorf("%s must be non-empty when %s is set", envVarTURNRESTUsernamePrefix, envVarTURNRESTSharedSecret)
		}
		if strings.Contains(turnRESTUsernamePrefix, ":") {
			return Config{}, fmt.Errorf("%s must not contain ':'", envVarTURNRESTUsernamePrefix)
		}
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s/%s: %w", envVarAllowedOrigins, "--allowed-origins", err)
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		PublicBaseURL:   publicBaseURL,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		AuthMode:       authMode,
		APIKey:         apiKey,
		JWTSecret:      jwtSecret,
		JWTIssuer:      jwtIssuer,
		JWTAudience:    jwtAudience,
		IdentityHeader: identityHeader,

		StoreBackend:   storeBackend,
		SQLitePath:     sqlitePath,
		PostgresDSN:    postgresDSN,
		RedisAddr:      redisAddr,
		RedisPassword:  redisPassword,
		RedisDB:        redisDB,
		RedisKeyPrefix: redisKeyPrefix,

		MaxRequestBodyBytes:            maxRequestBodyBytes,
		MaxSessionKeyBytes:             maxSessionKeyBytes,
		MaxRequestsPerSecondPerAccount: maxRequestsPerSecondPerAccount,

		SignalingAuthTimeout:      signalingAuthTimeout,
		WatchWSIdleTimeout:        watchWSIdleTimeout,
		WatchWSPingInterval:       watchWSPingInterval,
		MaxWatchMessagesPerSecond: maxWatchMessagesPerSecond,

		TURNREST: TURNRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTL:            turnRESTTTL,
			UsernamePrefix: turnRESTUsernamePrefix,
		},
	}

	iceServers, err := ParseICEServers(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential, cfg.TURNREST.Enabled())
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func isHTTPToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isHTTPTokenChar(r) {
			return false
		}
	}
	return true
}

func isHTTPTokenChar(r rune) bool {
	if r >= '0' && r <= '9' {
		return true
	}
	if r >= 'A' && r <= 'Z' {
		return true
	}
	if r >= 'a' && r <= 'z' {
		return true
	}
	switch r {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	default:
		return false
	}
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAuthMode(raw string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(AuthModeNone):
		return AuthModeNone, nil
	case string(AuthModeAPIKey):
		return AuthModeAPIKey, nil
	case string(AuthModeJWT):
		return AuthModeJWT, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s, %s, or %s)", envVarAuthMode, raw, AuthModeNone, AuthModeAPIKey, AuthModeJWT)
	}
}

func parseStoreBackend(raw string) (StoreBackend, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(StoreBackendMemory):
		return StoreBackendMemory, nil
	case string(StoreBackendSQLite):
		return StoreBackendSQLite, nil
	case string(StoreBackendPostgres), "postgresql":
		return StoreBackendPostgres, nil
	case string(StoreBackendRedis):
		return StoreBackendRedis, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s, %s, %s, or %s)", envVarStoreBackend, raw,
			StoreBackendMemory,
			StoreBackendSQLite,
			StoreBackendPostgres,
			StoreBackendRedis,
		)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalizedOrigin, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalizedOrigin)
	}

	return out, nil
}
