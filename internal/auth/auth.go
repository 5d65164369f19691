// Package auth establishes who is calling the hub. The hub itself trusts the
// AccountID it is given; this package is the only place that derives one from
// a request.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingIdentity    = errors.New("missing caller identity")
)

// Verifier checks a credential. Verifiers that carry identity in the
// credential itself (JWT) return it; others return "".
type Verifier interface {
	Verify(credential string) (hub.AccountID, error)
}

func NewVerifier(cfg config.Config) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone:
		return noneVerifier{}, nil
	case config.AuthModeAPIKey:
		if cfg.APIKey == "" {
			return nil, errors.New("api_key auth requires API_KEY")
		}
		return APIKeyVerifier{Expected: cfg.APIKey}, nil
	case config.AuthModeJWT:
		if cfg.JWTSecret == "" {
			return nil, errors.New("jwt auth requires JWT_SECRET")
		}
		return NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

type noneVerifier struct{}

func (noneVerifier) Verify(string) (hub.AccountID, error) { return "", nil }

// Authenticator resolves the caller of an HTTP request.
type Authenticator struct {
	mode           config.AuthMode
	verifier       Verifier
	identityHeader string
}

func New(cfg config.Config) (*Authenticator, error) {
	v, err := NewVerifier(cfg)
	if err != nil {
		return nil, err
	}
	return &Authenticator{
		mode:           cfg.AuthMode,
		verifier:       v,
		identityHeader: cfg.IdentityHeader,
	}, nil
}

func (a *Authenticator) Mode() config.AuthMode { return a.mode }

// Caller authenticates r and returns the account it acts as. In jwt mode the
// identity is the token subject; otherwise it is read from the identity header
// set by a trusted gateway.
func (a *Authenticator) Caller(r *http.Request) (hub.AccountID, error) {
	cred, err := CredentialFromRequest(a.mode, r)
	if err != nil {
		return "", err
	}
	id, err := a.verifier.Verify(cred)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = hub.AccountID(strings.TrimSpace(r.Header.Get(a.identityHeader)))
	if id == "" {
		return "", ErrMissingIdentity
	}
	return id, nil
}

// Verify checks a credential without resolving identity. Reads need no
// identity, so the watch endpoint only calls this.
func (a *Authenticator) Verify(credential string) error {
	if a.mode == config.AuthModeNone {
		return nil
	}
	if credential == "" {
		return ErrMissingCredentials
	}
	_, err := a.verifier.Verify(credential)
	return err
}

// CredentialFromRequest reads a credential from the Authorization header
// (Bearer or ApiKey scheme), X-API-Key, or the query string.
func CredentialFromRequest(mode config.AuthMode, r *http.Request) (string, error) {
	if mode == config.AuthModeNone {
		return "", nil
	}
	if scheme, value, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " "); ok {
		switch strings.ToLower(scheme) {
		case "bearer", "apikey":
			if value = strings.TrimSpace(value); value != "" {
				return value, nil
			}
		}
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, nil
	}
	return CredentialFromQuery(mode, r.URL.Query())
}

// CredentialFromQuery reads apiKey or token, preferring the one that matches
// mode.
func CredentialFromQuery(mode config.AuthMode, q url.Values) (string, error) {
	switch mode {
	case config.AuthModeNone:
		return "", nil
	case config.AuthModeAPIKey:
		return firstNonEmpty(q.Get("apiKey"), q.Get("token"))
	case config.AuthModeJWT:
		return firstNonEmpty(q.Get("token"), q.Get("apiKey"))
	default:
		return "", fmt.Errorf("unsupported auth mode %q", mode)
	}
}

// WireAuthMessage is the first message a watch client may send instead of
// passing credentials in the URL.
type WireAuthMessage struct {
	Type   string `json:"type"`
	APIKey string `json:"apiKey,omitempty"`
	Token  string `json:"token,omitempty"`
}

func CredentialFromAuthMessage(mode config.AuthMode, msg WireAuthMessage) (string, error) {
	switch mode {
	case config.AuthModeNone:
		return "", nil
	case config.AuthModeAPIKey:
		return firstNonEmpty(msg.APIKey, msg.Token)
	case config.AuthModeJWT:
		return firstNonEmpty(msg.Token, msg.APIKey)
	default:
		return "", fmt.Errorf("unsupported auth mode %q", mode)
	}
}

func firstNonEmpty(values ...string) (string, error) {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v, nil
		}
	}
	return "", ErrMissingCredentials
}
