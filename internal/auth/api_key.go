package auth

import (
	"crypto/subtle"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
)

// APIKeyVerifier accepts one shared key. It proves the caller is a trusted
// gateway, not who the end user is.
type APIKeyVerifier struct {
	Expected string
}

func (v APIKeyVerifier) Verify(apiKey string) (hub.AccountID, error) {
	if apiKey == "" || v.Expected == "" {
		return "", ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(v.Expected)) != 1 {
		return "", ErrInvalidCredentials
	}
	return "", nil
}
