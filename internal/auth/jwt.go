package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
)

// maxJWTLen bounds the token before any parsing work.
const maxJWTLen = 8 * 1024

// JWTVerifier accepts HS256 tokens whose subject is the caller's account ID.
// exp is required; iss and aud are checked when configured.
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

func NewJWTVerifier(secret, issuer, audience string) *JWTVerifier {
	return &JWTVerifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}
}

func (v *JWTVerifier) Verify(token string) (hub.AccountID, error) {
	if token == "" || len(token) > maxJWTLen || len(v.secret) == 0 {
		return "", ErrInvalidCredentials
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidCredentials
	}
	return hub.AccountID(claims.Subject), nil
}
