// Package turnrest issues short-lived TURN credentials in the coturn REST
// format, so clients fetching /webrtc/ice never see the TURN shared secret.
//
//	username   = <unix_expiry>:<prefix>:<id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// See https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

var ErrColon = errors.New("turnrest: ':' is reserved in usernames")

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	prefix string
	now    func() time.Time
	newID  func() string
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("turnrest: shared secret is required")
	}
	if cfg.TTL < time.Second {
		return nil, errors.New("turnrest: ttl must be at least 1s")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("turnrest: username prefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, ErrColon
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Issuer{
		secret: []byte(cfg.SharedSecret),
		ttl:    cfg.TTL,
		prefix: cfg.UsernamePrefix,
		now:    cfg.Now,
		newID:  cfg.NewID,
	}, nil
}

// Issue returns credentials for id, valid for the configured TTL.
func (i *Issuer) Issue(id string) (Credentials, error) {
	if id == "" {
		return Credentials{}, errors.New("turnrest: id is required")
	}
	if strings.Contains(id, ":") {
		return Credentials{}, ErrColon
	}
	expires := i.now().UTC().Add(i.ttl).Truncate(time.Second)
	username := fmt.Sprintf("%d:%s:%s", expires.Unix(), i.prefix, id)
	return Credentials{
		Username:   username,
		Credential: sign(i.secret, username),
		Expires:    expires,
	}, nil
}

// Apply returns a copy of servers with fresh credentials set on every server
// that has a TURN URL. STUN-only servers are passed through unchanged.
func (i *Issuer) Apply(servers []webrtc.ICEServer) ([]webrtc.ICEServer, error) {
	out := make([]webrtc.ICEServer, len(servers))
	copy(out, servers)

	var creds *Credentials
	for idx, server := range out {
		if !HasTURNURL(server) {
			continue
		}
		if creds == nil {
			c, err := i.Issue(i.newID())
			if err != nil {
				return nil, err
			}
			creds = &c
		}
		out[idx].URLs = append([]string(nil), server.URLs...)
		out[idx].Username = creds.Username
		out[idx].Credential = creds.Credential
	}
	return out, nil
}

func HasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		scheme, _, _ := strings.Cut(strings.TrimSpace(raw), ":")
		if strings.EqualFold(scheme, "turn") || strings.EqualFold(scheme, "turns") {
			return true
		}
	}
	return false
}

func sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
