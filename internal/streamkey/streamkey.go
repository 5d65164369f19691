// Package streamkey manages a broadcaster's stream key pair and the sealed
// payloads exchanged through the hub.
//
// The public half, base64-encoded, is the SessionKey. The secret half is the
// shareable stream secret: anyone holding it can derive the SessionKey and
// open or seal payloads for that stream. The hub never sees it.
package streamkey

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
)

const (
	KeySize   = 32
	nonceSize = 24

	// ShareParam is the query parameter carrying the stream secret in share
	// links.
	ShareParam = "s"
)

var (
	ErrKeyLength  = errors.New("stream key has wrong length")
	ErrOpenFailed = errors.New("sealed payload failed authentication")
)

type KeyPair struct {
	Public [KeySize]byte
	Secret [KeySize]byte
}

// Generate creates a fresh key pair. A nil rnd uses crypto/rand.
func Generate(rnd io.Reader) (KeyPair, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	pub, sec, err := box.GenerateKey(rnd)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate stream key: %w", err)
	}
	return KeyPair{Public: *pub, Secret: *sec}, nil
}

// FromSecret recomputes the public half of a secret key.
func FromSecret(secret [KeySize]byte) (KeyPair, error) {
	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("derive public key: %w", err)
	}
	kp := KeyPair{Secret: secret}
	copy(kp.Public[:], pub)
	return kp, nil
}

// ParseSecret decodes a base64 stream secret.
func ParseSecret(s string) (KeyPair, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return KeyPair{}, fmt.Errorf("decode stream secret: %w", err)
	}
	if len(raw) != KeySize {
		return KeyPair{}, ErrKeyLength
	}
	var secret [KeySize]byte
	copy(secret[:], raw)
	return FromSecret(secret)
}

// SessionKey is the hub key this stream is published under.
func (k KeyPair) SessionKey() hub.SessionKey {
	return hub.SessionKey(base64.StdEncoding.EncodeToString(k.Public[:]))
}

// SecretString is the shareable base64 stream secret.
func (k KeyPair) SecretString() string {
	return base64.StdEncoding.EncodeToString(k.Secret[:])
}

// ShareURL returns base with the stream secret added as a query parameter.
func (k KeyPair) ShareURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(ShareParam, k.SecretString())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Seal encrypts msg with the stream secret. The result is base64 of
// nonce || box.
func (k KeyPair) Seal(msg []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], msg, &nonce, &k.Secret)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (k KeyPair) Open(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("decode sealed payload: %w", err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return nil, ErrOpenFailed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	out, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &k.Secret)
	if !ok {
		return nil, ErrOpenFailed
	}
	return out, nil
}
