package streamkey

import (
	"bytes"
	"errors"
	"net/url"
	"testing"
)

func TestSealOpen(t *testing.T) {
	kp, err := Generate(nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	sealed, err := kp.Seal([]byte(`{"type":"offer"}`))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := kp.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(got) != `{"type":"offer"}` {
		t.Fatalf("got %q", got)
	}

	again, _ := kp.Seal([]byte(`{"type":"offer"}`))
	if again == sealed {
		t.Fatalf("two seals of the same message should differ")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	kp, _ := Generate(nil)
	other, _ := Generate(nil)

	sealed, _ := kp.Seal([]byte("hello"))
	if _, err := other.Open(sealed); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("wrong key: err=%v", err)
	}
	if _, err := kp.Open("AAAA"); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("short: err=%v", err)
	}
	if _, err := kp.Open("%%%"); err == nil {
		t.Fatalf("expected base64 error")
	}
}

func TestSecretRoundTripDerivesSameSessionKey(t *testing.T) {
	kp, _ := Generate(nil)

	parsed, err := ParseSecret(kp.SecretString())
	if err != nil {
		t.Fatalf("ParseSecret: %v", err)
	}
	if parsed.SessionKey() != kp.SessionKey() {
		t.Fatalf("session key %q, want %q", parsed.SessionKey(), kp.SessionKey())
	}
	if !bytes.Equal(parsed.Public[:], kp.Public[:]) {
		t.Fatalf("public key mismatch")
	}

	// A viewer holding the secret can open what the broadcaster sealed.
	sealed, _ := kp.Seal([]byte("offer"))
	if _, err := parsed.Open(sealed); err != nil {
		t.Fatalf("Open: %v", err)
	}
}

func TestParseSecretRejectsWrongLength(t *testing.T) {
	if _, err := ParseSecret("AAAA"); !errors.Is(err, ErrKeyLength) {
		t.Fatalf("err=%v, want %v", err, ErrKeyLength)
	}
}

func TestShareURL(t *testing.T) {
	kp, _ := Generate(nil)
	link, err := kp.ShareURL("https://example.com/watch?x=1")
	if err != nil {
		t.Fatalf("ShareURL: %v", err)
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := u.Query().Get(ShareParam); got != kp.SecretString() {
		t.Fatalf("secret=%q", got)
	}
	if u.Query().Get("x") != "1" {
		t.Fatalf("existing query lost: %s", link)
	}
}
