package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
)

// OfferRequest is the body of POST /v1/sessions/{key}/offer. A null offer
// clears the current one.
type OfferRequest struct {
	Offer *string `json:"offer"`
	IsNew bool    `json:"is_new"`
}

// AnswerRequest is the body of POST /v1/sessions/{key}/answer.
type AnswerRequest struct {
	Payload       string `json:"payload"`
	IsNew         bool   `json:"is_new"`
	ExpectedOffer string `json:"expected_offer"`
	RestreamKey   string `json:"restream_key"`
}

// ConsumeRequest is the body of POST /v1/sessions/{key}/consume.
type ConsumeRequest struct {
	ExpectedAnswer *hub.Answer `json:"expected_answer"`
}

func (r ConsumeRequest) validate() error {
	if r.ExpectedAnswer == nil {
		return errors.New("expected_answer is required")
	}
	return nil
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Codes for failures that happen before the hub is reached.
const (
	CodeBadRequest        = "bad_request"
	CodeAuthFailed        = "authentication_failed"
	CodeRateLimited       = "rate_limited"
	CodeRequestTooLarge   = "request_too_large"
	CodeInvalidSessionKey = "invalid_session_key"
)

type watchMessageType string

const (
	watchTypeAuth   watchMessageType = "auth"
	watchTypeRecord watchMessageType = "record"
	watchTypeClose  watchMessageType = "close"
	watchTypeError  watchMessageType = "error"
)

// WatchMessage is one frame on the watch WebSocket. Servers send "record" and
// "error"; clients send "auth" and "close".
type WatchMessage struct {
	Type watchMessageType `json:"type"`

	// Record is nil when the key has no record yet.
	Record *hub.Record `json:"record,omitempty"`
	Exists bool        `json:"exists,omitempty"`

	APIKey string `json:"apiKey,omitempty"`
	Token  string `json:"token,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func parseWatchMessage(data []byte) (WatchMessage, error) {
	var msg WatchMessage
	if err := decodeStrictJSON(data, &msg); err != nil {
		return WatchMessage{}, err
	}
	switch msg.Type {
	case watchTypeAuth:
		if msg.APIKey == "" && msg.Token == "" {
			return WatchMessage{}, errors.New("auth message missing apiKey/token")
		}
		if msg.Record != nil || msg.Code != "" || msg.Message != "" {
			return WatchMessage{}, errors.New("auth message has unexpected fields")
		}
	case watchTypeClose:
		if msg.Record != nil || msg.APIKey != "" || msg.Token != "" || msg.Code != "" || msg.Message != "" {
			return WatchMessage{}, errors.New("close message has unexpected fields")
		}
	default:
		return WatchMessage{}, fmt.Errorf("unsupported message type %q", msg.Type)
	}
	return msg, nil
}

func decodeStrictJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return expectEOF(dec)
}

func expectEOF(dec *json.Decoder) error {
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected trailing data")
	}
	return nil
}
