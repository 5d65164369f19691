// Package hubclient is a Go client for the signal hub's HTTP API.
package hubclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/signaling"
)

// APIError is a non-2xx response whose code is not a hub code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hub: %d %s: %s", e.Status, e.Code, e.Message)
}

// Client calls one hub as one account. Hub rejections are returned as the
// matching hub sentinel errors so errors.Is works across the wire.
type Client struct {
	BaseURL string
	// Credential is sent as a bearer token (API key or JWT).
	Credential string
	// Account is sent in IdentityHeader. Ignored by hubs in jwt mode.
	Account        hub.AccountID
	IdentityHeader string

	HTTP   *http.Client
	Dialer *websocket.Dialer
}

func New(baseURL, credential string, account hub.AccountID) *Client {
	return &Client{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		Credential:     credential,
		Account:        account,
		IdentityHeader: "X-Aero-Account-Id",
		HTTP:           &http.Client{Timeout: 10 * time.Second},
		Dialer:         websocket.DefaultDialer,
	}
}

func (c *Client) sessionURL(key hub.SessionKey, suffix string) string {
	return c.BaseURL + "/v1/sessions/" + url.PathEscape(string(key)) + suffix
}

func (c *Client) Get(ctx context.Context, key hub.SessionKey) (hub.Record, error) {
	var rec hub.Record
	err := c.do(ctx, http.MethodGet, c.sessionURL(key, ""), nil, &rec)
	return rec, err
}

func (c *Client) PublishOffer(ctx context.Context, key hub.SessionKey, offer *string, isNew bool) error {
	return c.do(ctx, http.MethodPost, c.sessionURL(key, "/offer"), signaling.OfferRequest{Offer: offer, IsNew: isNew}, nil)
}

func (c *Client) PublishAnswer(ctx context.Context, key hub.SessionKey, payload string, isNew bool, expectedOffer, restreamKey string) error {
	return c.do(ctx, http.MethodPost, c.sessionURL(key, "/answer"), signaling.AnswerRequest{
		Payload:       payload,
		IsNew:         isNew,
		ExpectedOffer: expectedOffer,
		RestreamKey:   restreamKey,
	}, nil)
}

func (c *Client) ConsumeAnswer(ctx context.Context, key hub.SessionKey, expected hub.Answer) error {
	return c.do(ctx, http.MethodPost, c.sessionURL(key, "/consume"), signaling.ConsumeRequest{ExpectedAnswer: &expected}, nil)
}

// StopStreaming clears the offer with a fresh round. Earlier restream history
// is discarded.
func (c *Client) StopStreaming(ctx context.Context, key hub.SessionKey) error {
	return c.PublishOffer(ctx, key, nil, true)
}

// ICEServers fetches the hub's ICE configuration, including any TURN
// credentials issued for this request.
func (c *Client) ICEServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	var resp struct {
		ICEServers []config.ICEServer `json:"iceServers"`
	}
	if err := c.do(ctx, http.MethodGet, c.BaseURL+"/webrtc/ice", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]webrtc.ICEServer, 0, len(resp.ICEServers))
	for _, s := range resp.ICEServers {
		server := webrtc.ICEServer{URLs: []string(s.URLs), Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out, nil
}

func (c *Client) authorize(h http.Header) {
	if c.Credential != "" {
		h.Set("Authorization", "Bearer "+c.Credential)
	}
	if c.Account != "" && c.IdentityHeader != "" {
		h.Set(c.IdentityHeader, string(c.Account))
	}
}

func (c *Client) do(ctx context.Context, method, u string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	var e signaling.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&e); err != nil {
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return errorFor(resp.StatusCode, e.Code, e.Message)
}

func errorFor(status int, code, message string) error {
	if sentinel := hub.ErrorForCode(code); sentinel != nil {
		return sentinel
	}
	return &APIError{Status: status, Code: code, Message: message}
}

// Watcher streams snapshots of one record.
type Watcher struct {
	conn *websocket.Conn
}

// Watch opens the watch WebSocket for key. The first Next call returns the
// current record.
func (c *Client) Watch(ctx context.Context, key hub.SessionKey) (*Watcher, error) {
	u, err := url.Parse(c.sessionURL(key, "/watch"))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	h := http.Header{}
	c.authorize(h)

	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), h)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, err
	}
	return &Watcher{conn: conn}, nil
}

// Next blocks for the next snapshot. ok is false when the key has no record.
// A read error, including ctx expiring, leaves the Watcher unusable.
func (w *Watcher) Next(ctx context.Context) (rec hub.Record, ok bool, err error) {
	_ = w.conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = w.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		var msg signaling.WatchMessage
		if err := w.conn.ReadJSON(&msg); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return hub.Record{}, false, ctxErr
			}
			return hub.Record{}, false, err
		}
		switch msg.Type {
		case "record":
			if msg.Record == nil {
				return hub.Record{}, false, nil
			}
			return *msg.Record, true, nil
		case "error":
			return hub.Record{}, false, errorFor(0, msg.Code, msg.Message)
		}
	}
}

func (w *Watcher) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := w.conn.Close()
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
