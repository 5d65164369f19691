// Package peer implements the two client roles that negotiate through the
// hub: a Broadcaster that publishes sealed offers under its stream key, and a
// Viewer that answers them. Descriptions are gathered fully before
// publishing since each record carries a single offer and answer.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/streamkey"
)

// StreamLabel names the data channel a broadcaster opens for each viewer.
const StreamLabel = "stream"

const (
	defaultPollInterval  = time.Second
	defaultGatherTimeout = 5 * time.Second
)

// Signaler is the subset of the hub API the peers use. *hubclient.Client
// implements it.
type Signaler interface {
	Get(ctx context.Context, key hub.SessionKey) (hub.Record, error)
	PublishOffer(ctx context.Context, key hub.SessionKey, offer *string, isNew bool) error
	PublishAnswer(ctx context.Context, key hub.SessionKey, payload string, isNew bool, expectedOffer, restreamKey string) error
	ConsumeAnswer(ctx context.Context, key hub.SessionKey, expected hub.Answer) error
}

type APIOptions struct {
	// Net replaces the OS network, e.g. with a vnet.Net in tests.
	Net transport.Net
	// LogLevel applies to pion's internal loggers. Zero disables them.
	LogLevel logging.LogLevel
	// LogWriter receives pion logs. Defaults to io.Discard.
	LogWriter io.Writer
}

// NewAPI builds a pion API for peer connections.
func NewAPI(opts APIOptions) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}

	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = opts.LogLevel
	lf.Writer = opts.LogWriter
	if lf.Writer == nil {
		lf.Writer = io.Discard
	}
	se.LoggerFactory = lf

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(m)), nil
}

// Options are shared by Broadcaster and Viewer.
type Options struct {
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	Signaler   Signaler
	Logger     *slog.Logger

	// PollInterval is how often the hub record is re-read while waiting.
	PollInterval time.Duration
	// GatherTimeout bounds ICE gathering before a description is published.
	GatherTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.API == nil {
		o.API = webrtc.NewAPI()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.GatherTimeout <= 0 {
		o.GatherTimeout = defaultGatherTimeout
	}
	return o
}

func (o Options) newPeerConnection() (*webrtc.PeerConnection, error) {
	return o.API.NewPeerConnection(webrtc.Configuration{ICEServers: o.ICEServers})
}

// setLocal applies desc and waits for gathering so the published description
// carries every candidate.
func (o Options) setLocal(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, o.GatherTimeout)
	defer cancel()
	select {
	case <-gathered:
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return webrtc.SessionDescription{}, err
		}
		// Publish what was gathered so far.
	}

	local := pc.LocalDescription()
	if local == nil {
		return webrtc.SessionDescription{}, errors.New("missing local description")
	}
	return *local, nil
}

// poll re-reads key until check reports done.
func (o Options) poll(ctx context.Context, key hub.SessionKey, check func(rec hub.Record, exists bool) (bool, error)) error {
	ticker := time.NewTicker(o.PollInterval)
	defer ticker.Stop()
	for {
		rec, err := o.Signaler.Get(ctx, key)
		exists := true
		if errors.Is(err, hub.ErrNotFound) {
			exists, err = false, nil
		}
		if err != nil {
			return err
		}
		done, err := check(rec, exists)
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func sealDescription(key streamkey.KeyPair, desc webrtc.SessionDescription) (string, error) {
	raw, err := json.Marshal(desc)
	if err != nil {
		return "", err
	}
	return key.Seal(raw)
}

func openDescription(key streamkey.KeyPair, sealed string) (webrtc.SessionDescription, error) {
	raw, err := key.Open(sealed)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("decode description: %w", err)
	}
	return desc, nil
}
