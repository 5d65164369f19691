package peer

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/streamkey"
)

// Viewer joins a stream it holds the secret for. Own is the viewer's own
// stream key; its secret travels to the broadcaster sealed in the restream
// key so the broadcaster can reach the viewer's stream later.
type Viewer struct {
	opts   Options
	stream streamkey.KeyPair
	own    streamkey.KeyPair
}

func NewViewer(stream, own streamkey.KeyPair, opts Options) *Viewer {
	return &Viewer{opts: opts.withDefaults(), stream: stream, own: own}
}

// Session is an accepted viewer connection.
type Session struct {
	PC *webrtc.PeerConnection
	// Channel delivers the broadcaster's data channel once it opens.
	Channel <-chan *webrtc.DataChannel
}

func (s *Session) Close() error { return s.PC.Close() }

// Join waits for an offer, answers it and returns once the answer was
// accepted by the hub. Offers taken by another viewer are skipped until the
// broadcaster publishes the next one.
func (v *Viewer) Join(ctx context.Context) (*Session, error) {
	key := v.stream.SessionKey()
	log := v.opts.Logger.With("session_key", key)

	restream, err := v.stream.Seal([]byte(v.own.SecretString()))
	if err != nil {
		return nil, err
	}

	var skip string
	for {
		var offer string
		err := v.opts.poll(ctx, key, func(rec hub.Record, exists bool) (bool, error) {
			if !exists || rec.Offer == nil || *rec.Offer == skip || rec.Answer != nil {
				return false, nil
			}
			offer = *rec.Offer
			return true, nil
		})
		if err != nil {
			return nil, err
		}

		sess, err := v.answer(ctx, key, offer, restream)
		switch {
		case err == nil:
			log.Info("answer accepted")
			return sess, nil
		case errors.Is(err, hub.ErrAnswerAlreadyPresent), errors.Is(err, hub.ErrOfferMismatch):
			log.Debug("offer taken, waiting for the next", "err", err)
			skip = offer
		case errors.Is(err, streamkey.ErrOpenFailed):
			log.Warn("unreadable offer", "err", err)
			skip = offer
		default:
			return nil, err
		}
	}
}

func (v *Viewer) answer(ctx context.Context, key hub.SessionKey, offer, restream string) (*Session, error) {
	desc, err := openDescription(v.stream, offer)
	if err != nil {
		return nil, err
	}

	pc, err := v.opts.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	channels := make(chan *webrtc.DataChannel, 1)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != StreamLabel {
			return
		}
		dc.OnOpen(func() {
			select {
			case channels <- dc:
			default:
			}
		})
	})

	if err := pc.SetRemoteDescription(desc); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}
	local, err := v.opts.setLocal(ctx, pc, answer)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	sealed, err := sealDescription(v.stream, local)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	if err := v.opts.Signaler.PublishAnswer(ctx, key, sealed, true, offer, restream); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("publish answer: %w", err)
	}
	return &Session{PC: pc, Channel: channels}, nil
}
