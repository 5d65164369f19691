package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/streamkey"
)

// ViewerInfo describes a viewer whose answer was consumed.
type ViewerInfo struct {
	Account hub.AccountID
	// RestreamSecret is the viewer's own stream secret, opened from the
	// restream key it attached to its answer. Empty when it could not be
	// opened.
	RestreamSecret string
	Channel        *webrtc.DataChannel
}

// Broadcaster publishes one offer per negotiation round. Each consumed answer
// becomes a viewer and the next round starts with a fresh offer.
type Broadcaster struct {
	opts Options
	key  streamkey.KeyPair

	// OnViewer is called when a viewer's data channel opens.
	OnViewer func(ViewerInfo)

	mu      sync.Mutex
	peers   []*webrtc.PeerConnection
	viewers []ViewerInfo
}

func NewBroadcaster(key streamkey.KeyPair, opts Options) *Broadcaster {
	return &Broadcaster{opts: opts.withDefaults(), key: key}
}

func (b *Broadcaster) SessionKey() hub.SessionKey { return b.key.SessionKey() }

func (b *Broadcaster) Viewers() []ViewerInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ViewerInfo(nil), b.viewers...)
}

// Run serves rounds until ctx is done. The first round resets the record.
func (b *Broadcaster) Run(ctx context.Context) error {
	isNew := true
	for {
		if err := b.Round(ctx, isNew); err != nil {
			return err
		}
		isNew = false
	}
}

// Round publishes an offer, waits for an answer to it, applies the answer and
// consumes it.
func (b *Broadcaster) Round(ctx context.Context, isNew bool) error {
	log := b.opts.Logger.With("session_key", b.key.SessionKey())

	pc, err := b.opts.newPeerConnection()
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	dc, err := pc.CreateDataChannel(StreamLabel, nil)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("create data channel: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("create offer: %w", err)
	}
	local, err := b.opts.setLocal(ctx, pc, offer)
	if err != nil {
		_ = pc.Close()
		return err
	}
	sealed, err := sealDescription(b.key, local)
	if err != nil {
		_ = pc.Close()
		return err
	}

	if err := b.opts.Signaler.PublishOffer(ctx, b.key.SessionKey(), &sealed, isNew); err != nil {
		_ = pc.Close()
		return fmt.Errorf("publish offer: %w", err)
	}
	log.Debug("offer published", "is_new", isNew)

	var (
		taken  hub.Answer
		remote webrtc.SessionDescription
	)
	err = b.opts.poll(ctx, b.key.SessionKey(), func(rec hub.Record, exists bool) (bool, error) {
		if !exists || rec.Offer == nil || *rec.Offer != sealed {
			return false, errors.New("offer was replaced")
		}
		if rec.Answer == nil {
			return false, nil
		}
		answer := *rec.Answer
		desc, err := openDescription(b.key, answer.Payload)
		if err != nil {
			// Leave it for the viewer to refresh.
			log.Warn("unreadable answer", "account", answer.AccountID, "err", err)
			return false, nil
		}
		switch err := b.opts.Signaler.ConsumeAnswer(ctx, b.key.SessionKey(), answer); {
		case err == nil:
			taken, remote = answer, desc
			return true, nil
		case errors.Is(err, hub.ErrAnswerChanged):
			// Refreshed between our read and consume.
			return false, nil
		default:
			return false, fmt.Errorf("consume answer: %w", err)
		}
	})
	if err != nil {
		_ = pc.Close()
		return err
	}

	info := ViewerInfo{Account: taken.AccountID, Channel: dc}
	if secret, err := b.key.Open(taken.RestreamKey); err == nil {
		info.RestreamSecret = string(secret)
	}
	dc.OnOpen(func() {
		if b.OnViewer != nil {
			b.OnViewer(info)
		}
	})
	if err := pc.SetRemoteDescription(remote); err != nil {
		_ = pc.Close()
		return fmt.Errorf("set remote description: %w", err)
	}
	log.Info("viewer joined", "account", taken.AccountID)

	b.mu.Lock()
	b.peers = append(b.peers, pc)
	b.viewers = append(b.viewers, info)
	b.mu.Unlock()
	return nil
}

// Stop clears the offer with a fresh round and closes every viewer
// connection. The restream history is discarded with the reset.
func (b *Broadcaster) Stop(ctx context.Context) error {
	err := b.opts.Signaler.PublishOffer(ctx, b.key.SessionKey(), nil, true)

	b.mu.Lock()
	peers := b.peers
	b.peers = nil
	b.mu.Unlock()

	for _, pc := range peers {
		err = errors.Join(err, pc.Close())
	}
	return err
}
