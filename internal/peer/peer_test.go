package peer

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hubclient"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/store/memory"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/streamkey"
)

const testAPIKey = "peer-test-key"

func startHub(t *testing.T) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := hub.New(memory.New(), hub.Options{Logger: logger})
	if err := h.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	authn, err := auth.New(config.Config{
		AuthMode:       config.AuthModeAPIKey,
		APIKey:         testAPIKey,
		IdentityHeader: "X-Aero-Account-Id",
	})
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}
	ts := httptest.NewServer(signaling.NewServer(signaling.Config{Hub: h, Auth: authn, Logger: logger}).Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func startVNet(t *testing.T) (*webrtc.API, *webrtc.API) {
	t.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() {
		_ = router.Stop()
	})

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	apiA, err := NewAPI(APIOptions{Net: netA})
	if err != nil {
		t.Fatalf("api A: %v", err)
	}
	apiB, err := NewAPI(APIOptions{Net: netB})
	if err != nil {
		t.Fatalf("api B: %v", err)
	}
	return apiA, apiB
}

func TestBroadcastToViewer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	base := startHub(t)
	apiA, apiB := startVNet(t)
	alice := hubclient.New(base, testAPIKey, "alice")
	bob := hubclient.New(base, testAPIKey, "bob")

	stream, err := streamkey.Generate(nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	own, err := streamkey.Generate(nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// The viewer learns the stream from its shared secret.
	shared, err := streamkey.ParseSecret(stream.SecretString())
	if err != nil {
		t.Fatalf("ParseSecret: %v", err)
	}

	b := NewBroadcaster(stream, Options{API: apiA, Signaler: alice, PollInterval: 20 * time.Millisecond})
	opened := make(chan ViewerInfo, 1)
	b.OnViewer = func(v ViewerInfo) {
		select {
		case opened <- v:
		default:
		}
	}
	t.Cleanup(func() { _ = b.Stop(context.Background()) })

	roundErr := make(chan error, 1)
	go func() { roundErr <- b.Round(ctx, true) }()

	v := NewViewer(shared, own, Options{API: apiB, Signaler: bob, PollInterval: 20 * time.Millisecond})
	sess, err := v.Join(ctx)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })

	if err := <-roundErr; err != nil {
		t.Fatalf("Round: %v", err)
	}

	var viewerDC *webrtc.DataChannel
	select {
	case viewerDC = <-sess.Channel:
	case <-ctx.Done():
		t.Fatalf("viewer data channel never opened")
	}
	received := make(chan string, 1)
	viewerDC.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case received <- string(msg.Data):
		default:
		}
	})

	var info ViewerInfo
	select {
	case info = <-opened:
	case <-ctx.Done():
		t.Fatalf("broadcaster data channel never opened")
	}
	if info.Account != "bob" {
		t.Fatalf("viewer account=%q, want bob", info.Account)
	}
	if info.RestreamSecret != own.SecretString() {
		t.Fatalf("restream secret did not round trip")
	}
	if err := info.Channel.SendText("hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	select {
	case got := <-received:
		if got != "hello" {
			t.Fatalf("got %q, want hello", got)
		}
	case <-ctx.Done():
		t.Fatalf("message never arrived")
	}

	rec, err := alice.Get(ctx, stream.SessionKey())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Offer != nil || rec.Answer != nil || len(rec.RestreamHistory) != 1 {
		t.Fatalf("record after consume: %+v", rec)
	}
	secret, err := stream.Open(rec.RestreamHistory[0])
	if err != nil || string(secret) != own.SecretString() {
		t.Fatalf("history entry: %q, %v", secret, err)
	}
	if got := b.Viewers(); len(got) != 1 {
		t.Fatalf("viewers=%d, want 1", len(got))
	}

	if err := b.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	rec, err = alice.Get(ctx, stream.SessionKey())
	if err != nil {
		t.Fatalf("Get after stop: %v", err)
	}
	if rec.Offer != nil || len(rec.RestreamHistory) != 0 {
		t.Fatalf("record after stop: %+v", rec)
	}
}

func TestDescriptionSealing(t *testing.T) {
	k1, err := streamkey.Generate(nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	k2, err := streamkey.Generate(nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}
	sealed, err := sealDescription(k1, desc)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	got, err := openDescription(k1, sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got.Type != desc.Type || got.SDP != desc.SDP {
		t.Fatalf("got %+v, want %+v", got, desc)
	}
	if _, err := openDescription(k2, sealed); err == nil {
		t.Fatalf("opened with the wrong key")
	}
}
