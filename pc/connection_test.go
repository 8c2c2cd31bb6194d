package pc

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/nmn/roap-signal/roap"
)

func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	conn, err := New(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestConnection_CreateOfferAndSetLocalDescription(t *testing.T) {
	conn := newTestConnection(t)
	ctx := context.Background()

	if _, err := conn.Raw().CreateDataChannel("roap", nil); err != nil {
		t.Fatalf("CreateDataChannel failed: %v", err)
	}

	offer, err := conn.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}
	if offer.Type != roap.SDPTypeOffer {
		t.Errorf("expected SDPTypeOffer, got %v", offer.Type)
	}
	if offer.SDP == "" {
		t.Fatal("expected non-empty offer SDP")
	}

	if _, ok := conn.LocalDescription(); ok {
		t.Fatal("expected no local description before SetLocalDescription")
	}

	if err := conn.SetLocalDescription(ctx, offer); err != nil {
		t.Fatalf("SetLocalDescription failed: %v", err)
	}

	local, ok := conn.LocalDescription()
	if !ok {
		t.Fatal("expected a local description after SetLocalDescription")
	}
	if local.SDP != offer.SDP {
		t.Errorf("LocalDescription SDP mismatch: got %q, want %q", local.SDP, offer.SDP)
	}
	if local.Type != roap.SDPTypeOffer {
		t.Errorf("expected SDPTypeOffer, got %v", local.Type)
	}
}

func TestConnection_SatisfiesRoapPeerConnection(t *testing.T) {
	var _ roap.PeerConnection = (*Connection)(nil)
}

func TestConnection_CloseIsSafeToCallOnce(t *testing.T) {
	conn := newTestConnection(t)
	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
