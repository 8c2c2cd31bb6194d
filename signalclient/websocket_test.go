package signalclient

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nmn/roap-signal/roap"
	"github.com/nmn/roap-signal/signaling"
)

func TestWebSocketTransport_SendAndReceive(t *testing.T) {
	relay := signaling.NewRelay(nil, 1<<16, nil)
	server := httptest.NewServer(signaling.NewHandler(relay, nil, 1<<16, nil))
	defer server.Close()

	addr := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/relay"

	a, err := DialWebSocket(addr, "peerA", "peerB", "", nil)
	if err != nil {
		t.Fatalf("DialWebSocket peerA: %v", err)
	}
	defer a.Close()

	b, err := DialWebSocket(addr, "peerB", "peerA", "", nil)
	if err != nil {
		t.Fatalf("DialWebSocket peerB: %v", err)
	}
	defer b.Close()

	time.Sleep(50 * time.Millisecond) // let the relay register both peers

	tieBreaker := uint32(42)
	want := roap.RoapMessage{MessageType: roap.MessageOffer, Seq: 1, SDP: "v=0...", TieBreaker: &tieBreaker}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Send(ctx, want); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := b.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.MessageType != want.MessageType || got.Seq != want.Seq || got.SDP != want.SDP {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.TieBreaker == nil || *got.TieBreaker != tieBreaker {
		t.Errorf("TieBreaker = %v, want %d", got.TieBreaker, tieBreaker)
	}
}

func TestWebSocketTransport_ReceiveRespectsContextCancel(t *testing.T) {
	relay := signaling.NewRelay(nil, 1<<16, nil)
	server := httptest.NewServer(signaling.NewHandler(relay, nil, 1<<16, nil))
	defer server.Close()

	addr := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/relay"
	a, err := DialWebSocket(addr, "peerA", "peerB", "", nil)
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = a.Receive(ctx)
	if err == nil {
		t.Fatal("expected Receive to return an error once ctx is done")
	}
}

func TestWebSocketTransport_CloseUnblocksReceive(t *testing.T) {
	relay := signaling.NewRelay(nil, 1<<16, nil)
	server := httptest.NewServer(signaling.NewHandler(relay, nil, 1<<16, nil))
	defer server.Close()

	addr := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/relay"
	a, err := DialWebSocket(addr, "peerA", "peerB", "", nil)
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := a.Receive(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected Receive to return an error after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not unblock after Close")
	}
}
