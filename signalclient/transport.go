// Package signalclient implements the peer-side transports that carry
// roap.RoapMessage envelopes to and from a signaling.Relay or
// signaling.Mailbox.
package signalclient

import (
	"context"
	"errors"

	"github.com/nmn/roap-signal/roap"
)

// ErrClosed is returned by Send/Receive once Close has been called.
var ErrClosed = errors.New("signalclient: transport closed")

// Transport carries RoapMessages between a local roap.Engine and its remote
// peer, addressed by peer ID. Engine itself is transport-agnostic (see
// roap.PeerConnection for the analogous seam on the media side); the engine
// owner is responsible for pumping Outbound() into Send and feeding Receive's
// results into RoapMessageReceived.
type Transport interface {
	// Send delivers msg to the peer this transport was constructed for.
	Send(ctx context.Context, msg roap.RoapMessage) error
	// Receive blocks until a message addressed to the local peer arrives, ctx
	// is canceled, or the transport is closed.
	Receive(ctx context.Context) (roap.RoapMessage, error)
	// Close releases the transport's underlying connection or goroutines.
	// Close is idempotent.
	Close() error
}
