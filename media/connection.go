// Package media is the media-connection facade: it owns a peer connection
// and a ROAP negotiation engine together, wiring the engine's abstract
// "browser primitive" calls to real pion/webrtc calls and exposing a single
// object a caller drives with incoming signaling messages and reads
// outbound ones from.
package media

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/nmn/roap-signal/common"
	"github.com/nmn/roap-signal/pc"
	"github.com/nmn/roap-signal/roap"
)

// Connection composes a *pc.Connection and a *roap.Engine: the engine
// decides what to do, the pc.Connection is what actually does it.
type Connection struct {
	pc     *pc.Connection
	engine *roap.Engine
	role   roap.Role
	logger *slog.Logger

	tracker  stateTracker
	stateVal atomic.Value

	roles *common.RWLock[map[webrtc.SSRC]TrackRole]

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New constructs a media.Connection for the given role. munge is passed
// through to the underlying roap.Engine unchanged; a nil munge uses
// roap.IdentityMunger.
func New(cfg webrtc.Configuration, role roap.Role, munge roap.MungerFunc, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	raw, err := pc.New(cfg)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		pc:     raw,
		role:   role,
		logger: logger,
		roles:  common.NewRWLock(make(map[webrtc.SSRC]TrackRole)),
	}
	c.stateVal.Store(StateConnecting)
	c.engine = roap.New(raw, munge, logger.With("role", role))
	c.registerConnectionStateHandlers()
	return c, nil
}

// Raw exposes the underlying pion PeerConnection for callers that need to
// add tracks, data channels, or transceivers before negotiation begins.
func (c *Connection) Raw() *webrtc.PeerConnection {
	return c.pc.Raw()
}

// Engine exposes the underlying negotiation engine for callers that want to
// drive it directly — e.g. signalclient.Pump, which only depends on
// roap.Engine's Outbound/Failures/RoapMessageReceived surface rather than
// the whole media facade.
func (c *Connection) Engine() *roap.Engine {
	return c.engine
}

// Outbound is the ROAP_MESSAGE_TO_SEND stream: every message the engine
// wants delivered to the remote peer, in order. A signalclient.Transport
// drains this.
func (c *Connection) Outbound() <-chan roap.RoapMessage {
	return c.engine.Outbound()
}

// Failures is the ROAP_FAILURE stream: fires exactly once, when the
// negotiation enters a terminal state.
func (c *Connection) Failures() <-chan roap.FailureEvent {
	return c.engine.Failures()
}

// HandleIncoming delivers an inbound RoapMessage to the negotiation engine.
// It resolves once the message is admitted, not once any resulting
// outbound message has been sent.
func (c *Connection) HandleIncoming(ctx context.Context, msg roap.RoapMessage) error {
	return c.engine.RoapMessageReceived(ctx, msg)
}

// Renegotiate is the facade's general-purpose hook for triggering a new
// offer/answer exchange at an arbitrary time — after adding a track,
// changing send options, or any other application-level reason. The
// facade itself never calls this on its own; deciding when to renegotiate
// is the caller's responsibility.
func (c *Connection) Renegotiate(ctx context.Context) error {
	return c.engine.InitiateOffer(ctx)
}

// Close tears down both the negotiation engine and the underlying peer
// connection. It is idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.engine.Close()
		err = c.pc.Close()
		c.wg.Wait()
	})
	return err
}
