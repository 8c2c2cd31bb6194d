package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// ConnectionState is the facade's coarse view of connection health,
// aggregated from the ICE and peer-connection state machines pion/webrtc
// exposes separately.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// stateTracker holds the two underlying state machines and recomputes the
// aggregate ConnectionState whenever either changes.
type stateTracker struct {
	mu      sync.RWMutex
	ice     webrtc.ICEConnectionState
	pcState webrtc.PeerConnectionState
}

func aggregateState(ice webrtc.ICEConnectionState, pcState webrtc.PeerConnectionState) ConnectionState {
	switch {
	case pcState == webrtc.PeerConnectionStateClosed:
		return StateClosed
	case pcState == webrtc.PeerConnectionStateFailed, ice == webrtc.ICEConnectionStateFailed:
		return StateFailed
	case pcState == webrtc.PeerConnectionStateDisconnected, ice == webrtc.ICEConnectionStateDisconnected:
		return StateDisconnected
	case pcState == webrtc.PeerConnectionStateConnected,
		ice == webrtc.ICEConnectionStateConnected,
		ice == webrtc.ICEConnectionStateCompleted:
		return StateConnected
	default:
		return StateConnecting
	}
}

func (t *stateTracker) setICE(s webrtc.ICEConnectionState) ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ice = s
	return aggregateState(t.ice, t.pcState)
}

func (t *stateTracker) setPeerConnection(s webrtc.PeerConnectionState) ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pcState = s
	return aggregateState(t.ice, t.pcState)
}

// registerConnectionStateHandlers wires pion's two state-change callbacks
// into c's aggregated ConnectionState, logging every transition.
func (c *Connection) registerConnectionStateHandlers() {
	raw := c.pc.Raw()
	raw.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		agg := c.tracker.setICE(s)
		c.setState(agg)
	})
	raw.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		agg := c.tracker.setPeerConnection(s)
		c.setState(agg)
	})
}

func (c *Connection) setState(s ConnectionState) {
	prev := c.State()
	if prev == s {
		return
	}
	c.stateVal.Store(s)
	c.logger.Info("media: connection state changed", "from", prev, "to", s)
}

// State returns the connection's current aggregated state.
func (c *Connection) State() ConnectionState {
	return c.stateVal.Load().(ConnectionState)
}
