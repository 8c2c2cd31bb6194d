// Package pc adapts pion/webrtc/v4 to the roap.PeerConnection dependency:
// a single cohesive Connection type wrapping webrtc.NewPeerConnection and
// the four browser primitives the ROAP engine drives.
package pc

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/nmn/roap-signal/roap"
)

// Connection wraps a *webrtc.PeerConnection with the synchronous,
// roap.PeerConnection-shaped surface the negotiation engine expects.
type Connection struct {
	pc *webrtc.PeerConnection

	mu    sync.RWMutex
	local webrtc.SessionDescription
}

// New creates a peer connection with the given ICE/transport configuration,
// grounded on the teacher's common/rtc.CreatePeerConnection.
func New(cfg webrtc.Configuration) (*Connection, error) {
	raw, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Connection{pc: raw}, nil
}

// Raw exposes the underlying pion PeerConnection for callers (notably
// media.Connection) that need to register OnTrack/OnICEConnectionStateChange
// handlers the roap.PeerConnection interface doesn't carry.
func (c *Connection) Raw() *webrtc.PeerConnection {
	return c.pc
}

func (c *Connection) CreateOffer(ctx context.Context) (roap.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return roap.SessionDescription{}, err
	}
	return roap.SessionDescription{Type: roap.SDPTypeOffer, SDP: offer.SDP}, nil
}

func (c *Connection) CreateAnswer(ctx context.Context) (roap.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return roap.SessionDescription{}, err
	}
	return roap.SessionDescription{Type: roap.SDPTypeAnswer, SDP: answer.SDP}, nil
}

func (c *Connection) SetLocalDescription(ctx context.Context, desc roap.SessionDescription) error {
	wdesc := toPion(desc)
	if err := c.pc.SetLocalDescription(wdesc); err != nil {
		return err
	}
	c.mu.Lock()
	c.local = wdesc
	c.mu.Unlock()
	return nil
}

func (c *Connection) SetRemoteDescription(ctx context.Context, desc roap.SessionDescription) error {
	return c.pc.SetRemoteDescription(toPion(desc))
}

// LocalDescription returns the raw, unmunged SDP last set via
// SetLocalDescription (spec §6's localDescription.sdp).
func (c *Connection) LocalDescription() (roap.SessionDescription, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.local.SDP == "" {
		return roap.SessionDescription{}, false
	}
	return fromPion(c.local), true
}

// Close tears down the underlying peer connection. Calls after the first
// are passed through to pion, which returns nil for an already-closed peer
// connection; media.Connection additionally guards its own Close with
// sync.Once.
func (c *Connection) Close() error {
	return c.pc.Close()
}

func toPion(desc roap.SessionDescription) webrtc.SessionDescription {
	sdpType := webrtc.SDPTypeOffer
	if desc.Type == roap.SDPTypeAnswer {
		sdpType = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}
}

func fromPion(desc webrtc.SessionDescription) roap.SessionDescription {
	sdpType := roap.SDPTypeOffer
	if desc.Type == webrtc.SDPTypeAnswer {
		sdpType = roap.SDPTypeAnswer
	}
	return roap.SessionDescription{Type: sdpType, SDP: desc.SDP}
}
