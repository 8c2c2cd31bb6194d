package roap

import "context"

// SDPType distinguishes an offer from an answer in a SessionDescription.
type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// SessionDescription is the engine's minimal view of an SDP blob: just
// enough for it to drive a PeerConnection without depending on any
// particular WebRTC library's types. The pc package adapts this to and
// from pion/webrtc's webrtc.SessionDescription.
type SessionDescription struct {
	Type SDPType
	SDP  string
}

// PeerConnection is the engine's peer-connection dependency (spec §6). It
// is satisfied by the pc package's adapter over pion/webrtc/v4; tests
// satisfy it with fakes. Every method is synchronous: the spec's "future"
// suspension points are realized by the coordinator calling these methods
// from a background goroutine and feeding the result back through its
// single-goroutine inbox (see engine.go), not by the interface itself
// being asynchronous.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (SessionDescription, error)
	CreateAnswer(ctx context.Context) (SessionDescription, error)
	SetLocalDescription(ctx context.Context, desc SessionDescription) error
	SetRemoteDescription(ctx context.Context, desc SessionDescription) error
	// LocalDescription returns the raw, unmunged SDP last set via
	// SetLocalDescription, mirroring the spec's localDescription.sdp. The
	// engine never emits this value directly — only the munger's output.
	LocalDescription() (SessionDescription, bool)
}

// MungerFunc rewrites a locally produced SDP before it is emitted to the
// peer (spec §4.4). It is invoked immediately after every successful
// SetLocalDescription, for both offer and answer sides.
type MungerFunc func(ctx context.Context, sdp string) (string, error)

// IdentityMunger is a MungerFunc that returns the SDP unchanged. Useful as
// a default when the caller has no SDP post-processing to do.
func IdentityMunger(_ context.Context, sdp string) (string, error) {
	return sdp, nil
}
