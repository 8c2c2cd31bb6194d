package media

import (
	"errors"
	"io"
	"strconv"

	"github.com/pion/webrtc/v4"

	"github.com/nmn/roap-signal/common"
)

// TrackRole is the semantic role a remote track is given, purely by its
// position among the peer connection's transceivers.
type TrackRole int

const (
	RoleAudio TrackRole = iota
	RoleVideo
	RoleScreenshare
)

func (r TrackRole) String() string {
	switch r {
	case RoleAudio:
		return "audio"
	case RoleVideo:
		return "video"
	case RoleScreenshare:
		return "screenshare"
	default:
		return "unknown"
	}
}

// midRoleOrder is the fixed m-line-position-to-role table: 0 -> audio,
// 1 -> video, 2 -> screenshare.
var midRoleOrder = []TrackRole{RoleAudio, RoleVideo, RoleScreenshare}

// trackRoleForMid maps a transceiver's mid (the SDP m-line index, as a
// decimal string) to a role by raw position. This is brittle by
// construction — it assumes m-lines are always negotiated in exactly this
// order, rather than negotiating roles explicitly — and that assumption is
// preserved deliberately, not fixed by inspecting codec/kind instead.
func trackRoleForMid(mid string) (TrackRole, bool) {
	idx, err := strconv.Atoi(mid)
	if err != nil {
		return 0, false
	}
	return common.SafeGet(midRoleOrder, idx)
}

// TrackHandler is invoked once per remote track, with the role it was
// classified under (ok is false if the track's transceiver didn't land on
// a recognized index).
type TrackHandler func(role TrackRole, ok bool, track *webrtc.TrackRemote)

// OnTrack registers handler to be called whenever the underlying peer
// connection receives a new remote track. The facade classifies the track
// by transceiver position and then drains it in the background — actually
// decoding, rendering, or forwarding the media is the caller's job (media
// transport itself is out of this repository's scope); this loop exists
// only to detect the track's role and notice when it ends.
func (c *Connection) OnTrack(handler TrackHandler) {
	c.pc.Raw().OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		role, ok := c.roleForReceiver(receiver)
		if !ok {
			c.logger.Warn("media: track arrived on an unrecognized transceiver position", "ssrc", remote.SSRC())
		} else {
			c.roles.Write(func(m map[webrtc.SSRC]TrackRole) { m[remote.SSRC()] = role })
			c.logger.Info("media: track received", "role", role, "ssrc", remote.SSRC())
		}
		if handler != nil {
			handler(role, ok, remote)
		}
		c.drainTrack(remote)
	})
}

// RoleOf returns the role assigned to a previously seen track's SSRC.
func (c *Connection) RoleOf(ssrc webrtc.SSRC) (role TrackRole, ok bool) {
	c.roles.Read(func(m map[webrtc.SSRC]TrackRole) {
		role, ok = m[ssrc]
	})
	return role, ok
}

func (c *Connection) roleForReceiver(receiver *webrtc.RTPReceiver) (TrackRole, bool) {
	for _, t := range c.pc.Raw().GetTransceivers() {
		if t.Receiver() == receiver {
			return trackRoleForMid(t.Mid())
		}
	}
	return 0, false
}

func (c *Connection) drainTrack(remote *webrtc.TrackRemote) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		buf := make([]byte, 1500)
		for {
			_, _, err := remote.Read(buf)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					c.logger.Warn("media: track read error", "ssrc", remote.SSRC(), "err", err)
				}
				return
			}
		}
	}()
}
