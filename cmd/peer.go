package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/nmn/roap-signal/media"
	"github.com/nmn/roap-signal/roap"
	"github.com/nmn/roap-signal/signalclient"
)

// defaultSTUNAddresses mirrors host/host.go's default STUN configuration.
var defaultSTUNAddresses = []string{"stun:stun.l.google.com:19302"}

// registerPeerFlags binds the shared peer flags onto cmd, writing into f.
func registerPeerFlags(cmd *cobra.Command, f *peerFlags) {
	cmd.Flags().StringVarP(&f.id, "id", "i", "", "local peer id (default: a generated UUID)")
	cmd.Flags().StringVarP(&f.remoteID, "remote-id", "r", "", "remote peer id to negotiate with")
	cmd.Flags().StringVarP(&f.signalingAddress, "signaling-address", "s", "", "signaling server address (ws URL for --transport ws, base HTTP URL for --transport poll)")
	cmd.Flags().StringVar(&f.transport, "transport", "ws", "signaling transport: ws or poll")
	cmd.Flags().StringVarP(&f.token, "token", "k", "", "bearer token for the signaling server, if required")
	cmd.Flags().StringSliceVar(&f.stunAddresses, "stun-addresses", defaultSTUNAddresses, "STUN server addresses")
}

// peerFlags is the set of flags shared by the client (offerer) and host
// (answerer) commands: how to reach the signaling server, who the local
// and remote peer IDs are, and how to build the underlying peer connection.
type peerFlags struct {
	id               string
	remoteID         string
	signalingAddress string
	transport        string
	token            string
	stunAddresses    []string
}

// resolveID returns id if non-empty, otherwise a freshly generated UUID —
// grounded on client/client.go's uuid.NewRandom() call for a per-run
// identity when the caller doesn't pin one.
func resolveID(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	generated, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate peer id: %w", err)
	}
	return generated.String(), nil
}

// dialTransport connects a signalclient.Transport of the requested kind to
// the signaling server at f.signalingAddress, registered as f.id and
// addressing f.remoteID.
func dialTransport(ctx context.Context, f *peerFlags, logger *slog.Logger) (signalclient.Transport, error) {
	switch f.transport {
	case "ws", "websocket":
		return signalclient.DialWebSocket(f.signalingAddress, f.id, f.remoteID, f.token, logger)
	case "poll":
		return signalclient.DialPoll(ctx, f.signalingAddress, f.id, f.remoteID, f.token, logger)
	default:
		return nil, fmt.Errorf("unsupported transport %q (want ws or poll)", f.transport)
	}
}

// runPeer wires up a media.Connection in the given role, dials a
// signalclient.Transport, pumps ROAP messages between them, and blocks
// until the negotiation fails or ctx is canceled.
func runPeer(ctx context.Context, f *peerFlags, role roap.Role, logger *slog.Logger) error {
	id, err := resolveID(f.id)
	if err != nil {
		return err
	}
	f.id = id

	iceServers := make([]webrtc.ICEServer, 0, len(f.stunAddresses))
	for _, addr := range f.stunAddresses {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{addr}})
	}

	conn, err := media.New(webrtc.Configuration{ICEServers: iceServers}, role, nil, logger.With("id", f.id))
	if err != nil {
		return fmt.Errorf("create media connection: %w", err)
	}
	defer conn.Close()

	transport, err := dialTransport(ctx, f, logger)
	if err != nil {
		return fmt.Errorf("dial signaling transport: %w", err)
	}
	defer transport.Close()

	errs := signalclient.Pump(ctx, transport, conn.Engine())

	if role == roap.RoleOfferer {
		if err := conn.Renegotiate(ctx); err != nil {
			return fmt.Errorf("initiate offer: %w", err)
		}
	}

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
