package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nmn/roap-signal/roap"
)

var hostFlags peerFlags

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Wait for a ROAP session as the answerer.",
	Long: `host connects to a signaling server, registers as a peer, and waits
for an incoming OFFER or OFFER_REQUEST from --remote-id before it
negotiates a session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPeer(context.Background(), &hostFlags, roap.RoleAnswerer, slog.Default())
	},
}

func init() {
	rootCmd.AddCommand(hostCmd)
	registerPeerFlags(hostCmd, &hostFlags)
	hostCmd.MarkFlagRequired("signaling-address")
}
