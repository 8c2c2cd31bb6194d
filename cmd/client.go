package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nmn/roap-signal/roap"
)

var clientFlags peerFlags

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Negotiate a ROAP session as the offerer.",
	Long: `client connects to a signaling server, registers as a peer, and
initiates a ROAP offer/answer exchange against --remote-id.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPeer(context.Background(), &clientFlags, roap.RoleOfferer, slog.Default())
	},
}

func init() {
	rootCmd.AddCommand(clientCmd)
	registerPeerFlags(clientCmd, &clientFlags)
	clientCmd.MarkFlagRequired("remote-id")
	clientCmd.MarkFlagRequired("signaling-address")
}
