package cmd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nmn/roap-signal/signaling"
)

var (
	serverListen        string
	serverTokens        []string
	serverMaxMsgSize    int64
	serverEnableMailbox bool
	serverMailboxQueue  int
	serverMailboxWait   time.Duration
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the ROAP signaling server.",
	Long: `server runs a signaling.Relay (persistent WebSocket forwarding) and,
optionally, a signaling.Mailbox (REST long-poll) on the same listener, so
peers that can't hold a WebSocket open can still exchange ROAP messages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.Default()
		relay := signaling.NewRelay(serverTokens, serverMaxMsgSize, logger)

		var mailbox *signaling.Mailbox
		if serverEnableMailbox {
			mailbox = signaling.NewMailbox(serverMailboxQueue, serverMailboxWait, logger)
		}

		handler := signaling.NewHandler(relay, mailbox, serverMaxMsgSize, logger)
		logger.Info("signaling server listening", "addr", serverListen, "mailbox", serverEnableMailbox)
		return http.ListenAndServe(serverListen, handler)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVarP(&serverListen, "listen", "l", ":8080", "listen address for the signaling server")
	serverCmd.Flags().StringSliceVarP(&serverTokens, "tokens", "t", nil, "allowed bearer tokens for authentication (comma-separated or repeated)")
	serverCmd.Flags().Int64Var(&serverMaxMsgSize, "max-msg-size", 1<<20, "max websocket message size in bytes")
	serverCmd.Flags().BoolVar(&serverEnableMailbox, "enable-mailbox", false, "also serve the REST long-poll mailbox endpoints")
	serverCmd.Flags().IntVar(&serverMailboxQueue, "mailbox-queue-size", 16, "per-peer mailbox queue capacity")
	serverCmd.Flags().DurationVar(&serverMailboxWait, "mailbox-wait", 25*time.Second, "how long a mailbox receive poll blocks before returning empty")
}
