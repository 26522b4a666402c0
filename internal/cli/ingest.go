package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/lazypower/foresight/internal/client"
)

var ingestURL string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Stream newline-delimited access events from stdin to a running server",
	Long: "Each input line is a JSON access event:\n" +
		`  {"user_id":"u1","content_id":"doc-42","timestamp":"2026-03-02T09:00:00Z","context":{"activity":"coding"}}` + "\n" +
		"A missing timestamp means now. Malformed lines are skipped and counted.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		res, err := client.New(ingestURL).Ingest(ctx, os.Stdin)
		fmt.Fprintf(os.Stderr, "sent: %d  skipped: %d  rejected: %d\n", res.Sent, res.Skipped, res.Failed)
		return err
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestURL, "url", "", "server URL (default $"+client.URLEnvVar+" or http://127.0.0.1:37778)")
	rootCmd.AddCommand(ingestCmd)
}
