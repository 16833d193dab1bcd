package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/poslab/catsync/internal/events"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run the live-subscription listener in the foreground",
	Long: `Listen connects to the catalog event stream and triggers a catch-up
sync whenever a catalog-change event arrives. Reconnects automatically
until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	go func() {
		for ev := range apiClient.Status.Events() {
			switch ev.Type {
			case events.EventRunSucceeded:
				printSuccess("%s", ev.Message)
			case events.EventRunFailed:
				printWarning("%s", ev.Message)
			}
		}
	}()

	printSuccess("Listening for catalog changes (ctrl-c to stop)")
	err := apiClient.Listener.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
