package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/poslab/catsync/internal/events"
	"github.com/poslab/catsync/internal/models"
)

var syncFull bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a catalog sync now",
	Long: `Sync reconciles the local catalog replica with the remote catalog.

The run is incremental when a fresh cursor exists; otherwise the full
catalog is walked. Use --full to force a complete walk.`,
	Example: `  catsync sync
  catsync sync --full`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVarP(&syncFull, "full", "f", false,
		"Force a full catalog walk instead of incremental")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if !jsonOutput {
		go func() {
			for ev := range apiClient.Status.Events() {
				switch ev.Type {
				case events.EventRunFailed:
					printWarning("%s", ev.Message)
				default:
					logger.WithField("event", string(ev.Type)).Debug(ev.Message)
				}
			}
		}()
	}

	var outcome *models.RunOutcome
	var err error
	if syncFull {
		outcome, err = apiClient.Engine.RequestFullSync(ctx, models.ReasonManual)
	} else {
		outcome, err = apiClient.Engine.RequestSync(ctx, models.ReasonManual)
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(outcome)
	} else if outcome.Succeeded() {
		printSuccess("%s", outcome)
	}

	if !outcome.Succeeded() {
		return fmt.Errorf("%s", outcome.Message)
	}
	return nil
}
