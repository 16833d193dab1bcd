package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe the local catalog and sync cursors",
	Long: `Reset clears every catalog table and all cursors in one transaction,
forcing the next sync to walk the full remote catalog. Intended for
recovery from suspected local corruption. Rejected while a sync run is
active.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false,
		"Skip the confirmation prompt")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("refusing to reset without --yes on a non-interactive stdin")
		}

		fmt.Print("This deletes all local catalog data. Type 'reset' to confirm: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		if strings.TrimSpace(line) != "reset" {
			printWarning("Aborted")
			return nil
		}
	}

	if err := apiClient.Engine.ResetAll(context.Background()); err != nil {
		return err
	}

	printSuccess("Local catalog wiped; next sync will be a full walk")
	return nil
}
