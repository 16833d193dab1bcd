package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/poslab/catsync/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine state and catalog row counts",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	st := apiClient.Engine.Status()
	counts, err := apiClient.Store.Counts(ctx)
	if err != nil {
		return fmt.Errorf("read counts: %w", err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"status": st,
			"counts": counts,
		})
		return nil
	}

	fmt.Printf("Engine: %s\n", st.State)
	if st.Current != nil {
		fmt.Printf("Current run: %s (%s, %s) pages=%d objects=%d\n",
			st.Current.RunID, st.Current.Reason, st.Current.Mode,
			st.Current.PagesApplied, st.Current.ObjectsProcessed)
	}
	if !st.LastSuccess.IsZero() {
		fmt.Printf("Last success: %s\n", st.LastSuccess.Format(time.RFC3339))
	}
	if st.LastError != "" {
		printWarning("Last error: %s", st.LastError)
	}

	types := make([]string, 0, len(counts))
	for typ := range counts {
		types = append(types, string(typ))
	}
	sort.Strings(types)

	fmt.Println("\nCatalog rows:")
	for _, typ := range types {
		fmt.Printf("  %-15s %d\n", typ, counts[models.ObjectType(typ)])
	}
	return nil
}
