package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/poslab/catsync/internal/models"
	"github.com/poslab/catsync/internal/store"
)

var inspectLimit int

var inspectCmd = &cobra.Command{
	Use:   "inspect <type> [id]",
	Short: "Inspect stored catalog rows (diagnostics)",
	Long: `Inspect reads rows through the store's query surface: a single object
when an id is given, otherwise a bounded sample for the type.

Types: item, item_variation, category, tax, modifier_list, location.`,
	Example: `  catsync inspect item
  catsync inspect item_variation V123 --json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().IntVarP(&inspectLimit, "limit", "n", 20,
		"Maximum rows to list")
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	typ, err := models.ParseObjectType(args[0])
	if err != nil {
		return err
	}

	if len(args) == 2 {
		obj, err := apiClient.Store.GetObject(ctx, typ, args[1])
		if errors.Is(err, store.ErrObjectNotFound) {
			return fmt.Errorf("no stored %s with id %s", typ, args[1])
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			printJSON(obj)
			return nil
		}
		printObject(obj)
		return nil
	}

	objs, err := apiClient.Store.ListObjects(ctx, typ, inspectLimit)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(objs)
		return nil
	}

	for i := range objs {
		printObject(&objs[i])
	}
	fmt.Printf("%d row(s)\n", len(objs))
	return nil
}

func printObject(obj *models.Object) {
	state := "active"
	if !obj.Active {
		state = "inactive"
	}
	fmt.Printf("%s  v%-6d %-30q %s\n", obj.ID, obj.Version, obj.Name, state)
}
