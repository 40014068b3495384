package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/acqdocs/internal/export"
	"github.com/sells-group/acqdocs/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export <program...>",
	Short: "Export program documents and refinement history to Excel",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = args[0] + ".xlsx"
		}
		return withStore(cmd.Context(), func(st store.Store) error {
			if err := export.WriteFile(cmd.Context(), st, args, out); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Wrote %s\n", out)
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().StringP("out", "o", "", "workbook path (default <program>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
