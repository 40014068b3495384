package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/acqdocs/internal/catalog"
	"github.com/sells-group/acqdocs/internal/model"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog [document-type...]",
	Short: "Show the document catalog or the generation plan for some types",
	Long: "Without arguments, lists every document type with its prerequisites. With arguments, " +
		"prints the phases needed to generate those types.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("catalog"); err != nil {
			return err
		}
		cat, err := loadCatalog()
		if err != nil {
			return err
		}

		if len(args) > 0 {
			types := make([]model.DocumentType, len(args))
			for i, a := range args {
				types[i] = model.ParseDocumentType(a)
			}
			phases, err := cat.Phases(types)
			if err != nil {
				return err
			}
			formatPhases(os.Stdout, phases)
			return nil
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(cat.Entries())
		}
		formatCatalog(os.Stdout, cat.Entries())
		return nil
	},
}

func formatCatalog(out io.Writer, entries []catalog.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TYPE\tTITLE\tPREREQUISITES\tSECTIONS")
	_, _ = fmt.Fprintln(w, "----\t-----\t-------------\t--------")
	for _, e := range entries {
		prereqs := make([]string, len(e.Prerequisites))
		for i, p := range e.Prerequisites {
			prereqs[i] = string(p)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", e.Type, e.Title, strings.Join(prereqs, ", "), len(e.Sections))
	}
	_ = w.Flush()
}

func formatPhases(out io.Writer, phases [][]model.DocumentType) {
	for i, phase := range phases {
		names := make([]string, len(phase))
		for j, t := range phase {
			names[j] = string(t)
		}
		_, _ = fmt.Fprintf(out, "Phase %d: %s\n", i+1, strings.Join(names, ", "))
	}
}

func init() {
	catalogCmd.Flags().Bool("json", false, "print entries as JSON, including instructions")
	rootCmd.AddCommand(catalogCmd)
}
