package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/acqdocs/internal/model"
	"github.com/sells-group/acqdocs/internal/store"
	"github.com/sells-group/acqdocs/internal/xref"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect stored documents",
	Long:  "Commands for listing documents, following cross-references, and viewing content and refinement reports.",
}

// withStore validates the config, opens the store and runs fn against it.
func withStore(ctx context.Context, fn func(st store.Store) error) error {
	if err := cfg.Validate("records"); err != nil {
		return err
	}
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	return fn(st)
}

// -- records list --

var recordsListCmd = &cobra.Command{
	Use:   "list <program>",
	Short: "List every stored document of a program, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(st store.Store) error {
			recs, err := st.ListByProgram(cmd.Context(), args[0])
			if err != nil {
				return eris.Wrap(err, "records list")
			}
			if len(recs) == 0 {
				fmt.Fprintln(os.Stderr, "No documents found.")
				return nil
			}
			formatRecordsList(os.Stdout, recs)
			return nil
		})
	},
}

// -- records latest --

var recordsLatestCmd = &cobra.Command{
	Use:   "latest <program> <document-type>",
	Short: "Show the most recent document of a type",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(st store.Store) error {
			rec, err := st.GetLatestByType(cmd.Context(), args[0], model.ParseDocumentType(args[1]))
			if err != nil {
				return eris.Wrap(err, "records latest")
			}
			if rec == nil {
				return eris.Errorf("records latest: no %s document for %s", args[1], args[0])
			}
			return showRecord(cmd, st, rec)
		})
	},
}

// -- records show --

var recordsShowCmd = &cobra.Command{
	Use:   "show <document-id>",
	Short: "Show a document record, its content or its refinement report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(st store.Store) error {
			rec, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return eris.Wrap(err, "records show")
			}
			if rec == nil {
				return eris.Errorf("records show: document %s not found", args[0])
			}
			return showRecord(cmd, st, rec)
		})
	},
}

// -- records referrers --

var recordsReferrersCmd = &cobra.Command{
	Use:   "referrers <document-id>",
	Short: "List documents that were drafted from this one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(st store.Store) error {
			recs, err := st.GetReferrers(cmd.Context(), args[0])
			if err != nil {
				return eris.Wrap(err, "records referrers")
			}
			if len(recs) == 0 {
				fmt.Fprintln(os.Stderr, "No referring documents.")
				return nil
			}
			formatRecordsList(os.Stdout, recs)
			return nil
		})
	},
}

// showRecord prints rec as JSON, or its content, key data or report when
// asked.
func showRecord(cmd *cobra.Command, st store.Store, rec *model.DocumentRecord) error {
	ctx := cmd.Context()
	if content, _ := cmd.Flags().GetBool("content"); content {
		text, err := st.GetContent(ctx, rec.ContentPointer)
		if err != nil {
			return eris.Wrapf(err, "content for %s", rec.ID)
		}
		_, err = fmt.Fprintln(os.Stdout, text)
		return err
	}

	if data, _ := cmd.Flags().GetBool("data"); data {
		if len(rec.ExtractedData) == 0 {
			fmt.Fprintln(os.Stderr, "No key data extracted.")
			return nil
		}
		formatExtracted(os.Stdout, rec.ExtractedData)
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if report, _ := cmd.Flags().GetBool("report"); report {
		r, err := st.GetReport(ctx, rec.ID)
		if err != nil {
			return eris.Wrapf(err, "report for %s", rec.ID)
		}
		if r == nil {
			return eris.Errorf("no refinement report stored for %s", rec.ID)
		}
		return enc.Encode(r)
	}
	return enc.Encode(rec)
}

// formatRecordsList writes a tabular list of records to out.
func formatRecordsList(out io.Writer, recs []model.DocumentRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tPROGRAM\tSCORE\tCITATIONS\tREFS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t-------\t-----\t---------\t----\t-------")
	for _, r := range recs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			truncateID(r.ID),
			r.Type,
			r.ProgramName,
			r.QualityScore,
			r.CitationCount,
			len(r.References),
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatExtracted writes extracted key data in key order.
func formatExtracted(out io.Writer, data map[string]string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, k := range xref.SortedKeys(data) {
		_, _ = fmt.Fprintf(w, "%s:\t%s\n", k, data[k])
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	for _, c := range []*cobra.Command{recordsShowCmd, recordsLatestCmd} {
		c.Flags().Bool("content", false, "print the document text")
		c.Flags().Bool("report", false, "print the refinement report")
		c.Flags().Bool("data", false, "print the key data extracted for cross-referencing")
	}

	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsLatestCmd)
	recordsCmd.AddCommand(recordsShowCmd)
	recordsCmd.AddCommand(recordsReferrersCmd)
	rootCmd.AddCommand(recordsCmd)
}
