package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/acqdocs/internal/model"
	"github.com/sells-group/acqdocs/internal/program"
)

var programCmd = &cobra.Command{
	Use:   "program <program> [document-type...]",
	Short: "Generate a program's documents in prerequisite order",
	Long: "Generates the listed documents (every catalog document when none are listed) together with " +
		"their prerequisites, phase by phase. Documents within a phase run concurrently.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyRefinementFlags(cmd)
		if cmd.Flags().Changed("concurrency") {
			cfg.Program.MaxConcurrentDocuments, _ = cmd.Flags().GetInt("concurrency")
		}
		if cmd.Flags().Changed("reuse") {
			cfg.Program.ReuseExisting, _ = cmd.Flags().GetBool("reuse")
		}

		env, err := initApp(ctx, "program")
		if err != nil {
			return err
		}
		defer env.Close()

		var types []model.DocumentType
		for _, a := range args[1:] {
			types = append(types, model.ParseDocumentType(a))
		}
		if len(types) == 0 {
			types = env.Catalog.Types()
		}

		res, err := env.Runner.Run(ctx, args[0], types)
		if err != nil {
			return eris.Wrap(err, "program")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
		} else {
			formatProgramResult(os.Stdout, res)
		}

		if n := res.Count(program.StatusFailed); n > 0 {
			return eris.Errorf("program: %d document(s) failed", n)
		}
		return nil
	},
}

// formatProgramResult writes one row per document to out.
func formatProgramResult(out io.Writer, res *program.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PHASE\tTYPE\tSTATUS\tID\tSCORE\tTERMINATION\tERROR")
	_, _ = fmt.Fprintln(w, "-----\t----\t------\t--\t-----\t-----------\t-----")
	for _, o := range res.Outcomes {
		var id, score, term string
		switch {
		case o.Report != nil:
			id = truncateID(o.Report.DocumentID)
			score = fmt.Sprint(o.Report.FinalScore())
			term = string(o.Report.Termination)
		case o.Reused != nil:
			id = truncateID(o.Reused.ID)
			score = fmt.Sprint(o.Reused.QualityScore)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.Phase, o.Type, o.Status, id, score, term, o.Error)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\n%d completed, %d reused, %d failed, %d skipped in %dms\n",
		res.Count(program.StatusCompleted), res.Count(program.StatusReused),
		res.Count(program.StatusFailed), res.Count(program.StatusSkipped), res.DurationMs)
}

func init() {
	addRefinementFlags(programCmd)
	programCmd.Flags().Int("concurrency", 4, "documents generated at once within a phase (default from config)")
	programCmd.Flags().Bool("reuse", false, "reuse stored prerequisites instead of regenerating them")
	programCmd.Flags().Bool("json", false, "print the result as JSON")
	rootCmd.AddCommand(programCmd)
}
