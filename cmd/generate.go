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
)

var generateCmd = &cobra.Command{
	Use:   "generate <program> <document-type>",
	Short: "Draft, score and refine one document",
	Long: "Drafts a document for the program using any prerequisite documents already on record, " +
		"then revises it until it reaches the quality threshold, stops improving, or runs out of iterations. " +
		"The best version is stored either way.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyRefinementFlags(cmd)

		env, err := initApp(ctx, "generate")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Refiner.Run(ctx, args[0], model.ParseDocumentType(args[1]))
		if err != nil {
			return eris.Wrap(err, "generate")
		}

		if out, _ := cmd.Flags().GetString("out"); out != "" {
			if err := os.WriteFile(out, []byte(report.Draft), 0o644); err != nil {
				return eris.Wrapf(err, "write draft to %s", out)
			}
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		formatReport(os.Stdout, report)
		return nil
	},
}

// applyRefinementFlags overrides loop bounds from explicitly set flags.
func applyRefinementFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("max-iterations") {
		cfg.Refinement.MaxIterations, _ = cmd.Flags().GetInt("max-iterations")
	}
	if cmd.Flags().Changed("threshold") {
		cfg.Refinement.QualityThreshold, _ = cmd.Flags().GetInt("threshold")
	}
}

func addRefinementFlags(cmd *cobra.Command) {
	cmd.Flags().Int("max-iterations", 3, "revisions allowed after the initial draft (default from config)")
	cmd.Flags().Int("threshold", 85, "quality score that ends refinement (default from config)")
}

// formatReport writes a refinement summary and iteration table to out.
func formatReport(out io.Writer, r *model.RefinementReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Document:\t%s\n", r.DocumentID)
	_, _ = fmt.Fprintf(w, "Program:\t%s\n", r.ProgramName)
	_, _ = fmt.Fprintf(w, "Type:\t%s\n", r.Type)
	_, _ = fmt.Fprintf(w, "Score:\t%d (%s)\n", r.FinalScore(), r.FinalReport.Grade)
	_, _ = fmt.Fprintf(w, "Threshold met:\t%t (%d)\n", r.ThresholdMet, r.Threshold)
	_, _ = fmt.Fprintf(w, "Termination:\t%s\n", r.Termination)
	_, _ = fmt.Fprintf(w, "Hallucination risk:\t%s\n", r.FinalReport.HallucinationRisk)
	_, _ = fmt.Fprintf(w, "Citations:\t%d\n", r.FinalReport.CitationCount)
	if len(r.Unresolved) > 0 {
		_, _ = fmt.Fprintf(w, "Missing inputs:\t%v\n", r.Unresolved)
	}
	_, _ = fmt.Fprintf(w, "Cost:\t$%.4f (%d calls)\n", r.Usage.CostUSD, r.Usage.Calls)
	_ = w.Flush()

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ITER\tKIND\tBEFORE\tAFTER\tDELTA\tISSUES")
	_, _ = fmt.Fprintln(w, "----\t----\t------\t-----\t-----\t------")
	for _, it := range r.Iterations {
		before := "-"
		if it.ScoreBefore != nil {
			before = fmt.Sprint(*it.ScoreBefore)
		}
		marker := ""
		if it.Index == r.BestIteration {
			marker = " *"
		}
		_, _ = fmt.Fprintf(w, "%d%s\t%s\t%s\t%d\t%+d\t%d\n",
			it.Index, marker, it.Kind, before, it.ScoreAfter, it.Delta, it.IssueCount)
	}
	_ = w.Flush()

	if len(r.FinalReport.Issues) > 0 {
		_, _ = fmt.Fprintln(out, "\nOpen issues:")
		for _, issue := range r.FinalReport.Issues {
			_, _ = fmt.Fprintf(out, "  - %s\n", issue)
		}
	}
}

func init() {
	addRefinementFlags(generateCmd)
	generateCmd.Flags().String("out", "", "write the final draft to this file")
	generateCmd.Flags().Bool("json", false, "print the full refinement report as JSON")
	rootCmd.AddCommand(generateCmd)
}
