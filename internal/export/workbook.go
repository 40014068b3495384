// Package export writes program documents and their refinement history to
// an Excel workbook for contracting officers who review outside the CLI.
package export

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/acqdocs/internal/model"
)

// Sheet names.
const (
	SheetDocuments  = "Documents"
	SheetIterations = "Iterations"
	SheetIssues     = "Issues"
)

var (
	documentHeader = []string{
		"Program", "Type", "Document ID", "Created", "Score", "Grade", "Citations",
		"Hallucination Risk", "Termination", "Threshold Met", "Refinements",
		"Unresolved", "Cost USD",
	}
	iterationHeader = []string{
		"Program", "Type", "Document ID", "Iteration", "Kind", "Score Before",
		"Score After", "Delta", "Issues",
	}
	issueHeader = []string{"Program", "Type", "Document ID", "Check", "Check Score", "Issue"}
)

// Source is the part of the store an export reads.
type Source interface {
	ListByProgram(ctx context.Context, program string) ([]model.DocumentRecord, error)
	GetReport(ctx context.Context, documentID string) (*model.RefinementReport, error)
}

// Workbook builds a workbook with one Documents row per latest document
// of each type, every refinement iteration, and the final issues.
func Workbook(ctx context.Context, src Source, programs []string) (*xlsx.File, error) {
	f := xlsx.NewFile()
	docs, err := addSheet(f, SheetDocuments, documentHeader)
	if err != nil {
		return nil, err
	}
	iters, err := addSheet(f, SheetIterations, iterationHeader)
	if err != nil {
		return nil, err
	}
	issues, err := addSheet(f, SheetIssues, issueHeader)
	if err != nil {
		return nil, err
	}

	for _, program := range programs {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "export: cancelled")
		}
		recs, err := latest(ctx, src, program)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			report, err := src.GetReport(ctx, rec.ID)
			if err != nil {
				return nil, eris.Wrapf(err, "export: report for %s", rec.ID)
			}
			writeDocument(docs.AddRow(), rec, report)
			if report == nil {
				continue
			}
			for _, it := range report.Iterations {
				writeIteration(iters.AddRow(), rec, it)
			}
			names := make([]string, 0, len(report.FinalReport.Checks))
			for name := range report.FinalReport.Checks {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				c := report.FinalReport.Checks[name]
				for _, issue := range c.Issues {
					row := issues.AddRow()
					addStrings(row, rec.ProgramName, string(rec.Type), rec.ID, c.Name)
					row.AddCell().SetInt(c.Score)
					row.AddCell().SetString(issue)
				}
			}
		}
	}
	return f, nil
}

// Write builds the workbook and writes it to w.
func Write(ctx context.Context, src Source, programs []string, w io.Writer) error {
	f, err := Workbook(ctx, src, programs)
	if err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write workbook")
	}
	return nil
}

// WriteFile builds the workbook and saves it at path.
func WriteFile(ctx context.Context, src Source, programs []string, path string) error {
	f, err := Workbook(ctx, src, programs)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

// latest returns the newest record of each type, in catalog order.
func latest(ctx context.Context, src Source, program string) ([]model.DocumentRecord, error) {
	recs, err := src.ListByProgram(ctx, program)
	if err != nil {
		return nil, eris.Wrapf(err, "export: list documents for %s", program)
	}
	seen := make(map[model.DocumentType]bool)
	var out []model.DocumentRecord
	for _, rec := range recs {
		if seen[rec.Type] {
			continue
		}
		seen[rec.Type] = true
		out = append(out, rec)
	}

	rank := make(map[model.DocumentType]int)
	for i, t := range model.AllDocumentTypes() {
		rank[t] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[out[i].Type]
		rj, jok := rank[out[j].Type]
		if iok != jok {
			return iok
		}
		if ri != rj {
			return ri < rj
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

func addSheet(f *xlsx.File, name string, header []string) (*xlsx.Sheet, error) {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return nil, eris.Wrapf(err, "export: add sheet %s", name)
	}
	bold := xlsx.NewStyle()
	bold.Font.Bold = true
	row := sheet.AddRow()
	for _, h := range header {
		cell := row.AddCell()
		cell.SetString(h)
		cell.SetStyle(bold)
	}
	return sheet, nil
}

func addStrings(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func writeDocument(row *xlsx.Row, rec model.DocumentRecord, report *model.RefinementReport) {
	addStrings(row, rec.ProgramName, string(rec.Type), rec.ID)
	row.AddCell().SetDateTime(rec.CreatedAt)
	row.AddCell().SetInt(rec.QualityScore)
	row.AddCell().SetString(string(model.GradeFor(rec.QualityScore)))
	row.AddCell().SetInt(rec.CitationCount)
	if report == nil {
		return
	}

	unresolved := make([]string, len(report.Unresolved))
	for i, t := range report.Unresolved {
		unresolved[i] = string(t)
	}
	row.AddCell().SetString(string(report.FinalReport.HallucinationRisk))
	row.AddCell().SetString(string(report.Termination))
	row.AddCell().SetBool(report.ThresholdMet)
	row.AddCell().SetInt(report.RefinementCount())
	row.AddCell().SetString(strings.Join(unresolved, ", "))
	row.AddCell().SetFloat(report.Usage.CostUSD)
}

func writeIteration(row *xlsx.Row, rec model.DocumentRecord, it model.RefinementIteration) {
	addStrings(row, rec.ProgramName, string(rec.Type), rec.ID)
	row.AddCell().SetInt(it.Index)
	row.AddCell().SetString(string(it.Kind))
	if it.ScoreBefore != nil {
		row.AddCell().SetInt(*it.ScoreBefore)
	} else {
		row.AddCell().SetString("")
	}
	row.AddCell().SetInt(it.ScoreAfter)
	row.AddCell().SetInt(it.Delta)
	row.AddCell().SetInt(it.IssueCount)
}
