package excel

import (
	"context"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"hypoguard/domain/stats"
	"hypoguard/internal/errors"
	"hypoguard/ports"
)

// Sheet names in workbook order
const (
	SheetSummary    = "Summary"
	SheetHypotheses = "Hypotheses"
	SheetCorrection = "Correction"
	SheetGroups     = "Groups"
	SheetSession    = "Session"
	SheetRisk       = "Risk"
)

// WorkbookExporter writes an integrity report as an xlsx workbook
type WorkbookExporter struct{}

// NewWorkbookExporter creates a workbook exporter
func NewWorkbookExporter() ports.ReportExporter {
	return &WorkbookExporter{}
}

// ContentType implements ports.ReportExporter
func (e *WorkbookExporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Extension implements ports.ReportExporter
func (e *WorkbookExporter) Extension() string {
	return ".xlsx"
}

// Export implements ports.ReportExporter
func (e *WorkbookExporter) Export(ctx context.Context, w io.Writer, report ports.IntegrityReport) error {
	if err := ctx.Err(); err != nil {
		return errors.ExportError("xlsx", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	// Sheet1 becomes the summary sheet so the workbook has no empty default tab
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return errors.ExportError("xlsx", err)
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.ExportError("xlsx", err)
	}
	b := &sheetBuilder{f: f, header: header}

	b.table(SheetSummary, []string{"Field", "Value"}, summaryRows(report))
	b.table(SheetHypotheses, []string{
		"ID", "Description", "Category", "Status", "Group", "Tags", "Test Type",
		"P-Value", "Effect Size", "Pre-Registered", "Version", "Registered At",
	}, hypothesisRows(report))
	b.table(SheetCorrection, correctionHeaders, correctionRows(report.Correction))

	var groupRows [][]interface{}
	for _, g := range report.Groups {
		groupRows = append(groupRows, correctionRows(g)...)
	}
	b.table(SheetGroups, correctionHeaders, groupRows)

	if report.Session != nil {
		b.table(SheetSession, []string{
			"Sequence", "ID", "Timestamp", "Test Type", "Variables", "P-Value",
			"Effect Size", "Corrected", "Correction Method", "Flagged",
		}, sessionRows(report))
	}
	if report.Risk != nil {
		b.table(SheetRisk, []string{"Pattern", "Severity", "Message", "Recommendation", "Count", "Total"}, riskRows(report))
	}
	if b.err != nil {
		return errors.ExportError("xlsx", b.err)
	}

	if err := f.Write(w); err != nil {
		return errors.ExportError("xlsx", err)
	}
	return nil
}

var correctionHeaders = []string{
	"Group", "Method", "Rank", "Hypothesis", "Original P", "Adjusted P", "Significant", "Alpha",
}

// sheetBuilder keeps the first error so callers can write tables without
// checking each cell.
type sheetBuilder struct {
	f      *excelize.File
	header int
	err    error
}

func (b *sheetBuilder) table(sheet string, headers []string, rows [][]interface{}) {
	if b.err != nil {
		return
	}
	if idx, err := b.f.GetSheetIndex(sheet); err != nil || idx == -1 {
		if _, err := b.f.NewSheet(sheet); err != nil {
			b.err = err
			return
		}
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := b.f.SetCellValue(sheet, cell, h); err != nil {
			b.err = err
			return
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := b.f.SetCellStyle(sheet, "A1", last, b.header); err != nil {
		b.err = err
		return
	}

	for r, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := b.f.SetSheetRow(sheet, cell, &row); err != nil {
			b.err = err
			return
		}
	}
}

func summaryRows(report ports.IntegrityReport) [][]interface{} {
	rows := [][]interface{}{
		{"Title", report.Title},
		{"Generated At", report.GeneratedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Hypotheses", len(report.Registry.Hypotheses)},
		{"Registry Fingerprint", string(report.Registry.Fingerprint)},
		{"Correction Method", string(report.Correction.Method)},
		{"Alpha", report.Correction.Alpha},
		{"Significant After Correction", report.Correction.SignificantCount},
	}
	if report.Session != nil {
		rows = append(rows,
			[]interface{}{"Session", string(report.Session.SessionID)},
			[]interface{}{"Session Tests", len(report.Session.Records)},
		)
	}
	if report.Risk != nil {
		rows = append(rows,
			[]interface{}{"Risk Level", string(report.Risk.RiskLevel)},
			[]interface{}{"Risk Score", report.Risk.Score},
		)
	}
	return rows
}

func hypothesisRows(report ports.IntegrityReport) [][]interface{} {
	rows := make([][]interface{}, 0, len(report.Registry.Hypotheses))
	for _, h := range report.Registry.Hypotheses {
		rows = append(rows, []interface{}{
			string(h.ID), h.Description, string(h.Category), string(h.Status), h.Group,
			strings.Join(h.Tags, ", "), h.TestType, optional(h.PValue), optional(h.EffectSize),
			h.PreRegistered, h.Version, h.Timestamp.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	return rows
}

func correctionRows(c stats.CorrectionReport) [][]interface{} {
	rows := make([][]interface{}, 0, len(c.Results)+len(c.Excluded))
	for _, r := range c.Results {
		rows = append(rows, []interface{}{
			c.Group, string(c.Method), r.Rank, string(r.HypothesisID),
			r.OriginalPValue, r.AdjustedPValue, r.Significant, c.Alpha,
		})
	}
	for _, ex := range c.Excluded {
		rows = append(rows, []interface{}{
			c.Group, string(c.Method), "", string(ex.HypothesisID), "", "", "excluded: " + ex.Reason, c.Alpha,
		})
	}
	return rows
}

func sessionRows(report ports.IntegrityReport) [][]interface{} {
	rows := make([][]interface{}, 0, len(report.Session.Records))
	for _, r := range report.Session.Records {
		rows = append(rows, []interface{}{
			r.Sequence, string(r.ID), r.Timestamp.UTC().Format("2006-01-02 15:04:05"), r.TestType,
			strings.Join(r.Variables, ", "), r.PValue, optional(r.EffectSize),
			r.Corrected, r.CorrectionMethod, r.Flagged,
		})
	}
	return rows
}

func riskRows(report ports.IntegrityReport) [][]interface{} {
	rows := make([][]interface{}, 0, len(report.Risk.Patterns))
	for _, p := range report.Risk.Patterns {
		rows = append(rows, []interface{}{
			string(p.Type), string(p.Severity), p.Message, p.Recommendation,
			p.Evidence.Count, p.Evidence.Total,
		})
	}
	return rows
}

func optional(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
