package report

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"hypoguard/domain/stats"
	"hypoguard/internal/errors"
	"hypoguard/ports"
)

const timeLayout = "2006-01-02 15:04:05 UTC"

// MarkdownExporter renders an integrity report as Markdown
type MarkdownExporter struct{}

// NewMarkdownExporter creates a Markdown exporter
func NewMarkdownExporter() ports.ReportExporter {
	return &MarkdownExporter{}
}

func (e *MarkdownExporter) ContentType() string { return "text/markdown; charset=utf-8" }
func (e *MarkdownExporter) Extension() string   { return ".md" }

// Export implements ports.ReportExporter
func (e *MarkdownExporter) Export(ctx context.Context, w io.Writer, report ports.IntegrityReport) error {
	if err := ctx.Err(); err != nil {
		return errors.ExportError("markdown", err)
	}
	if _, err := io.WriteString(w, Render(report)); err != nil {
		return errors.ExportError("markdown", err)
	}
	return nil
}

// HTMLExporter renders the Markdown report to a standalone HTML page
type HTMLExporter struct{}

// NewHTMLExporter creates an HTML exporter
func NewHTMLExporter() ports.ReportExporter {
	return &HTMLExporter{}
}

func (e *HTMLExporter) ContentType() string { return "text/html; charset=utf-8" }
func (e *HTMLExporter) Extension() string   { return ".html" }

// Export implements ports.ReportExporter
func (e *HTMLExporter) Export(ctx context.Context, w io.Writer, report ports.IntegrityReport) error {
	if err := ctx.Err(); err != nil {
		return errors.ExportError("html", err)
	}

	// parsers carry state and cannot be reused across documents
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.Tables | parser.AutoHeadingIDs)
	r := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage | html.HrefTargetBlank,
		Title: report.Title,
	})

	out := markdown.ToHTML([]byte(Render(report)), p, r)
	if _, err := w.Write(out); err != nil {
		return errors.ExportError("html", err)
	}
	return nil
}

// Render builds the Markdown document for a report
func Render(report ports.IntegrityReport) string {
	var b strings.Builder

	title := report.Title
	if title == "" {
		title = "Integrity Report"
	}
	fmt.Fprintf(&b, "# %s\n\n", escape(title))
	fmt.Fprintf(&b, "Generated %s. Registry fingerprint `%s`.\n\n",
		report.GeneratedAt.UTC().Format(timeLayout), report.Registry.Fingerprint)

	b.WriteString("## Hypotheses\n\n")
	if len(report.Registry.Hypotheses) == 0 {
		b.WriteString("No hypotheses registered.\n\n")
	} else {
		b.WriteString("| ID | Category | Status | Group | P-Value | Description |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, h := range report.Registry.Hypotheses {
			p := "-"
			if h.PValue != nil {
				p = formatP(*h.PValue)
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
				h.ID, h.Category, h.Status, orDash(h.Group), p, escape(h.Description))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Correction\n\n")
	writeCorrection(&b, report.Correction)

	if len(report.Groups) > 0 {
		b.WriteString("## Groups\n\n")
		for _, g := range report.Groups {
			fmt.Fprintf(&b, "### %s\n\n", escape(g.Group))
			writeCorrection(&b, g)
		}
	}

	if report.Session != nil {
		fmt.Fprintf(&b, "## Session %s\n\n", escape(string(report.Session.SessionID)))
		fmt.Fprintf(&b, "%d tests recorded.\n\n", len(report.Session.Records))
		if len(report.Session.Records) > 0 {
			b.WriteString("| # | Test | Variables | P-Value | Corrected | Flagged |\n")
			b.WriteString("|---|---|---|---|---|---|\n")
			for _, r := range report.Session.Records {
				fmt.Fprintf(&b, "| %d | %s | %s | %s | %t | %t |\n",
					r.Sequence, escape(r.TestType), escape(orDash(strings.Join(r.Variables, ", "))),
					formatP(r.PValue), r.Corrected, r.Flagged)
			}
			b.WriteString("\n")
		}
	}

	if report.Risk != nil {
		fmt.Fprintf(&b, "## Risk: %s (score %d)\n\n", strings.ToUpper(string(report.Risk.RiskLevel)), report.Risk.Score)
		if len(report.Risk.Patterns) == 0 {
			b.WriteString("No risk patterns detected.\n\n")
		}
		for _, p := range report.Risk.Patterns {
			fmt.Fprintf(&b, "- **%s** (%s): %s %s\n", p.Type, p.Severity, escape(p.Message), escape(p.Recommendation))
		}
		if len(report.Risk.Patterns) > 0 {
			b.WriteString("\n")
		}
		if len(report.Risk.UnevaluatedIndicators) > 0 {
			names := make([]string, len(report.Risk.UnevaluatedIndicators))
			for i, ind := range report.Risk.UnevaluatedIndicators {
				names[i] = ind.Type
			}
			fmt.Fprintf(&b, "Not evaluated: %s.\n", strings.Join(names, ", "))
		}
	}

	return b.String()
}

func writeCorrection(b *strings.Builder, c stats.CorrectionReport) {
	fmt.Fprintf(b, "Method `%s` (%s, %s) at alpha %s: %d of %d significant.\n\n",
		c.Method, c.Family, c.Procedure, formatP(c.Alpha), c.SignificantCount, len(c.Results))
	if len(c.Results) > 0 {
		b.WriteString("| Rank | Hypothesis | Original | Adjusted | Significant |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, r := range c.Results {
			fmt.Fprintf(b, "| %d | %s | %s | %s | %t |\n",
				r.Rank, r.HypothesisID, formatP(r.OriginalPValue), formatP(r.AdjustedPValue), r.Significant)
		}
		b.WriteString("\n")
	}
	for _, ex := range c.Excluded {
		fmt.Fprintf(b, "- Excluded %s: %s\n", ex.HypothesisID, escape(ex.Reason))
	}
	if len(c.Excluded) > 0 {
		b.WriteString("\n")
	}
}

func formatP(p float64) string {
	if p != 0 && p < 0.0001 {
		return fmt.Sprintf("%.2e", p)
	}
	return fmt.Sprintf("%.4f", p)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

var escaper = strings.NewReplacer("|", `\|`, "\n", " ", "<", "&lt;", ">", "&gt;")

func escape(s string) string {
	return escaper.Replace(s)
}
