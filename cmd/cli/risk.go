package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"hypoguard/adapters/excel"
	"hypoguard/adapters/report"
	"hypoguard/app"
	"hypoguard/internal/risk"
	"hypoguard/internal/study"
	"hypoguard/ports"
)

func detectorFor(state *cliState) *risk.Detector {
	th := risk.DefaultThresholds()
	th.SignificanceAlpha = state.cfg.Analysis.DefaultAlpha
	th.RepetitionMin = state.cfg.Risk.RepetitionMin
	th.FishingMaxUncorrected = state.cfg.Risk.FishingMaxUncorrected
	th.PeekingMinGap = state.cfg.Risk.PeekingMinGap
	th.MultipleComparisonsMax = state.cfg.Risk.MultipleComparisonsMax
	return risk.NewDetector(th)
}

func newRiskCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk [study-file]",
		Short: "Assess a session test log for p-hacking patterns",
		Long: `Assess the tests of a study file (YAML, or JSON when the name ends in
.json) for test repetition, selective reporting, data peeking, p-value
fishing and uncorrected multiple comparisons. Every test needs a p_value and
a timestamp.

Example: hypoguard risk session.yaml -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := study.Load(args[0])
			if err != nil {
				return err
			}
			records, err := s.Records(nil)
			if err != nil {
				return err
			}
			assessment := detectorFor(state).Assess(records)

			format, _ := parseOutput(state.output)
			if format != outputTable {
				return writeStructured(cmd.OutOrStdout(), format, assessment)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session %s: %d tests, risk %s (score %d)\n",
				s.Session(), assessment.Summary.Total, strings.ToUpper(string(assessment.RiskLevel)), assessment.Score)
			if len(assessment.Patterns) == 0 {
				fmt.Fprintln(out, "No risk patterns detected")
				return nil
			}
			t := newTable(out, table.Row{"Pattern", "Severity", "Message", "Recommendation"})
			for _, p := range assessment.Patterns {
				t.AppendRow(table.Row{p.Type, p.Severity, p.Message, p.Recommendation})
			}
			t.Render()
			return nil
		},
	}
	return cmd
}

func newReportCmd(state *cliState) *cobra.Command {
	var format string
	var dir string

	cmd := &cobra.Command{
		Use:   "report [study-file]",
		Short: "Write an integrity report for a study file",
		Long: `Load a study file into an in-memory registry and session log and write
an integrity report as html, md or xlsx. Files go to EXPORT_DIR unless --dir
is given.

Example: hypoguard report study.yaml --format xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, err := exporterFor(format)
			if err != nil {
				return err
			}
			s, err := study.Load(args[0])
			if err != nil {
				return err
			}

			svc := app.NewIntegrityService(app.ServiceConfig{
				DefaultAlpha:  state.cfg.Analysis.DefaultAlpha,
				DefaultMethod: state.cfg.Analysis.DefaultCorrectionMethod,
				FutilityScale: state.cfg.Analysis.FutilityScale,
				Parallelism:   state.cfg.Analysis.CorrectionParallelism,
				Thresholds:    detectorFor(state).Thresholds(),
			}, nil, nil, nil, nil)

			res, err := s.Apply(cmd.Context(), svc)
			if err != nil {
				return err
			}
			rep, err := svc.BuildReport(cmd.Context(), res.SessionID)
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := exporter.Export(cmd.Context(), &buf, rep); err != nil {
				return err
			}
			if dir == "" {
				dir = state.cfg.Export.Dir
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create export directory: %w", err)
			}
			name := fmt.Sprintf("integrity-report-%s%s", rep.GeneratedAt.UTC().Format("20060102-150405"), exporter.Extension())
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d hypotheses, %d session tests)\n", path, res.Hypotheses, res.Tests)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "html", "Report format: html|md|xlsx")
	cmd.Flags().StringVar(&dir, "dir", "", "Output directory (default from EXPORT_DIR)")
	return cmd
}

func exporterFor(format string) (ports.ReportExporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "html":
		return report.NewHTMLExporter(), nil
	case "md", "markdown":
		return report.NewMarkdownExporter(), nil
	case "xlsx", "excel":
		return excel.NewWorkbookExporter(), nil
	default:
		return nil, fmt.Errorf("unknown report format %q (use html, md or xlsx)", format)
	}
}
