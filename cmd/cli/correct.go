package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"hypoguard/domain/core"
	"hypoguard/domain/stats"
)

func newCorrectCmd(state *cliState) *cobra.Command {
	var method string
	var alpha float64

	cmd := &cobra.Command{
		Use:   "correct [p-values...]",
		Short: "Apply a multiple-testing correction to a list of p-values",
		Long: `Apply a multiple-testing correction to raw p-values.

Each argument is either a bare p-value (named h1, h2, ... by position) or
id=p to name it.

Example: hypoguard correct 0.01 0.04 checkout=0.03 --method bh --alpha 0.05`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parsePValues(args)
			if err != nil {
				return err
			}
			m := state.cfg.Analysis.DefaultCorrectionMethod
			if method != "" {
				if m, err = stats.ParseMethod(method); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("alpha") {
				alpha = state.cfg.Analysis.DefaultAlpha
			}

			report, err := stats.NewCorrectionReport("", inputs, nil, m, alpha, time.Now().UTC())
			if err != nil {
				return err
			}

			format, _ := parseOutput(state.output)
			if format != outputTable {
				return writeStructured(cmd.OutOrStdout(), format, report)
			}
			t := newTable(cmd.OutOrStdout(), table.Row{"Hypothesis", "Rank", "Raw p", "Adjusted p", "Significant"})
			for _, r := range report.Results {
				t.AppendRow(table.Row{r.HypothesisID, r.Rank, formatP(r.OriginalPValue), formatP(r.AdjustedPValue), r.Significant})
			}
			t.AppendFooter(table.Row{"", "", "", "Significant", fmt.Sprintf("%d of %d", report.SignificantCount, len(report.Results))})
			t.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "Method %s (%s, %s) at alpha %g\n", report.Method, report.Family, report.Procedure, report.Alpha)
			return nil
		},
	}

	cmd.Flags().StringVarP(&method, "method", "m", "", "Correction method (default from DEFAULT_CORRECTION_METHOD)")
	cmd.Flags().Float64VarP(&alpha, "alpha", "a", 0.05, "Significance level (default from DEFAULT_ALPHA)")
	return cmd
}

func parsePValues(args []string) ([]stats.PValue, error) {
	out := make([]stats.PValue, 0, len(args))
	seen := make(map[core.HypothesisID]bool, len(args))
	for i, arg := range args {
		id := core.HypothesisID(fmt.Sprintf("h%d", i+1))
		raw := arg
		if name, value, ok := strings.Cut(arg, "="); ok {
			id = core.HypothesisID(strings.TrimSpace(name))
			raw = value
		}
		if id == "" {
			return nil, core.NewValidationError("hypothesis_id", fmt.Sprintf("argument %q has an empty name", arg))
		}
		if seen[id] {
			return nil, core.NewValidationError("hypothesis_id", fmt.Sprintf("duplicate id %q", id))
		}
		seen[id] = true

		p, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, core.NewValidationError("p_value", fmt.Sprintf("argument %q is not a number", arg))
		}
		out = append(out, stats.PValue{HypothesisID: id, P: p})
	}
	return out, nil
}
