package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"hypoguard/domain/stats"
)

type boundaryRow struct {
	Look                  int      `json:"look"`
	InformationFraction   float64  `json:"information_fraction"`
	SampleSize            int      `json:"sample_size,omitempty"`
	CumulativeAlphaSpent  float64  `json:"cumulative_alpha_spent"`
	IncrementalAlphaSpent float64  `json:"incremental_alpha_spent"`
	ZBoundary             *float64 `json:"z_boundary"`
	NominalPValueBoundary float64  `json:"nominal_p_value_boundary"`
	EfficacyBoundary      *float64 `json:"efficacy_boundary"`
	FutilityBoundary      *float64 `json:"futility_boundary"`
}

func newBoundariesCmd(state *cliState) *cobra.Command {
	var plan stats.SequentialPlan
	var spending string

	cmd := &cobra.Command{
		Use:   "boundaries",
		Short: "Compute group-sequential efficacy and futility boundaries",
		Long: `Compute alpha-spending boundaries for a group-sequential design.

The look schedule comes from --fractions, --sample-sizes or --looks, checked
in that order.

Example: hypoguard boundaries --looks 4 --spending obrien_fleming --alpha 0.025`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, err := stats.ParseSpendingFunction(spending)
			if err != nil {
				return err
			}
			plan.SpendingFunction = fn
			if !cmd.Flags().Changed("alpha") {
				plan.TotalAlpha = state.cfg.Analysis.DefaultAlpha
			}
			if !cmd.Flags().Changed("futility-scale") {
				plan.FutilityScale = state.cfg.Analysis.FutilityScale
			}

			looks, err := stats.ComputeSequentialBoundaries(plan)
			if err != nil {
				return err
			}

			format, _ := parseOutput(state.output)
			if format != outputTable {
				rows := make([]boundaryRow, len(looks))
				for i, b := range looks {
					rows[i] = boundaryRow{
						Look:                  b.Look,
						InformationFraction:   b.InformationFraction,
						SampleSize:            b.SampleSize,
						CumulativeAlphaSpent:  b.CumulativeAlphaSpent,
						IncrementalAlphaSpent: b.IncrementalAlphaSpent,
						ZBoundary:             finite(b.ZBoundary),
						NominalPValueBoundary: b.NominalPValueBoundary,
						EfficacyBoundary:      finite(b.EfficacyBoundary),
						FutilityBoundary:      finite(b.FutilityBoundary),
					}
				}
				return writeStructured(cmd.OutOrStdout(), format, map[string]interface{}{"plan": plan, "boundaries": rows})
			}

			t := newTable(cmd.OutOrStdout(), table.Row{"Look", "t", "n", "Cum. alpha", "Inc. alpha", "Z", "Nominal p", "Efficacy", "Futility"})
			for _, b := range looks {
				n := "-"
				if b.SampleSize > 0 {
					n = fmt.Sprint(b.SampleSize)
				}
				t.AppendRow(table.Row{
					b.Look,
					fmt.Sprintf("%.3f", b.InformationFraction),
					n,
					formatP(b.CumulativeAlphaSpent),
					formatP(b.IncrementalAlphaSpent),
					formatZ(b.ZBoundary),
					formatP(b.NominalPValueBoundary),
					formatZ(b.EfficacyBoundary),
					formatZ(b.FutilityBoundary),
				})
			}
			t.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "Spending %s at total alpha %g, futility scale %g\n", plan.SpendingFunction, plan.TotalAlpha, plan.FutilityScale)
			return nil
		},
	}

	cmd.Flags().Float64VarP(&plan.TotalAlpha, "alpha", "a", 0.05, "Total alpha to spend (default from DEFAULT_ALPHA)")
	cmd.Flags().IntVar(&plan.Looks, "looks", 0, "Number of equally spaced looks")
	cmd.Flags().Float64SliceVar(&plan.InformationFractions, "fractions", nil, "Information fractions, increasing and ending at 1")
	cmd.Flags().IntSliceVar(&plan.SampleSizes, "sample-sizes", nil, "Cumulative sample sizes at each look")
	cmd.Flags().StringVar(&spending, "spending", string(stats.SpendingOBrienFleming), "Spending function: obrien_fleming|pocock|hwang_shih_decani|kim_demets")
	cmd.Flags().Float64Var(&plan.Params.Gamma, "gamma", 0, "Hwang-Shih-DeCani gamma")
	cmd.Flags().Float64Var(&plan.Params.Rho, "rho", 0, "Kim-DeMets rho")
	cmd.Flags().Float64Var(&plan.FutilityScale, "futility-scale", stats.DefaultFutilityScale, "Futility boundary as a fraction of the efficacy boundary (0 disables)")
	return cmd
}
