package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypoguard/domain/core"
)

func allSpendingPlans(fractions []float64) []SequentialPlan {
	return []SequentialPlan{
		{TotalAlpha: 0.05, InformationFractions: fractions, SpendingFunction: SpendingOBrienFleming, FutilityScale: DefaultFutilityScale},
		{TotalAlpha: 0.05, InformationFractions: fractions, SpendingFunction: SpendingPocock, FutilityScale: DefaultFutilityScale},
		{TotalAlpha: 0.05, InformationFractions: fractions, SpendingFunction: SpendingHwangShihDeCani, Params: SpendingParams{Gamma: -4}, FutilityScale: DefaultFutilityScale},
		{TotalAlpha: 0.05, InformationFractions: fractions, SpendingFunction: SpendingHwangShihDeCani, Params: SpendingParams{Gamma: 1}, FutilityScale: DefaultFutilityScale},
		{TotalAlpha: 0.05, InformationFractions: fractions, SpendingFunction: SpendingHwangShihDeCani, Params: SpendingParams{Gamma: 0}, FutilityScale: DefaultFutilityScale},
		{TotalAlpha: 0.05, InformationFractions: fractions, SpendingFunction: SpendingKimDeMets, Params: SpendingParams{Rho: 3}, FutilityScale: DefaultFutilityScale},
	}
}

func TestComputeSequentialBoundaries_FinalSpendEqualsTotalAlpha(t *testing.T) {
	fractions := []float64{0.25, 0.5, 0.75, 1}
	for _, plan := range allSpendingPlans(fractions) {
		looks, err := ComputeSequentialBoundaries(plan)
		require.NoError(t, err, plan.SpendingFunction)
		require.Len(t, looks, 4)
		assert.InDelta(t, plan.TotalAlpha, looks[3].CumulativeAlphaSpent, 1e-6,
			"%s gamma=%v", plan.SpendingFunction, plan.Params.Gamma)
	}
}

func TestComputeSequentialBoundaries_CumulativeMonotone(t *testing.T) {
	fractions := []float64{0.1, 0.2, 0.35, 0.6, 0.8, 1}
	for _, plan := range allSpendingPlans(fractions) {
		looks, err := ComputeSequentialBoundaries(plan)
		require.NoError(t, err)

		sum := 0.0
		for i, look := range looks {
			sum += look.IncrementalAlphaSpent
			assert.InDelta(t, sum, look.CumulativeAlphaSpent, 1e-15)
			assert.LessOrEqual(t, look.CumulativeAlphaSpent, plan.TotalAlpha)
			assert.GreaterOrEqual(t, look.IncrementalAlphaSpent, 0.0)
			if i > 0 {
				assert.GreaterOrEqual(t, look.CumulativeAlphaSpent, looks[i-1].CumulativeAlphaSpent)
				// more alpha spent means a lower bar
				assert.LessOrEqual(t, look.ZBoundary, looks[i-1].ZBoundary)
			}
		}
	}
}

func TestComputeSequentialBoundaries_OBrienFlemingShape(t *testing.T) {
	looks, err := ComputeSequentialBoundaries(SequentialPlan{
		TotalAlpha:       0.05,
		Looks:            2,
		SpendingFunction: SpendingOBrienFleming,
		FutilityScale:    DefaultFutilityScale,
	})
	require.NoError(t, err)
	require.Len(t, looks, 2)

	// α(0.5) = 2 - 2Φ(z/√0.5) = erfc(z) for z = Φ⁻¹(0.975)
	wantFirst := math.Erfc(1.959963984540054)
	assert.InDelta(t, wantFirst, looks[0].CumulativeAlphaSpent, 1e-9)
	assert.Equal(t, 0.5, looks[0].InformationFraction)
	assert.InDelta(t, 1.959963984540054, looks[1].ZBoundary, 1e-6)
	assert.InDelta(t, 0.05, looks[1].NominalPValueBoundary, 1e-9)

	for _, look := range looks {
		assert.Equal(t, look.ZBoundary, look.EfficacyBoundary)
		assert.InDelta(t, -0.5*look.ZBoundary, look.FutilityBoundary, 1e-12)
		assert.InDelta(t, look.CumulativeAlphaSpent, look.NominalPValueBoundary, 1e-12)
	}
}

func TestComputeSequentialBoundaries_PocockValues(t *testing.T) {
	looks, err := ComputeSequentialBoundaries(SequentialPlan{
		TotalAlpha:           0.05,
		InformationFractions: []float64{0.5, 1},
		SpendingFunction:     SpendingPocock,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.05*math.Log(1+(math.E-1)*0.5), looks[0].CumulativeAlphaSpent, 1e-12)
	assert.InDelta(t, 0.05, looks[1].CumulativeAlphaSpent, 1e-12)
	// zero futility scale collapses the futility boundary onto zero
	assert.Equal(t, 0.0, math.Abs(looks[0].FutilityBoundary))
}

func TestComputeSequentialBoundaries_SampleSizes(t *testing.T) {
	looks, err := ComputeSequentialBoundaries(SequentialPlan{
		TotalAlpha:       0.025,
		SampleSizes:      []int{50, 100, 200},
		SpendingFunction: SpendingKimDeMets,
		Params:           SpendingParams{Rho: 2},
		FutilityScale:    0.25,
	})
	require.NoError(t, err)
	require.Len(t, looks, 3)

	assert.Equal(t, []int{50, 100, 200}, []int{looks[0].SampleSize, looks[1].SampleSize, looks[2].SampleSize})
	assert.InDelta(t, 0.25, looks[0].InformationFraction, 1e-15)
	assert.InDelta(t, 0.025*0.0625, looks[0].CumulativeAlphaSpent, 1e-15)
	assert.InDelta(t, -0.25*looks[2].ZBoundary, looks[2].FutilityBoundary, 1e-12)
}

func TestComputeSequentialBoundaries_HwangShihDeCaniZeroGammaIsLinear(t *testing.T) {
	looks, err := ComputeSequentialBoundaries(SequentialPlan{
		TotalAlpha:       0.05,
		Looks:            4,
		SpendingFunction: SpendingHwangShihDeCani,
	})
	require.NoError(t, err)
	for _, look := range looks {
		assert.InDelta(t, 0.0125, look.IncrementalAlphaSpent, 1e-12)
	}
}

func TestComputeSequentialBoundaries_HwangShihDeCaniExtremeGamma(t *testing.T) {
	looks, err := ComputeSequentialBoundaries(SequentialPlan{
		TotalAlpha:       0.05,
		Looks:            4,
		SpendingFunction: SpendingHwangShihDeCani,
		Params:           SpendingParams{Gamma: -800},
		FutilityScale:    DefaultFutilityScale,
	})
	require.NoError(t, err)
	require.Len(t, looks, 4)
	for _, look := range looks[:3] {
		assert.False(t, math.IsNaN(look.CumulativeAlphaSpent))
		assert.Less(t, look.CumulativeAlphaSpent, 1e-12)
		assert.Greater(t, look.ZBoundary, 6.0)
	}
	assert.InDelta(t, 0.05, looks[3].CumulativeAlphaSpent, 1e-12)
	assert.InDelta(t, 1.959964, looks[3].ZBoundary, 1e-5)

	looks, err = ComputeSequentialBoundaries(SequentialPlan{
		TotalAlpha:       0.05,
		Looks:            4,
		SpendingFunction: SpendingHwangShihDeCani,
		Params:           SpendingParams{Gamma: 800},
	})
	require.NoError(t, err)
	for _, look := range looks {
		assert.InDelta(t, 0.05, look.CumulativeAlphaSpent, 1e-12)
	}
}

func TestComputeSequentialBoundaries_Errors(t *testing.T) {
	tests := []struct {
		name  string
		plan  SequentialPlan
		check func(error) bool
	}{
		{"alpha zero", SequentialPlan{TotalAlpha: 0, Looks: 2, SpendingFunction: SpendingPocock}, core.IsValidationError},
		{"alpha one", SequentialPlan{TotalAlpha: 1, Looks: 2, SpendingFunction: SpendingPocock}, core.IsValidationError},
		{"not increasing", SequentialPlan{TotalAlpha: 0.05, InformationFractions: []float64{0.5, 0.5, 1}, SpendingFunction: SpendingPocock}, core.IsValidationError},
		{"last not one", SequentialPlan{TotalAlpha: 0.05, InformationFractions: []float64{0.3, 0.9}, SpendingFunction: SpendingPocock}, core.IsValidationError},
		{"fraction above one", SequentialPlan{TotalAlpha: 0.05, InformationFractions: []float64{0.5, 1.2}, SpendingFunction: SpendingPocock}, core.IsValidationError},
		{"zero looks", SequentialPlan{TotalAlpha: 0.05, SpendingFunction: SpendingPocock}, core.IsValidationError},
		{"sample sizes decreasing", SequentialPlan{TotalAlpha: 0.05, SampleSizes: []int{100, 50}, SpendingFunction: SpendingPocock}, core.IsValidationError},
		{"infinite gamma", SequentialPlan{TotalAlpha: 0.05, Looks: 2, SpendingFunction: SpendingHwangShihDeCani, Params: SpendingParams{Gamma: math.Inf(1)}}, core.IsValidationError},
		{"non-positive rho", SequentialPlan{TotalAlpha: 0.05, Looks: 2, SpendingFunction: SpendingKimDeMets}, core.IsValidationError},
		{"negative futility", SequentialPlan{TotalAlpha: 0.05, Looks: 2, SpendingFunction: SpendingPocock, FutilityScale: -1}, core.IsValidationError},
		{"unknown spending", SequentialPlan{TotalAlpha: 0.05, Looks: 2, SpendingFunction: "haybittle"}, core.IsUnsupportedMethodError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeSequentialBoundaries(tt.plan)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error kind: %v", err)
		})
	}
}

func TestComputeSequentialBoundaries_Idempotent(t *testing.T) {
	plan := SequentialPlan{TotalAlpha: 0.05, Looks: 5, SpendingFunction: SpendingOBrienFleming, FutilityScale: DefaultFutilityScale}
	first, err := ComputeSequentialBoundaries(plan)
	require.NoError(t, err)
	second, err := ComputeSequentialBoundaries(plan)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSpendAlpha(t *testing.T) {
	got, err := SpendAlpha(SpendingKimDeMets, SpendingParams{Rho: 1}, 0.05, 0.4)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, got, 1e-15)

	_, err = SpendAlpha(SpendingPocock, SpendingParams{}, 0.05, 0)
	assert.True(t, core.IsValidationError(err))

	// moderate negative gamma matches the textbook form
	got, err = SpendAlpha(SpendingHwangShihDeCani, SpendingParams{Gamma: -4}, 0.05, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.05*(1-math.Exp(2))/(1-math.Exp(4)), got, 1e-14)

	got, err = SpendAlpha(SpendingHwangShihDeCani, SpendingParams{Gamma: -800}, 0.05, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, got, 1e-15)
}

func TestParseSpendingFunction(t *testing.T) {
	fn, err := ParseSpendingFunction("OBF")
	require.NoError(t, err)
	assert.Equal(t, SpendingOBrienFleming, fn)

	fn, err = ParseSpendingFunction("power")
	require.NoError(t, err)
	assert.Equal(t, SpendingKimDeMets, fn)

	_, err = ParseSpendingFunction("lan_demets_exotic")
	assert.True(t, core.IsUnsupportedMethodError(err))
}
