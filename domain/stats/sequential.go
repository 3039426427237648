package stats

import (
	"fmt"
	"math"
	"strings"

	"hypoguard/domain/core"
)

// SpendingFunction identifies an alpha-spending function α(t).
type SpendingFunction string

const (
	SpendingOBrienFleming   SpendingFunction = "obrien_fleming"
	SpendingPocock          SpendingFunction = "pocock"
	SpendingHwangShihDeCani SpendingFunction = "hwang_shih_decani"
	SpendingKimDeMets       SpendingFunction = "kim_demets"
)

// DefaultFutilityScale is the fraction of the efficacy boundary used for the
// (negated) futility boundary when a plan does not override it.
const DefaultFutilityScale = 0.5

var spendingAliases = map[string]SpendingFunction{
	"obf":            SpendingOBrienFleming,
	"obrien-fleming": SpendingOBrienFleming,
	"of":             SpendingOBrienFleming,
	"hsd":            SpendingHwangShihDeCani,
	"gamma":          SpendingHwangShihDeCani,
	"power":          SpendingKimDeMets,
	"kim-demets":     SpendingKimDeMets,
}

// ParseSpendingFunction resolves a spending function identifier or alias.
func ParseSpendingFunction(s string) (SpendingFunction, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if fn, ok := spendingAliases[key]; ok {
		return fn, nil
	}
	switch fn := SpendingFunction(key); fn {
	case SpendingOBrienFleming, SpendingPocock, SpendingHwangShihDeCani, SpendingKimDeMets:
		return fn, nil
	}
	return "", core.NewUnsupportedMethodError("spending function", s)
}

// SpendingParams carries the shape parameter of parametric families.
type SpendingParams struct {
	Gamma float64 `json:"gamma,omitempty" yaml:"gamma,omitempty"` // Hwang-Shih-DeCani
	Rho   float64 `json:"rho,omitempty" yaml:"rho,omitempty"`     // Kim-DeMets power
}

// SequentialPlan describes a group-sequential design. Exactly one of
// InformationFractions, SampleSizes or Looks determines the look schedule,
// checked in that order.
type SequentialPlan struct {
	TotalAlpha           float64          `json:"total_alpha" yaml:"total_alpha"`
	InformationFractions []float64        `json:"information_fractions,omitempty" yaml:"information_fractions,omitempty"`
	SampleSizes          []int            `json:"sample_sizes,omitempty" yaml:"sample_sizes,omitempty"`
	Looks                int              `json:"looks,omitempty" yaml:"looks,omitempty"`
	SpendingFunction     SpendingFunction `json:"spending_function" yaml:"spending_function"`
	Params               SpendingParams   `json:"params" yaml:"params"`
	FutilityScale        float64          `json:"futility_scale" yaml:"futility_scale"`
}

// LookBoundary is the derived boundary at one interim (or final) analysis.
type LookBoundary struct {
	Look                  int     `json:"look"`
	InformationFraction   float64 `json:"information_fraction"`
	SampleSize            int     `json:"sample_size,omitempty"`
	CumulativeAlphaSpent  float64 `json:"cumulative_alpha_spent"`
	IncrementalAlphaSpent float64 `json:"incremental_alpha_spent"`
	ZBoundary             float64 `json:"z_boundary"`
	NominalPValueBoundary float64 `json:"nominal_p_value_boundary"`
	EfficacyBoundary      float64 `json:"efficacy_boundary"`
	FutilityBoundary      float64 `json:"futility_boundary"`
}

// EqualFractions returns k/looks for k = 1..looks.
func EqualFractions(looks int) ([]float64, error) {
	if looks < 1 {
		return nil, core.NewValidationError("looks", fmt.Sprintf("must be at least 1, got %d", looks))
	}
	fractions := make([]float64, looks)
	for k := 1; k <= looks; k++ {
		fractions[k-1] = float64(k) / float64(looks)
	}
	fractions[looks-1] = 1
	return fractions, nil
}

// FractionsFromSampleSizes converts cumulative interim sample sizes into
// information fractions n_k / n_final.
func FractionsFromSampleSizes(sizes []int) ([]float64, error) {
	if len(sizes) == 0 {
		return nil, core.NewValidationError("sample_sizes", "at least one sample size is required")
	}
	for i, n := range sizes {
		if n <= 0 {
			return nil, core.NewValidationError("sample_sizes", fmt.Sprintf("look %d has non-positive size %d", i+1, n))
		}
		if i > 0 && n <= sizes[i-1] {
			return nil, core.NewValidationError("sample_sizes", fmt.Sprintf("look %d size %d does not exceed previous %d", i+1, n, sizes[i-1]))
		}
	}
	final := float64(sizes[len(sizes)-1])
	fractions := make([]float64, len(sizes))
	for i, n := range sizes {
		fractions[i] = float64(n) / final
	}
	return fractions, nil
}

// ValidateFractions checks that fractions are strictly increasing, lie in
// (0,1] and end at exactly 1.
func ValidateFractions(fractions []float64) error {
	if len(fractions) == 0 {
		return core.NewValidationError("information_fractions", "at least one look is required")
	}
	for i, t := range fractions {
		if math.IsNaN(t) || t <= 0 || t > 1 {
			return core.NewValidationError("information_fractions", fmt.Sprintf("look %d fraction %v outside (0,1]", i+1, t))
		}
		if i > 0 && t <= fractions[i-1] {
			return core.NewValidationError("information_fractions", fmt.Sprintf("look %d fraction %v is not greater than %v", i+1, t, fractions[i-1]))
		}
	}
	if last := fractions[len(fractions)-1]; last != 1 {
		return core.NewValidationError("information_fractions", fmt.Sprintf("final fraction must be 1, got %v", last))
	}
	return nil
}

// validateParams checks the shape parameter for fn.
func validateParams(fn SpendingFunction, params SpendingParams) error {
	switch fn {
	case SpendingHwangShihDeCani:
		g := params.Gamma
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return core.NewValidationError("gamma", fmt.Sprintf("must be finite, got %v", g))
		}
	case SpendingKimDeMets:
		r := params.Rho
		if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
			return core.NewValidationError("rho", fmt.Sprintf("must be a positive finite number, got %v", r))
		}
	case SpendingOBrienFleming, SpendingPocock:
	default:
		return core.NewUnsupportedMethodError("spending function", string(fn))
	}
	return nil
}

// SpendAlpha evaluates the cumulative alpha α(t) spent by fn at information
// fraction t in (0,1].
func SpendAlpha(fn SpendingFunction, params SpendingParams, alpha, t float64) (float64, error) {
	if err := ValidateAlpha(alpha); err != nil {
		return 0, err
	}
	if math.IsNaN(t) || t <= 0 || t > 1 {
		return 0, core.NewValidationError("information_fraction", fmt.Sprintf("must be in (0,1], got %v", t))
	}
	if err := validateParams(fn, params); err != nil {
		return 0, err
	}
	return spend(fn, params, alpha, t)
}

func spend(fn SpendingFunction, params SpendingParams, alpha, t float64) (float64, error) {
	switch fn {
	case SpendingOBrienFleming:
		z, err := NormalQuantile(1 - alpha/2)
		if err != nil {
			return 0, err
		}
		tail, err := NormalUpperTail(z / math.Sqrt(t))
		if err != nil {
			return 0, err
		}
		return 2 * tail, nil
	case SpendingPocock:
		return alpha * math.Log(1+(math.E-1)*t), nil
	case SpendingHwangShihDeCani:
		g := params.Gamma
		if g == 0 {
			return alpha * t, nil
		}
		if g > 0 {
			return alpha * math.Expm1(-g*t) / math.Expm1(-g), nil
		}
		// For negative gamma both expm1 terms overflow together; factoring out
		// exp(-g) keeps the ratio finite and sends α(t) to 0 for t < 1.
		return alpha * math.Exp(g*(1-t)) * math.Expm1(g*t) / math.Expm1(g), nil
	case SpendingKimDeMets:
		return alpha * math.Pow(t, params.Rho), nil
	}
	return 0, core.NewUnsupportedMethodError("spending function", string(fn))
}

// Fractions resolves the plan's look schedule.
func (p SequentialPlan) Fractions() ([]float64, error) {
	switch {
	case len(p.InformationFractions) > 0:
		fractions := make([]float64, len(p.InformationFractions))
		copy(fractions, p.InformationFractions)
		return fractions, ValidateFractions(fractions)
	case len(p.SampleSizes) > 0:
		return FractionsFromSampleSizes(p.SampleSizes)
	default:
		return EqualFractions(p.Looks)
	}
}

// ComputeSequentialBoundaries derives per-look alpha allocation and two-sided
// boundaries for plan. Cumulative spend is non-decreasing and never exceeds
// TotalAlpha.
func ComputeSequentialBoundaries(plan SequentialPlan) ([]LookBoundary, error) {
	if err := ValidateAlpha(plan.TotalAlpha); err != nil {
		return nil, core.NewValidationError("total_alpha", fmt.Sprintf("must be in (0,1), got %v", plan.TotalAlpha))
	}
	if err := validateParams(plan.SpendingFunction, plan.Params); err != nil {
		return nil, err
	}
	if math.IsNaN(plan.FutilityScale) || plan.FutilityScale < 0 {
		return nil, core.NewValidationError("futility_scale", fmt.Sprintf("must be non-negative, got %v", plan.FutilityScale))
	}
	fractions, err := plan.Fractions()
	if err != nil {
		return nil, err
	}

	boundaries := make([]LookBoundary, len(fractions))
	previousSpend := 0.0
	cumulative := 0.0
	for k, t := range fractions {
		spent, err := spend(plan.SpendingFunction, plan.Params, plan.TotalAlpha, t)
		if err != nil {
			return nil, err
		}
		incremental := spent - previousSpend
		if incremental < 0 {
			incremental = 0
		}
		previousSpend = spent

		next := cumulative + incremental
		if next > plan.TotalAlpha {
			next = plan.TotalAlpha
		}
		incremental = next - cumulative
		cumulative = next

		z, nominal, err := boundaryFor(cumulative)
		if err != nil {
			return nil, err
		}

		futility := 0.0
		if plan.FutilityScale > 0 {
			futility = -plan.FutilityScale * z
		}
		look := LookBoundary{
			Look:                  k + 1,
			InformationFraction:   t,
			CumulativeAlphaSpent:  cumulative,
			IncrementalAlphaSpent: incremental,
			ZBoundary:             z,
			NominalPValueBoundary: nominal,
			EfficacyBoundary:      z,
			FutilityBoundary:      futility,
		}
		if len(plan.InformationFractions) == 0 && len(plan.SampleSizes) > 0 {
			look.SampleSize = plan.SampleSizes[k]
		}
		boundaries[k] = look
	}
	return boundaries, nil
}

// boundaryFor returns Z = Φ⁻¹(1 - a/2) and its two-sided nominal p-value.
// The quantile is taken on the lower tail to keep precision for tiny a; when
// a underflows to zero the boundary is unreachable.
func boundaryFor(cumulative float64) (float64, float64, error) {
	half := cumulative / 2
	if half <= 0 {
		return math.Inf(1), 0, nil
	}
	q, err := NormalQuantile(half)
	if err != nil {
		return 0, 0, err
	}
	z := -q
	nominal, err := TwoSidedPValue(z)
	if err != nil {
		return 0, 0, err
	}
	return z, nominal, nil
}
