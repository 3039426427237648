package stats

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"hypoguard/domain/core"
)

// Method identifies a multiple-testing correction procedure.
type Method string

const (
	MethodNone               Method = "none"
	MethodBonferroni         Method = "bonferroni"
	MethodSidak              Method = "sidak"
	MethodHolm               Method = "holm"
	MethodHolmSidak          Method = "holm_sidak"
	MethodHochberg           Method = "hochberg"
	MethodBenjaminiHochberg  Method = "benjamini_hochberg"
	MethodBenjaminiYekutieli Method = "benjamini_yekutieli"
)

// Family is the error rate a method controls.
type Family string

const (
	FamilyNone Family = "none"
	FamilyFWER Family = "fwer"
	FamilyFDR  Family = "fdr"
)

// Procedure describes how adjusted p-values are made monotone.
type Procedure string

const (
	ProcedureSingleStep Procedure = "single_step"
	ProcedureStepDown   Procedure = "step_down"
	ProcedureStepUp     Procedure = "step_up"
)

// MethodInfo describes a supported correction method.
type MethodInfo struct {
	Method    Method    `json:"method"`
	Family    Family    `json:"family"`
	Procedure Procedure `json:"procedure"`
	Label     string    `json:"label"`
}

var methodTable = []MethodInfo{
	{MethodNone, FamilyNone, ProcedureSingleStep, "No correction"},
	{MethodBonferroni, FamilyFWER, ProcedureSingleStep, "Bonferroni"},
	{MethodSidak, FamilyFWER, ProcedureSingleStep, "Šidák"},
	{MethodHolm, FamilyFWER, ProcedureStepDown, "Holm"},
	{MethodHolmSidak, FamilyFWER, ProcedureStepDown, "Holm-Šidák"},
	{MethodHochberg, FamilyFWER, ProcedureStepUp, "Hochberg"},
	{MethodBenjaminiHochberg, FamilyFDR, ProcedureStepUp, "Benjamini-Hochberg"},
	{MethodBenjaminiYekutieli, FamilyFDR, ProcedureStepUp, "Benjamini-Yekutieli"},
}

var methodAliases = map[string]Method{
	"bh":          MethodBenjaminiHochberg,
	"fdr_bh":      MethodBenjaminiHochberg,
	"fdr":         MethodBenjaminiHochberg,
	"by":          MethodBenjaminiYekutieli,
	"fdr_by":      MethodBenjaminiYekutieli,
	"hs":          MethodHolmSidak,
	"holm-sidak":  MethodHolmSidak,
	"holm_šidák":  MethodHolmSidak,
	"šidák":       MethodSidak,
	"bonf":        MethodBonferroni,
	"uncorrected": MethodNone,
}

// Methods lists every supported correction method in a stable order.
func Methods() []MethodInfo {
	out := make([]MethodInfo, len(methodTable))
	copy(out, methodTable)
	return out
}

// Info returns the descriptor of m.
func (m Method) Info() (MethodInfo, bool) {
	for _, info := range methodTable {
		if info.Method == m {
			return info, true
		}
	}
	return MethodInfo{}, false
}

// ParseMethod resolves a method identifier or one of its aliases.
func ParseMethod(s string) (Method, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if m, ok := methodAliases[key]; ok {
		return m, nil
	}
	m := Method(key)
	if _, ok := m.Info(); !ok {
		return "", core.NewUnsupportedMethodError("correction method", s)
	}
	return m, nil
}

// PValue pairs a hypothesis with its raw p-value.
type PValue struct {
	HypothesisID core.HypothesisID `json:"hypothesis_id"`
	P            float64           `json:"p_value"`
}

// CorrectionResult is one row of a correction. It is derived on demand and
// never stored on the hypothesis it refers to.
type CorrectionResult struct {
	HypothesisID   core.HypothesisID `json:"hypothesis_id"`
	Rank           int               `json:"rank"`
	OriginalPValue float64           `json:"original_p_value"`
	AdjustedPValue float64           `json:"adjusted_p_value"`
	Significant    bool              `json:"significant"`
	Method         Method            `json:"method"`
}

// ValidateAlpha checks that alpha lies in the open interval (0, 1).
func ValidateAlpha(alpha float64) error {
	if math.IsNaN(alpha) || alpha <= 0 || alpha >= 1 {
		return core.NewValidationError("alpha", fmt.Sprintf("must be in (0,1), got %v", alpha))
	}
	return nil
}

// ComputeCorrection adjusts the given p-values with method and flags those
// whose adjusted value falls below alpha. Results are returned in rank order
// (ascending raw p-value, ties kept in input order).
func ComputeCorrection(inputs []PValue, method Method, alpha float64) ([]CorrectionResult, error) {
	if err := ValidateAlpha(alpha); err != nil {
		return nil, err
	}
	info, ok := method.Info()
	if !ok {
		return nil, core.NewUnsupportedMethodError("correction method", string(method))
	}
	for _, in := range inputs {
		if math.IsNaN(in.P) || in.P < 0 || in.P > 1 {
			return nil, core.NewValidationError("p_value",
				fmt.Sprintf("hypothesis %s has p-value %v outside [0,1]", in.HypothesisID, in.P))
		}
	}

	m := len(inputs)
	if m == 0 {
		return []CorrectionResult{}, nil
	}

	ranked := make([]PValue, m)
	copy(ranked, inputs)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].P < ranked[j].P })

	adjusted := make([]float64, m)
	for i, in := range ranked {
		adjusted[i] = rawAdjusted(method, in.P, i+1, m)
	}

	switch info.Procedure {
	case ProcedureStepDown:
		enforceRunningMax(adjusted)
	case ProcedureStepUp:
		enforceRunningMin(adjusted)
	}

	results := make([]CorrectionResult, m)
	for i, in := range ranked {
		results[i] = CorrectionResult{
			HypothesisID:   in.HypothesisID,
			Rank:           i + 1,
			OriginalPValue: in.P,
			AdjustedPValue: adjusted[i],
			Significant:    adjusted[i] < alpha,
			Method:         method,
		}
	}
	return results, nil
}

// rawAdjusted applies the per-rank formula before any monotonicity pass.
// rank is 1-based.
func rawAdjusted(method Method, p float64, rank, m int) float64 {
	switch method {
	case MethodBonferroni:
		return capOne(p * float64(m))
	case MethodSidak:
		return sidak(p, float64(m))
	case MethodHolm:
		return capOne(p * float64(m-rank+1))
	case MethodHolmSidak:
		return sidak(p, float64(m-rank+1))
	case MethodHochberg:
		return capOne(p * float64(m-rank+1))
	case MethodBenjaminiHochberg:
		return capOne(p * float64(m) / float64(rank))
	case MethodBenjaminiYekutieli:
		return capOne(p * float64(m) * harmonic(m) / float64(rank))
	default:
		return p
	}
}

// sidak computes 1-(1-p)^k through log1p/expm1 to avoid cancellation for
// small p.
func sidak(p, k float64) float64 {
	if p >= 1 {
		return 1
	}
	return capOne(-math.Expm1(k * math.Log1p(-p)))
}

// harmonic returns c(m) = Σ_{k=1}^{m} 1/k.
func harmonic(m int) float64 {
	sum := 0.0
	for k := 1; k <= m; k++ {
		sum += 1 / float64(k)
	}
	return sum
}

func capOne(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

// enforceRunningMax makes values non-decreasing by scanning upward (step-down).
func enforceRunningMax(values []float64) {
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			values[i] = values[i-1]
		}
	}
}

// enforceRunningMin makes values non-decreasing by scanning from the largest
// rank down (step-up).
func enforceRunningMin(values []float64) {
	for i := len(values) - 2; i >= 0; i-- {
		if values[i] > values[i+1] {
			values[i] = values[i+1]
		}
	}
}

// SignificantCount returns how many results reject the null.
func SignificantCount(results []CorrectionResult) int {
	n := 0
	for _, r := range results {
		if r.Significant {
			n++
		}
	}
	return n
}
