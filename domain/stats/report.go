package stats

import (
	"time"

	"hypoguard/domain/core"
)

// Exclusion records why a requested hypothesis was left out of a correction.
type Exclusion struct {
	HypothesisID core.HypothesisID `json:"hypothesis_id"`
	Reason       string            `json:"reason"`
}

// CorrectionReport is a correction run over a family of hypotheses together
// with every member that could not take part.
type CorrectionReport struct {
	Group            string             `json:"group,omitempty"`
	Method           Method             `json:"method"`
	Family           Family             `json:"family"`
	Procedure        Procedure          `json:"procedure"`
	Alpha            float64            `json:"alpha"`
	Results          []CorrectionResult `json:"results"`
	Excluded         []Exclusion        `json:"excluded"`
	SignificantCount int                `json:"significant_count"`
	ComputedAt       time.Time          `json:"computed_at"`
}

// NewCorrectionReport runs ComputeCorrection and wraps the outcome.
func NewCorrectionReport(group string, inputs []PValue, excluded []Exclusion, method Method, alpha float64, at time.Time) (CorrectionReport, error) {
	results, err := ComputeCorrection(inputs, method, alpha)
	if err != nil {
		return CorrectionReport{}, err
	}
	info, _ := method.Info()
	if excluded == nil {
		excluded = []Exclusion{}
	}
	return CorrectionReport{
		Group:            group,
		Method:           method,
		Family:           info.Family,
		Procedure:        info.Procedure,
		Alpha:            alpha,
		Results:          results,
		Excluded:         excluded,
		SignificantCount: SignificantCount(results),
		ComputedAt:       at,
	}, nil
}
