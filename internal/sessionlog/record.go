// Package sessionlog keeps the append-only audit trail of every test run in a
// session, registered as a hypothesis or not.
package sessionlog

import (
	"math"
	"strings"
	"time"

	"hypoguard/domain/core"
	"hypoguard/domain/hypothesis"
	"hypoguard/domain/stats"
)

// Record is one executed test. Only Flagged changes after creation.
type Record struct {
	ID               core.SessionTestID `json:"id" yaml:"id"`
	Sequence         int64              `json:"sequence" yaml:"sequence"`
	Timestamp        time.Time          `json:"timestamp" yaml:"timestamp"`
	TestType         string             `json:"test_type" yaml:"test_type"`
	Variables        []string           `json:"variables" yaml:"variables"`
	PValue           float64            `json:"p_value" yaml:"p_value"`
	EffectSize       *float64           `json:"effect_size,omitempty" yaml:"effect_size,omitempty"`
	Corrected        bool               `json:"corrected" yaml:"corrected"`
	CorrectionMethod string             `json:"correction_method,omitempty" yaml:"correction_method,omitempty"`
	Flagged          bool               `json:"flagged" yaml:"flagged"`
}

// Significant reports whether the raw p-value is below alpha.
func (r Record) Significant(alpha float64) bool {
	return r.PValue < alpha
}

// Key identifies repeats of the same test on the same ordered variables.
func (r Record) Key() string {
	return r.TestType + "|" + strings.Join(r.Variables, ",")
}

func (r Record) clone() Record {
	c := r
	c.Variables = append([]string(nil), r.Variables...)
	if c.Variables == nil {
		c.Variables = []string{}
	}
	if r.EffectSize != nil {
		e := *r.EffectSize
		c.EffectSize = &e
	}
	return c
}

// Entry is the caller-supplied content of a new record. PValue is required;
// a zero Timestamp is filled from the log's clock.
type Entry struct {
	TestType         string    `json:"test_type" yaml:"test_type"`
	Variables        []string  `json:"variables" yaml:"variables"`
	PValue           *float64  `json:"p_value" yaml:"p_value"`
	EffectSize       *float64  `json:"effect_size,omitempty" yaml:"effect_size,omitempty"`
	Corrected        bool      `json:"corrected" yaml:"corrected"`
	CorrectionMethod string    `json:"correction_method,omitempty" yaml:"correction_method,omitempty"`
	Timestamp        time.Time `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

// Validate checks the entry and canonicalises the correction method.
func (e *Entry) Validate() error {
	e.TestType = strings.TrimSpace(e.TestType)
	if e.TestType == "" {
		return core.NewValidationError("test_type", "is required")
	}
	if e.PValue == nil {
		return core.NewValidationError("p_value", "is required")
	}
	if err := hypothesis.ValidatePValue(e.PValue); err != nil {
		return err
	}
	if err := hypothesis.ValidateEffectSize(e.EffectSize); err != nil {
		return err
	}
	if e.CorrectionMethod != "" {
		m, err := stats.ParseMethod(e.CorrectionMethod)
		if err != nil {
			return err
		}
		e.CorrectionMethod = string(m)
	}
	return nil
}

func validRecord(r Record) error {
	if r.ID == "" {
		return core.NewValidationError("id", "restored record has no id")
	}
	if r.Sequence <= 0 {
		return core.NewValidationError("sequence", "must be positive")
	}
	if math.IsNaN(r.PValue) || r.PValue < 0 || r.PValue > 1 {
		return core.NewValidationError("p_value", "must be in [0,1]")
	}
	if strings.TrimSpace(r.TestType) == "" {
		return core.NewValidationError("test_type", "is required")
	}
	return nil
}
