// Package risk scores a session test log for patterns associated with
// p-hacking.
package risk

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/montanaflynn/stats"

	"hypoguard/internal/sessionlog"
)

// Severity grades a pattern or an overall assessment.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight is the score contribution of a pattern with this severity.
func (s Severity) Weight() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// PatternType names a detection rule.
type PatternType string

const (
	PatternTestRepetition      PatternType = "test_repetition"
	PatternSelectiveReporting  PatternType = "selective_reporting"
	PatternDataPeeking         PatternType = "data_peeking"
	PatternPValueFishing       PatternType = "p_value_fishing"
	PatternMultipleComparisons PatternType = "multiple_comparisons"
)

// Evidence carries the measurements behind a pattern.
type Evidence struct {
	Count          int     `json:"count"`
	Total          int     `json:"total"`
	Ratio          float64 `json:"ratio,omitempty"`
	MeanGapSeconds float64 `json:"mean_gap_seconds,omitempty"`
	Key            string  `json:"key,omitempty"`
}

// Pattern is one detected risk.
type Pattern struct {
	Type           PatternType `json:"type"`
	Severity       Severity    `json:"severity"`
	Message        string      `json:"message"`
	Recommendation string      `json:"recommendation"`
	Evidence       Evidence    `json:"evidence"`
}

// Indicator is a declared risk category with no detection rule yet.
type Indicator struct {
	Type        string  `json:"type"`
	Threshold   float64 `json:"threshold"`
	Description string  `json:"description"`
	Implemented bool    `json:"implemented"`
}

// Summary describes the log the assessment ran over.
type Summary struct {
	Total             int     `json:"total"`
	Significant       int     `json:"significant"`
	Uncorrected       int     `json:"uncorrected"`
	Flagged           int     `json:"flagged"`
	DistinctTests     int     `json:"distinct_tests"`
	MedianPValue      float64 `json:"median_p_value"`
	MeanAbsEffectSize float64 `json:"mean_abs_effect_size"`
	MeanGapSeconds    float64 `json:"mean_gap_seconds"`
}

// Assessment is the detector output.
type Assessment struct {
	RiskLevel             Severity    `json:"risk_level"`
	Score                 int         `json:"score"`
	Patterns              []Pattern   `json:"patterns"`
	Summary               Summary     `json:"summary"`
	UnevaluatedIndicators []Indicator `json:"unevaluated_indicators"`
}

// Thresholds parameterise the detection rules.
type Thresholds struct {
	SignificanceAlpha          float64
	RepetitionMin              int
	SelectiveMinTests          int
	SelectiveRatio             float64
	PeekingMinTests            int
	PeekingMinGap              time.Duration
	FishingMaxUncorrected      int
	MultipleComparisonsMax     int
	MultipleComparisonKeywords []string
}

// DefaultThresholds returns the standard rule parameters.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SignificanceAlpha:      0.05,
		RepetitionMin:          3,
		SelectiveMinTests:      5,
		SelectiveRatio:         0.8,
		PeekingMinTests:        5,
		PeekingMinGap:          60 * time.Second,
		FishingMaxUncorrected:  10,
		MultipleComparisonsMax: 15,
		MultipleComparisonKeywords: []string{
			"pairwise", "post_hoc", "post-hoc", "posthoc",
			"tukey", "dunn", "games_howell", "games-howell", "scheffe",
		},
	}
}

// Detector evaluates session logs. The zero value is not usable; call
// NewDetector.
type Detector struct {
	th Thresholds
}

// NewDetector builds a detector. Non-positive fields fall back to defaults.
func NewDetector(th Thresholds) *Detector {
	def := DefaultThresholds()
	if th.SignificanceAlpha <= 0 || th.SignificanceAlpha >= 1 {
		th.SignificanceAlpha = def.SignificanceAlpha
	}
	if th.RepetitionMin <= 0 {
		th.RepetitionMin = def.RepetitionMin
	}
	if th.SelectiveMinTests <= 0 {
		th.SelectiveMinTests = def.SelectiveMinTests
	}
	if th.SelectiveRatio <= 0 {
		th.SelectiveRatio = def.SelectiveRatio
	}
	if th.PeekingMinTests <= 0 {
		th.PeekingMinTests = def.PeekingMinTests
	}
	if th.PeekingMinGap <= 0 {
		th.PeekingMinGap = def.PeekingMinGap
	}
	if th.FishingMaxUncorrected <= 0 {
		th.FishingMaxUncorrected = def.FishingMaxUncorrected
	}
	if th.MultipleComparisonsMax <= 0 {
		th.MultipleComparisonsMax = def.MultipleComparisonsMax
	}
	if len(th.MultipleComparisonKeywords) == 0 {
		th.MultipleComparisonKeywords = def.MultipleComparisonKeywords
	}
	return &Detector{th: th}
}

// Thresholds returns the effective rule parameters.
func (d *Detector) Thresholds() Thresholds {
	return d.th
}

// Assess runs every rule over records. It does not modify records.
func (d *Detector) Assess(records []sessionlog.Record) Assessment {
	summary := d.summarize(records)

	var patterns []Pattern
	patterns = append(patterns, d.testRepetition(records)...)
	if p, ok := d.selectiveReporting(summary); ok {
		patterns = append(patterns, p)
	}
	if p, ok := d.dataPeeking(summary); ok {
		patterns = append(patterns, p)
	}
	if p, ok := d.pValueFishing(summary); ok {
		patterns = append(patterns, p)
	}
	if p, ok := d.multipleComparisons(records); ok {
		patterns = append(patterns, p)
	}
	if patterns == nil {
		patterns = []Pattern{}
	}

	score := 0
	worst := SeverityLow
	for _, p := range patterns {
		score += p.Severity.Weight()
		if p.Severity.Weight() > worst.Weight() {
			worst = p.Severity
		}
	}
	level := LevelForScore(score)
	if worst.Weight() > level.Weight() {
		level = worst
	}

	return Assessment{
		RiskLevel:             level,
		Score:                 score,
		Patterns:              patterns,
		Summary:               summary,
		UnevaluatedIndicators: UnevaluatedIndicators(),
	}
}

// LevelForScore buckets an aggregate score.
func LevelForScore(score int) Severity {
	switch {
	case score >= 10:
		return SeverityCritical
	case score >= 6:
		return SeverityHigh
	case score >= 3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// UnevaluatedIndicators lists categories that have thresholds but no rule.
func UnevaluatedIndicators() []Indicator {
	return []Indicator{
		{Type: "hypothesis_switching", Threshold: 2, Description: "primary outcome changed after results were seen"},
		{Type: "optional_stopping", Threshold: 3, Description: "unplanned interim looks before the stopping decision"},
		{Type: "outlier_removal", Threshold: 0.05, Description: "share of observations excluded after testing"},
	}
}

func (d *Detector) summarize(records []sessionlog.Record) Summary {
	s := Summary{Total: len(records)}
	if len(records) == 0 {
		return s
	}

	ps := make([]float64, 0, len(records))
	var effects []float64
	keys := make(map[string]struct{})
	for _, r := range records {
		ps = append(ps, r.PValue)
		if r.Significant(d.th.SignificanceAlpha) {
			s.Significant++
		}
		if !r.Corrected {
			s.Uncorrected++
		}
		if r.Flagged {
			s.Flagged++
		}
		if r.EffectSize != nil {
			e := *r.EffectSize
			if e < 0 {
				e = -e
			}
			effects = append(effects, e)
		}
		keys[r.Key()] = struct{}{}
	}
	s.DistinctTests = len(keys)

	if median, err := stats.Median(ps); err == nil {
		s.MedianPValue = median
	}
	if len(effects) > 0 {
		if mean, err := stats.Mean(effects); err == nil {
			s.MeanAbsEffectSize = mean
		}
	}
	s.MeanGapSeconds = meanGapSeconds(records)
	return s
}

// meanGapSeconds averages the gaps between chronologically sorted records.
func meanGapSeconds(records []sessionlog.Record) float64 {
	if len(records) < 2 {
		return 0
	}
	times := make([]time.Time, len(records))
	for i, r := range records {
		times[i] = r.Timestamp
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	gaps := make(stats.Float64Data, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps = append(gaps, times[i].Sub(times[i-1]).Seconds())
	}
	mean, err := gaps.Mean()
	if err != nil {
		return 0
	}
	return mean
}

func (d *Detector) testRepetition(records []sessionlog.Record) []Pattern {
	counts := make(map[string]int)
	var order []string
	for _, r := range records {
		k := r.Key()
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
	}

	var out []Pattern
	for _, k := range order {
		n := counts[k]
		if n < d.th.RepetitionMin {
			continue
		}
		out = append(out, Pattern{
			Type:           PatternTestRepetition,
			Severity:       SeverityMedium,
			Message:        fmt.Sprintf("%s was run %d times on the same variables", displayKey(k), n),
			Recommendation: "Report every run of this test or pre-specify a single analysis.",
			Evidence:       Evidence{Count: n, Total: len(records), Key: k},
		})
	}
	return out
}

func (d *Detector) selectiveReporting(s Summary) (Pattern, bool) {
	if s.Total <= d.th.SelectiveMinTests {
		return Pattern{}, false
	}
	ratio := float64(s.Significant) / float64(s.Total)
	if ratio <= d.th.SelectiveRatio {
		return Pattern{}, false
	}
	return Pattern{
		Type:     PatternSelectiveReporting,
		Severity: SeverityHigh,
		Message: fmt.Sprintf("%.0f%% of %d tests are significant at %.2g, more than chance allows",
			ratio*100, s.Total, d.th.SignificanceAlpha),
		Recommendation: "Check that non-significant results are being logged and reported.",
		Evidence:       Evidence{Count: s.Significant, Total: s.Total, Ratio: ratio},
	}, true
}

func (d *Detector) dataPeeking(s Summary) (Pattern, bool) {
	if s.Total <= d.th.PeekingMinTests {
		return Pattern{}, false
	}
	if s.MeanGapSeconds >= d.th.PeekingMinGap.Seconds() {
		return Pattern{}, false
	}
	return Pattern{
		Type:           PatternDataPeeking,
		Severity:       SeverityHigh,
		Message:        fmt.Sprintf("tests ran on average %.1fs apart", s.MeanGapSeconds),
		Recommendation: "Use a group-sequential design with alpha spending for interim looks.",
		Evidence:       Evidence{Count: s.Total, Total: s.Total, MeanGapSeconds: s.MeanGapSeconds},
	}, true
}

func (d *Detector) pValueFishing(s Summary) (Pattern, bool) {
	if s.Uncorrected <= d.th.FishingMaxUncorrected {
		return Pattern{}, false
	}
	return Pattern{
		Type:           PatternPValueFishing,
		Severity:       SeverityCritical,
		Message:        fmt.Sprintf("%d tests have no multiple-comparison correction", s.Uncorrected),
		Recommendation: "Apply Holm or Benjamini-Hochberg across the family of tests.",
		Evidence:       Evidence{Count: s.Uncorrected, Total: s.Total, Ratio: float64(s.Uncorrected) / float64(s.Total)},
	}, true
}

func (d *Detector) multipleComparisons(records []sessionlog.Record) (Pattern, bool) {
	n := 0
	for _, r := range records {
		if d.isComparison(r.TestType) {
			n++
		}
	}
	if n <= d.th.MultipleComparisonsMax {
		return Pattern{}, false
	}
	return Pattern{
		Type:           PatternMultipleComparisons,
		Severity:       SeverityHigh,
		Message:        fmt.Sprintf("%d pairwise or post-hoc comparisons were run", n),
		Recommendation: "Limit comparisons to planned contrasts or correct within the family.",
		Evidence:       Evidence{Count: n, Total: len(records), Ratio: float64(n) / float64(len(records))},
	}, true
}

func (d *Detector) isComparison(testType string) bool {
	t := strings.ToLower(testType)
	for _, kw := range d.th.MultipleComparisonKeywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

func displayKey(k string) string {
	testType, vars, _ := strings.Cut(k, "|")
	if vars == "" {
		return testType
	}
	return fmt.Sprintf("%s(%s)", testType, vars)
}
