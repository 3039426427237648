package hypothesis

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"hypoguard/domain/core"
)

// Category classifies a hypothesis by how it entered the analysis plan.
type Category string

const (
	CategoryPrimary      Category = "primary"
	CategorySecondary    Category = "secondary"
	CategoryExploratory  Category = "exploratory"
	CategoryPostHoc      Category = "post_hoc"
	CategoryConfirmatory Category = "confirmatory"
)

var categoryPriority = map[Category]int{
	CategoryPrimary:      1,
	CategoryConfirmatory: 2,
	CategorySecondary:    3,
	CategoryExploratory:  4,
	CategoryPostHoc:      5,
}

// Priority returns the fixed sort rank of c (1 sorts first). Unknown
// categories rank last.
func (c Category) Priority() int {
	if p, ok := categoryPriority[c]; ok {
		return p
	}
	return len(categoryPriority) + 1
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := categoryPriority[c]
	return ok
}

// ParseCategory normalises s ("post-hoc", "Post Hoc") into a Category.
func ParseCategory(s string) (Category, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	c := Category(key)
	if key == "" {
		return "", core.NewValidationError("category", "is required")
	}
	if !c.Valid() {
		return "", core.NewValidationError("category", fmt.Sprintf("unknown category %q", s))
	}
	return c, nil
}

// Status is the lifecycle state of a hypothesis.
type Status string

const (
	StatusRegistered Status = "REGISTERED"
	StatusTesting    Status = "TESTING"
	StatusTested     Status = "TESTED"
	StatusLocked     Status = "LOCKED"
	StatusFlagged    Status = "FLAGGED"
)

var transitions = map[Status][]Status{
	StatusRegistered: {StatusTesting, StatusTested, StatusFlagged, StatusLocked},
	StatusTesting:    {StatusTested, StatusFlagged, StatusRegistered, StatusLocked},
	StatusTested:     {StatusFlagged, StatusLocked},
	StatusFlagged:    {StatusRegistered, StatusTested, StatusLocked},
	StatusLocked:     {},
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := transitions[st]; !ok {
		return "", core.NewValidationError("status", fmt.Sprintf("unknown status %q", s))
	}
	return st, nil
}

// Hypothesis is the canonical record held by the registry.
type Hypothesis struct {
	ID                   core.HypothesisID `json:"id"`
	Description          string            `json:"description"`
	NullStatement        string            `json:"null_statement,omitempty"`
	AlternativeStatement string            `json:"alternative_statement,omitempty"`
	Category             Category          `json:"category"`
	Tags                 []string          `json:"tags"`
	Group                string            `json:"group,omitempty"`
	TestType             string            `json:"test_type,omitempty"`
	PValue               *float64          `json:"p_value,omitempty"`
	EffectSize           *float64          `json:"effect_size,omitempty"`
	Status               Status            `json:"status"`
	PreRegistered        bool              `json:"pre_registered"`
	RegistrationURL      string            `json:"registration_url,omitempty"`
	Timestamp            time.Time         `json:"timestamp"`
	UpdatedAt            time.Time         `json:"updated_at"`
	Version              int               `json:"version"`
}

// Tested reports whether a p-value has been recorded.
func (h Hypothesis) Tested() bool {
	return h.PValue != nil
}

// Locked reports whether the hypothesis is immutable.
func (h Hypothesis) Locked() bool {
	return h.Status == StatusLocked
}

// HasTag reports whether tag is attached.
func (h Hypothesis) HasTag(tag string) bool {
	for _, t := range h.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Advisories lists non-blocking issues with the record.
func (h Hypothesis) Advisories() []string {
	var out []string
	if h.PreRegistered && strings.TrimSpace(h.RegistrationURL) == "" {
		out = append(out, "pre-registered hypothesis has no registration URL")
	}
	if h.Category == CategoryPostHoc && h.PreRegistered {
		out = append(out, "post-hoc hypothesis is marked as pre-registered")
	}
	return out
}

// Clone returns a deep copy so callers never share pointers with the registry.
func (h Hypothesis) Clone() Hypothesis {
	c := h
	c.Tags = append([]string(nil), h.Tags...)
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if h.PValue != nil {
		p := *h.PValue
		c.PValue = &p
	}
	if h.EffectSize != nil {
		e := *h.EffectSize
		c.EffectSize = &e
	}
	return c
}

// Fields are the caller-supplied values for a new hypothesis.
type Fields struct {
	Description          string   `json:"description"`
	NullStatement        string   `json:"null_statement"`
	AlternativeStatement string   `json:"alternative_statement"`
	Category             Category `json:"category"`
	Tags                 []string `json:"tags"`
	TestType             string   `json:"test_type"`
	PValue               *float64 `json:"p_value"`
	EffectSize           *float64 `json:"effect_size"`
	PreRegistered        bool     `json:"pre_registered"`
	RegistrationURL      string   `json:"registration_url"`
}

// Validate checks required fields and value ranges.
func (f Fields) Validate() error {
	if strings.TrimSpace(f.Description) == "" {
		return core.NewValidationError("description", "is required")
	}
	if strings.TrimSpace(string(f.Category)) == "" {
		return core.NewValidationError("category", "is required")
	}
	if _, err := ParseCategory(string(f.Category)); err != nil {
		return err
	}
	if err := ValidatePValue(f.PValue); err != nil {
		return err
	}
	return ValidateEffectSize(f.EffectSize)
}

// Patch carries a partial update; nil fields are left unchanged.
type Patch struct {
	Description          *string   `json:"description,omitempty"`
	NullStatement        *string   `json:"null_statement,omitempty"`
	AlternativeStatement *string   `json:"alternative_statement,omitempty"`
	Category             *Category `json:"category,omitempty"`
	TestType             *string   `json:"test_type,omitempty"`
	PValue               *float64  `json:"p_value,omitempty"`
	EffectSize           *float64  `json:"effect_size,omitempty"`
	PreRegistered        *bool     `json:"pre_registered,omitempty"`
	RegistrationURL      *string   `json:"registration_url,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

// Validate checks patch values without reference to the stored record.
func (p Patch) Validate() error {
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		return core.NewValidationError("description", "cannot be blank")
	}
	if p.Category != nil {
		if _, err := ParseCategory(string(*p.Category)); err != nil {
			return err
		}
	}
	if err := ValidatePValue(p.PValue); err != nil {
		return err
	}
	return ValidateEffectSize(p.EffectSize)
}

// ValidatePValue accepts nil or a value in [0,1].
func ValidatePValue(p *float64) error {
	if p == nil {
		return nil
	}
	if math.IsNaN(*p) || *p < 0 || *p > 1 {
		return core.NewValidationError("p_value", fmt.Sprintf("must be in [0,1], got %v", *p))
	}
	return nil
}

// ValidateEffectSize accepts nil or any finite value.
func ValidateEffectSize(e *float64) error {
	if e == nil {
		return nil
	}
	if math.IsNaN(*e) || math.IsInf(*e, 0) {
		return core.NewValidationError("effect_size", "must be finite")
	}
	return nil
}

// NormalizeTags trims, drops blanks, de-duplicates and sorts tags.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Filter narrows a registry listing. Zero values match everything.
type Filter struct {
	Group    string   `json:"group,omitempty"`
	Tag      string   `json:"tag,omitempty"`
	Status   Status   `json:"status,omitempty"`
	Category Category `json:"category,omitempty"`
}

// Matches reports whether h passes the filter.
func (f Filter) Matches(h Hypothesis) bool {
	if f.Group != "" && h.Group != f.Group {
		return false
	}
	if f.Tag != "" && !h.HasTag(f.Tag) {
		return false
	}
	if f.Status != "" && h.Status != f.Status {
		return false
	}
	if f.Category != "" && h.Category != f.Category {
		return false
	}
	return true
}

// SortByPriority orders hypotheses by category priority, then creation time,
// then id.
func SortByPriority(hs []Hypothesis) {
	sort.SliceStable(hs, func(i, j int) bool {
		pi, pj := hs[i].Category.Priority(), hs[j].Category.Priority()
		if pi != pj {
			return pi < pj
		}
		if !hs[i].Timestamp.Equal(hs[j].Timestamp) {
			return hs[i].Timestamp.Before(hs[j].Timestamp)
		}
		return hs[i].ID < hs[j].ID
	})
}
