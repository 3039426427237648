// Package study loads offline study files: a set of hypotheses plus a
// session test log, written as YAML or JSON.
package study

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"hypoguard/app"
	"hypoguard/domain/core"
	"hypoguard/domain/hypothesis"
	"hypoguard/internal/errors"
	"hypoguard/internal/sessionlog"
)

// DefaultSessionID is used when a file carries tests but names no session.
const DefaultSessionID core.SessionID = "default"

// Hypothesis is the file form of a registered hypothesis.
type Hypothesis struct {
	Description          string   `json:"description" yaml:"description"`
	NullStatement        string   `json:"null_statement,omitempty" yaml:"null_statement,omitempty"`
	AlternativeStatement string   `json:"alternative_statement,omitempty" yaml:"alternative_statement,omitempty"`
	Category             string   `json:"category" yaml:"category"`
	Tags                 []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Group                string   `json:"group,omitempty" yaml:"group,omitempty"`
	TestType             string   `json:"test_type,omitempty" yaml:"test_type,omitempty"`
	PValue               *float64 `json:"p_value,omitempty" yaml:"p_value,omitempty"`
	EffectSize           *float64 `json:"effect_size,omitempty" yaml:"effect_size,omitempty"`
	PreRegistered        bool     `json:"pre_registered,omitempty" yaml:"pre_registered,omitempty"`
	RegistrationURL      string   `json:"registration_url,omitempty" yaml:"registration_url,omitempty"`
	Locked               bool     `json:"locked,omitempty" yaml:"locked,omitempty"`
}

// Study is the decoded content of a study file.
type Study struct {
	SessionID  core.SessionID     `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Hypotheses []Hypothesis       `json:"hypotheses,omitempty" yaml:"hypotheses,omitempty"`
	Tests      []sessionlog.Entry `json:"tests,omitempty" yaml:"tests,omitempty"`
}

// Session returns the session the tests belong to.
func (s *Study) Session() core.SessionID {
	if strings.TrimSpace(string(s.SessionID)) == "" {
		return DefaultSessionID
	}
	return s.SessionID
}

// Load reads a study file. Files ending in .json are decoded as JSON, all
// others as YAML.
func Load(path string) (*Study, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("read study file: %w", err))
	}
	return Decode(data, strings.EqualFold(filepath.Ext(path), ".json"))
}

// Decode parses study content.
func Decode(data []byte, isJSON bool) (*Study, error) {
	var s Study
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("invalid study JSON: %v", err))
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("invalid study YAML: %v", err))
		}
	}
	return &s, nil
}

// checkTests validates every test before any is recorded. Study tests must
// carry their own timestamp: replay happens long after the tests ran, and
// clock-filled times would make them all look seconds apart.
func (s *Study) checkTests() error {
	for i, e := range s.Tests {
		if err := e.Validate(); err != nil {
			return errors.Wrapf(err, "test %d", i+1)
		}
		if e.Timestamp.IsZero() {
			return errors.Wrapf(core.NewValidationError("timestamp", "is required in study files"), "test %d", i+1)
		}
	}
	return nil
}

// Records replays the tests into a standalone log and returns its records.
func (s *Study) Records(clock core.Clock) ([]sessionlog.Record, error) {
	if err := s.checkTests(); err != nil {
		return nil, err
	}
	log := sessionlog.NewLog(s.Session(), nil, clock)
	for i, e := range s.Tests {
		if _, err := log.Append(e); err != nil {
			return nil, errors.Wrapf(err, "test %d", i+1)
		}
	}
	return log.Records(), nil
}

// Result counts what Apply loaded.
type Result struct {
	Hypotheses int            `json:"hypotheses"`
	Tests      int            `json:"tests"`
	SessionID  core.SessionID `json:"session_id,omitempty"`
}

// Apply registers the hypotheses and records the tests through svc, so
// every change is persisted when svc has repositories.
func (s *Study) Apply(ctx context.Context, svc *app.IntegrityService) (Result, error) {
	var res Result
	if err := s.checkTests(); err != nil {
		return res, err
	}
	for i, fh := range s.Hypotheses {
		h, err := svc.RegisterHypothesis(ctx, hypothesis.Fields{
			Description:          fh.Description,
			NullStatement:        fh.NullStatement,
			AlternativeStatement: fh.AlternativeStatement,
			Category:             hypothesis.Category(fh.Category),
			Tags:                 fh.Tags,
			TestType:             fh.TestType,
			PValue:               fh.PValue,
			EffectSize:           fh.EffectSize,
			PreRegistered:        fh.PreRegistered,
			RegistrationURL:      fh.RegistrationURL,
		})
		if err != nil {
			return res, errors.Wrapf(err, "hypothesis %d", i+1)
		}
		if fh.Group != "" {
			if _, err := svc.GroupHypotheses(ctx, []core.HypothesisID{h.ID}, fh.Group); err != nil {
				return res, errors.Wrapf(err, "hypothesis %d", i+1)
			}
		}
		if fh.Locked {
			if _, err := svc.LockHypothesis(ctx, h.ID); err != nil {
				return res, errors.Wrapf(err, "hypothesis %d", i+1)
			}
		}
		res.Hypotheses++
	}

	if len(s.Tests) == 0 {
		return res, nil
	}
	res.SessionID = s.Session()
	for i, e := range s.Tests {
		if _, err := svc.RecordSessionTest(ctx, res.SessionID, e); err != nil {
			return res, errors.Wrapf(err, "test %d", i+1)
		}
		res.Tests++
	}
	return res, nil
}
