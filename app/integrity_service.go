package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"hypoguard/domain/core"
	"hypoguard/domain/hypothesis"
	"hypoguard/domain/stats"
	"hypoguard/internal"
	"hypoguard/internal/errors"
	"hypoguard/internal/registry"
	"hypoguard/internal/risk"
	"hypoguard/internal/sessionlog"
	"hypoguard/ports"
)

// ServiceConfig carries analysis defaults for the service.
type ServiceConfig struct {
	DefaultAlpha  float64
	DefaultMethod stats.Method
	FutilityScale float64
	Parallelism   int
	Thresholds    risk.Thresholds
	Clock         core.Clock
}

// IntegrityService coordinates the registry, session logs, the correction
// and boundary calculators and the risk detector. Repositories and the
// notifier are optional.
type IntegrityService struct {
	cfg      ServiceConfig
	clock    core.Clock
	registry *registry.Registry
	sessions *sessionlog.Manager
	detector *risk.Detector

	hypothesisRepo ports.HypothesisRepository
	sessionRepo    ports.SessionTestRepository
	notifier       ports.RiskNotifier
	logger         *internal.Logger

	levelsMu sync.Mutex
	levels   map[core.SessionID]risk.Severity
}

// NewIntegrityService wires a service around fresh in-memory state.
func NewIntegrityService(
	cfg ServiceConfig,
	hypothesisRepo ports.HypothesisRepository,
	sessionRepo ports.SessionTestRepository,
	notifier ports.RiskNotifier,
	logger *internal.Logger,
) *IntegrityService {
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock
	}
	if cfg.DefaultAlpha == 0 {
		cfg.DefaultAlpha = 0.05
	}
	if cfg.DefaultMethod == "" {
		cfg.DefaultMethod = stats.MethodHolm
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &IntegrityService{
		cfg:            cfg,
		clock:          cfg.Clock,
		registry:       registry.New(cfg.Clock),
		sessions:       sessionlog.NewManager(cfg.Clock),
		detector:       risk.NewDetector(cfg.Thresholds),
		hypothesisRepo: hypothesisRepo,
		sessionRepo:    sessionRepo,
		notifier:       notifier,
		logger:         logger.With("integrity"),
		levels:         make(map[core.SessionID]risk.Severity),
	}
}

// Defaults returns the configured default alpha, correction method and
// futility scale.
func (s *IntegrityService) Defaults() (float64, stats.Method, float64) {
	return s.cfg.DefaultAlpha, s.cfg.DefaultMethod, s.cfg.FutilityScale
}

// ---- registry ----

// RegisterHypothesis validates fields and stores a new hypothesis.
func (s *IntegrityService) RegisterHypothesis(ctx context.Context, fields hypothesis.Fields) (hypothesis.Hypothesis, error) {
	h, err := s.registry.Register(fields)
	if err != nil {
		return hypothesis.Hypothesis{}, err
	}
	for _, advisory := range h.Advisories() {
		s.logger.Warn("hypothesis %s: %s", h.ID, advisory)
	}
	s.logger.Info("Registered %s hypothesis %s", h.Category, h.ID)
	return h, s.persist(ctx, h)
}

// UpdateHypothesis applies a partial edit. Locked hypotheses are immutable.
func (s *IntegrityService) UpdateHypothesis(ctx context.Context, id core.HypothesisID, patch hypothesis.Patch) (hypothesis.Hypothesis, error) {
	h, err := s.registry.Update(id, patch)
	if err != nil {
		return hypothesis.Hypothesis{}, err
	}
	s.logger.Debug("Updated hypothesis %s to version %d", id, h.Version)
	return h, s.persist(ctx, h)
}

// LockHypothesis freezes a hypothesis.
func (s *IntegrityService) LockHypothesis(ctx context.Context, id core.HypothesisID) (hypothesis.Hypothesis, error) {
	h, err := s.registry.Lock(id)
	if err != nil {
		return hypothesis.Hypothesis{}, err
	}
	s.logger.Info("Locked hypothesis %s", id)
	return h, s.persist(ctx, h)
}

// DeleteHypothesis removes an unlocked hypothesis.
func (s *IntegrityService) DeleteHypothesis(ctx context.Context, id core.HypothesisID) error {
	if err := s.registry.Delete(id); err != nil {
		return err
	}
	s.logger.Info("Deleted hypothesis %s", id)
	if s.hypothesisRepo == nil {
		return nil
	}
	if err := s.hypothesisRepo.DeleteHypothesis(ctx, id); err != nil {
		s.logger.Error("Failed to delete hypothesis %s from store: %v", id, err)
		return errors.WithCode(errors.CodeDatabaseError, fmt.Errorf("delete hypothesis %s: %w", id, err))
	}
	return nil
}

// GroupHypotheses assigns every id to group atomically.
func (s *IntegrityService) GroupHypotheses(ctx context.Context, ids []core.HypothesisID, group string) ([]hypothesis.Hypothesis, error) {
	hs, err := s.registry.Group(ids, group)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Grouped %d hypotheses into %q", len(hs), group)
	for _, h := range hs {
		if err := s.persist(ctx, h); err != nil {
			return hs, err
		}
	}
	return hs, nil
}

// TagHypothesis attaches a tag.
func (s *IntegrityService) TagHypothesis(ctx context.Context, id core.HypothesisID, tag string) (hypothesis.Hypothesis, error) {
	return s.persisted(ctx)(s.registry.Tag(id, tag))
}

// UntagHypothesis removes a tag.
func (s *IntegrityService) UntagHypothesis(ctx context.Context, id core.HypothesisID, tag string) (hypothesis.Hypothesis, error) {
	return s.persisted(ctx)(s.registry.Untag(id, tag))
}

// StartTesting moves a hypothesis to TESTING.
func (s *IntegrityService) StartTesting(ctx context.Context, id core.HypothesisID) (hypothesis.Hypothesis, error) {
	return s.persisted(ctx)(s.registry.StartTesting(id))
}

// RecordResult stores a p-value and effect size and marks the hypothesis
// TESTED.
func (s *IntegrityService) RecordResult(ctx context.Context, id core.HypothesisID, p float64, effect *float64) (hypothesis.Hypothesis, error) {
	return s.persisted(ctx)(s.registry.RecordResult(id, p, effect))
}

// FlagHypothesis marks a hypothesis as questionable.
func (s *IntegrityService) FlagHypothesis(ctx context.Context, id core.HypothesisID) (hypothesis.Hypothesis, error) {
	return s.persisted(ctx)(s.registry.Flag(id))
}

// UnflagHypothesis clears the flag.
func (s *IntegrityService) UnflagHypothesis(ctx context.Context, id core.HypothesisID) (hypothesis.Hypothesis, error) {
	return s.persisted(ctx)(s.registry.Unflag(id))
}

// GetHypothesis returns one hypothesis.
func (s *IntegrityService) GetHypothesis(id core.HypothesisID) (hypothesis.Hypothesis, error) {
	return s.registry.Get(id)
}

// ListHypotheses returns hypotheses matching filter in priority order.
func (s *IntegrityService) ListHypotheses(filter hypothesis.Filter) []hypothesis.Hypothesis {
	return s.registry.List(filter)
}

// Groups lists the distinct group names.
func (s *IntegrityService) Groups() []string {
	return s.registry.Groups()
}

func (s *IntegrityService) persisted(ctx context.Context) func(hypothesis.Hypothesis, error) (hypothesis.Hypothesis, error) {
	return func(h hypothesis.Hypothesis, err error) (hypothesis.Hypothesis, error) {
		if err != nil {
			return hypothesis.Hypothesis{}, err
		}
		s.logger.Debug("Hypothesis %s is %s (version %d)", h.ID, h.Status, h.Version)
		return h, s.persist(ctx, h)
	}
}

func (s *IntegrityService) persist(ctx context.Context, h hypothesis.Hypothesis) error {
	if s.hypothesisRepo == nil {
		return nil
	}
	if err := s.hypothesisRepo.SaveHypothesis(ctx, h); err != nil {
		s.logger.Error("Failed to persist hypothesis %s: %v", h.ID, err)
		return errors.WithCode(errors.CodeDatabaseError, fmt.Errorf("save hypothesis %s: %w", h.ID, err))
	}
	return nil
}

// ---- corrections ----

// ComputeCorrection corrects the given hypotheses, or every hypothesis when
// ids is empty. Members without a p-value are reported in Excluded.
func (s *IntegrityService) ComputeCorrection(ids []core.HypothesisID, method stats.Method, alpha float64) (stats.CorrectionReport, error) {
	var members []hypothesis.Hypothesis
	if len(ids) == 0 {
		members = s.registry.List(hypothesis.Filter{})
	} else {
		seen := make(map[core.HypothesisID]struct{}, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				return stats.CorrectionReport{}, core.NewValidationError("ids", fmt.Sprintf("duplicate hypothesis %s", id))
			}
			seen[id] = struct{}{}
			h, err := s.registry.Get(id)
			if err != nil {
				return stats.CorrectionReport{}, err
			}
			members = append(members, h)
		}
	}
	return s.correct("", members, method, alpha)
}

// ComputeGroupCorrection corrects the members of one group.
func (s *IntegrityService) ComputeGroupCorrection(group string, method stats.Method, alpha float64) (stats.CorrectionReport, error) {
	group = strings.TrimSpace(group)
	if group == "" {
		return stats.CorrectionReport{}, core.NewValidationError("group", "name is required")
	}
	members := s.registry.List(hypothesis.Filter{Group: group})
	if len(members) == 0 {
		return stats.CorrectionReport{}, core.NewNotFoundError("group", group)
	}
	return s.correct(group, members, method, alpha)
}

// CorrectAllGroups corrects every group independently, bounded by the
// configured parallelism. Reports are sorted by group name.
func (s *IntegrityService) CorrectAllGroups(ctx context.Context, method stats.Method, alpha float64) ([]stats.CorrectionReport, error) {
	groups := s.registry.Groups()
	reports := make([]stats.CorrectionReport, len(groups))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, group := range groups {
		i, group := i, group
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			members := s.registry.List(hypothesis.Filter{Group: group})
			report, err := s.correct(group, members, method, alpha)
			if err != nil {
				return fmt.Errorf("group %s: %w", group, err)
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.logger.Debug("Corrected %d groups with %s", len(groups), method)
	return reports, nil
}

func (s *IntegrityService) correct(group string, members []hypothesis.Hypothesis, method stats.Method, alpha float64) (stats.CorrectionReport, error) {
	inputs := make([]stats.PValue, 0, len(members))
	var excluded []stats.Exclusion
	for _, h := range members {
		if !h.Tested() {
			excluded = append(excluded, stats.Exclusion{
				HypothesisID: h.ID,
				Reason:       fmt.Sprintf("no p-value recorded (status %s)", h.Status),
			})
			continue
		}
		inputs = append(inputs, stats.PValue{HypothesisID: h.ID, P: *h.PValue})
	}
	return stats.NewCorrectionReport(group, inputs, excluded, method, alpha, s.clock())
}

// ---- sequential designs ----

// ComputeSequentialBoundaries derives look boundaries for plan. A negative
// futility scale in plan is rejected; callers that want the configured
// default should set it from Defaults.
func (s *IntegrityService) ComputeSequentialBoundaries(plan stats.SequentialPlan) ([]stats.LookBoundary, error) {
	return stats.ComputeSequentialBoundaries(plan)
}

// ---- session logs ----

// RecordSessionTest appends a test to the session log, then re-assesses the
// session and notifies subscribers when the risk level moved.
func (s *IntegrityService) RecordSessionTest(ctx context.Context, sessionID core.SessionID, entry sessionlog.Entry) (sessionlog.Record, error) {
	log, err := s.sessions.Open(sessionID)
	if err != nil {
		return sessionlog.Record{}, err
	}
	rec, err := log.Append(entry)
	if err != nil {
		return sessionlog.Record{}, err
	}
	s.logger.Debug("Session %s recorded %s (seq %d, p=%.4g)", sessionID, rec.TestType, rec.Sequence, rec.PValue)

	if s.sessionRepo != nil {
		if err := s.sessionRepo.AppendTest(ctx, sessionID, rec); err != nil {
			s.logger.Error("Failed to persist session test %s: %v", rec.ID, err)
			return rec, errors.WithCode(errors.CodeDatabaseError, fmt.Errorf("append session test %s: %w", rec.ID, err))
		}
	}

	s.reassess(sessionID, log)
	return rec, nil
}

// FlagSessionTest sets the flagged bit of a session record.
func (s *IntegrityService) FlagSessionTest(ctx context.Context, sessionID core.SessionID, id core.SessionTestID, flagged bool) (sessionlog.Record, error) {
	log, ok := s.sessions.Lookup(sessionID)
	if !ok {
		return sessionlog.Record{}, core.NewNotFoundError("session", string(sessionID))
	}
	rec, err := log.SetFlag(id, flagged)
	if err != nil {
		return sessionlog.Record{}, err
	}
	if s.sessionRepo != nil {
		if err := s.sessionRepo.SetFlag(ctx, sessionID, id, flagged); err != nil {
			s.logger.Error("Failed to persist flag for %s: %v", id, err)
			return rec, errors.WithCode(errors.CodeDatabaseError, fmt.Errorf("flag session test %s: %w", id, err))
		}
	}
	return rec, nil
}

// SessionTests returns a session's records in append order.
func (s *IntegrityService) SessionTests(sessionID core.SessionID) ([]sessionlog.Record, error) {
	log, ok := s.sessions.Lookup(sessionID)
	if !ok {
		return nil, core.NewNotFoundError("session", string(sessionID))
	}
	return log.Records(), nil
}

// Sessions lists known sessions.
func (s *IntegrityService) Sessions() []core.SessionID {
	return s.sessions.Sessions()
}

// AssessRisk scores the session log. An unknown session has an empty log.
func (s *IntegrityService) AssessRisk(sessionID core.SessionID) (risk.Assessment, error) {
	if strings.TrimSpace(string(sessionID)) == "" {
		return risk.Assessment{}, core.NewValidationError("session_id", "cannot be empty")
	}
	var records []sessionlog.Record
	if log, ok := s.sessions.Lookup(sessionID); ok {
		records = log.Records()
	}
	return s.detector.Assess(records), nil
}

// reassess holds levelsMu across the snapshot, the assessment and the
// publish, so stored levels and events follow log order under concurrent
// appends. PublishRisk must not block.
func (s *IntegrityService) reassess(sessionID core.SessionID, log *sessionlog.Log) {
	s.levelsMu.Lock()
	defer s.levelsMu.Unlock()

	records := log.Records()
	assessment := s.detector.Assess(records)
	previous, seen := s.levels[sessionID]
	if !seen {
		previous = risk.SeverityLow
	}
	s.levels[sessionID] = assessment.RiskLevel
	if assessment.RiskLevel == previous {
		return
	}

	var seq int64
	if n := len(records); n > 0 {
		seq = records[n-1].Sequence
	}
	s.logger.Warn("Session %s risk moved %s -> %s (score %d)", sessionID, previous, assessment.RiskLevel, assessment.Score)
	if s.notifier == nil {
		return
	}
	s.notifier.PublishRisk(ports.RiskEvent{
		SessionID: sessionID,
		Previous:  previous,
		Current:   assessment.RiskLevel,
		Score:     assessment.Score,
		Patterns:  assessment.Patterns,
		Sequence:  seq,
		At:        s.clock(),
	})
}

// ---- snapshots ----

// ExportRegistrySnapshot returns a fingerprinted copy of the registry.
func (s *IntegrityService) ExportRegistrySnapshot() (registry.Snapshot, error) {
	return s.registry.Snapshot()
}

// ExportSessionSnapshot returns a fingerprinted copy of a session log.
func (s *IntegrityService) ExportSessionSnapshot(sessionID core.SessionID) (sessionlog.Snapshot, error) {
	log, ok := s.sessions.Lookup(sessionID)
	if !ok {
		return sessionlog.Snapshot{}, core.NewNotFoundError("session", string(sessionID))
	}
	return log.Snapshot()
}

// BuildReport assembles the registry snapshot, the default correction over
// all hypotheses, per-group corrections and, when sessionID is set, the
// session log with its risk assessment.
func (s *IntegrityService) BuildReport(ctx context.Context, sessionID core.SessionID) (ports.IntegrityReport, error) {
	snap, err := s.registry.Snapshot()
	if err != nil {
		return ports.IntegrityReport{}, err
	}
	correction, err := s.ComputeCorrection(nil, s.cfg.DefaultMethod, s.cfg.DefaultAlpha)
	if err != nil {
		return ports.IntegrityReport{}, err
	}
	groups, err := s.CorrectAllGroups(ctx, s.cfg.DefaultMethod, s.cfg.DefaultAlpha)
	if err != nil {
		return ports.IntegrityReport{}, err
	}

	report := ports.IntegrityReport{
		Title:       "Hypothesis integrity report",
		GeneratedAt: s.clock(),
		Registry:    snap,
		Correction:  correction,
		Groups:      groups,
	}
	if sessionID != "" {
		session, err := s.ExportSessionSnapshot(sessionID)
		if err != nil {
			return ports.IntegrityReport{}, err
		}
		assessment := s.detector.Assess(session.Records)
		report.Session = &session
		report.Risk = &assessment
		report.Title = fmt.Sprintf("Hypothesis integrity report: session %s", sessionID)
	}
	return report, nil
}

// ---- restore ----

// Restore reloads the registry and every session log from the repositories.
func (s *IntegrityService) Restore(ctx context.Context) error {
	if s.hypothesisRepo != nil {
		hs, err := s.hypothesisRepo.ListHypotheses(ctx)
		if err != nil {
			return errors.WithCode(errors.CodeDatabaseError, fmt.Errorf("load hypotheses: %w", err))
		}
		if err := s.registry.Restore(hs); err != nil {
			return errors.Wrap(err, "restore registry")
		}
		s.logger.Info("Restored %d hypotheses", len(hs))
	}

	if s.sessionRepo == nil {
		return nil
	}
	sessionIDs, err := s.sessionRepo.ListSessions(ctx)
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, fmt.Errorf("list sessions: %w", err))
	}
	sort.Slice(sessionIDs, func(i, j int) bool { return sessionIDs[i] < sessionIDs[j] })
	for _, id := range sessionIDs {
		records, err := s.sessionRepo.ListSessionTests(ctx, id)
		if err != nil {
			return errors.WithCode(errors.CodeDatabaseError, fmt.Errorf("load session %s: %w", id, err))
		}
		if err := s.sessions.Restore(id, records); err != nil {
			return errors.Wrapf(err, "restore session %s", id)
		}
		assessment := s.detector.Assess(records)
		s.levelsMu.Lock()
		s.levels[id] = assessment.RiskLevel
		s.levelsMu.Unlock()
	}
	s.logger.Info("Restored %d sessions", len(sessionIDs))
	return nil
}
