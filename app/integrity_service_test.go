package app

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"hypoguard/domain/core"
	"hypoguard/domain/hypothesis"
	"hypoguard/domain/stats"
	"hypoguard/internal"
	"hypoguard/internal/errors"
	"hypoguard/internal/risk"
	"hypoguard/internal/sessionlog"
	"hypoguard/ports"
)

// MockNotifier is a mock implementation of ports.RiskNotifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) PublishRisk(event ports.RiskEvent) {
	m.Called(event)
}

// memoryHypothesisRepo is an in-memory ports.HypothesisRepository
type memoryHypothesisRepo struct {
	mu      sync.Mutex
	rows    map[core.HypothesisID]hypothesis.Hypothesis
	failErr error
}

func newMemoryHypothesisRepo() *memoryHypothesisRepo {
	return &memoryHypothesisRepo{rows: make(map[core.HypothesisID]hypothesis.Hypothesis)}
}

func (r *memoryHypothesisRepo) SaveHypothesis(_ context.Context, h hypothesis.Hypothesis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.rows[h.ID] = h.Clone()
	return nil
}

func (r *memoryHypothesisRepo) DeleteHypothesis(_ context.Context, id core.HypothesisID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *memoryHypothesisRepo) ListHypotheses(_ context.Context) ([]hypothesis.Hypothesis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]hypothesis.Hypothesis, 0, len(r.rows))
	for _, h := range r.rows {
		out = append(out, h.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// memorySessionRepo is an in-memory ports.SessionTestRepository
type memorySessionRepo struct {
	mu   sync.Mutex
	rows map[core.SessionID][]sessionlog.Record
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{rows: make(map[core.SessionID][]sessionlog.Record)}
}

func (r *memorySessionRepo) AppendTest(_ context.Context, sessionID core.SessionID, rec sessionlog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[sessionID] = append(r.rows[sessionID], rec)
	return nil
}

func (r *memorySessionRepo) SetFlag(_ context.Context, sessionID core.SessionID, id core.SessionTestID, flagged bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows[sessionID] {
		if r.rows[sessionID][i].ID == id {
			r.rows[sessionID][i].Flagged = flagged
		}
	}
	return nil
}

func (r *memorySessionRepo) ListSessionTests(_ context.Context, sessionID core.SessionID) ([]sessionlog.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sessionlog.Record(nil), r.rows[sessionID]...), nil
}

func (r *memorySessionRepo) ListSessions(_ context.Context) ([]core.SessionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []core.SessionID
	for id := range r.rows {
		ids = append(ids, id)
	}
	return ids, nil
}

func ptr[T any](v T) *T { return &v }

func testConfig() ServiceConfig {
	return ServiceConfig{
		DefaultAlpha:  0.05,
		DefaultMethod: stats.MethodHolm,
		FutilityScale: 0.5,
		Parallelism:   3,
		Thresholds:    risk.DefaultThresholds(),
		Clock:         core.SteppingClock(time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC), 5*time.Second),
	}
}

func quietLogger() *internal.Logger {
	return internal.NewLogger(internal.LogLevelError)
}

func newTestService(t *testing.T, notifier ports.RiskNotifier) (*IntegrityService, *memoryHypothesisRepo, *memorySessionRepo) {
	t.Helper()
	hypRepo := newMemoryHypothesisRepo()
	sessRepo := newMemorySessionRepo()
	return NewIntegrityService(testConfig(), hypRepo, sessRepo, notifier, quietLogger()), hypRepo, sessRepo
}

func register(t *testing.T, s *IntegrityService, desc string, p *float64) hypothesis.Hypothesis {
	t.Helper()
	h, err := s.RegisterHypothesis(context.Background(), hypothesis.Fields{Description: desc, Category: hypothesis.CategoryPrimary})
	require.NoError(t, err)
	if p != nil {
		h, err = s.RecordResult(context.Background(), h.ID, *p, nil)
		require.NoError(t, err)
	}
	return h
}

func TestIntegrityService_RegistryPersistsEveryMutation(t *testing.T) {
	s, repo, _ := newTestService(t, nil)
	ctx := context.Background()

	h := register(t, s, "checkout lift", ptr(0.01))
	_, err := s.TagHypothesis(ctx, h.ID, "q3")
	require.NoError(t, err)
	locked, err := s.LockHypothesis(ctx, h.ID)
	require.NoError(t, err)

	stored := repo.rows[h.ID]
	assert.Equal(t, hypothesis.StatusLocked, stored.Status)
	assert.Equal(t, locked.Version, stored.Version)
	assert.Equal(t, []string{"q3"}, stored.Tags)

	_, err = s.UpdateHypothesis(ctx, h.ID, hypothesis.Patch{Description: ptr("rewritten")})
	assert.True(t, core.IsImmutableStateError(err))
	assert.Equal(t, errors.CodeImmutableState, errors.CodeOf(err))

	other := register(t, s, "other", nil)
	require.NoError(t, s.DeleteHypothesis(ctx, other.ID))
	_, ok := repo.rows[other.ID]
	assert.False(t, ok)
}

func TestIntegrityService_PersistFailureIsReported(t *testing.T) {
	s, repo, _ := newTestService(t, nil)
	repo.failErr = stderrors.New("connection refused")

	_, err := s.RegisterHypothesis(context.Background(), hypothesis.Fields{Description: "x", Category: hypothesis.CategoryPrimary})
	require.Error(t, err)
	assert.Equal(t, errors.CodeDatabaseError, errors.GetCode(err))
}

func TestIntegrityService_ComputeCorrectionReportsExclusions(t *testing.T) {
	s, _, _ := newTestService(t, nil)
	a := register(t, s, "a", ptr(0.01))
	b := register(t, s, "b", ptr(0.04))
	c := register(t, s, "c", nil)

	report, err := s.ComputeCorrection([]core.HypothesisID{a.ID, b.ID, c.ID}, stats.MethodHolm, 0.05)
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Equal(t, a.ID, report.Results[0].HypothesisID)
	assert.InDelta(t, 0.02, report.Results[0].AdjustedPValue, 1e-12)
	assert.InDelta(t, 0.04, report.Results[1].AdjustedPValue, 1e-12)
	assert.Equal(t, 2, report.SignificantCount)
	require.Len(t, report.Excluded, 1)
	assert.Equal(t, c.ID, report.Excluded[0].HypothesisID)
	assert.Contains(t, report.Excluded[0].Reason, "no p-value")
	assert.Equal(t, stats.FamilyFWER, report.Family)

	all, err := s.ComputeCorrection(nil, stats.MethodBenjaminiHochberg, 0.05)
	require.NoError(t, err)
	assert.Len(t, all.Results, 2)
	assert.Len(t, all.Excluded, 1)

	_, err = s.ComputeCorrection([]core.HypothesisID{"missing"}, stats.MethodHolm, 0.05)
	assert.True(t, core.IsNotFoundError(err))

	_, err = s.ComputeCorrection([]core.HypothesisID{a.ID, a.ID}, stats.MethodHolm, 0.05)
	assert.True(t, core.IsValidationError(err))

	_, err = s.ComputeCorrection(nil, stats.Method("magic"), 0.05)
	assert.True(t, core.IsUnsupportedMethodError(err))
}

func TestIntegrityService_CorrectAllGroupsMatchesSequential(t *testing.T) {
	s, _, _ := newTestService(t, nil)
	ctx := context.Background()

	ps := map[string][]float64{
		"alpha":   {0.001, 0.02, 0.03},
		"beta":    {0.2, 0.04},
		"gamma":   {0.011, 0.012, 0.013, 0.5},
		"delta":   {0.9},
		"epsilon": {0.03, 0.03},
	}
	for group, values := range ps {
		var ids []core.HypothesisID
		for _, p := range values {
			ids = append(ids, register(t, s, group, ptr(p)).ID)
		}
		_, err := s.GroupHypotheses(ctx, ids, group)
		require.NoError(t, err)
	}

	reports, err := s.CorrectAllGroups(ctx, stats.MethodHochberg, 0.05)
	require.NoError(t, err)
	require.Len(t, reports, len(ps))

	for i, report := range reports {
		if i > 0 {
			assert.Less(t, reports[i-1].Group, report.Group)
		}
		single, err := s.ComputeGroupCorrection(report.Group, stats.MethodHochberg, 0.05)
		require.NoError(t, err)
		assert.Equal(t, single.Results, report.Results, "group %s", report.Group)
	}

	_, err = s.ComputeGroupCorrection("nope", stats.MethodHolm, 0.05)
	assert.True(t, core.IsNotFoundError(err))

	_, err = s.CorrectAllGroups(ctx, stats.MethodHolm, 2)
	assert.True(t, core.IsValidationError(err))
}

func TestIntegrityService_RiskNotificationsOnLevelChange(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("PublishRisk", mock.MatchedBy(func(e ports.RiskEvent) bool {
		return e.SessionID == "lesson-1" && e.Previous == risk.SeverityLow && e.Current == risk.SeverityMedium
	})).Return().Once()
	notifier.On("PublishRisk", mock.MatchedBy(func(e ports.RiskEvent) bool {
		return e.Previous == risk.SeverityMedium && e.Current == risk.SeverityCritical
	})).Return().Once()

	s, _, sessRepo := newTestService(t, notifier)
	ctx := context.Background()

	// entries spaced five minutes apart keep data peeking out of the picture
	base := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		_, err := s.RecordSessionTest(ctx, "lesson-1", sessionlog.Entry{
			TestType:  "t_test",
			Variables: []string{"arm", "revenue"},
			PValue:    ptr(0.3),
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
		})
		require.NoError(t, err)
	}

	notifier.AssertExpectations(t)
	assert.Len(t, sessRepo.rows["lesson-1"], 12)

	assessment, err := s.AssessRisk("lesson-1")
	require.NoError(t, err)
	assert.Equal(t, risk.SeverityCritical, assessment.RiskLevel)
	assert.Equal(t, 6, assessment.Score)
}

// eventLog records risk events in publish order.
type eventLog struct {
	mu     sync.Mutex
	events []ports.RiskEvent
}

func (l *eventLog) PublishRisk(event ports.RiskEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func TestIntegrityService_ConcurrentAppendsKeepRiskOrder(t *testing.T) {
	events := &eventLog{}
	s, _, _ := newTestService(t, events)
	ctx := context.Background()

	base := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.RecordSessionTest(ctx, "busy", sessionlog.Entry{
				TestType:  "t_test",
				Variables: []string{"arm", "revenue"},
				PValue:    ptr(0.3),
				Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assessment, err := s.AssessRisk("busy")
	require.NoError(t, err)
	assert.Equal(t, risk.SeverityCritical, assessment.RiskLevel)

	s.levelsMu.Lock()
	stored := s.levels["busy"]
	s.levelsMu.Unlock()
	assert.Equal(t, assessment.RiskLevel, stored)

	require.NotEmpty(t, events.events)
	previous := risk.SeverityLow
	var lastSeq int64
	for _, e := range events.events {
		assert.Equal(t, previous, e.Previous, "events must chain")
		assert.NotEqual(t, e.Previous, e.Current)
		assert.Greater(t, e.Sequence, lastSeq)
		previous, lastSeq = e.Current, e.Sequence
	}
	assert.Equal(t, stored, previous)
}

func TestIntegrityService_SessionOperations(t *testing.T) {
	s, _, sessRepo := newTestService(t, nil)
	ctx := context.Background()

	rec, err := s.RecordSessionTest(ctx, "s1", sessionlog.Entry{TestType: "anova", PValue: ptr(0.02)})
	require.NoError(t, err)

	flagged, err := s.FlagSessionTest(ctx, "s1", rec.ID, true)
	require.NoError(t, err)
	assert.True(t, flagged.Flagged)
	assert.True(t, sessRepo.rows["s1"][0].Flagged)

	_, err = s.FlagSessionTest(ctx, "unknown", rec.ID, true)
	assert.True(t, core.IsNotFoundError(err))

	_, err = s.RecordSessionTest(ctx, "s1", sessionlog.Entry{TestType: "", PValue: ptr(0.02)})
	assert.True(t, core.IsValidationError(err))

	records, err := s.SessionTests("s1")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	empty, err := s.AssessRisk("never-seen")
	require.NoError(t, err)
	assert.Equal(t, risk.SeverityLow, empty.RiskLevel)

	_, err = s.AssessRisk("")
	assert.True(t, core.IsValidationError(err))

	snap, err := s.ExportSessionSnapshot("s1")
	require.NoError(t, err)
	assert.Len(t, snap.Records, 1)
	_, err = s.ExportSessionSnapshot("unknown")
	assert.True(t, core.IsNotFoundError(err))
}

func TestIntegrityService_RestoreFromRepositories(t *testing.T) {
	s, hypRepo, sessRepo := newTestService(t, nil)
	ctx := context.Background()

	h := register(t, s, "a", ptr(0.02))
	_, err := s.LockHypothesis(ctx, h.ID)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.RecordSessionTest(ctx, "s1", sessionlog.Entry{TestType: "t", PValue: ptr(0.5)})
		require.NoError(t, err)
	}
	before, err := s.ExportRegistrySnapshot()
	require.NoError(t, err)
	beforeSession, err := s.ExportSessionSnapshot("s1")
	require.NoError(t, err)

	restarted := NewIntegrityService(testConfig(), hypRepo, sessRepo, nil, quietLogger())
	require.NoError(t, restarted.Restore(ctx))

	after, err := restarted.ExportRegistrySnapshot()
	require.NoError(t, err)
	assert.Equal(t, before.Fingerprint, after.Fingerprint)

	afterSession, err := restarted.ExportSessionSnapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, beforeSession.Fingerprint, afterSession.Fingerprint)

	err = restarted.DeleteHypothesis(ctx, h.ID)
	assert.True(t, core.IsImmutableStateError(err))
}

func TestIntegrityService_BuildReport(t *testing.T) {
	s, _, _ := newTestService(t, nil)
	ctx := context.Background()
	a := register(t, s, "a", ptr(0.01))
	register(t, s, "b", nil)
	_, err := s.GroupHypotheses(ctx, []core.HypothesisID{a.ID}, "primary-family")
	require.NoError(t, err)
	_, err = s.RecordSessionTest(ctx, "s1", sessionlog.Entry{TestType: "t", PValue: ptr(0.01)})
	require.NoError(t, err)

	report, err := s.BuildReport(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, report.Registry.Hypotheses, 2)
	assert.Len(t, report.Correction.Results, 1)
	assert.Len(t, report.Correction.Excluded, 1)
	require.Len(t, report.Groups, 1)
	assert.Equal(t, "primary-family", report.Groups[0].Group)
	require.NotNil(t, report.Session)
	require.NotNil(t, report.Risk)
	assert.Equal(t, risk.SeverityLow, report.Risk.RiskLevel)

	registryOnly, err := s.BuildReport(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, registryOnly.Session)

	_, err = s.BuildReport(ctx, "missing")
	assert.True(t, core.IsNotFoundError(err))
}

func TestIntegrityService_SequentialBoundaries(t *testing.T) {
	s, _, _ := newTestService(t, nil)
	looks, err := s.ComputeSequentialBoundaries(stats.SequentialPlan{
		TotalAlpha:       0.05,
		Looks:            3,
		SpendingFunction: stats.SpendingPocock,
		FutilityScale:    0.5,
	})
	require.NoError(t, err)
	require.Len(t, looks, 3)
	assert.InDelta(t, 0.05, looks[2].CumulativeAlphaSpent, 1e-9)
}
