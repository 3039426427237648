package sessionlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypoguard/domain/core"
)

var t0 = time.Date(2024, 5, 2, 14, 0, 0, 0, time.UTC)

func pv(v float64) *float64 { return &v }

func TestLog_AppendAssignsSequenceAndTimestamp(t *testing.T) {
	l := NewLog("s1", nil, core.SteppingClock(t0, 30*time.Second))

	first, err := l.Append(Entry{TestType: " t_test ", Variables: []string{"group", "score"}, PValue: pv(0.04)})
	require.NoError(t, err)
	second, err := l.Append(Entry{TestType: "chi_square", PValue: pv(0.5), CorrectionMethod: "BH", Corrected: true})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, int64(2), second.Sequence)
	assert.Equal(t, "t_test", first.TestType)
	assert.Equal(t, t0, first.Timestamp)
	assert.Equal(t, t0.Add(30*time.Second), second.Timestamp)
	assert.Equal(t, "benjamini_hochberg", second.CorrectionMethod)
	assert.Equal(t, []string{}, second.Variables)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "t_test|group,score", first.Key())
}

func TestLog_AppendKeepsCallerTimestamp(t *testing.T) {
	l := NewLog("s1", nil, core.FixedClock(t0))
	at := t0.Add(-time.Hour)
	rec, err := l.Append(Entry{TestType: "anova", PValue: pv(0.2), Timestamp: at})
	require.NoError(t, err)
	assert.Equal(t, at, rec.Timestamp)
}

func TestLog_AppendValidation(t *testing.T) {
	l := NewLog("s1", nil, nil)
	tests := []struct {
		name  string
		entry Entry
		check func(error) bool
	}{
		{"missing test type", Entry{PValue: pv(0.1)}, core.IsValidationError},
		{"missing p value", Entry{TestType: "t", Variables: []string{"a", "b"}}, core.IsValidationError},
		{"p out of range", Entry{TestType: "t", PValue: pv(1.2)}, core.IsValidationError},
		{"unknown correction", Entry{TestType: "t", PValue: pv(0.1), CorrectionMethod: "magic"}, core.IsUnsupportedMethodError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Append(tt.entry)
			assert.True(t, tt.check(err), "got %v", err)
		})
	}
	assert.Equal(t, 0, l.Len())
}

func TestLog_OnlyFlagChanges(t *testing.T) {
	l := NewLog("s1", nil, core.FixedClock(t0))
	rec, err := l.Append(Entry{TestType: "t", Variables: []string{"a"}, PValue: pv(0.01)})
	require.NoError(t, err)

	flagged, err := l.SetFlag(rec.ID, true)
	require.NoError(t, err)
	assert.True(t, flagged.Flagged)

	rec.Flagged = true
	assert.Equal(t, rec, flagged)

	_, err = l.SetFlag("missing", true)
	assert.True(t, core.IsNotFoundError(err))
	_, err = l.Get("missing")
	assert.True(t, core.IsNotFoundError(err))
}

func TestLog_RecordsAreCopies(t *testing.T) {
	l := NewLog("s1", nil, core.FixedClock(t0))
	vars := []string{"a", "b"}
	_, err := l.Append(Entry{TestType: "t", Variables: vars, PValue: pv(0.01)})
	require.NoError(t, err)
	vars[0] = "changed"

	records := l.Records()
	records[0].Variables[1] = "changed"
	records[0].PValue = 0.9

	again := l.Records()
	assert.Equal(t, []string{"a", "b"}, again[0].Variables)
	assert.Equal(t, 0.01, again[0].PValue)
}

func TestLog_SnapshotAndRestore(t *testing.T) {
	m := NewManager(core.SteppingClock(t0, time.Second))
	src, err := m.Open("lesson-3")
	require.NoError(t, err)
	for _, p := range []float64{0.2, 0.01, 0.03} {
		_, err := src.Append(Entry{TestType: "t", PValue: pv(p)})
		require.NoError(t, err)
	}
	snap, err := src.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, core.SessionID("lesson-3"), snap.SessionID)
	assert.Len(t, snap.Records, 3)
	assert.False(t, snap.Fingerprint.IsEmpty())

	// persisted rows may come back in any order
	shuffled := []Record{snap.Records[2], snap.Records[0], snap.Records[1]}
	other := NewManager(nil)
	require.NoError(t, other.Restore("lesson-3", shuffled))

	restored, ok := other.Lookup("lesson-3")
	require.True(t, ok)
	restoredSnap, err := restored.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, snap.Fingerprint, restoredSnap.Fingerprint)

	next, err := restored.Append(Entry{TestType: "t", PValue: pv(0.5)})
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.Sequence)

	err = restored.Restore(snap.Records)
	assert.True(t, core.IsValidationError(err), "restoring into a non-empty log must fail")
}

func TestManager_SessionsShareSequencer(t *testing.T) {
	m := NewManager(nil)
	a, err := m.Open("a")
	require.NoError(t, err)
	b, err := m.Open("b")
	require.NoError(t, err)

	ra, err := a.Append(Entry{TestType: "t", PValue: pv(0.1)})
	require.NoError(t, err)
	rb, err := b.Append(Entry{TestType: "t", PValue: pv(0.1)})
	require.NoError(t, err)
	assert.Less(t, ra.Sequence, rb.Sequence)

	same, err := m.Open("a")
	require.NoError(t, err)
	assert.Same(t, a, same)
	assert.Equal(t, []core.SessionID{"a", "b"}, m.Sessions())

	_, err = m.Open(" ")
	assert.True(t, core.IsValidationError(err))
	_, ok := m.Lookup("c")
	assert.False(t, ok)
}
