package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypoguard/domain/core"
	"hypoguard/domain/hypothesis"
)

func ptr[T any](v T) *T { return &v }

func newTestRegistry() *Registry {
	return New(core.SteppingClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), time.Second))
}

func mustRegister(t *testing.T, r *Registry, desc string, category hypothesis.Category) hypothesis.Hypothesis {
	t.Helper()
	h, err := r.Register(hypothesis.Fields{Description: desc, Category: category})
	require.NoError(t, err)
	return h
}

func TestRegister(t *testing.T) {
	r := newTestRegistry()
	h, err := r.Register(hypothesis.Fields{
		Description: "  conversion differs by variant ",
		Category:    "Primary",
		Tags:        []string{"ab", "ab", " pricing"},
		PValue:      ptr(0.03),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, h.ID)
	assert.Equal(t, "conversion differs by variant", h.Description)
	assert.Equal(t, hypothesis.CategoryPrimary, h.Category)
	assert.Equal(t, hypothesis.StatusRegistered, h.Status)
	assert.Equal(t, []string{"ab", "pricing"}, h.Tags)
	assert.Equal(t, 1, h.Version)
	assert.Equal(t, h.Timestamp, h.UpdatedAt)
	require.NotNil(t, h.PValue)
	assert.Equal(t, 0.03, *h.PValue)
}

func TestRegister_ValidationErrors(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Register(hypothesis.Fields{Category: hypothesis.CategoryPrimary})
	assert.True(t, core.IsValidationError(err))

	_, err = r.Register(hypothesis.Fields{Description: "x"})
	assert.True(t, core.IsValidationError(err))
	assert.Equal(t, 0, r.Len())
}

func TestGet_ReturnsCopies(t *testing.T) {
	r := newTestRegistry()
	h, err := r.Register(hypothesis.Fields{Description: "x", Category: hypothesis.CategoryPrimary, Tags: []string{"a"}, PValue: ptr(0.2)})
	require.NoError(t, err)

	h.Tags[0] = "mutated"
	*h.PValue = 0.9

	stored, err := r.Get(h.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, stored.Tags)
	assert.Equal(t, 0.2, *stored.PValue)

	_, err = r.Get("missing")
	assert.True(t, core.IsNotFoundError(err))
	assert.ErrorIs(t, err, core.ErrHypothesisNotFound)
	assert.Contains(t, err.Error(), "missing")
}

func TestUpdate(t *testing.T) {
	r := newTestRegistry()
	h := mustRegister(t, r, "x", hypothesis.CategoryExploratory)

	updated, err := r.Update(h.ID, hypothesis.Patch{
		TestType: ptr("welch_t"),
		Category: ptr(hypothesis.CategorySecondary),
	})
	require.NoError(t, err)
	assert.Equal(t, "welch_t", updated.TestType)
	assert.Equal(t, hypothesis.CategorySecondary, updated.Category)
	assert.Equal(t, 2, updated.Version)
	assert.True(t, updated.UpdatedAt.After(updated.Timestamp))

	same, err := r.Update(h.ID, hypothesis.Patch{TestType: ptr("welch_t")})
	require.NoError(t, err)
	assert.Equal(t, 2, same.Version, "no-op edits keep the version")

	_, err = r.Update(h.ID, hypothesis.Patch{PValue: ptr(2.0)})
	assert.True(t, core.IsValidationError(err))
}

func TestLockLifecycle(t *testing.T) {
	r := newTestRegistry()
	locked := mustRegister(t, r, "primary outcome", hypothesis.CategoryPrimary)
	other := mustRegister(t, r, "secondary outcome", hypothesis.CategorySecondary)

	got, err := r.Lock(locked.ID)
	require.NoError(t, err)
	assert.Equal(t, hypothesis.StatusLocked, got.Status)

	_, err = r.Update(locked.ID, hypothesis.Patch{Description: ptr("rewritten")})
	assert.True(t, core.IsImmutableStateError(err))

	err = r.Delete(locked.ID)
	assert.True(t, core.IsImmutableStateError(err))

	_, err = r.Tag(locked.ID, "late")
	assert.True(t, core.IsImmutableStateError(err))

	_, err = r.Lock(locked.ID)
	assert.True(t, core.IsImmutableStateError(err))

	stillLocked, err := r.Get(locked.ID)
	require.NoError(t, err)
	assert.Equal(t, "primary outcome", stillLocked.Description)
	assert.Equal(t, got.Version, stillLocked.Version)

	// other hypotheses are unaffected
	edited, err := r.Update(other.ID, hypothesis.Patch{Description: ptr("edited")})
	require.NoError(t, err)
	assert.Equal(t, "edited", edited.Description)
	require.NoError(t, r.Delete(other.ID))
	assert.Equal(t, 1, r.Len())
}

func TestStatusTransitions(t *testing.T) {
	r := newTestRegistry()
	h := mustRegister(t, r, "x", hypothesis.CategoryPrimary)

	h, err := r.StartTesting(h.ID)
	require.NoError(t, err)
	assert.Equal(t, hypothesis.StatusTesting, h.Status)

	h, err = r.RecordResult(h.ID, 0.012, ptr(0.4))
	require.NoError(t, err)
	assert.Equal(t, hypothesis.StatusTested, h.Status)
	assert.Equal(t, 0.012, *h.PValue)
	assert.Equal(t, 0.4, *h.EffectSize)

	_, err = r.RecordResult(h.ID, 0.001, nil)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	_, err = r.StartTesting(h.ID)
	assert.True(t, core.IsValidationError(err))

	h, err = r.Flag(h.ID)
	require.NoError(t, err)
	assert.Equal(t, hypothesis.StatusFlagged, h.Status)

	h, err = r.Unflag(h.ID)
	require.NoError(t, err)
	assert.Equal(t, hypothesis.StatusTested, h.Status)

	_, err = r.Unflag(h.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	untested := mustRegister(t, r, "y", hypothesis.CategoryExploratory)
	_, err = r.Flag(untested.ID)
	require.NoError(t, err)
	back, err := r.Unflag(untested.ID)
	require.NoError(t, err)
	assert.Equal(t, hypothesis.StatusRegistered, back.Status)

	_, err = r.RecordResult(untested.ID, 1.5, nil)
	assert.True(t, core.IsValidationError(err))
}

func TestTagUntag(t *testing.T) {
	r := newTestRegistry()
	h := mustRegister(t, r, "x", hypothesis.CategoryPrimary)

	h, err := r.Tag(h.ID, "retention")
	require.NoError(t, err)
	assert.Equal(t, []string{"retention"}, h.Tags)
	assert.Equal(t, 2, h.Version)

	h, err = r.Tag(h.ID, "retention")
	require.NoError(t, err)
	assert.Equal(t, 2, h.Version)

	h, err = r.Untag(h.ID, "retention")
	require.NoError(t, err)
	assert.Empty(t, h.Tags)
	assert.Equal(t, 3, h.Version)

	_, err = r.Tag(h.ID, " ")
	assert.True(t, core.IsValidationError(err))
}

func TestGroup_IsAtomic(t *testing.T) {
	r := newTestRegistry()
	a := mustRegister(t, r, "a", hypothesis.CategoryPrimary)
	b := mustRegister(t, r, "b", hypothesis.CategoryPrimary)
	c := mustRegister(t, r, "c", hypothesis.CategoryPrimary)
	_, err := r.Lock(c.ID)
	require.NoError(t, err)

	_, err = r.Group([]core.HypothesisID{a.ID, b.ID, c.ID}, "family-1")
	assert.True(t, core.IsImmutableStateError(err))

	_, err = r.Group([]core.HypothesisID{a.ID, "missing"}, "family-1")
	assert.ErrorIs(t, err, core.ErrHypothesisNotFound)

	_, err = r.Group([]core.HypothesisID{a.ID, a.ID}, "family-1")
	assert.True(t, core.IsValidationError(err))

	for _, id := range []core.HypothesisID{a.ID, b.ID} {
		h, err := r.Get(id)
		require.NoError(t, err)
		assert.Empty(t, h.Group, "failed group call must not touch %s", id)
	}

	grouped, err := r.Group([]core.HypothesisID{a.ID, b.ID}, "family-1")
	require.NoError(t, err)
	require.Len(t, grouped, 2)
	for _, h := range grouped {
		assert.Equal(t, "family-1", h.Group)
		assert.Equal(t, 2, h.Version)
	}
	assert.Equal(t, []string{"family-1"}, r.Groups())
	assert.Len(t, r.List(hypothesis.Filter{Group: "family-1"}), 2)

	_, err = r.Group([]core.HypothesisID{a.ID}, "")
	assert.True(t, core.IsValidationError(err))
}

func TestList_PriorityOrder(t *testing.T) {
	r := newTestRegistry()
	mustRegister(t, r, "post hoc", hypothesis.CategoryPostHoc)
	mustRegister(t, r, "exploratory", hypothesis.CategoryExploratory)
	mustRegister(t, r, "primary", hypothesis.CategoryPrimary)
	mustRegister(t, r, "confirmatory", hypothesis.CategoryConfirmatory)

	var got []string
	for _, h := range r.List(hypothesis.Filter{}) {
		got = append(got, h.Description)
	}
	assert.Equal(t, []string{"primary", "confirmatory", "exploratory", "post hoc"}, got)
}

func TestSnapshotRestore(t *testing.T) {
	r := newTestRegistry()
	a := mustRegister(t, r, "a", hypothesis.CategoryPrimary)
	mustRegister(t, r, "b", hypothesis.CategorySecondary)
	_, err := r.Lock(a.ID)
	require.NoError(t, err)

	snap, err := r.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Hypotheses, 2)
	assert.False(t, snap.Fingerprint.IsEmpty())

	again, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, snap.Fingerprint, again.Fingerprint)

	restored := newTestRegistry()
	require.NoError(t, restored.Restore(snap.Hypotheses))
	got, err := restored.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, hypothesis.StatusLocked, got.Status)

	restoredSnap, err := restored.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, snap.Fingerprint, restoredSnap.Fingerprint)

	dup := []hypothesis.Hypothesis{snap.Hypotheses[0], snap.Hypotheses[0]}
	assert.True(t, core.IsValidationError(restored.Restore(dup)))
	assert.Equal(t, 2, restored.Len(), "failed restore keeps previous contents")
}

func TestConcurrentWriters(t *testing.T) {
	r := New(nil)
	h := mustRegister(t, r, "shared", hypothesis.CategoryPrimary)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = r.Register(hypothesis.Fields{Description: "x", Category: hypothesis.CategoryExploratory})
			_, _ = r.Tag(h.ID, "t")
			_ = r.List(hypothesis.Filter{})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 51, r.Len())
	got, err := r.Get(h.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
}
