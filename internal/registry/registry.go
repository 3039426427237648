// Package registry holds the canonical hypothesis records and enforces their
// lifecycle. All reads return copies.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"hypoguard/domain/core"
	"hypoguard/domain/hypothesis"
)

// Registry is an in-memory hypothesis store safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	byID  map[core.HypothesisID]*hypothesis.Hypothesis
	order []core.HypothesisID
	clock core.Clock
}

// New creates an empty registry. A nil clock uses core.SystemClock.
func New(clock core.Clock) *Registry {
	if clock == nil {
		clock = core.SystemClock
	}
	return &Registry{
		byID:  make(map[core.HypothesisID]*hypothesis.Hypothesis),
		clock: clock,
	}
}

// Snapshot is a read-only copy of the registry contents.
type Snapshot struct {
	Hypotheses  []hypothesis.Hypothesis `json:"hypotheses"`
	TakenAt     time.Time               `json:"taken_at"`
	Fingerprint core.Hash               `json:"fingerprint"`
}

// Register validates fields and stores a new REGISTERED hypothesis.
func (r *Registry) Register(fields hypothesis.Fields) (hypothesis.Hypothesis, error) {
	if err := fields.Validate(); err != nil {
		return hypothesis.Hypothesis{}, err
	}
	category, _ := hypothesis.ParseCategory(string(fields.Category))
	now := r.clock()

	h := hypothesis.Hypothesis{
		ID:                   core.NewHypothesisID(),
		Description:          strings.TrimSpace(fields.Description),
		NullStatement:        fields.NullStatement,
		AlternativeStatement: fields.AlternativeStatement,
		Category:             category,
		Tags:                 hypothesis.NormalizeTags(fields.Tags),
		TestType:             fields.TestType,
		Status:               hypothesis.StatusRegistered,
		PreRegistered:        fields.PreRegistered,
		RegistrationURL:      fields.RegistrationURL,
		Timestamp:            now,
		UpdatedAt:            now,
		Version:              1,
	}
	h = h.Clone()
	if fields.PValue != nil {
		p := *fields.PValue
		h.PValue = &p
	}
	if fields.EffectSize != nil {
		e := *fields.EffectSize
		h.EffectSize = &e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[h.ID] = &h
	r.order = append(r.order, h.ID)
	return h.Clone(), nil
}

// Get returns a copy of the hypothesis with id.
func (r *Registry) Get(id core.HypothesisID) (hypothesis.Hypothesis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byID[id]
	if !ok {
		return hypothesis.Hypothesis{}, notFound(id)
	}
	return h.Clone(), nil
}

// List returns copies of all hypotheses matching filter, in priority order.
func (r *Registry) List(filter hypothesis.Filter) []hypothesis.Hypothesis {
	r.mu.RLock()
	out := make([]hypothesis.Hypothesis, 0, len(r.order))
	for _, id := range r.order {
		h := r.byID[id]
		if filter.Matches(*h) {
			out = append(out, h.Clone())
		}
	}
	r.mu.RUnlock()
	hypothesis.SortByPriority(out)
	return out
}

// Len returns the number of stored hypotheses.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Groups returns the distinct non-empty group names, sorted.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, h := range r.byID {
		if h.Group != "" {
			seen[h.Group] = struct{}{}
		}
	}
	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// mutate applies fn to a working copy of the hypothesis. fn reports whether
// it changed anything; unchanged records keep their version.
func (r *Registry) mutate(id core.HypothesisID, fn func(h *hypothesis.Hypothesis) (bool, error)) (hypothesis.Hypothesis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[id]
	if !ok {
		return hypothesis.Hypothesis{}, notFound(id)
	}
	if stored.Locked() {
		return hypothesis.Hypothesis{}, core.NewImmutableStateError("hypothesis", string(id))
	}

	work := stored.Clone()
	changed, err := fn(&work)
	if err != nil {
		return hypothesis.Hypothesis{}, err
	}
	if changed {
		work.Version = stored.Version + 1
		work.UpdatedAt = r.clock()
		r.byID[id] = &work
	}
	return r.byID[id].Clone(), nil
}

// Update applies a partial edit. Locked hypotheses are immutable.
func (r *Registry) Update(id core.HypothesisID, patch hypothesis.Patch) (hypothesis.Hypothesis, error) {
	if err := patch.Validate(); err != nil {
		return hypothesis.Hypothesis{}, err
	}
	return r.mutate(id, func(h *hypothesis.Hypothesis) (bool, error) {
		changed := false
		setString := func(dst *string, src *string) {
			if src != nil && *dst != *src {
				*dst = *src
				changed = true
			}
		}
		setFloat := func(dst **float64, src *float64) {
			if src == nil {
				return
			}
			if *dst == nil || **dst != *src {
				v := *src
				*dst = &v
				changed = true
			}
		}

		if patch.Description != nil {
			d := strings.TrimSpace(*patch.Description)
			setString(&h.Description, &d)
		}
		setString(&h.NullStatement, patch.NullStatement)
		setString(&h.AlternativeStatement, patch.AlternativeStatement)
		setString(&h.TestType, patch.TestType)
		setString(&h.RegistrationURL, patch.RegistrationURL)
		if patch.Category != nil {
			c, _ := hypothesis.ParseCategory(string(*patch.Category))
			if h.Category != c {
				h.Category = c
				changed = true
			}
		}
		setFloat(&h.PValue, patch.PValue)
		setFloat(&h.EffectSize, patch.EffectSize)
		if patch.PreRegistered != nil && h.PreRegistered != *patch.PreRegistered {
			h.PreRegistered = *patch.PreRegistered
			changed = true
		}
		return changed, nil
	})
}

// Lock freezes the hypothesis permanently.
func (r *Registry) Lock(id core.HypothesisID) (hypothesis.Hypothesis, error) {
	return r.transition(id, hypothesis.StatusLocked)
}

// StartTesting moves a REGISTERED hypothesis to TESTING.
func (r *Registry) StartTesting(id core.HypothesisID) (hypothesis.Hypothesis, error) {
	return r.transition(id, hypothesis.StatusTesting)
}

// Flag marks the hypothesis as questionable.
func (r *Registry) Flag(id core.HypothesisID) (hypothesis.Hypothesis, error) {
	return r.transition(id, hypothesis.StatusFlagged)
}

// Unflag returns a FLAGGED hypothesis to TESTED when it has a p-value and to
// REGISTERED otherwise.
func (r *Registry) Unflag(id core.HypothesisID) (hypothesis.Hypothesis, error) {
	return r.mutate(id, func(h *hypothesis.Hypothesis) (bool, error) {
		if h.Status != hypothesis.StatusFlagged {
			return false, core.NewTransitionError(string(h.Status), "unflagged")
		}
		h.Status = hypothesis.StatusRegistered
		if h.Tested() {
			h.Status = hypothesis.StatusTested
		}
		return true, nil
	})
}

// RecordResult stores the test outcome and moves the hypothesis to TESTED.
func (r *Registry) RecordResult(id core.HypothesisID, p float64, effect *float64) (hypothesis.Hypothesis, error) {
	if err := hypothesis.ValidatePValue(&p); err != nil {
		return hypothesis.Hypothesis{}, err
	}
	if err := hypothesis.ValidateEffectSize(effect); err != nil {
		return hypothesis.Hypothesis{}, err
	}
	return r.mutate(id, func(h *hypothesis.Hypothesis) (bool, error) {
		if !hypothesis.CanTransition(h.Status, hypothesis.StatusTested) {
			return false, core.NewTransitionError(string(h.Status), string(hypothesis.StatusTested))
		}
		h.PValue = &p
		if effect != nil {
			e := *effect
			h.EffectSize = &e
		}
		h.Status = hypothesis.StatusTested
		return true, nil
	})
}

func (r *Registry) transition(id core.HypothesisID, to hypothesis.Status) (hypothesis.Hypothesis, error) {
	return r.mutate(id, func(h *hypothesis.Hypothesis) (bool, error) {
		if !hypothesis.CanTransition(h.Status, to) {
			return false, core.NewTransitionError(string(h.Status), string(to))
		}
		if to == hypothesis.StatusTested && !h.Tested() {
			return false, core.NewValidationError("p_value", "required before a hypothesis can be TESTED")
		}
		h.Status = to
		return true, nil
	})
}

// Tag attaches tag. Re-adding an existing tag is a no-op.
func (r *Registry) Tag(id core.HypothesisID, tag string) (hypothesis.Hypothesis, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return hypothesis.Hypothesis{}, core.NewValidationError("tag", "cannot be blank")
	}
	return r.mutate(id, func(h *hypothesis.Hypothesis) (bool, error) {
		if h.HasTag(tag) {
			return false, nil
		}
		h.Tags = hypothesis.NormalizeTags(append(h.Tags, tag))
		return true, nil
	})
}

// Untag removes tag. Removing an absent tag is a no-op.
func (r *Registry) Untag(id core.HypothesisID, tag string) (hypothesis.Hypothesis, error) {
	tag = strings.TrimSpace(tag)
	return r.mutate(id, func(h *hypothesis.Hypothesis) (bool, error) {
		if !h.HasTag(tag) {
			return false, nil
		}
		kept := h.Tags[:0]
		for _, t := range h.Tags {
			if t != tag {
				kept = append(kept, t)
			}
		}
		h.Tags = kept
		return true, nil
	})
}

// Group assigns every id to group. Either all hypotheses are updated or none:
// unknown ids, locked members and duplicates fail the whole call.
func (r *Registry) Group(ids []core.HypothesisID, group string) ([]hypothesis.Hypothesis, error) {
	group = strings.TrimSpace(group)
	if group == "" {
		return nil, core.NewValidationError("group", "name is required")
	}
	if len(ids) == 0 {
		return nil, core.NewValidationError("ids", "at least one hypothesis is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[core.HypothesisID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, core.NewValidationError("ids", fmt.Sprintf("duplicate hypothesis %s", id))
		}
		seen[id] = struct{}{}
		h, ok := r.byID[id]
		if !ok {
			return nil, notFound(id)
		}
		if h.Locked() && h.Group != group {
			return nil, core.NewImmutableStateError("hypothesis", string(id))
		}
	}

	now := r.clock()
	out := make([]hypothesis.Hypothesis, 0, len(ids))
	for _, id := range ids {
		h := r.byID[id]
		if h.Group != group {
			work := h.Clone()
			work.Group = group
			work.Version++
			work.UpdatedAt = now
			r.byID[id] = &work
		}
		out = append(out, r.byID[id].Clone())
	}
	return out, nil
}

// Delete removes a hypothesis. Locked hypotheses cannot be deleted.
func (r *Registry) Delete(id core.HypothesisID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byID[id]
	if !ok {
		return notFound(id)
	}
	if h.Locked() {
		return core.NewImmutableStateError("hypothesis", string(id))
	}
	delete(r.byID, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Snapshot copies the registry in registration order and fingerprints it.
func (r *Registry) Snapshot() (Snapshot, error) {
	r.mu.RLock()
	hs := make([]hypothesis.Hypothesis, 0, len(r.order))
	for _, id := range r.order {
		hs = append(hs, r.byID[id].Clone())
	}
	r.mu.RUnlock()

	fp, err := core.Fingerprint(hs)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fingerprint registry: %w", err)
	}
	return Snapshot{Hypotheses: hs, TakenAt: r.clock(), Fingerprint: fp}, nil
}

// Restore replaces the registry contents with hs. Records are validated
// before anything is replaced.
func (r *Registry) Restore(hs []hypothesis.Hypothesis) error {
	byID := make(map[core.HypothesisID]*hypothesis.Hypothesis, len(hs))
	order := make([]core.HypothesisID, 0, len(hs))
	for _, h := range hs {
		if h.ID == "" {
			return core.NewValidationError("id", "restored hypothesis has no id")
		}
		if _, dup := byID[h.ID]; dup {
			return core.NewValidationError("id", fmt.Sprintf("duplicate hypothesis %s", h.ID))
		}
		if !h.Category.Valid() {
			return core.NewValidationError("category", fmt.Sprintf("hypothesis %s has unknown category %q", h.ID, h.Category))
		}
		if _, ok := hypothesisStatuses[h.Status]; !ok {
			return core.NewValidationError("status", fmt.Sprintf("hypothesis %s has unknown status %q", h.ID, h.Status))
		}
		if err := hypothesis.ValidatePValue(h.PValue); err != nil {
			return err
		}
		c := h.Clone()
		if c.Version < 1 {
			c.Version = 1
		}
		byID[c.ID] = &c
		order = append(order, c.ID)
	}

	r.mu.Lock()
	r.byID = byID
	r.order = order
	r.mu.Unlock()
	return nil
}

var hypothesisStatuses = map[hypothesis.Status]struct{}{
	hypothesis.StatusRegistered: {},
	hypothesis.StatusTesting:    {},
	hypothesis.StatusTested:     {},
	hypothesis.StatusLocked:     {},
	hypothesis.StatusFlagged:    {},
}

func notFound(id core.HypothesisID) error {
	return fmt.Errorf("%w with id %s", core.ErrHypothesisNotFound, id)
}
