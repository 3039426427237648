package ui

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"hypoguard/domain/core"
	"hypoguard/domain/hypothesis"
)

func hypothesisID(r *http.Request) core.HypothesisID {
	return core.HypothesisID(chi.URLParam(r, "id"))
}

func (a *App) handleRegisterHypothesis(w http.ResponseWriter, r *http.Request) {
	var fields hypothesis.Fields
	if err := decodeJSON(w, r, &fields); err != nil {
		a.writeError(w, r, err)
		return
	}
	h, err := a.service.RegisterHypothesis(r.Context(), fields)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

// handleListHypotheses supports group, tag, status and category filters
func (a *App) handleListHypotheses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := hypothesis.Filter{Group: q.Get("group"), Tag: q.Get("tag")}
	if raw := q.Get("status"); raw != "" {
		status, err := hypothesis.ParseStatus(raw)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		filter.Status = status
	}
	if raw := q.Get("category"); raw != "" {
		category, err := hypothesis.ParseCategory(raw)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		filter.Category = category
	}

	hs := a.service.ListHypotheses(filter)
	writeJSON(w, http.StatusOK, map[string]interface{}{"hypotheses": hs, "count": len(hs)})
}

func (a *App) handleGetHypothesis(w http.ResponseWriter, r *http.Request) {
	h, err := a.service.GetHypothesis(hypothesisID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hypothesisView{Hypothesis: h, Advisories: h.Advisories()})
}

type hypothesisView struct {
	hypothesis.Hypothesis
	Advisories []string `json:"advisories,omitempty"`
}

func (a *App) handleUpdateHypothesis(w http.ResponseWriter, r *http.Request) {
	var patch hypothesis.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.respond(w, r, http.StatusOK)(a.service.UpdateHypothesis(r.Context(), hypothesisID(r), patch))
}

func (a *App) handleDeleteHypothesis(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteHypothesis(r.Context(), hypothesisID(r)); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleLockHypothesis(w http.ResponseWriter, r *http.Request) {
	a.respond(w, r, http.StatusOK)(a.service.LockHypothesis(r.Context(), hypothesisID(r)))
}

type tagRequest struct {
	Tag string `json:"tag"`
}

func (a *App) handleTagHypothesis(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.respond(w, r, http.StatusOK)(a.service.TagHypothesis(r.Context(), hypothesisID(r), req.Tag))
}

func (a *App) handleUntagHypothesis(w http.ResponseWriter, r *http.Request) {
	a.respond(w, r, http.StatusOK)(a.service.UntagHypothesis(r.Context(), hypothesisID(r), chi.URLParam(r, "tag")))
}

func (a *App) handleStartTesting(w http.ResponseWriter, r *http.Request) {
	a.respond(w, r, http.StatusOK)(a.service.StartTesting(r.Context(), hypothesisID(r)))
}

type resultRequest struct {
	PValue     *float64 `json:"p_value"`
	EffectSize *float64 `json:"effect_size"`
}

func (a *App) handleRecordResult(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.PValue == nil {
		a.writeError(w, r, core.NewValidationError("p_value", "is required"))
		return
	}
	a.respond(w, r, http.StatusOK)(a.service.RecordResult(r.Context(), hypothesisID(r), *req.PValue, req.EffectSize))
}

func (a *App) handleFlagHypothesis(w http.ResponseWriter, r *http.Request) {
	a.respond(w, r, http.StatusOK)(a.service.FlagHypothesis(r.Context(), hypothesisID(r)))
}

func (a *App) handleUnflagHypothesis(w http.ResponseWriter, r *http.Request) {
	a.respond(w, r, http.StatusOK)(a.service.UnflagHypothesis(r.Context(), hypothesisID(r)))
}

func (a *App) handleListGroups(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"groups": a.service.Groups()})
}

type groupRequest struct {
	IDs []core.HypothesisID `json:"ids"`
}

func (a *App) handleGroupHypotheses(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	hs, err := a.service.GroupHypotheses(r.Context(), req.IDs, chi.URLParam(r, "name"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"group": chi.URLParam(r, "name"), "hypotheses": hs})
}

// respond writes a single hypothesis result or its error
func (a *App) respond(w http.ResponseWriter, r *http.Request, status int) func(hypothesis.Hypothesis, error) {
	return func(h hypothesis.Hypothesis, err error) {
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, status, h)
	}
}
