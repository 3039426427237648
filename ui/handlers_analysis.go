package ui

import (
	"net/http"
	"strings"

	"hypoguard/domain/core"
	"hypoguard/domain/stats"
)

func (a *App) handleListMethods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"methods": stats.Methods()})
}

type correctionRequest struct {
	IDs    []core.HypothesisID `json:"ids"`
	Group  string              `json:"group"`
	Method string              `json:"method"`
	Alpha  float64             `json:"alpha"`
}

// handleComputeCorrection corrects a group, an explicit id list, or the
// whole registry when neither is given
func (a *App) handleComputeCorrection(w http.ResponseWriter, r *http.Request) {
	var req correctionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	method, alpha, err := a.analysisParams(req.Method, req.Alpha)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Group) != "" && len(req.IDs) > 0 {
		a.writeError(w, r, core.NewValidationError("group", "cannot be combined with ids"))
		return
	}

	var report stats.CorrectionReport
	if strings.TrimSpace(req.Group) != "" {
		report, err = a.service.ComputeGroupCorrection(req.Group, method, alpha)
	} else {
		report, err = a.service.ComputeCorrection(req.IDs, method, alpha)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *App) handleCorrectAllGroups(w http.ResponseWriter, r *http.Request) {
	alpha, err := queryFloat(r, "alpha")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	method, alpha, err := a.analysisParams(r.URL.Query().Get("method"), alpha)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	reports, err := a.service.CorrectAllGroups(r.Context(), method, alpha)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"method": method, "alpha": alpha, "groups": reports})
}

// boundariesRequest overlays an optional futility scale on the plan so an
// omitted value falls back to the configured default
type boundariesRequest struct {
	stats.SequentialPlan
	FutilityScale *float64 `json:"futility_scale"`
}

// boundaryView is a LookBoundary with infinite boundaries encoded as null
type boundaryView struct {
	Look                  int      `json:"look"`
	InformationFraction   float64  `json:"information_fraction"`
	SampleSize            int      `json:"sample_size,omitempty"`
	CumulativeAlphaSpent  float64  `json:"cumulative_alpha_spent"`
	IncrementalAlphaSpent float64  `json:"incremental_alpha_spent"`
	ZBoundary             *float64 `json:"z_boundary"`
	NominalPValueBoundary float64  `json:"nominal_p_value_boundary"`
	EfficacyBoundary      *float64 `json:"efficacy_boundary"`
	FutilityBoundary      *float64 `json:"futility_boundary"`
}

func (a *App) handleSequentialBoundaries(w http.ResponseWriter, r *http.Request) {
	var req boundariesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	defaultAlpha, _, defaultFutility := a.service.Defaults()
	plan := req.SequentialPlan
	plan.FutilityScale = defaultFutility
	if req.FutilityScale != nil {
		plan.FutilityScale = *req.FutilityScale
	}
	if plan.TotalAlpha == 0 {
		plan.TotalAlpha = defaultAlpha
	}
	if plan.SpendingFunction != "" {
		fn, err := stats.ParseSpendingFunction(string(plan.SpendingFunction))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		plan.SpendingFunction = fn
	}

	looks, err := a.service.ComputeSequentialBoundaries(plan)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	views := make([]boundaryView, len(looks))
	for i, b := range looks {
		views[i] = boundaryView{
			Look:                  b.Look,
			InformationFraction:   b.InformationFraction,
			SampleSize:            b.SampleSize,
			CumulativeAlphaSpent:  b.CumulativeAlphaSpent,
			IncrementalAlphaSpent: b.IncrementalAlphaSpent,
			ZBoundary:             finite(b.ZBoundary),
			NominalPValueBoundary: b.NominalPValueBoundary,
			EfficacyBoundary:      finite(b.EfficacyBoundary),
			FutilityBoundary:      finite(b.FutilityBoundary),
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"plan": plan, "boundaries": views})
}
