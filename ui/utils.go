package ui

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"hypoguard/domain/stats"
	"hypoguard/internal/errors"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an error to its status code and a {error, code} body
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	status := errors.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		a.logger.Error("%s %s failed: %v", r.Method, r.URL.Path, err)
	} else {
		a.logger.Debug("%s %s rejected (%s): %v", r.Method, r.URL.Path, code, err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}

// decodeJSON decodes the request body into v. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.InvalidInput(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// analysisParams resolves a method and alpha against the service defaults
func (a *App) analysisParams(method string, alpha float64) (stats.Method, float64, error) {
	defaultAlpha, defaultMethod, _ := a.service.Defaults()
	m := defaultMethod
	if strings.TrimSpace(method) != "" {
		parsed, err := stats.ParseMethod(method)
		if err != nil {
			return "", 0, err
		}
		m = parsed
	}
	if alpha == 0 {
		alpha = defaultAlpha
	}
	return m, alpha, nil
}

func queryFloat(r *http.Request, key string) (float64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.InvalidInput(fmt.Sprintf("%s must be a number, got %q", key, raw))
	}
	return v, nil
}

// finite maps infinities to nil so they encode as JSON null
func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
