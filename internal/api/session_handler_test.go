package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypoguard/app"
	"hypoguard/domain/core"
	"hypoguard/internal/risk"
	"hypoguard/internal/sessionlog"
	"hypoguard/ports"
)

var start = time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T, clock core.Clock) (*gin.Engine, *SSEHub) {
	t.Helper()
	hub := NewSSEHub(nil)
	t.Cleanup(hub.Close)
	service := app.NewIntegrityService(app.ServiceConfig{
		Thresholds: risk.DefaultThresholds(),
		Clock:      clock,
	}, nil, nil, hub, nil)
	return NewRouter(NewSessionHandler(service, hub), gin.TestMode), hub
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const tTest = `{"test_type":"t_test","variables":["group","score"],"p_value":0.2}`

func TestRecordAndListTests(t *testing.T) {
	r, _ := newTestRouter(t, core.SteppingClock(start, 5*time.Minute))

	w := do(r, http.MethodPost, "/api/sessions/s1/tests", tTest)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rec sessionlog.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, int64(1), rec.Sequence)
	assert.Equal(t, "t_test", rec.TestType)
	assert.NotEmpty(t, rec.ID)

	w = do(r, http.MethodGet, "/api/sessions/s1/tests", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		SessionID string              `json:"session_id"`
		Tests     []sessionlog.Record `json:"tests"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, "s1", list.SessionID)
	assert.Len(t, list.Tests, 1)

	w = do(r, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sessions":["s1"]}`, w.Body.String())
}

func TestRecordTest_Errors(t *testing.T) {
	r, _ := newTestRouter(t, core.SteppingClock(start, 5*time.Minute))

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"test_type":`, http.StatusBadRequest, "INVALID_INPUT"},
		{"p-value out of range", `{"test_type":"t","p_value":1.5}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing test type", `{"p_value":0.5}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing p-value", `{"test_type":"t_test","variables":["a","b"]}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown correction method", `{"test_type":"t","p_value":0.5,"corrected":true,"correction_method":"magic"}`, http.StatusBadRequest, "UNSUPPORTED_METHOD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/api/sessions/s1/tests", tt.body)
			assert.Equal(t, tt.status, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestRecordTest_MissingPValueIsNotStored(t *testing.T) {
	r, _ := newTestRouter(t, core.SteppingClock(start, 5*time.Minute))

	for i := 0; i < 6; i++ {
		w := do(r, http.MethodPost, "/api/sessions/s1/tests", `{"test_type":"t_test","variables":["a","b"]}`)
		require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), "p_value")
	}

	w := do(r, http.MethodGet, "/api/sessions/s1/risk", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var assessment risk.Assessment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &assessment))
	assert.Equal(t, 0, assessment.Summary.Total)
	assert.Equal(t, risk.SeverityLow, assessment.RiskLevel)
	assert.Empty(t, assessment.Patterns)
}

func TestFlagTest(t *testing.T) {
	r, _ := newTestRouter(t, core.SteppingClock(start, 5*time.Minute))

	w := do(r, http.MethodPost, "/api/sessions/s1/tests", tTest)
	require.Equal(t, http.StatusCreated, w.Code)
	var rec sessionlog.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))

	w = do(r, http.MethodPost, "/api/sessions/s1/tests/"+string(rec.ID)+"/flag", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.True(t, rec.Flagged)

	w = do(r, http.MethodPost, "/api/sessions/s1/tests/"+string(rec.ID)+"/flag", `{"flagged":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.False(t, rec.Flagged)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/sessions/s1/tests/nope/flag", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/sessions/other/tests/x/flag", "").Code)
}

func TestAssessRiskAndSnapshot(t *testing.T) {
	r, _ := newTestRouter(t, core.SteppingClock(start, 5*time.Minute))

	// unknown sessions have an empty, low-risk log
	w := do(r, http.MethodGet, "/api/sessions/fresh/risk", "")
	require.Equal(t, http.StatusOK, w.Code)
	var a risk.Assessment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.Equal(t, risk.SeverityLow, a.RiskLevel)

	for i := 0; i < 12; i++ {
		require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/sessions/s1/tests", tTest).Code)
	}

	w = do(r, http.MethodGet, "/api/sessions/s1/risk", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.Equal(t, risk.SeverityCritical, a.RiskLevel)
	assert.Equal(t, 6, a.Score)

	w = do(r, http.MethodGet, "/api/sessions/s1/snapshot", "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap sessionlog.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Len(t, snap.Records, 12)
	assert.NotEmpty(t, snap.Fingerprint)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/sessions/missing/snapshot", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/sessions/missing/tests", "").Code)
}

func TestRiskEventsStream(t *testing.T) {
	r, hub := newTestRouter(t, core.FixedClock(start))
	server := httptest.NewServer(r)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/sessions/s1/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Equal(t, 1, hub.GetClientCount("s1"))

	// three identical tests raise the level from low to medium
	for i := 0; i < 3; i++ {
		post, err := http.Post(server.URL+"/api/sessions/s1/tests", "application/json", bytes.NewBufferString(tTest))
		require.NoError(t, err)
		post.Body.Close()
		require.Equal(t, http.StatusCreated, post.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	var event ports.RiskEvent
	found := false
	inRisk := false
	for !found {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		switch {
		case line == "event:risk":
			inRisk = true
		case inRisk && strings.HasPrefix(line, "data:"):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &event))
			found = true
		}
	}

	assert.Equal(t, core.SessionID("s1"), event.SessionID)
	assert.Equal(t, risk.SeverityLow, event.Previous)
	assert.Equal(t, risk.SeverityMedium, event.Current)
	assert.Equal(t, int64(3), event.Sequence)
}
