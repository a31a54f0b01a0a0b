package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reliefops/grant-engine/api"
	"github.com/reliefops/grant-engine/auth"
	"github.com/reliefops/grant-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP - Full router over a real SQLite store
// =============================================================================

const testSecret = "handler-test-secret"

func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "grants.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := zap.NewNop()
	session := auth.NewMiddleware(auth.NewVerifier(testSecret), logger)
	handler := api.NewHandler(store, api.SubmissionValidator(), logger)
	return api.NewRouter(handler, session, []string{"*"}, logger)
}

func token(t *testing.T, subject, state, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":    subject,
		"state":  state,
		"role":   role,
		"status": "active",
		"exp":    time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// do runs one request through the router and decodes the JSON envelope.
func do(t *testing.T, router http.Handler, method, path, bearer string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), "body: %s", rec.Body.String())
	return rec.Code, envelope
}

func requireSuccess(t *testing.T, status int, envelope map[string]any) {
	t.Helper()
	require.True(t, status >= 200 && status < 300, "status %d, envelope %v", status, envelope)
	require.Equal(t, true, envelope["success"], "envelope %v", envelope)
}

func seedCycle(t *testing.T, router http.Handler, admin, id string) {
	t.Helper()
	status, envelope := do(t, router, http.MethodPost, "/api/admin/cycles", admin, map[string]any{
		"id":           id,
		"cycle_number": 1,
		"year":         2025,
		"name":         "Cycle " + id,
		"start_date":   "2025-01-01",
		"end_date":     "2025-12-31",
	})
	requireSuccess(t, status, envelope)
}

func seedAllocation(t *testing.T, router http.Handler, admin, id, cycleID, state, amount string, decisionNo int) {
	t.Helper()
	status, envelope := do(t, router, http.MethodPost, "/api/admin/allocations", admin, map[string]any{
		"id":          id,
		"cycle_id":    cycleID,
		"state_name":  state,
		"amount":      amount,
		"decision_no": decisionNo,
	})
	requireSuccess(t, status, envelope)
}

func draftBody(allocationID string, costs ...float64) map[string]any {
	expenses := make([]any, len(costs))
	for i, c := range costs {
		expenses[i] = map[string]any{"description": "line", "total_cost": c}
	}
	body := map[string]any{
		"state":      "Khartoum",
		"locality":   "Bahri",
		"objectives": "Water distribution",
		"expenses":   expenses,
	}
	if allocationID != "" {
		body["cycle_state_allocation_id"] = allocationID
	}
	return body
}

func projectID(t *testing.T, envelope map[string]any) string {
	t.Helper()
	project, ok := envelope["project"].(map[string]any)
	require.True(t, ok, "envelope %v", envelope)
	id, _ := project["id"].(string)
	require.NotEmpty(t, id)
	return id
}

// =============================================================================
// FUNDING POOL
// =============================================================================

func TestFundingPool_EndToEnd(t *testing.T) {
	// GIVEN: two open cycles for Khartoum - cycle-a revised from 500 to 800,
	//        cycle-b at 300; one committed project spending 200 and one
	//        pending project spending 150
	// WHEN:  the applicant fetches the funding pool
	// THEN:  allocated=1100, committed=200, pending=150, remaining=750

	router := newTestRouter(t)
	admin := token(t, "admin-1", "", "admin")
	applicant := token(t, "user-1", "Khartoum", "applicant")

	seedCycle(t, router, admin, "cycle-a")
	seedCycle(t, router, admin, "cycle-b")
	seedAllocation(t, router, admin, "alloc-a1", "cycle-a", "Khartoum", "500", 1)
	seedAllocation(t, router, admin, "alloc-a2", "cycle-a", "Khartoum", "800", 2)
	seedAllocation(t, router, admin, "alloc-b1", "cycle-b", "Khartoum", "300", 1)

	// Project X: submitted, approved, committed (200).
	status, envelope := do(t, router, http.MethodPost, "/api/project-drafts", applicant, draftBody("alloc-a2", 120, 80))
	requireSuccess(t, status, envelope)
	xID := projectID(t, envelope)
	status, envelope = do(t, router, http.MethodPost, "/api/projects/"+xID+"/submit", applicant, nil)
	requireSuccess(t, status, envelope)
	status, envelope = do(t, router, http.MethodPost, "/api/projects/"+xID+"/approve", admin, nil)
	requireSuccess(t, status, envelope)
	status, envelope = do(t, router, http.MethodPost, "/api/projects/"+xID+"/commit", admin, nil)
	requireSuccess(t, status, envelope)

	// Project Y: submitted and still pending (150).
	status, envelope = do(t, router, http.MethodPost, "/api/project-drafts", applicant, draftBody("alloc-a2", 150))
	requireSuccess(t, status, envelope)
	yID := projectID(t, envelope)
	status, envelope = do(t, router, http.MethodPost, "/api/projects/"+yID+"/submit", applicant, nil)
	requireSuccess(t, status, envelope)

	status, envelope = do(t, router, http.MethodGet, "/api/funding-pool", applicant, nil)
	requireSuccess(t, status, envelope)
	assert.Equal(t, "1100", envelope["allocated"])
	assert.Equal(t, "200", envelope["committed"])
	assert.Equal(t, "150", envelope["pending"])
	assert.Equal(t, "750", envelope["remaining"])
	assert.Equal(t, "Khartoum", envelope["user_state"])
}

func TestFundingPool_EmptyStateIsZero(t *testing.T) {
	router := newTestRouter(t)
	applicant := token(t, "user-1", "Kassala", "applicant")

	status, envelope := do(t, router, http.MethodGet, "/api/funding-pool", applicant, nil)
	requireSuccess(t, status, envelope)
	assert.Equal(t, "0", envelope["allocated"])
	assert.Equal(t, "0", envelope["remaining"])
}

// =============================================================================
// GRANT CALLS
// =============================================================================

func TestGrantCalls_LatestDecisionVisible(t *testing.T) {
	router := newTestRouter(t)
	admin := token(t, "admin-1", "", "admin")
	applicant := token(t, "user-1", "Khartoum", "applicant")

	status, envelope := do(t, router, http.MethodPost, "/api/admin/grant-calls", admin, map[string]any{
		"id":         "call-1",
		"name":       "Emergency Response Call",
		"shortname":  "ERC-25",
		"amount":     "5000",
		"donor_name": "Donor Org",
		"start_date": "2025-03-01",
		"end_date":   "2025-06-30",
	})
	requireSuccess(t, status, envelope)
	for i, amount := range []string{"100", "180"} {
		status, envelope = do(t, router, http.MethodPost, "/api/admin/call-allocations", admin, map[string]any{
			"id":            "ca-" + amount,
			"grant_call_id": "call-1",
			"state_name":    "Khartoum",
			"amount":        amount,
			"decision_no":   i + 1,
		})
		requireSuccess(t, status, envelope)
	}

	status, envelope = do(t, router, http.MethodGet, "/api/grant-calls", applicant, nil)
	requireSuccess(t, status, envelope)
	calls, ok := envelope["grant_calls"].([]any)
	require.True(t, ok)
	require.Len(t, calls, 1)
	call := calls[0].(map[string]any)
	assert.Equal(t, "call-1", call["id"])
	assert.Equal(t, "180", call["state_amount"])
	assert.Equal(t, "5000", call["total_amount"])
}

// =============================================================================
// DRAFT / SUBMIT / FEEDBACK FLOW
// =============================================================================

func TestProjectFlow_DraftSubmitFeedback(t *testing.T) {
	router := newTestRouter(t)
	admin := token(t, "admin-1", "", "admin")
	applicant := token(t, "user-1", "Khartoum", "applicant")

	status, envelope := do(t, router, http.MethodPost, "/api/project-drafts", applicant, draftBody("", 100))
	requireSuccess(t, status, envelope)
	id := projectID(t, envelope)
	project := envelope["project"].(map[string]any)
	assert.Equal(t, true, project["is_draft"])
	assert.Equal(t, "draft", project["status"])

	status, envelope = do(t, router, http.MethodPost, "/api/projects/"+id+"/submit", applicant, nil)
	requireSuccess(t, status, envelope)
	project = envelope["project"].(map[string]any)
	assert.Equal(t, false, project["is_draft"])
	assert.Equal(t, "pending", project["status"])
	assert.NotEmpty(t, project["submitted_at"])

	status, envelope = do(t, router, http.MethodPost, "/api/project-feedback?project_id="+id, admin,
		map[string]any{"feedback_text": "clarify the budget"})
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, true, envelope["success"])
	feedback := envelope["feedback"].(map[string]any)
	assert.Equal(t, "clarify the budget", feedback["feedback_text"])
	assert.EqualValues(t, 1, feedback["iteration_number"])

	status, envelope = do(t, router, http.MethodGet, "/api/project-feedback?project_id="+id, applicant, nil)
	requireSuccess(t, status, envelope)
	trail, ok := envelope["feedback"].([]any)
	require.True(t, ok)
	assert.Len(t, trail, 1)
}

func TestSubmit_MissingRequiredFieldIs400(t *testing.T) {
	router := newTestRouter(t)
	applicant := token(t, "user-1", "Khartoum", "applicant")

	body := draftBody("", 100)
	delete(body, "objectives")
	status, envelope := do(t, router, http.MethodPost, "/api/project-drafts", applicant, body)
	requireSuccess(t, status, envelope)
	id := projectID(t, envelope)

	status, envelope = do(t, router, http.MethodPost, "/api/projects/"+id+"/submit", applicant, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, envelope["success"])
	assert.Contains(t, envelope["error"], "objectives")
}

func TestDeleteDraft_SecondDeleteIs404(t *testing.T) {
	router := newTestRouter(t)
	applicant := token(t, "user-1", "Khartoum", "applicant")

	status, envelope := do(t, router, http.MethodPost, "/api/project-drafts", applicant, draftBody("", 100))
	requireSuccess(t, status, envelope)
	id := projectID(t, envelope)

	status, envelope = do(t, router, http.MethodDelete, "/api/project-drafts?id="+id, applicant, nil)
	requireSuccess(t, status, envelope)

	status, envelope = do(t, router, http.MethodDelete, "/api/project-drafts?id="+id, applicant, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Not found", envelope["error"])
}

func TestDuplicateDecisionNumberIs409(t *testing.T) {
	router := newTestRouter(t)
	admin := token(t, "admin-1", "", "admin")

	seedCycle(t, router, admin, "cycle-a")
	seedAllocation(t, router, admin, "alloc-1", "cycle-a", "Khartoum", "500", 1)

	status, envelope := do(t, router, http.MethodPost, "/api/admin/allocations", admin, map[string]any{
		"id":          "alloc-2",
		"cycle_id":    "cycle-a",
		"state_name":  "Khartoum",
		"amount":      "800",
		"decision_no": 1,
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, false, envelope["success"])
}

// =============================================================================
// REPORTS
// =============================================================================

func TestReportFlow_DraftAndSubmit(t *testing.T) {
	router := newTestRouter(t)
	applicant := token(t, "user-1", "Khartoum", "applicant")

	status, envelope := do(t, router, http.MethodPost, "/api/report-drafts", applicant, map[string]any{
		"project_id":  "proj-1",
		"report_type": "financial",
		"expenses": []any{
			map[string]any{"description": "fuel", "total_cost": 60},
		},
	})
	requireSuccess(t, status, envelope)
	report := envelope["report"].(map[string]any)
	id := report["id"].(string)
	assert.Equal(t, "financial", report["report_type"])

	status, envelope = do(t, router, http.MethodPost, "/api/reports/"+id+"/submit", applicant, nil)
	requireSuccess(t, status, envelope)
	report = envelope["report"].(map[string]any)
	assert.Equal(t, false, report["is_draft"])
	assert.Equal(t, "pending", report["status"])
}

// =============================================================================
// AUTHORIZATION
// =============================================================================

func TestUnauthenticatedRequestIs401(t *testing.T) {
	router := newTestRouter(t)

	status, envelope := do(t, router, http.MethodGet, "/api/funding-pool", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, false, envelope["success"])
}

func TestAdminSurfaceRejectsApplicants(t *testing.T) {
	router := newTestRouter(t)
	applicant := token(t, "user-1", "Khartoum", "applicant")

	status, envelope := do(t, router, http.MethodPost, "/api/admin/cycles", applicant, map[string]any{
		"id": "cycle-x", "start_date": "2025-01-01", "end_date": "2025-12-31",
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, false, envelope["success"])

	status, _ = do(t, router, http.MethodPost, "/api/projects/any/approve", applicant, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestAuditTrailVisibleToAdmin(t *testing.T) {
	router := newTestRouter(t)
	admin := token(t, "admin-1", "", "admin")
	applicant := token(t, "user-1", "Khartoum", "applicant")

	status, envelope := do(t, router, http.MethodPost, "/api/project-drafts", applicant, draftBody("", 100))
	requireSuccess(t, status, envelope)
	id := projectID(t, envelope)
	status, envelope = do(t, router, http.MethodPost, "/api/projects/"+id+"/submit", applicant, nil)
	requireSuccess(t, status, envelope)

	status, envelope = do(t, router, http.MethodGet, "/api/admin/audit?entity_id="+id, admin, nil)
	requireSuccess(t, status, envelope)
	entries, ok := envelope["entries"].([]any)
	require.True(t, ok)
	assert.Len(t, entries, 2)
}
