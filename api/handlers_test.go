/*
handlers_test.go - HTTP-level tests for the API

Tests for:
- Organization creation and balance reads
- The report workflow driven end-to-end over HTTP
- Typed error to HTTP status mapping (404, 409, 422)
- Reference data endpoints
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcfuels/lcfs-engine/api"
	"github.com/bcfuels/lcfs-engine/ledger"
	"github.com/bcfuels/lcfs-engine/refdata"
	"github.com/bcfuels/lcfs-engine/report"
	"github.com/bcfuels/lcfs-engine/store/sqlite"
)

// =============================================================================
// FIXTURE
// =============================================================================

type testServer struct {
	t      *testing.T
	server *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	units := ledger.NewEngine(store)
	oracle := refdata.New(refdata.Seed())
	reports := report.NewEngine(store, units, oracle, nil)

	srv := httptest.NewServer(api.NewRouter(api.NewHandler(store, reports, units, oracle)))
	t.Cleanup(srv.Close)
	return &testServer{t: t, server: srv}
}

// supplier headers for org-a with signing authority.
func asSupplier(req *http.Request) {
	req.Header.Set("X-User-Id", "u-1")
	req.Header.Set("X-User-Name", "Jordan Tse")
	req.Header.Set("X-Org-Id", "org-a")
	req.Header.Set("X-Roles", "Supplier,Signing Authority")
}

func asAnalyst(req *http.Request) {
	req.Header.Set("X-User-Id", "u-2")
	req.Header.Set("X-User-Name", "Sam Aldous")
	req.Header.Set("X-Roles", "Analyst")
}

func asManager(req *http.Request) {
	req.Header.Set("X-User-Id", "u-3")
	req.Header.Set("X-User-Name", "Rae Moody")
	req.Header.Set("X-Roles", "Compliance Manager")
}

func asDirector(req *http.Request) {
	req.Header.Set("X-User-Id", "u-4")
	req.Header.Set("X-User-Name", "Lee Frame")
	req.Header.Set("X-Roles", "Director")
}

// do sends a JSON request and decodes the response body into out (if not nil).
func (ts *testServer) do(method, path string, identity func(*http.Request), body, out any) int {
	ts.t.Helper()

	var payload bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&payload).Encode(body))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &payload)
	require.NoError(ts.t, err)
	req.Header.Set("Content-Type", "application/json")
	if identity != nil {
		identity(req)
	}

	resp, err := ts.server.Client().Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) createOrg(id, name string) {
	ts.t.Helper()
	status := ts.do(http.MethodPost, "/api/organizations", nil,
		map[string]any{"id": id, "legal_name": name}, nil)
	require.Equal(ts.t, http.StatusCreated, status)
}

func ethanolItem(quantity string) map[string]any {
	return map[string]any{
		"kind":             "fuel_supply",
		"fuel_type_id":     refdata.FuelEthanol,
		"fuel_category_id": refdata.CategoryGasoline,
		"end_use_id":       refdata.EndUseOther,
		"provision_id":     refdata.ProvisionFuelCode,
		"fuel_code_id":     refdata.CodeEthanolBC,
		"quantity":         quantity,
		"units":            "L",
	}
}

// =============================================================================
// ORGANIZATION TESTS
// =============================================================================

func TestCreateAndGetOrganization(t *testing.T) {
	// GIVEN: A fresh server
	ts := newTestServer(t)

	// WHEN: Creating an organization and reading it back
	ts.createOrg("org-a", "Pacific Fuels Ltd.")

	var org struct {
		ID               string `json:"id"`
		LegalName        string `json:"legal_name"`
		TotalBalance     int64  `json:"total_balance"`
		AvailableBalance int64  `json:"available_balance"`
	}
	status := ts.do(http.MethodGet, "/api/organizations/org-a", nil, nil, &org)

	// THEN: It exists with zeroed balances
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Pacific Fuels Ltd.", org.LegalName)
	assert.Equal(t, int64(0), org.TotalBalance)
	assert.Equal(t, int64(0), org.AvailableBalance)
}

func TestGetOrganization_Unknown(t *testing.T) {
	ts := newTestServer(t)

	status := ts.do(http.MethodGet, "/api/organizations/nope", nil, nil, nil)

	assert.Equal(t, http.StatusNotFound, status)
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	// GIVEN: Two organizations, the sender holding nothing
	ts := newTestServer(t)
	ts.createOrg("org-a", "Pacific Fuels Ltd.")
	ts.createOrg("org-b", "Cascadia Energy Corp.")

	// WHEN: Transferring units the sender does not hold
	var body struct {
		Error string `json:"error"`
	}
	status := ts.do(http.MethodPost, "/api/transactions/transfers", nil, map[string]any{
		"from_organization_id": "org-a",
		"to_organization_id":   "org-b",
		"compliance_units":     500,
		"effective_date":       "2025-03-31",
	}, &body)

	// THEN: 409 with the balance error surfaced
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Insufficient balance", body.Error)
}

func TestInitiativeAgreement_CreditsTheLedger(t *testing.T) {
	// GIVEN: An organization
	ts := newTestServer(t)
	ts.createOrg("org-a", "Pacific Fuels Ltd.")

	// WHEN: Issuing units under an initiative agreement
	status := ts.do(http.MethodPost, "/api/transactions/initiative-agreements", nil, map[string]any{
		"organization_id":  "org-a",
		"compliance_units": 800,
		"effective_date":   "2024-06-01",
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	// THEN: The ledger view shows one confirmed entry
	var entries []struct {
		Units          int64 `json:"compliance_units"`
		RunningBalance int64 `json:"running_balance"`
	}
	status = ts.do(http.MethodGet, "/api/organizations/org-a/ledger", nil, nil, &entries)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(800), entries[0].Units)
	assert.Equal(t, int64(800), entries[0].RunningBalance)
}

// =============================================================================
// REPORT WORKFLOW TESTS
// =============================================================================

func (ts *testServer) createReport(year int) int64 {
	ts.t.Helper()
	var rep struct {
		ID int64 `json:"id"`
	}
	status := ts.do(http.MethodPost, "/api/reports", asSupplier, map[string]any{
		"organization_id":      "org-a",
		"compliance_period_id": int(refdata.PeriodFor(year)),
		"reporting_frequency":  "Annual",
	}, &rep)
	require.Equal(ts.t, http.StatusCreated, status)
	return rep.ID
}

func TestReportWorkflow_EndToEnd(t *testing.T) {
	// GIVEN: A supplier with a draft report holding one ethanol line
	ts := newTestServer(t)
	ts.createOrg("org-a", "Pacific Fuels Ltd.")
	id := ts.createReport(2024)

	status := ts.do(http.MethodPut, fmt.Sprintf("/api/reports/%d/line-items", id),
		asSupplier, ethanolItem("1000000"), nil)
	require.Equal(t, http.StatusOK, status)

	// WHEN: Walking the report through the full government review
	transition := func(event string, identity func(*http.Request)) int {
		return ts.do(http.MethodPost, fmt.Sprintf("/api/reports/%d/status", id),
			identity, map[string]any{"event": event}, nil)
	}
	require.Equal(t, http.StatusOK, transition("submit", asSupplier))
	require.Equal(t, http.StatusOK, transition("recommend_by_analyst", asAnalyst))
	require.Equal(t, http.StatusOK, transition("recommend_by_manager", asManager))
	require.Equal(t, http.StatusOK, transition("assess", asDirector))

	// THEN: The report is assessed, the summary locked, the balance credited
	var rep struct {
		Status string `json:"status"`
	}
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, fmt.Sprintf("/api/reports/%d", id), nil, nil, &rep))
	assert.Equal(t, "Assessed", rep.Status)

	var s struct {
		Delta    int64 `json:"compliance_unit_delta"`
		IsLocked bool  `json:"is_locked"`
	}
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, fmt.Sprintf("/api/reports/%d/summary", id), nil, nil, &s))
	assert.Equal(t, int64(1148), s.Delta)
	assert.True(t, s.IsLocked)

	var org struct {
		TotalBalance    int64 `json:"total_balance"`
		ReservedBalance int64 `json:"reserved_balance"`
	}
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/organizations/org-a", nil, nil, &org))
	assert.Equal(t, int64(1148), org.TotalBalance)
	assert.Equal(t, int64(0), org.ReservedBalance)

	var history []struct {
		Status string `json:"status"`
	}
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, fmt.Sprintf("/api/reports/%d/history", id), nil, nil, &history))
	assert.Len(t, history, 5)
}

func TestSubmitTwice_Conflicts(t *testing.T) {
	// GIVEN: A submitted report
	ts := newTestServer(t)
	ts.createOrg("org-a", "Pacific Fuels Ltd.")
	id := ts.createReport(2024)
	path := fmt.Sprintf("/api/reports/%d/status", id)
	require.Equal(t, http.StatusOK,
		ts.do(http.MethodPost, path, asSupplier, map[string]any{"event": "submit"}, nil))

	// WHEN: Submitting it again
	status := ts.do(http.MethodPost, path, asSupplier, map[string]any{"event": "submit"}, nil)

	// THEN: 409
	assert.Equal(t, http.StatusConflict, status)
}

func TestTransition_WrongRole(t *testing.T) {
	// GIVEN: A draft report
	ts := newTestServer(t)
	ts.createOrg("org-a", "Pacific Fuels Ltd.")
	id := ts.createReport(2024)

	// WHEN: An analyst tries to submit it
	var body struct {
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	}
	status := ts.do(http.MethodPost, fmt.Sprintf("/api/reports/%d/status", id),
		asAnalyst, map[string]any{"event": "submit"}, &body)

	// THEN: 422 naming the actor
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	require.Len(t, body.Fields, 1)
	assert.Equal(t, "actor", body.Fields[0].Field)
}

func TestSaveLineItem_ValidationFields(t *testing.T) {
	// GIVEN: A draft report
	ts := newTestServer(t)
	ts.createOrg("org-a", "Pacific Fuels Ltd.")
	id := ts.createReport(2024)

	// WHEN: Saving a line item with no fuel, no quantity, no provision
	var body struct {
		Error  string `json:"error"`
		Fields []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"fields"`
	}
	status := ts.do(http.MethodPut, fmt.Sprintf("/api/reports/%d/line-items", id),
		asSupplier, map[string]any{"kind": "fuel_supply"}, &body)

	// THEN: 422 with every broken field reported at once
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "Validation failed", body.Error)
	assert.GreaterOrEqual(t, len(body.Fields), 3)
}

func TestGetReport_BadID(t *testing.T) {
	ts := newTestServer(t)

	status := ts.do(http.MethodGet, "/api/reports/abc", nil, nil, nil)

	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDeleteReport_Unknown(t *testing.T) {
	ts := newTestServer(t)

	status := ts.do(http.MethodDelete, "/api/reports/99", asSupplier, nil, nil)

	assert.Equal(t, http.StatusNotFound, status)
}

func TestStatusCounts(t *testing.T) {
	// GIVEN: One draft report
	ts := newTestServer(t)
	ts.createOrg("org-a", "Pacific Fuels Ltd.")
	ts.createReport(2024)

	// WHEN: Reading the per-status counts
	var counts map[string]int
	status := ts.do(http.MethodGet, "/api/reports/counts", nil, nil, &counts)

	// THEN: Every status is present, with one draft
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, counts["Draft"])
	assert.Contains(t, counts, "Assessed")
}

// =============================================================================
// REFERENCE DATA TESTS
// =============================================================================

func TestListPeriods(t *testing.T) {
	ts := newTestServer(t)

	var periods []struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	}
	status := ts.do(http.MethodGet, "/api/periods", nil, nil, &periods)

	assert.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, periods)
	assert.Equal(t, "2019", periods[0].Description)
}

func TestFuelOptions_CachedBetweenCalls(t *testing.T) {
	// GIVEN: A server
	ts := newTestServer(t)
	path := fmt.Sprintf("/api/periods/%d/fuel-options", refdata.PeriodFor(2024))

	// WHEN: Fetching fuel options twice
	var first, second struct {
		FuelTypes []struct {
			Name string `json:"name"`
		} `json:"fuel_types"`
	}
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, path, nil, nil, &first))
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, path, nil, nil, &second))

	// THEN: Both calls return the same listing
	require.NotEmpty(t, first.FuelTypes)
	assert.Equal(t, first, second)
}

func TestFuelOptions_UnknownPeriod(t *testing.T) {
	ts := newTestServer(t)

	status := ts.do(http.MethodGet, "/api/periods/99/fuel-options", nil, nil, nil)

	assert.Equal(t, http.StatusNotFound, status)
}
