/*
handlers.go - HTTP API handlers for the compliance engine

PURPOSE:
  Exposes the report workflow, credit ledger and reference data via REST.
  Handles HTTP request/response, JSON serialization, and delegates every
  decision to the engines.

ENDPOINTS:
  Organizations:
    GET    /api/organizations                     List organizations
    POST   /api/organizations                     Create organization
    GET    /api/organizations/{id}                Organization with balances
    GET    /api/organizations/{id}/ledger         Ledger view (?year=YYYY)
    GET    /api/organizations/{id}/reports        Reports (?period=N)

  Transactions:
    POST   /api/transactions/transfers            Record a transfer
    POST   /api/transactions/initiative-agreements  Issue units
    POST   /api/transactions/admin-adjustments    Credit or debit

  Reports:
    POST   /api/reports                           Open a report chain
    GET    /api/reports/counts                    Per-status counts
    GET    /api/reports/{id}                      One report version
    DELETE /api/reports/{id}                      Roll back an in-flight version
    POST   /api/reports/{id}/status               Fire a workflow event
    POST   /api/reports/{id}/supplemental         Open a supplier supplemental
    POST   /api/reports/{id}/reassessment         Open a government reassessment
    POST   /api/reports/{id}/adjustment           Open an analyst adjustment
    POST   /api/reports/{id}/assign               Assign an analyst
    GET    /api/reports/{id}/summary              Computed summary
    GET    /api/reports/{id}/history              Status audit trail
    GET    /api/reports/{id}/chain                Every version in the chain
    PUT    /api/reports/{id}/line-items           Create or update a line item
    DELETE /api/reports/{id}/line-items/{group}   Delete a line item
    GET    /api/reports/{id}/line-items           Effective view (?kind=)
    GET    /api/reports/{id}/changelog            Per-item history (?kind=)

  Reference data:
    GET    /api/periods                           Compliance periods
    GET    /api/periods/{id}/fuel-options         Valid inputs (cached)

IDENTITY:
  The identity collaborator is out of scope; the acting user arrives in
  headers (X-User-Id, X-User-Name, X-Org-Id, X-Roles) placed there by
  the gateway. Handlers build the Actor capability tuple and pass it
  down; all authorization decisions live in the engines.

ERROR HANDLING:
  Typed engine errors map to HTTP statuses:
    NotFound 404, IllegalTransition 409, Validation 422,
    InsufficientBalance 409, InvalidTransactionState 409, Conflict 409,
    Timeout 504, everything else 500.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	gocache "github.com/patrickmn/go-cache"

	"github.com/bcfuels/lcfs-engine/core"
	"github.com/bcfuels/lcfs-engine/ledger"
	"github.com/bcfuels/lcfs-engine/refdata"
	"github.com/bcfuels/lcfs-engine/report"
	"github.com/bcfuels/lcfs-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Reports *report.Engine
	Units   *ledger.Engine
	Oracle  *refdata.Oracle

	// options caches fuel-option listings; reference data only changes
	// on deploy, so a short TTL is plenty.
	options *gocache.Cache
}

// NewHandler creates a new handler over the shared store and engines.
func NewHandler(store *sqlite.Store, reports *report.Engine, units *ledger.Engine, oracle *refdata.Oracle) *Handler {
	return &Handler{
		Store:   store,
		Reports: reports,
		Units:   units,
		Oracle:  oracle,
		options: gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// actorFrom builds the capability tuple from gateway headers.
func actorFrom(r *http.Request) core.Actor {
	actor := core.Actor{
		UserID:      r.Header.Get("X-User-Id"),
		DisplayName: r.Header.Get("X-User-Name"),
		OrgID:       core.OrgID(r.Header.Get("X-Org-Id")),
	}
	for _, role := range strings.Split(r.Header.Get("X-Roles"), ",") {
		if role = strings.TrimSpace(role); role != "" {
			actor.Roles = append(actor.Roles, core.Role(role))
		}
	}
	return actor
}

// =============================================================================
// ORGANIZATION HANDLERS
// =============================================================================

func (h *Handler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.Store.ListOrganizations(r.Context())
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	dtos := make([]OrganizationDTO, 0, len(orgs))
	for _, o := range orgs {
		dtos = append(dtos, orgDTO(o))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req CreateOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.LegalName == "" {
		writeError(w, http.StatusBadRequest, "id and legal_name are required", nil)
		return
	}
	orgType := core.OrgType(req.Type)
	if orgType == "" {
		orgType = core.OrgFuelSupplier
	}

	org := core.Organization{
		ID:            core.OrgID(req.ID),
		LegalName:     req.LegalName,
		OperatingName: req.OperatingName,
		Status:        core.OrgRegistered,
		Type:          orgType,
	}
	if err := h.Store.SaveOrganization(r.Context(), org); err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusCreated, orgDTO(org))
}

func (h *Handler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := h.Units.Balance(r.Context(), core.OrgID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, orgDTO(org))
}

func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	year := 0
	if raw := r.URL.Query().Get("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		year = parsed
	}

	entries, err := h.Units.Ledger(r.Context(), core.OrgID(chi.URLParam(r, "id")), year)
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	dtos := make([]LedgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, ledgerEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ListReportsByOrg(w http.ResponseWriter, r *http.Request) {
	period := 0
	if raw := r.URL.Query().Get("period"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period", err)
			return
		}
		period = parsed
	}

	reports, err := h.Reports.ReportsByOrg(r.Context(),
		core.OrgID(chi.URLParam(r, "id")), core.PeriodID(period))
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	dtos := make([]ReportDTO, 0, len(reports))
	for _, rep := range reports {
		dtos = append(dtos, reportDTO(rep))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse("2006-01-02", raw)
}

func (h *Handler) RecordTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	effective, err := parseDate(req.EffectiveDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_date (use YYYY-MM-DD)", err)
		return
	}

	err = h.Units.RecordTransfer(r.Context(),
		core.OrgID(req.FromOrgID), core.OrgID(req.ToOrgID), req.Units, effective)
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"recorded": true})
}

func (h *Handler) RecordInitiativeAgreement(w http.ResponseWriter, r *http.Request) {
	var req IssuanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	effective, err := parseDate(req.EffectiveDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_date (use YYYY-MM-DD)", err)
		return
	}

	txID, err := h.Units.RecordInitiativeAgreement(r.Context(),
		core.OrgID(req.OrgID), req.Units, effective)
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	tx, err := h.Store.GetTransaction(r.Context(), txID)
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusCreated, transactionDTO(tx))
}

func (h *Handler) RecordAdminAdjustment(w http.ResponseWriter, r *http.Request) {
	var req IssuanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	effective, err := parseDate(req.EffectiveDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_date (use YYYY-MM-DD)", err)
		return
	}

	txID, err := h.Units.RecordAdminAdjustment(r.Context(),
		core.OrgID(req.OrgID), req.Units, effective)
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	tx, err := h.Store.GetTransaction(r.Context(), txID)
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusCreated, transactionDTO(tx))
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

func reportID(r *http.Request) (core.ReportID, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid report id: %w", err)
	}
	return core.ReportID(id), nil
}

func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	var req CreateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	frequency := report.Frequency(req.Frequency)
	if frequency == "" {
		frequency = report.FrequencyAnnual
	}
	rep, err := h.Reports.CreateReport(r.Context(), actorFrom(r),
		core.OrgID(req.OrgID), core.PeriodID(req.PeriodID), frequency, req.Nickname)
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusCreated, reportDTO(rep))
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	id, err := reportID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report id", err)
		return
	}
	rep, err := h.Reports.GetReport(r.Context(), id)
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, reportDTO(rep))
}

func (h *Handler) DeleteReport(w http.ResponseWriter, r *http.Request) {
	id, err := reportID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report id", err)
		return
	}
	if err := h.Reports.DeleteReport(r.Context(), actorFrom(r), id); err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *Handler) TransitionReport(w http.ResponseWriter, r *http.Request) {
	id, err := reportID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report id", err)
		return
	}
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rep, err := h.Reports.Transition(r.Context(), actorFrom(r), id, report.Event(req.Event))
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, reportDTO(rep))
}

func (h *Handler) CreateSupplemental(w http.ResponseWriter, r *http.Request) {
	h.createVersion(w, r, h.Reports.CreateSupplemental)
}

func (h *Handler) CreateReassessment(w http.ResponseWriter, r *http.Request) {
	h.createVersion(w, r, h.Reports.CreateReassessment)
}

func (h *Handler) CreateAnalystAdjustment(w http.ResponseWriter, r *http.Request) {
	h.createVersion(w, r, h.Reports.CreateAnalystAdjustment)
}

func (h *Handler) createVersion(w http.ResponseWriter, r *http.Request,
	open func(context.Context, core.Actor, core.ReportID) (report.Report, error)) {
	id, err := reportID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report id", err)
		return
	}
	rep, err := open(r.Context(), actorFrom(r), id)
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusCreated, reportDTO(rep))
}

func (h *Handler) AssignAnalyst(w http.ResponseWriter, r *http.Request) {
	id, err := reportID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report id", err)
		return
	}
	var req AssignAnalystRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rep, err := h.Reports.AssignAnalyst(r.Context(), actorFrom(r), id, req.AnalystID)
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, reportDTO(rep))
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	id, err := reportID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report id", err)
		return
	}
	s, err := h.Reports.Summary(r.Context(), id)
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, summaryDTO(s))
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := reportID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report id", err)
		return
	}
	history, err := h.Reports.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	dtos := make([]HistoryEntryDTO, 0, len(history))
	for _, entry := range history {
		dtos = append(dtos, HistoryEntryDTO{
			Status:      string(entry.Status),
			UserID:      entry.UserID,
			DisplayName: entry.DisplayName,
			CreatedAt:   entry.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetChain(w http.ResponseWriter, r *http.Request) {
	id, err := reportID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report id", err)
		return
	}
	rep, err := h.Reports.GetReport(r.Context(), id)
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	chain, err := h.Reports.Chain(r.Context(), rep.GroupUUID)
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	dtos := make([]ReportDTO, 0, len(chain))
	for _, v := range chain {
		dtos = append(dtos, reportDTO(v))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetStatusCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Reports.StatusCounts(r.Context())
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// LINE ITEM HANDLERS
// =============================================================================

func parseKind(raw string) (core.LineItemKind, error) {
	kind := core.LineItemKind(raw)
	for _, known := range core.Kinds {
		if kind == known {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown line item kind %q", raw)
}

func (h *Handler) SaveLineItem(w http.ResponseWriter, r *http.Request) {
	id, err := reportID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report id", err)
		return
	}
	var req SaveLineItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if _, err := parseKind(req.Kind); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid line item kind", err)
		return
	}

	saved, err := h.Reports.SaveLineItem(r.Context(), actorFrom(r), id, req.toLineItem())
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, lineItemDTO(saved))
}

func (h *Handler) DeleteLineItem(w http.ResponseWriter, r *http.Request) {
	id, err := reportID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report id", err)
		return
	}
	group := chi.URLParam(r, "group")
	if err := h.Reports.DeleteLineItem(r.Context(), actorFrom(r), id, group); err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *Handler) GetLineItems(w http.ResponseWriter, r *http.Request) {
	id, err := reportID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report id", err)
		return
	}
	kind, err := parseKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid line item kind", err)
		return
	}

	items, err := h.Reports.EffectiveItems(r.Context(), id, kind)
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	dtos := make([]LineItemDTO, 0, len(items))
	for _, item := range items {
		dtos = append(dtos, lineItemDTO(item))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetChangelog(w http.ResponseWriter, r *http.Request) {
	id, err := reportID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report id", err)
		return
	}
	kind, err := parseKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid line item kind", err)
		return
	}

	sets, err := h.Reports.Changelog(r.Context(), id, kind)
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}

	type changeSetDTO struct {
		GroupUUID string        `json:"group_uuid"`
		Deleted   bool          `json:"deleted"`
		History   []LineItemDTO `json:"history"`
	}
	dtos := make([]changeSetDTO, 0, len(sets))
	for _, set := range sets {
		cs := changeSetDTO{GroupUUID: set.GroupUUID, Deleted: set.Deleted}
		for _, item := range set.History {
			cs.History = append(cs.History, lineItemDTO(item))
		}
		dtos = append(dtos, cs)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REFERENCE DATA HANDLERS
// =============================================================================

func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods := h.Oracle.Periods()
	dtos := make([]PeriodDTO, 0, len(periods))
	for _, p := range periods {
		legacy, _ := h.Oracle.IsLegacy(p.ID)
		dtos = append(dtos, PeriodDTO{
			ID:          int(p.ID),
			Description: p.Description,
			IsLegacy:    legacy,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetFuelOptions(w http.ResponseWriter, r *http.Request) {
	periodID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period id", err)
		return
	}
	includeLegacy := r.URL.Query().Get("include_legacy") == "true"
	lcfsOnly := r.URL.Query().Get("lcfs_only") == "true"

	cacheKey := fmt.Sprintf("options:%d:%t:%t", periodID, lcfsOnly, includeLegacy)
	if cached, ok := h.options.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	opts, err := h.Oracle.ListFuelOptions(core.PeriodID(periodID), lcfsOnly, includeLegacy)
	if err != nil {
		writeDomainError(w, r.Context(), err)
		return
	}
	dto := fuelOptionsDTO(opts)
	h.options.Set(cacheKey, dto, gocache.DefaultExpiration)
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the engines' typed errors onto HTTP statuses.
// Validation errors carry their field messages into the body.
func writeDomainError(w http.ResponseWriter, ctx context.Context, err error) {
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		resp := ErrorResponse{Error: "Validation failed"}
		for _, f := range verr.Fields {
			resp.Fields = append(resp.Fields, FieldErrorDTO{Field: f.Field, Message: f.Message})
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, core.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "Illegal transition", err)
	case errors.Is(err, core.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, "Insufficient balance", err)
	case errors.Is(err, core.ErrInvalidTransactionState):
		writeError(w, http.StatusConflict, "Invalid transaction state", err)
	case errors.Is(err, core.ErrConflict):
		writeError(w, http.StatusConflict, "Concurrent modification, retry the request", err)
	case errors.Is(err, core.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		ctx.Err() != nil:
		writeError(w, http.StatusGatewayTimeout, "Request timed out", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
