/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes the settlement engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Drivers:
    GET    /api/drivers                      List all drivers
    POST   /api/drivers                      Create/update driver
    GET    /api/drivers/{id}                 Get driver details
    GET    /api/drivers/{id}/loads           Driver's loads
    GET    /api/drivers/{id}/rules           Driver's deduction rules
    GET    /api/drivers/{id}/advances        Driver's open advances
    GET    /api/drivers/{id}/draft           Settlement draft preview
    GET    /api/drivers/{id}/settlements     Driver's settlement history

  Loads:
    POST   /api/loads                        Create/update load
    GET    /api/loads/{id}                   Get load

  Rules:
    POST   /api/rules                        Create rule from JSON

  Advances:
    POST   /api/advances                     Issue a cash advance

  Settlements:
    GET    /api/drafts                       Drafts for all drivers with work
    GET    /api/settlements                  List settlements
    GET    /api/settlements/{id}             Get a settlement
    POST   /api/settlements/generate         Generate one settlement
    POST   /api/settlements/batch            Generate for many drivers

ERROR HANDLING:
  Domain errors are mapped to HTTP statuses:
  - 400: Malformed input (bad JSON, bad dates, bad amounts)
  - 404: Driver/load/settlement not found
  - 409: Load already settled, duplicate settlement number
  - 422: Selected loads failed eligibility, or nothing to settle
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - fixtures.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fleetpay/settlement-engine/factory"
	"github.com/fleetpay/settlement-engine/settlement"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter is implemented by stores that support wiping all data.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       settlement.TxStore
	Engine      *settlement.Engine
	RuleFactory *factory.RuleFactory

	// Track currently loaded fixture set
	currentFixture string
}

// NewHandler creates a new handler around the given store.
func NewHandler(store settlement.TxStore) *Handler {
	return &Handler{
		Store:       store,
		Engine:      settlement.NewEngine(store),
		RuleFactory: factory.NewRuleFactory(),
	}
}

// =============================================================================
// DRIVER ENDPOINTS
// =============================================================================

func (h *Handler) ListDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := h.Store.ListDrivers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list drivers", err)
		return
	}

	dtos := make([]DriverDTO, len(drivers))
	for i, d := range drivers {
		dtos[i] = toDriverDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetDriver(w http.ResponseWriter, r *http.Request) {
	id := settlement.DriverID(chi.URLParam(r, "id"))
	driver, err := h.Store.GetDriver(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get driver", err)
		return
	}
	if driver == nil {
		writeError(w, http.StatusNotFound, "driver not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toDriverDTO(*driver))
}

func (h *Handler) CreateDriver(w http.ResponseWriter, r *http.Request) {
	var req CreateDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	rate := decimal.Zero
	if req.PayRate != "" {
		var err error
		rate, err = decimal.NewFromString(req.PayRate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid pay_rate", err)
			return
		}
	}

	driver := settlement.Driver{
		ID:          settlement.DriverID(req.ID),
		Name:        req.Name,
		PayType:     settlement.PayType(req.PayType),
		PayRate:     rate,
		AuthorityID: settlement.AuthorityID(req.AuthorityID),
	}
	if driver.ID == "" {
		driver.ID = settlement.DriverID(uuid.NewString())
	}

	if err := h.Store.SaveDriver(r.Context(), driver); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save driver", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDriverDTO(driver))
}

func (h *Handler) ListDriverLoads(w http.ResponseWriter, r *http.Request) {
	id := settlement.DriverID(chi.URLParam(r, "id"))
	loads, err := h.Store.ListLoadsByDriver(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list loads", err)
		return
	}

	dtos := make([]LoadDTO, len(loads))
	for i, l := range loads {
		dtos[i] = toLoadDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ListDriverRules(w http.ResponseWriter, r *http.Request) {
	id := settlement.DriverID(chi.URLParam(r, "id"))
	rules, err := h.Store.ListRulesByDriver(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}

	dtos := make([]factory.RuleJSON, len(rules))
	for i, rule := range rules {
		dtos[i] = h.RuleFactory.ToJSON(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ListDriverAdvances(w http.ResponseWriter, r *http.Request) {
	id := settlement.DriverID(chi.URLParam(r, "id"))
	advances, err := h.Store.ListOpenAdvances(r.Context(), id, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list advances", err)
		return
	}

	dtos := make([]AdvanceDTO, len(advances))
	for i, a := range advances {
		dtos[i] = toAdvanceDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ListDriverSettlements(w http.ResponseWriter, r *http.Request) {
	id := settlement.DriverID(chi.URLParam(r, "id"))
	settlements, err := h.Store.ListSettlementsByDriver(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list settlements", err)
		return
	}

	dtos := make([]SettlementDTO, len(settlements))
	for i := range settlements {
		dtos[i] = toSettlementDTO(&settlements[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LOAD ENDPOINTS
// =============================================================================

func (h *Handler) GetLoad(w http.ResponseWriter, r *http.Request) {
	id := settlement.LoadID(chi.URLParam(r, "id"))
	load, err := h.Store.GetLoad(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get load", err)
		return
	}
	if load == nil {
		writeError(w, http.StatusNotFound, "load not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toLoadDTO(*load))
}

func (h *Handler) CreateLoad(w http.ResponseWriter, r *http.Request) {
	var req CreateLoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.DriverID == "" {
		writeError(w, http.StatusBadRequest, "driver_id is required", nil)
		return
	}

	load := settlement.Load{
		ID:                 settlement.LoadID(req.ID),
		DriverID:           settlement.DriverID(req.DriverID),
		AuthorityID:        settlement.AuthorityID(req.AuthorityID),
		Status:             settlement.LoadStatus(req.Status),
		ReadyForSettlement: req.ReadyForSettlement,
		Revenue:            decimal.Zero,
		LoadedMiles:        decimal.Zero,
		EmptyMiles:         decimal.Zero,
	}
	if load.ID == "" {
		load.ID = settlement.LoadID(uuid.NewString())
	}

	var err error
	if load.Revenue, err = parseAmount(req.Revenue); err != nil {
		writeError(w, http.StatusBadRequest, "invalid revenue", err)
		return
	}
	if load.LoadedMiles, err = parseAmount(req.LoadedMiles); err != nil {
		writeError(w, http.StatusBadRequest, "invalid loaded_miles", err)
		return
	}
	if load.EmptyMiles, err = parseAmount(req.EmptyMiles); err != nil {
		writeError(w, http.StatusBadRequest, "invalid empty_miles", err)
		return
	}
	if req.DriverPay != nil {
		pay, err := decimal.NewFromString(*req.DriverPay)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid driver_pay", err)
			return
		}
		load.DriverPay = &pay
	}
	if load.PODUploadedAt, err = parseTimePtr(req.PODUploadedAt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pod_uploaded_at", err)
		return
	}
	if load.DeliveredAt, err = parseTimePtr(req.DeliveredAt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivered_at", err)
		return
	}

	if err := h.Store.SaveLoad(r.Context(), load); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save load", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoadDTO(load))
}

// =============================================================================
// RULE ENDPOINTS
// =============================================================================

func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rj factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&rj); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if rj.ID == "" {
		rj.ID = uuid.NewString()
	}

	rule, err := h.RuleFactory.FromJSON(rj)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	if err := h.Store.SaveRule(r.Context(), rule); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.RuleFactory.ToJSON(rule))
}

// =============================================================================
// ADVANCE ENDPOINTS
// =============================================================================

func (h *Handler) CreateAdvance(w http.ResponseWriter, r *http.Request) {
	var req CreateAdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.DriverID == "" {
		writeError(w, http.StatusBadRequest, "driver_id is required", nil)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be a positive decimal", err)
		return
	}

	issuedAt := time.Now().UTC()
	if req.IssuedAt != "" {
		issuedAt, err = time.Parse(time.RFC3339, req.IssuedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid issued_at", err)
			return
		}
	}

	advance := settlement.Advance{
		ID:       settlement.AdvanceID(req.ID),
		DriverID: settlement.DriverID(req.DriverID),
		LoadID:   settlement.LoadID(req.LoadID),
		Amount:   amount,
		IssuedAt: issuedAt,
	}
	if advance.ID == "" {
		advance.ID = settlement.AdvanceID(uuid.NewString())
	}

	if err := h.Store.SaveAdvance(r.Context(), advance); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save advance", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdvanceDTO(advance))
}

// =============================================================================
// DRAFT ENDPOINTS
// =============================================================================

func (h *Handler) GetDriverDraft(w http.ResponseWriter, r *http.Request) {
	id := settlement.DriverID(chi.URLParam(r, "id"))
	draft, err := h.Engine.BuildDraft(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftDTO(draft))
}

func (h *Handler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := h.Engine.BuildAllDrafts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build drafts", err)
		return
	}

	dtos := make([]DraftDTO, len(drafts))
	for i, d := range drafts {
		dtos[i] = toDraftDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SETTLEMENT ENDPOINTS
// =============================================================================

func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	settlements, err := h.Store.ListSettlements(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list settlements", err)
		return
	}

	dtos := make([]SettlementDTO, len(settlements))
	for i := range settlements {
		dtos[i] = toSettlementDTO(&settlements[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	id := settlement.SettlementID(chi.URLParam(r, "id"))
	s, err := h.Store.GetSettlement(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get settlement", err)
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "settlement not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(s))
}

func (h *Handler) GenerateSettlement(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.DriverID == "" {
		writeError(w, http.StatusBadRequest, "driver_id is required", nil)
		return
	}

	opts := settlement.GenerateOptions{
		SettlementNumber: req.SettlementNumber,
		Notes:            req.Notes,
	}

	period, err := parsePeriod(req.PeriodStart, req.PeriodEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid period", err)
		return
	}
	opts.Period = period

	if opts.Overrides, err = parseOverrides(req.Overrides); err != nil {
		writeError(w, http.StatusBadRequest, "invalid overrides", err)
		return
	}

	loadIDs := make([]settlement.LoadID, len(req.LoadIDs))
	for i, id := range req.LoadIDs {
		loadIDs[i] = settlement.LoadID(id)
	}

	s, err := h.Engine.Generate(r.Context(), settlement.DriverID(req.DriverID), loadIDs, opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSettlementDTO(s))
}

func (h *Handler) GenerateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	driverIDs := make([]settlement.DriverID, len(req.DriverIDs))
	for i, id := range req.DriverIDs {
		driverIDs[i] = settlement.DriverID(id)
	}
	if len(driverIDs) == 0 {
		drivers, err := h.Store.ListDrivers(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list drivers", err)
			return
		}
		for _, d := range drivers {
			driverIDs = append(driverIDs, d.ID)
		}
	}

	opts := settlement.GenerateOptions{}
	period, err := parsePeriod(req.PeriodStart, req.PeriodEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid period", err)
		return
	}
	opts.Period = period

	result, err := h.Engine.GenerateBatch(r.Context(), driverIDs, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "batch generation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResultDTO(result))
}

// =============================================================================
// HELPERS
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

// writeDomainError maps engine errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var ve *settlement.ValidationError
	if errors.As(err, &ve) {
		details := make([]ValidationFailureDTO, len(ve.Loads))
		for i, lv := range ve.Loads {
			details[i] = ValidationFailureDTO{LoadID: string(lv.LoadID), Failures: lv.Failures}
		}
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "selected loads failed eligibility checks",
			Code:    "validation_failed",
			Details: details,
		})
		return
	}

	switch {
	case errors.Is(err, settlement.ErrNoEligibleLoads):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: err.Error(), Code: "no_eligible_loads",
		})
	case settlement.IsConflict(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: err.Error(), Code: "conflict",
		})
	case settlement.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: err.Error(), Code: "not_found",
		})
	default:
		writeError(w, http.StatusInternalServerError, "settlement generation failed", err)
	}
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parsePeriod(start, end string) (*settlement.Period, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return nil, err
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return nil, err
	}
	return &settlement.Period{Start: s, End: e}, nil
}

func parseOverrides(o OverridesDTO) (settlement.Overrides, error) {
	var out settlement.Overrides
	parse := func(s *string) (*decimal.Decimal, error) {
		if s == nil {
			return nil, nil
		}
		d, err := decimal.NewFromString(*s)
		if err != nil {
			return nil, err
		}
		return &d, nil
	}
	var err error
	if out.Additions, err = parse(o.Additions); err != nil {
		return out, err
	}
	if out.Deductions, err = parse(o.Deductions); err != nil {
		return out, err
	}
	if out.Advances, err = parse(o.Advances); err != nil {
		return out, err
	}
	return out, nil
}
