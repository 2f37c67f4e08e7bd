/*
fixtures.go - Demo fixture loaders for testing and demonstrations

PURPOSE:

	Provides pre-built fixture sets that populate the database with
	realistic data for testing and demos. Each fixture creates drivers,
	loads, deduction rules, and advances that demonstrate specific
	engine behaviors.

AVAILABLE FIXTURES:

	per-mile-fleet:    Three per-mile drivers with a week of delivered loads
	owner-operator:    Percentage driver with escrow, fixed deductions, advance
	negative-balance:  Driver whose deductions exceed pay, shortfall carried
	imported-loads:    Loads from an upstream import with suspect driver_pay

HOW FIXTURES WORK:
 1. Reset database (clear all data)
 2. Create drivers
 3. Create delivered loads inside the last closed week
 4. Add deduction rules and advances

USAGE VIA API:

	POST /api/fixtures/load
	{"fixture_id": "owner-operator"}

NOTE:

	Fixtures reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: generation endpoints operating on this data
  - factory/rule.go: rule JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetpay/settlement-engine/factory"
	"github.com/fleetpay/settlement-engine/settlement"
)

// =============================================================================
// FIXTURE DEFINITIONS
// =============================================================================

// FixtureDTO describes a loadable demo fixture set.
type FixtureDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var fixtures = []FixtureDTO{
	{
		ID:          "per-mile-fleet",
		Name:        "Per-Mile Fleet",
		Description: "Three per-mile drivers with a week of delivered loads, one missing pay configuration",
	},
	{
		ID:          "owner-operator",
		Name:        "Owner Operator",
		Description: "Percentage-of-revenue driver with escrow, fixed deductions, and a cash advance",
	},
	{
		ID:          "negative-balance",
		Name:        "Negative Balance",
		Description: "Driver whose deductions exceed gross pay; shortfall carries to the next settlement",
	},
	{
		ID:          "imported-loads",
		Name:        "Imported Loads",
		Description: "Loads from an upstream import where driver_pay equals revenue and must be recomputed",
	},
}

// ListFixtures returns available fixtures.
func (h *Handler) ListFixtures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, fixtures)
}

// GetCurrentFixture returns the currently loaded fixture, if any.
func (h *Handler) GetCurrentFixture(w http.ResponseWriter, r *http.Request) {
	if h.currentFixture == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, f := range fixtures {
		if f.ID == h.currentFixture {
			writeJSON(w, http.StatusOK, f)
			return
		}
	}

	writeJSON(w, http.StatusOK, FixtureDTO{
		ID:   h.currentFixture,
		Name: h.currentFixture,
	})
}

// LoadFixture resets the database and loads a predefined fixture set.
func (h *Handler) LoadFixture(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FixtureID string `json:"fixture_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	ctx := r.Context()
	if err := h.resetStore(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset database", err)
		return
	}

	var err error
	switch req.FixtureID {
	case "per-mile-fleet":
		err = h.loadPerMileFleetFixture(ctx)
	case "owner-operator":
		err = h.loadOwnerOperatorFixture(ctx)
	case "negative-balance":
		err = h.loadNegativeBalanceFixture(ctx)
	case "imported-loads":
		err = h.loadImportedLoadsFixture(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown fixture: %s", req.FixtureID), nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load fixture", err)
		return
	}

	h.currentFixture = req.FixtureID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "fixture_id": req.FixtureID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.resetStore(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset database", err)
		return
	}
	h.currentFixture = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) resetStore(ctx context.Context) error {
	resetter, ok := h.Store.(Resetter)
	if !ok {
		return fmt.Errorf("store does not support reset")
	}
	return resetter.Reset(ctx)
}

// =============================================================================
// FIXTURE LOADERS
// =============================================================================

// fixtureWeek is the period all fixture loads fall into: the last
// closed Monday-Sunday week, so drafts and batch runs find them with
// default period resolution.
func fixtureWeek() settlement.Period {
	return settlement.LastClosedWeek(time.Now().UTC())
}

func (h *Handler) loadPerMileFleetFixture(ctx context.Context) error {
	week := fixtureWeek()

	drivers := []settlement.Driver{
		{ID: "drv-miles-1", Name: "Ray Ortega", PayType: settlement.PayPerMile, PayRate: settlement.MustDecimal("0.62"), AuthorityID: "auth-1"},
		{ID: "drv-miles-2", Name: "Dana Whitfield", PayType: settlement.PayPerMile, PayRate: settlement.MustDecimal("0.58"), AuthorityID: "auth-1"},
		// No pay configuration; settles with $0 lines and a warning.
		{ID: "drv-miles-3", Name: "Pat Kowalski", AuthorityID: "auth-1"},
	}
	for _, d := range drivers {
		if err := h.Store.SaveDriver(ctx, d); err != nil {
			return err
		}
	}

	loads := []struct {
		id     string
		driver string
		day    int
		rev    string
		loaded string
		empty  string
	}{
		{"ld-m1-a", "drv-miles-1", 0, "2100", "540", "60"},
		{"ld-m1-b", "drv-miles-1", 2, "1850", "470", "35"},
		{"ld-m1-c", "drv-miles-1", 4, "2400", "610", "90"},
		{"ld-m2-a", "drv-miles-2", 1, "1700", "430", "40"},
		{"ld-m2-b", "drv-miles-2", 3, "1950", "505", "55"},
		{"ld-m3-a", "drv-miles-3", 2, "1600", "410", "30"},
	}
	for _, spec := range loads {
		delivered := week.Start.AddDate(0, 0, spec.day).Add(15 * time.Hour)
		pod := delivered.Add(2 * time.Hour)
		load := settlement.Load{
			ID:                 settlement.LoadID(spec.id),
			DriverID:           settlement.DriverID(spec.driver),
			AuthorityID:        "auth-1",
			Status:             settlement.LoadDelivered,
			PODUploadedAt:      &pod,
			ReadyForSettlement: true,
			DeliveredAt:        &delivered,
			Revenue:            settlement.MustDecimal(spec.rev),
			LoadedMiles:        settlement.MustDecimal(spec.loaded),
			EmptyMiles:         settlement.MustDecimal(spec.empty),
		}
		if err := h.Store.SaveLoad(ctx, load); err != nil {
			return err
		}
	}

	// One recurring deduction each for the configured drivers.
	for i, driverID := range []string{"drv-miles-1", "drv-miles-2"} {
		rule, err := h.RuleFactory.ParseRule(factory.FixedDeductionJSON(
			fmt.Sprintf("rule-ins-%d", i+1), driverID, 85, "Occupational insurance"))
		if err != nil {
			return err
		}
		if err := h.Store.SaveRule(ctx, rule); err != nil {
			return err
		}
	}

	return nil
}

func (h *Handler) loadOwnerOperatorFixture(ctx context.Context) error {
	week := fixtureWeek()

	driver := settlement.Driver{
		ID:          "drv-oo-1",
		Name:        "Marcus Bell",
		PayType:     settlement.PayPercentage,
		PayRate:     settlement.MustDecimal("72"), // 72% of revenue
		AuthorityID: "auth-1",
	}
	if err := h.Store.SaveDriver(ctx, driver); err != nil {
		return err
	}

	revs := []string{"3200", "2750", "4100"}
	for i, rev := range revs {
		delivered := week.Start.AddDate(0, 0, i*2).Add(18 * time.Hour)
		pod := delivered.Add(time.Hour)
		load := settlement.Load{
			ID:                 settlement.LoadID(fmt.Sprintf("ld-oo-%d", i+1)),
			DriverID:           driver.ID,
			AuthorityID:        "auth-1",
			Status:             settlement.LoadInvoiced,
			PODUploadedAt:      &pod,
			ReadyForSettlement: true,
			DeliveredAt:        &delivered,
			Revenue:            settlement.MustDecimal(rev),
			LoadedMiles:        settlement.MustDecimal("520"),
			EmptyMiles:         settlement.MustDecimal("48"),
		}
		if err := h.Store.SaveLoad(ctx, load); err != nil {
			return err
		}
	}

	ruleJSONs := []string{
		factory.EscrowRuleJSON("rule-oo-escrow", string(driver.ID), 250, 2500, "Maintenance escrow"),
		factory.FixedDeductionJSON("rule-oo-ins", string(driver.ID), 140, "Physical damage insurance"),
		factory.FixedDeductionJSON("rule-oo-eld", string(driver.ID), 25, "ELD subscription"),
		factory.FixedAdditionJSON("rule-oo-safety", string(driver.ID), 100, "Safety bonus"),
	}
	for _, js := range ruleJSONs {
		rule, err := h.RuleFactory.ParseRule(js)
		if err != nil {
			return err
		}
		if err := h.Store.SaveRule(ctx, rule); err != nil {
			return err
		}
	}

	advance := settlement.Advance{
		ID:       "adv-oo-1",
		DriverID: driver.ID,
		LoadID:   "ld-oo-2",
		Amount:   settlement.MustDecimal("500"),
		IssuedAt: week.Start.AddDate(0, 0, 3),
	}
	return h.Store.SaveAdvance(ctx, advance)
}

func (h *Handler) loadNegativeBalanceFixture(ctx context.Context) error {
	week := fixtureWeek()

	driver := settlement.Driver{
		ID:          "drv-nb-1",
		Name:        "Lena Vasquez",
		PayType:     settlement.PayPerLoad,
		PayRate:     settlement.MustDecimal("350"),
		AuthorityID: "auth-1",
	}
	if err := h.Store.SaveDriver(ctx, driver); err != nil {
		return err
	}

	// One small load; deductions below will exceed its pay.
	delivered := week.Start.Add(20 * time.Hour)
	pod := delivered.Add(3 * time.Hour)
	load := settlement.Load{
		ID:                 "ld-nb-1",
		DriverID:           driver.ID,
		AuthorityID:        "auth-1",
		Status:             settlement.LoadDelivered,
		PODUploadedAt:      &pod,
		ReadyForSettlement: true,
		DeliveredAt:        &delivered,
		Revenue:            settlement.MustDecimal("900"),
		LoadedMiles:        settlement.MustDecimal("240"),
		EmptyMiles:         settlement.MustDecimal("20"),
	}
	if err := h.Store.SaveLoad(ctx, load); err != nil {
		return err
	}

	rule, err := h.RuleFactory.ParseRule(factory.FixedDeductionJSON(
		"rule-nb-lease", string(driver.ID), 600, "Trailer lease"))
	if err != nil {
		return err
	}
	if err := h.Store.SaveRule(ctx, rule); err != nil {
		return err
	}

	// A shortfall left over from an earlier settlement.
	return h.Store.SaveBalance(ctx, settlement.NegativeBalance{
		ID:                 "bal-nb-1",
		DriverID:           driver.ID,
		Amount:             settlement.MustDecimal("120"),
		SourceSettlementID: "stl-prior",
		CreatedAt:          week.Start.AddDate(0, 0, -7),
	})
}

func (h *Handler) loadImportedLoadsFixture(ctx context.Context) error {
	week := fixtureWeek()

	driver := settlement.Driver{
		ID:          "drv-imp-1",
		Name:        "Sam Okafor",
		PayType:     settlement.PayPerMile,
		PayRate:     settlement.MustDecimal("0.60"),
		AuthorityID: "auth-1",
	}
	if err := h.Store.SaveDriver(ctx, driver); err != nil {
		return err
	}

	// Upstream import wrote revenue into driver_pay; for a per-mile
	// driver the engine distrusts that and recomputes from miles.
	for i := 0; i < 2; i++ {
		delivered := week.Start.AddDate(0, 0, i+1).Add(16 * time.Hour)
		pod := delivered.Add(90 * time.Minute)
		rev := settlement.MustDecimal("2000")
		suspectPay := rev
		load := settlement.Load{
			ID:                 settlement.LoadID(fmt.Sprintf("ld-imp-%d", i+1)),
			DriverID:           driver.ID,
			AuthorityID:        "auth-1",
			Status:             settlement.LoadPaid,
			PODUploadedAt:      &pod,
			ReadyForSettlement: true,
			DeliveredAt:        &delivered,
			Revenue:            rev,
			LoadedMiles:        settlement.MustDecimal("500"),
			EmptyMiles:         settlement.MustDecimal("45"),
			DriverPay:          &suspectPay,
		}
		if err := h.Store.SaveLoad(ctx, load); err != nil {
			return err
		}
	}

	// A genuinely negotiated flat pay the heuristic trusts.
	delivered := week.Start.AddDate(0, 0, 4).Add(12 * time.Hour)
	pod := delivered.Add(time.Hour)
	flat := decimal.NewFromInt(1500)
	load := settlement.Load{
		ID:                 "ld-imp-3",
		DriverID:           driver.ID,
		AuthorityID:        "auth-1",
		Status:             settlement.LoadPaid,
		PODUploadedAt:      &pod,
		ReadyForSettlement: true,
		DeliveredAt:        &delivered,
		Revenue:            settlement.MustDecimal("2600"),
		LoadedMiles:        settlement.MustDecimal("610"),
		EmptyMiles:         settlement.MustDecimal("70"),
		DriverPay:          &flat,
	}
	return h.Store.SaveLoad(ctx, load)
}
