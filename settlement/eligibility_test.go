package settlement_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpay/settlement-engine/settlement"
)

// testWeek is a fixed Monday-to-Sunday week used across these tests:
// 2026-03-02 through 2026-03-08.
func testWeek() settlement.Period {
	return settlement.WeekOf(time.Date(2026, time.March, 4, 0, 0, 0, 0, time.UTC))
}

// eligibleLoad returns a load that passes every check for perMileDriver.
func eligibleLoad(id string) settlement.Load {
	delivered := testWeek().Start.Add(40 * time.Hour)
	pod := delivered.Add(2 * time.Hour)
	return settlement.Load{
		ID:                 settlement.LoadID(id),
		DriverID:           "d1",
		AuthorityID:        "auth-1",
		Status:             settlement.LoadDelivered,
		PODUploadedAt:      &pod,
		ReadyForSettlement: true,
		DeliveredAt:        &delivered,
		Revenue:            dec("2000"),
		LoadedMiles:        dec("500"),
		EmptyMiles:         dec("50"),
	}
}

// =============================================================================
// PERIOD RESOLUTION
// =============================================================================

func TestWeekOf_MondayStart(t *testing.T) {
	// Wednesday 2026-03-04 falls in the week of Monday 2026-03-02
	p := testWeek()
	assert.Equal(t, time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Sunday, p.End.Weekday())
	assert.True(t, p.Contains(time.Date(2026, time.March, 8, 23, 59, 59, 0, time.UTC)))
	assert.False(t, p.Contains(time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC)))
}

func TestWeekOf_SundayBelongsToPrecedingMonday(t *testing.T) {
	p := settlement.WeekOf(time.Date(2026, time.March, 8, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC), p.Start)
}

func TestLastClosedWeek(t *testing.T) {
	// From Wednesday 2026-03-11, the last closed week is Mar 2 - Mar 8.
	now := time.Date(2026, time.March, 11, 9, 30, 0, 0, time.UTC)
	p := settlement.LastClosedWeek(now)
	assert.Equal(t, time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC), p.Start)
	assert.True(t, p.End.Before(time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC)))
}

// =============================================================================
// PER-LOAD CHECKS
// =============================================================================

func TestCheckLoad_EligibleLoad_NoFailures(t *testing.T) {
	failed := settlement.CheckLoad(eligibleLoad("l1"), perMileDriver("0.60"), testWeek(), settlement.ModeGenerate)
	assert.Empty(t, failed)
}

func TestCheckLoad_ReportsAllFailures(t *testing.T) {
	// GIVEN: a load failing several rules at once
	// THEN: every failed rule is reported, not just the first

	l := eligibleLoad("l1")
	l.Status = settlement.LoadInTransit
	l.PODUploadedAt = nil
	l.ReadyForSettlement = false

	failed := settlement.CheckLoad(l, perMileDriver("0.60"), testWeek(), settlement.ModeGenerate)

	assert.Contains(t, failed, settlement.RuleStatusNotSettleable)
	assert.Contains(t, failed, settlement.RulePODMissing)
	assert.Contains(t, failed, settlement.RuleNotReady)
	assert.Len(t, failed, 3)
}

func TestCheckLoad_BillingHoldIsSettleable(t *testing.T) {
	// BILLING_HOLD blocks invoicing, not driver pay.
	l := eligibleLoad("l1")
	l.Status = settlement.LoadBillingHold

	failed := settlement.CheckLoad(l, perMileDriver("0.60"), testWeek(), settlement.ModeGenerate)
	assert.Empty(t, failed)
}

func TestCheckLoad_DeliveredOutsidePeriod_GenerateOnly(t *testing.T) {
	l := eligibleLoad("l1")
	late := testWeek().End.Add(24 * time.Hour)
	l.DeliveredAt = &late

	failed := settlement.CheckLoad(l, perMileDriver("0.60"), testWeek(), settlement.ModeGenerate)
	assert.Contains(t, failed, settlement.RuleOutsidePeriod)

	// Preview mode ignores period bounds.
	failed = settlement.CheckLoad(l, perMileDriver("0.60"), testWeek(), settlement.ModePreview)
	assert.Empty(t, failed)
}

func TestCheckLoad_AuthorityMismatch(t *testing.T) {
	l := eligibleLoad("l1")
	l.AuthorityID = "auth-other"

	failed := settlement.CheckLoad(l, perMileDriver("0.60"), testWeek(), settlement.ModeGenerate)
	assert.Equal(t, []string{settlement.RuleAuthorityMismatch}, failed)
}

func TestCheckLoad_AlreadySettled(t *testing.T) {
	l := eligibleLoad("l1")
	l.SettlementID = "s-1"

	failed := settlement.CheckLoad(l, perMileDriver("0.60"), testWeek(), settlement.ModeGenerate)
	assert.Contains(t, failed, settlement.RuleAlreadySettled)
}

func TestCheckLoad_WrongDriver(t *testing.T) {
	l := eligibleLoad("l1")
	l.DriverID = "d-other"

	failed := settlement.CheckLoad(l, perMileDriver("0.60"), testWeek(), settlement.ModeGenerate)
	assert.Contains(t, failed, settlement.RuleWrongDriver)
}

// =============================================================================
// FILTER AND VALIDATE
// =============================================================================

func TestFilter_KeepsEligibleInOrder(t *testing.T) {
	good1 := eligibleLoad("l1")
	bad := eligibleLoad("l2")
	bad.PODUploadedAt = nil
	good2 := eligibleLoad("l3")

	eligible := settlement.Filter(
		[]settlement.Load{good1, bad, good2},
		perMileDriver("0.60"), testWeek(), settlement.ModeGenerate)

	require.Len(t, eligible, 2)
	assert.Equal(t, settlement.LoadID("l1"), eligible[0].ID)
	assert.Equal(t, settlement.LoadID("l3"), eligible[1].ID)
}

func TestValidate_AllEligible_Nil(t *testing.T) {
	ve := settlement.Validate(
		[]settlement.Load{eligibleLoad("l1"), eligibleLoad("l2")},
		perMileDriver("0.60"), testWeek())
	assert.Nil(t, ve)
}

func TestValidate_CollectsAllFailingLoads(t *testing.T) {
	bad1 := eligibleLoad("l1")
	bad1.PODUploadedAt = nil
	bad2 := eligibleLoad("l2")
	bad2.ReadyForSettlement = false

	ve := settlement.Validate(
		[]settlement.Load{bad1, eligibleLoad("l3"), bad2},
		perMileDriver("0.60"), testWeek())

	require.NotNil(t, ve)
	require.Len(t, ve.Loads, 2)
	assert.Equal(t, settlement.LoadID("l1"), ve.Loads[0].LoadID)
	assert.Equal(t, []string{settlement.RulePODMissing}, ve.Loads[0].Failures)
	assert.Equal(t, settlement.LoadID("l2"), ve.Loads[1].LoadID)
}
