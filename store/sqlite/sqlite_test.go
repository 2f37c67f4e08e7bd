package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpay/settlement-engine/settlement"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testDriver() settlement.Driver {
	return settlement.Driver{
		ID:          "d1",
		Name:        "Maria Santos",
		PayType:     settlement.PayPerMile,
		PayRate:     dec("0.60"),
		AuthorityID: "auth-1",
	}
}

func testLoad(id string) settlement.Load {
	delivered := time.Date(2026, time.March, 3, 16, 0, 0, 0, time.UTC)
	pod := delivered.Add(time.Hour)
	pay := dec("330")
	return settlement.Load{
		ID:                 settlement.LoadID(id),
		DriverID:           "d1",
		AuthorityID:        "auth-1",
		Status:             settlement.LoadDelivered,
		PODUploadedAt:      &pod,
		ReadyForSettlement: true,
		DeliveredAt:        &delivered,
		Revenue:            dec("2000"),
		DriverPay:          &pay,
		LoadedMiles:        dec("500"),
		EmptyMiles:         dec("50"),
	}
}

func testSettlement(id, number string, loadIDs ...settlement.LoadID) settlement.Settlement {
	return settlement.Settlement{
		ID:               settlement.SettlementID(id),
		SettlementNumber: number,
		DriverID:         "d1",
		PeriodStart:      time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC),
		PeriodEnd:        time.Date(2026, time.March, 8, 23, 59, 59, 0, time.UTC),
		LoadIDs:          loadIDs,
		GrossPay:         dec("330"),
		NetPay:           dec("245"),
		Lines: []settlement.LineItem{
			{Type: settlement.LineDeduction, Description: "Insurance", Amount: dec("85")},
		},
		CreatedAt: time.Date(2026, time.March, 9, 8, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// DRIVERS AND LOADS
// =============================================================================

func TestDriverRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDriver(ctx, testDriver()))

	got, err := s.GetDriver(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Maria Santos", got.Name)
	assert.Equal(t, settlement.PayPerMile, got.PayType)
	assert.True(t, got.PayRate.Equal(dec("0.60")))

	missing, err := s.GetDriver(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSaveDriver_Upserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := testDriver()
	require.NoError(t, s.SaveDriver(ctx, d))
	d.PayRate = dec("0.65")
	require.NoError(t, s.SaveDriver(ctx, d))

	got, err := s.GetDriver(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, got.PayRate.Equal(dec("0.65")))

	drivers, err := s.ListDrivers(ctx)
	require.NoError(t, err)
	assert.Len(t, drivers, 1)
}

func TestLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDriver(ctx, testDriver()))
	require.NoError(t, s.SaveLoad(ctx, testLoad("l1")))

	got, err := s.GetLoad(ctx, "l1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, settlement.LoadDelivered, got.Status)
	assert.True(t, got.Revenue.Equal(dec("2000")))
	assert.True(t, got.LoadedMiles.Equal(dec("500")))
	require.NotNil(t, got.PODUploadedAt)
	assert.True(t, got.ReadyForSettlement)
	assert.False(t, got.Settled())
	require.NotNil(t, got.DriverPay)
	assert.True(t, got.DriverPay.Equal(dec("330")))
}

func TestGetLoads_MissingID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDriver(ctx, testDriver()))
	require.NoError(t, s.SaveLoad(ctx, testLoad("l1")))

	_, err := s.GetLoads(ctx, []settlement.LoadID{"l1", "ghost"})
	assert.ErrorIs(t, err, settlement.ErrLoadNotFound)
}

// =============================================================================
// LOAD LINKING - the exclusivity guarantee
// =============================================================================

func TestLinkLoad_ExactlyOnce(t *testing.T) {
	// GIVEN: an unsettled load
	// WHEN: two settlements try to claim it
	// THEN: the first wins, the second gets ErrLoadAlreadySettled

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDriver(ctx, testDriver()))
	require.NoError(t, s.SaveLoad(ctx, testLoad("l1")))
	require.NoError(t, s.CreateSettlement(ctx, testSettlement("s1", "S-000001", "l1")))
	require.NoError(t, s.CreateSettlement(ctx, testSettlement("s2", "S-000002", "l1")))

	require.NoError(t, s.LinkLoad(ctx, "l1", "s1"))

	err := s.LinkLoad(ctx, "l1", "s2")
	assert.ErrorIs(t, err, settlement.ErrLoadAlreadySettled)

	got, err := s.GetLoad(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, settlement.SettlementID("s1"), got.SettlementID)
}

func TestLinkLoad_UnknownLoad(t *testing.T) {
	s := newTestStore(t)
	err := s.LinkLoad(context.Background(), "ghost", "s1")
	assert.ErrorIs(t, err, settlement.ErrLoadNotFound)
}

// =============================================================================
// RULES AND ESCROW
// =============================================================================

func TestRuleRoundTrip_FixedAndEscrow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDriver(ctx, testDriver()))
	require.NoError(t, s.SaveRule(ctx, settlement.DeductionRule{
		ID:          "r1",
		DriverID:    "d1",
		Description: "Insurance",
		Frequency:   settlement.FreqWeekly,
		Active:      true,
		Terms:       settlement.FixedTerms{Amount: dec("85")},
	}))
	require.NoError(t, s.SaveRule(ctx, settlement.DeductionRule{
		ID:          "r2",
		DriverID:    "d1",
		Description: "Escrow",
		Frequency:   settlement.FreqWeekly,
		Active:      true,
		Terms: settlement.EscrowTerms{
			Amount:        dec("50"),
			GoalAmount:    dec("1000"),
			CurrentAmount: dec("250"),
		},
	}))

	rules, err := s.ListRulesByDriver(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, rules, 2)

	byID := map[settlement.RuleID]settlement.DeductionRule{}
	for _, r := range rules {
		byID[r.ID] = r
	}

	fixed, ok := byID["r1"].Terms.(settlement.FixedTerms)
	require.True(t, ok)
	assert.True(t, fixed.Amount.Equal(dec("85")))

	escrow, ok := byID["r2"].Terms.(settlement.EscrowTerms)
	require.True(t, ok)
	assert.True(t, escrow.GoalAmount.Equal(dec("1000")))
	assert.True(t, escrow.CurrentAmount.Equal(dec("250")))
	assert.True(t, escrow.Remaining().Equal(dec("750")))
}

func TestUpdateEscrowProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDriver(ctx, testDriver()))
	require.NoError(t, s.SaveRule(ctx, settlement.DeductionRule{
		ID: "r1", DriverID: "d1", Description: "Escrow",
		Frequency: settlement.FreqWeekly, Active: true,
		Terms: settlement.EscrowTerms{Amount: dec("50"), GoalAmount: dec("1000"), CurrentAmount: dec("950")},
	}))

	require.NoError(t, s.UpdateEscrowProgress(ctx, "r1", dec("1000"), false))

	rules, err := s.ListRulesByDriver(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.False(t, rules[0].Active)
	terms := rules[0].Terms.(settlement.EscrowTerms)
	assert.True(t, terms.CurrentAmount.Equal(dec("1000")))
	assert.True(t, terms.GoalReached())
}

// =============================================================================
// ADVANCES AND BALANCES
// =============================================================================

func TestAdvanceLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	issued := time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveDriver(ctx, testDriver()))
	require.NoError(t, s.SaveAdvance(ctx, settlement.Advance{
		ID: "a1", DriverID: "d1", Amount: dec("200"), IssuedAt: issued,
	}))

	open, err := s.ListOpenAdvances(ctx, "d1", issued.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, open, 1)

	// Issued after the cutoff stays out of the list.
	open, err = s.ListOpenAdvances(ctx, "d1", issued.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, open)

	require.NoError(t, s.CreateSettlement(ctx, testSettlement("s1", "S-000001")))
	require.NoError(t, s.MarkAdvanceSettled(ctx, "a1", "s1"))

	open, err = s.ListOpenAdvances(ctx, "d1", issued.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestBalanceLifecycle_FIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDriver(ctx, testDriver()))
	require.NoError(t, s.CreateSettlement(ctx, testSettlement("s1", "S-000001")))

	older := time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC)
	newer := older.AddDate(0, 0, 7)
	require.NoError(t, s.SaveBalance(ctx, settlement.NegativeBalance{
		ID: "b2", DriverID: "d1", Amount: dec("80"), SourceSettlementID: "s1", CreatedAt: newer,
	}))
	require.NoError(t, s.SaveBalance(ctx, settlement.NegativeBalance{
		ID: "b1", DriverID: "d1", Amount: dec("150"), SourceSettlementID: "s1", CreatedAt: older,
	}))

	open, err := s.ListOpenBalances(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, settlement.BalanceID("b1"), open[0].ID, "oldest first")
	assert.Equal(t, settlement.BalanceID("b2"), open[1].ID)

	require.NoError(t, s.CreateSettlement(ctx, testSettlement("s2", "S-000002")))
	require.NoError(t, s.MarkBalanceApplied(ctx, "b1", "s2"))

	open, err = s.ListOpenBalances(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, settlement.BalanceID("b2"), open[0].ID)
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func TestSettlementRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDriver(ctx, testDriver()))
	require.NoError(t, s.CreateSettlement(ctx, testSettlement("s1", "S-000001", "l1", "l2")))

	got, err := s.GetSettlement(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "S-000001", got.SettlementNumber)
	assert.Equal(t, []settlement.LoadID{"l1", "l2"}, got.LoadIDs)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "Insurance", got.Lines[0].Description)
	assert.True(t, got.Lines[0].Amount.Equal(dec("85")))
}

func TestCreateSettlement_DuplicateNumber(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDriver(ctx, testDriver()))
	require.NoError(t, s.CreateSettlement(ctx, testSettlement("s1", "S-000001")))

	err := s.CreateSettlement(ctx, testSettlement("s2", "S-000001"))
	assert.ErrorIs(t, err, settlement.ErrDuplicateSettlementNumber)
}

func TestNextSettlementSeq_Increments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		seq, err := s.NextSettlementSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, seq)
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollbackOnError(t *testing.T) {
	// GIVEN: a transaction that links a load and creates a settlement
	// WHEN: the callback returns an error
	// THEN: nothing is visible afterwards

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDriver(ctx, testDriver()))
	require.NoError(t, s.SaveLoad(ctx, testLoad("l1")))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx settlement.Store) error {
		if err := tx.CreateSettlement(ctx, testSettlement("s1", "S-000001", "l1")); err != nil {
			return err
		}
		if err := tx.LinkLoad(ctx, "l1", "s1"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetSettlement(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	l, err := s.GetLoad(ctx, "l1")
	require.NoError(t, err)
	assert.False(t, l.Settled())
}

func TestWithTx_CommitOnNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDriver(ctx, testDriver()))
	require.NoError(t, s.SaveLoad(ctx, testLoad("l1")))

	err := s.WithTx(ctx, func(tx settlement.Store) error {
		if err := tx.CreateSettlement(ctx, testSettlement("s1", "S-000001", "l1")); err != nil {
			return err
		}
		return tx.LinkLoad(ctx, "l1", "s1")
	})
	require.NoError(t, err)

	l, err := s.GetLoad(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, settlement.SettlementID("s1"), l.SettlementID)
}

func TestReset_ClearsEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDriver(ctx, testDriver()))
	require.NoError(t, s.SaveLoad(ctx, testLoad("l1")))
	_, err := s.NextSettlementSeq(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))

	drivers, err := s.ListDrivers(ctx)
	require.NoError(t, err)
	assert.Empty(t, drivers)

	seq, err := s.NextSettlementSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq, "sequence restarts after reset")
}
