package settlement_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpay/settlement-engine/settlement"
)

func openBalance(id, amount string, age time.Duration) settlement.NegativeBalance {
	return settlement.NegativeBalance{
		ID:                 settlement.BalanceID(id),
		DriverID:           "d1",
		Amount:             dec(amount),
		SourceSettlementID: "s-old",
		CreatedAt:          time.Now().Add(-age),
	}
}

func TestApplyBalances_NoOpenBalances_PassThrough(t *testing.T) {
	app := settlement.ApplyBalances(dec("650"), nil)

	assert.True(t, app.NetPay.Equal(dec("650")))
	assert.True(t, app.Applied.IsZero())
	assert.True(t, app.Shortfall.IsZero())
	assert.Empty(t, app.Consumed)
}

func TestApplyBalances_ShortfallClampsNetToZero(t *testing.T) {
	// GIVEN: deductions exceeded pay, pre-balance net is -150
	// WHEN: the ledger is applied with no prior rows
	// THEN: net pay is 0 and a 150 shortfall carries forward

	app := settlement.ApplyBalances(dec("-150"), nil)

	assert.True(t, app.NetPay.IsZero())
	assert.True(t, app.Shortfall.Equal(dec("150")))
	assert.True(t, app.Applied.IsZero())
}

func TestApplyBalances_PriorBalanceRecovered(t *testing.T) {
	// GIVEN: a 150 shortfall from last week and 800 pre-balance net now
	// WHEN: the ledger is applied
	// THEN: net is 650 and the prior row is consumed

	open := []settlement.NegativeBalance{openBalance("b1", "150", 7*24*time.Hour)}
	app := settlement.ApplyBalances(dec("800"), open)

	assert.True(t, app.NetPay.Equal(dec("650")))
	assert.True(t, app.Applied.Equal(dec("150")))
	assert.True(t, app.Shortfall.IsZero())
	require.Len(t, app.Consumed, 1)
	assert.Equal(t, settlement.BalanceID("b1"), app.Consumed[0].ID)
}

func TestApplyBalances_MultipleRowsConsumedFIFO(t *testing.T) {
	open := []settlement.NegativeBalance{
		openBalance("b1", "100", 14*24*time.Hour),
		openBalance("b2", "60", 7*24*time.Hour),
	}
	app := settlement.ApplyBalances(dec("500"), open)

	assert.True(t, app.NetPay.Equal(dec("340")))
	assert.True(t, app.Applied.Equal(dec("160")))
	require.Len(t, app.Consumed, 2)
	assert.Equal(t, settlement.BalanceID("b1"), app.Consumed[0].ID)
	assert.Equal(t, settlement.BalanceID("b2"), app.Consumed[1].ID)
}

func TestApplyBalances_PartialCoverage_RemainderRollsForward(t *testing.T) {
	// GIVEN: 200 of open balance but only 120 of pre-balance net
	// WHEN: the ledger is applied
	// THEN: all rows are consumed, net is 0, and exactly the uncovered
	//       80 becomes the new shortfall - never double-counted

	open := []settlement.NegativeBalance{
		openBalance("b1", "150", 14*24*time.Hour),
		openBalance("b2", "50", 7*24*time.Hour),
	}
	app := settlement.ApplyBalances(dec("120"), open)

	assert.True(t, app.NetPay.IsZero())
	assert.True(t, app.Applied.Equal(dec("200")))
	assert.True(t, app.Shortfall.Equal(dec("80")), "got %s", app.Shortfall)
	assert.Len(t, app.Consumed, 2)
}

func TestOpenBalanceTotal(t *testing.T) {
	open := []settlement.NegativeBalance{
		openBalance("b1", "150", 0),
		openBalance("b2", "49.50", 0),
	}
	assert.True(t, settlement.OpenBalanceTotal(open).Equal(dec("199.50")))
}
