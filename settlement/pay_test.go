package settlement_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/fleetpay/settlement-engine/settlement"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return settlement.MustDecimal(s)
}

func decPtr(s string) *decimal.Decimal {
	d := settlement.MustDecimal(s)
	return &d
}

func perMileDriver(rate string) settlement.Driver {
	return settlement.Driver{
		ID:          "d1",
		Name:        "Test Driver",
		PayType:     settlement.PayPerMile,
		PayRate:     dec(rate),
		AuthorityID: "auth-1",
	}
}

func mileLoad(loaded, empty string) settlement.Load {
	return settlement.Load{
		ID:          "l1",
		DriverID:    "d1",
		AuthorityID: "auth-1",
		Status:      settlement.LoadDelivered,
		Revenue:     dec("2000"),
		LoadedMiles: dec(loaded),
		EmptyMiles:  dec(empty),
	}
}

// =============================================================================
// PAY TYPE FORMULAS
// =============================================================================

func TestLoadPay_PerMile(t *testing.T) {
	// GIVEN: a per-mile driver at $0.60/mile
	// WHEN: a load with 500 loaded + 50 empty miles is paid
	// THEN: pay is 550 * 0.60 = 330, empty miles included

	calc := settlement.NewPayCalculator()
	pay := calc.LoadPay(mileLoad("500", "50"), perMileDriver("0.60"))

	assert.True(t, pay.Equal(dec("330")), "got %s", pay)
}

func TestLoadPay_Percentage(t *testing.T) {
	calc := settlement.NewPayCalculator()
	driver := settlement.Driver{
		ID: "d1", Name: "Pct", PayType: settlement.PayPercentage,
		PayRate: dec("72"), AuthorityID: "auth-1",
	}

	load := mileLoad("500", "50")
	load.Revenue = dec("2500")

	pay := calc.LoadPay(load, driver)
	assert.True(t, pay.Equal(dec("1800")), "72%% of 2500 should be 1800, got %s", pay)
}

func TestLoadPay_PerLoad(t *testing.T) {
	calc := settlement.NewPayCalculator()
	driver := settlement.Driver{
		ID: "d1", Name: "Flat", PayType: settlement.PayPerLoad,
		PayRate: dec("350"), AuthorityID: "auth-1",
	}

	pay := calc.LoadPay(mileLoad("10", "0"), driver)
	assert.True(t, pay.Equal(dec("350")))
}

func TestLoadPay_Hourly_EstimatesFromMiles(t *testing.T) {
	// 500 total miles at the 50 mph assumption = 10 hours
	calc := settlement.NewPayCalculator()
	driver := settlement.Driver{
		ID: "d1", Name: "Hourly", PayType: settlement.PayHourly,
		PayRate: dec("30"), AuthorityID: "auth-1",
	}

	pay := calc.LoadPay(mileLoad("450", "50"), driver)
	assert.True(t, pay.Equal(dec("300")), "500mi / 50mph * $30 = $300, got %s", pay)
}

func TestLoadPay_Hourly_FallbackWithoutMiles(t *testing.T) {
	// No mileage on the load: fall back to 10 hours
	calc := settlement.NewPayCalculator()
	driver := settlement.Driver{
		ID: "d1", Name: "Hourly", PayType: settlement.PayHourly,
		PayRate: dec("25"), AuthorityID: "auth-1",
	}

	pay := calc.LoadPay(mileLoad("0", "0"), driver)
	assert.True(t, pay.Equal(dec("250")), "10h fallback * $25 = $250, got %s", pay)
}

func TestLoadPay_Weekly_ZeroPerLoad(t *testing.T) {
	// Weekly drivers are paid at the settlement level, not per load.
	calc := settlement.NewPayCalculator()
	driver := settlement.Driver{
		ID: "d1", Name: "Weekly", PayType: settlement.PayWeekly,
		PayRate: dec("1200"), AuthorityID: "auth-1",
	}

	pay := calc.LoadPay(mileLoad("500", "50"), driver)
	assert.True(t, pay.IsZero())
}

func TestLoadPay_UnconfiguredDriver_Zero(t *testing.T) {
	calc := settlement.NewPayCalculator()
	driver := settlement.Driver{ID: "d1", Name: "New Hire", AuthorityID: "auth-1"}

	pay := calc.LoadPay(mileLoad("500", "50"), driver)
	assert.True(t, pay.IsZero())
}

// =============================================================================
// PRECOMPUTED PAY PROVENANCE
// =============================================================================

func TestLoadPay_TrustedPrecomputedPay(t *testing.T) {
	// A precomputed value different from revenue is a real negotiated
	// amount; use it instead of the formula.
	calc := settlement.NewPayCalculator()
	load := mileLoad("500", "50")
	load.DriverPay = decPtr("415")

	pay := calc.LoadPay(load, perMileDriver("0.60"))
	assert.True(t, pay.Equal(dec("415")))
}

func TestLoadPay_SuspectImportDefault_Recomputed(t *testing.T) {
	// GIVEN: a per-mile driver whose load carries DriverPay == Revenue
	// WHEN: pay is computed
	// THEN: the value is treated as an import artifact and recomputed

	calc := settlement.NewPayCalculator()
	load := mileLoad("500", "50")
	load.Revenue = dec("2000")
	load.DriverPay = decPtr("2000")

	pay := calc.LoadPay(load, perMileDriver("0.60"))
	assert.True(t, pay.Equal(dec("330")), "should recompute from miles, got %s", pay)
}

func TestLoadPay_PayEqualsRevenue_TrustedForPercentageDriver(t *testing.T) {
	// The heuristic only fires for PER_MILE and HOURLY drivers. A
	// percentage driver at 100% legitimately earns the full revenue.
	calc := settlement.NewPayCalculator()
	driver := settlement.Driver{
		ID: "d1", Name: "Full Pct", PayType: settlement.PayPercentage,
		PayRate: dec("100"), AuthorityID: "auth-1",
	}
	load := mileLoad("500", "50")
	load.Revenue = dec("2000")
	load.DriverPay = decPtr("2000")

	pay := calc.LoadPay(load, driver)
	assert.True(t, pay.Equal(dec("2000")))
}

// =============================================================================
// GROSS PAY
// =============================================================================

func TestGrossPay_SumsAndPreservesOrder(t *testing.T) {
	calc := settlement.NewPayCalculator()
	driver := perMileDriver("0.50")

	l1 := mileLoad("400", "0")
	l1.ID = "l1"
	l2 := mileLoad("600", "0")
	l2.ID = "l2"

	gross, detail := calc.GrossPay([]settlement.Load{l1, l2}, driver)

	assert.True(t, gross.Equal(dec("500")), "200 + 300 = 500, got %s", gross)
	assert.Len(t, detail, 2)
	assert.Equal(t, settlement.LoadID("l1"), detail[0].Load.ID)
	assert.True(t, detail[0].Pay.Equal(dec("200")))
	assert.True(t, detail[1].Pay.Equal(dec("300")))
}
