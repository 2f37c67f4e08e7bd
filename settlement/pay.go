/*
pay.go - Per-load driver compensation

PURPOSE:
  Computes what one load pays the driver, by pay type:
    PER_MILE:   (loaded + empty miles) x rate
    PERCENTAGE: revenue x rate / 100
    PER_LOAD:   flat rate
    HOURLY:     estimated hours x rate (miles/50, or 10h when no miles)
    WEEKLY:     0 per load; the flat weekly rate is a settlement-level
                addition line, not per-load pay

PRECOMPUTED PAY:
  Loads may carry a precomputed DriverPay from an upstream import.
  Whether to trust it is a ProvenancePolicy decision, kept separate from
  the calculator so the inference can be replaced without touching the
  arithmetic. The default heuristic treats DriverPay == Revenue on
  PER_MILE and HOURLY drivers as a stale import default and recomputes.
  That heuristic can misfire for a driver legitimately paid 100% of
  revenue; tagging provenance explicitly upstream is the cleaner fix.

UNCONFIGURED DRIVERS:
  A driver without a pay type/rate settles every load at $0. This is a
  non-blocking configuration warning surfaced on the draft/settlement,
  never an error.
*/
package settlement

import "github.com/shopspring/decimal"

// hourlyFallbackHours is used when an HOURLY load has no mileage to
// estimate hours from.
var hourlyFallbackHours = decimal.NewFromInt(10)

// milesPerHour is the average-speed divisor for HOURLY estimation.
var milesPerHour = decimal.NewFromInt(50)

// =============================================================================
// PROVENANCE POLICY - should a precomputed DriverPay be trusted?
// =============================================================================

// ProvenancePolicy decides whether a load's precomputed DriverPay value
// is a real computation or an artifact to be discarded.
type ProvenancePolicy interface {
	Trust(l Load, d Driver) bool
}

// ImportDefaultHeuristic is the default policy: a precomputed value is
// trusted unless it exactly equals the load revenue on a PER_MILE or
// HOURLY driver, which is read as a bad import default.
type ImportDefaultHeuristic struct{}

func (ImportDefaultHeuristic) Trust(l Load, d Driver) bool {
	if l.DriverPay == nil {
		return false
	}
	if l.DriverPay.Equal(l.Revenue) && (d.PayType == PayPerMile || d.PayType == PayHourly) {
		return false
	}
	return true
}

// =============================================================================
// PAY CALCULATOR
// =============================================================================

// PayCalculator computes per-load driver compensation.
type PayCalculator struct {
	Provenance ProvenancePolicy
}

// NewPayCalculator returns a calculator with the default provenance
// heuristic.
func NewPayCalculator() *PayCalculator {
	return &PayCalculator{Provenance: ImportDefaultHeuristic{}}
}

// LoadPay returns the driver's pay for a single load.
func (c *PayCalculator) LoadPay(l Load, d Driver) decimal.Decimal {
	if !d.Configured() {
		return decimal.Zero
	}

	if c.Provenance != nil && c.Provenance.Trust(l, d) {
		return *l.DriverPay
	}

	switch d.PayType {
	case PayPerMile:
		return l.TotalMiles().Mul(d.PayRate)
	case PayPercentage:
		return l.Revenue.Mul(d.PayRate).Div(decimal.NewFromInt(100))
	case PayPerLoad:
		return d.PayRate
	case PayHourly:
		hours := hourlyFallbackHours
		if miles := l.TotalMiles(); miles.IsPositive() {
			hours = miles.Div(milesPerHour)
		}
		return hours.Mul(d.PayRate)
	case PayWeekly:
		// Weekly drivers are paid a flat rate per settlement, emitted as
		// an addition line by the builder.
		return decimal.Zero
	default:
		return decimal.Zero
	}
}

// GrossPay sums per-load pay for a set of loads, returning the total and
// the per-load breakdown in input order.
func (c *PayCalculator) GrossPay(loads []Load, d Driver) (decimal.Decimal, []DraftLoad) {
	gross := decimal.Zero
	detail := make([]DraftLoad, len(loads))
	for i, l := range loads {
		pay := c.LoadPay(l, d)
		gross = gross.Add(pay)
		detail[i] = DraftLoad{Load: l, Pay: pay}
	}
	return gross, detail
}
