/*
Package settlement implements the driver settlement and deduction engine
for a trucking back office.

PURPOSE:
  This package decides how much a driver is paid for a pay period:
  - Which delivered loads are eligible for payment
  - Per-load driver pay from the driver's pay type and rate
  - Recurring additions/deductions, including goal-tracked escrow rules
  - Netting of cash advances
  - Carry-forward of negative balances across periods

KEY CONCEPTS IN THIS FILE (types.go):
  - Driver: pay configuration (pay type, rate, operating authority)
  - Load: a completed shipment; linked to at most one settlement, ever
  - DeductionRule: recurring addition or deduction; terms are a closed
    union of FixedTerms and EscrowTerms
  - Advance: cash issued mid-period, netted by the next settlement
  - NegativeBalance: shortfall carried forward from an earlier settlement
  - Settlement: the finalized pay computation for one driver and period

DESIGN PRINCIPLES:
  1. Precision: every amount is a decimal.Decimal, never a float
  2. Immutability: a generated settlement never changes; corrections are
     downstream concerns
  3. Exhaustiveness: rule terms are a sealed union so every calculation
     branch handles every rule kind

SEE ALSO:
  - eligibility.go: which loads may be paid
  - pay.go: per-load compensation
  - deduction.go: rule application
  - balance.go: negative-balance carry-forward
  - builder.go: draft preview and settlement generation
*/
package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type DriverID string
type LoadID string
type RuleID string
type AdvanceID string
type BalanceID string
type SettlementID string

// AuthorityID is the operating-authority ("MC") identifier that scopes
// drivers and loads within a multi-authority company.
type AuthorityID string

// =============================================================================
// MONEY HELPERS
// =============================================================================

// Zero is the zero dollar amount.
var Zero = decimal.Zero

// MustDecimal parses a decimal string, returning zero on failure.
// Intended for constants and fixtures, not user input.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// DRIVER
// =============================================================================

// PayType determines how per-load compensation is computed.
type PayType string

const (
	PayPerMile    PayType = "PER_MILE"   // (loaded + empty miles) x rate
	PayPercentage PayType = "PERCENTAGE" // revenue x rate / 100
	PayPerLoad    PayType = "PER_LOAD"   // flat rate per load
	PayHourly     PayType = "HOURLY"     // estimated hours x rate
	PayWeekly     PayType = "WEEKLY"     // flat weekly rate, not per load
)

// Driver is the pay-relevant slice of the driver profile.
type Driver struct {
	ID          DriverID
	Name        string
	PayType     PayType
	PayRate     decimal.Decimal
	AuthorityID AuthorityID
}

// Configured reports whether the driver has a usable pay configuration.
// An unconfigured driver settles at $0 per load; this is surfaced as a
// warning, not a failure.
func (d Driver) Configured() bool {
	return d.PayType != "" && d.PayRate.IsPositive()
}

// =============================================================================
// LOAD
// =============================================================================

type LoadStatus string

const (
	LoadDelivered   LoadStatus = "DELIVERED"
	LoadInvoiced    LoadStatus = "INVOICED"
	LoadPaid        LoadStatus = "PAID"
	LoadReadyToBill LoadStatus = "READY_TO_BILL"
	LoadBillingHold LoadStatus = "BILLING_HOLD"

	// Pre-delivery statuses; never settleable.
	LoadAssigned  LoadStatus = "ASSIGNED"
	LoadInTransit LoadStatus = "IN_TRANSIT"
	LoadCanceled  LoadStatus = "CANCELED"
)

// Load is a shipment as seen by the settlement engine.
//
// INVARIANT: SettlementID is set exactly once, by a successful Generate,
// and never changes afterwards. A load is paid at most once.
type Load struct {
	ID                 LoadID
	DriverID           DriverID
	AuthorityID        AuthorityID
	Status             LoadStatus
	PODUploadedAt      *time.Time
	ReadyForSettlement bool
	DeliveredAt        *time.Time
	Revenue            decimal.Decimal
	LoadedMiles        decimal.Decimal
	EmptyMiles         decimal.Decimal

	// DriverPay is an optional precomputed pay amount, typically from an
	// upstream import. Whether it is trusted is a ProvenancePolicy call.
	DriverPay *decimal.Decimal

	// SettlementID links the load to the settlement that paid it.
	// Empty means unsettled.
	SettlementID SettlementID
}

// TotalMiles returns loaded plus empty miles.
func (l Load) TotalMiles() decimal.Decimal {
	return l.LoadedMiles.Add(l.EmptyMiles)
}

// Settled reports whether the load has been consumed by a settlement.
func (l Load) Settled() bool { return l.SettlementID != "" }

// =============================================================================
// DEDUCTION RULE - closed union of fixed and escrow terms
// =============================================================================

// Frequency is the recurrence of a rule. One settlement is assumed to
// correspond to one frequency unit.
type Frequency string

const (
	FreqWeekly   Frequency = "WEEKLY"
	FreqBiweekly Frequency = "BIWEEKLY"
	FreqMonthly  Frequency = "MONTHLY"
)

// RuleTerms is a sealed union: exactly FixedTerms or EscrowTerms.
// The unexported method keeps the set closed so every switch over terms
// can be exhaustive.
type RuleTerms interface {
	ruleTerms()
}

// FixedTerms contributes a flat amount once per settlement.
type FixedTerms struct {
	Amount decimal.Decimal
}

func (FixedTerms) ruleTerms() {}

// EscrowTerms accumulates toward a goal and stops exactly at it.
// CurrentAmount is monotonically non-decreasing and capped at GoalAmount.
type EscrowTerms struct {
	Amount        decimal.Decimal // per-settlement contribution
	GoalAmount    decimal.Decimal
	CurrentAmount decimal.Decimal
}

func (EscrowTerms) ruleTerms() {}

// Remaining returns the distance to the goal, never negative.
func (t EscrowTerms) Remaining() decimal.Decimal {
	r := t.GoalAmount.Sub(t.CurrentAmount)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// GoalReached reports whether the escrow target has been met.
func (t EscrowTerms) GoalReached() bool {
	return t.CurrentAmount.GreaterThanOrEqual(t.GoalAmount)
}

// DeductionRule is a recurring addition or deduction attached to a driver.
type DeductionRule struct {
	ID          RuleID
	DriverID    DriverID
	IsAddition  bool
	Frequency   Frequency
	Description string
	Active      bool
	Terms       RuleTerms
}

// =============================================================================
// ADVANCE
// =============================================================================

// Advance is cash issued to a driver, netted by the next settlement
// covering its period.
type Advance struct {
	ID       AdvanceID
	DriverID DriverID
	LoadID   LoadID // optional; ties the advance to a specific load
	Amount   decimal.Decimal
	IssuedAt time.Time

	// SettlementID is set when the advance is consumed.
	SettlementID SettlementID
}

// =============================================================================
// NEGATIVE BALANCE
// =============================================================================

// NegativeBalance is a shortfall carried from one settlement to a later
// one. Each row is consumed by exactly one settlement.
type NegativeBalance struct {
	ID                    BalanceID
	DriverID              DriverID
	Amount                decimal.Decimal
	SourceSettlementID    SettlementID
	Applied               bool
	AppliedInSettlementID SettlementID
	CreatedAt             time.Time
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// LineType categorizes a settlement line item.
type LineType string

const (
	LineAddition        LineType = "addition"
	LineDeduction       LineType = "deduction"
	LineAdvance         LineType = "advance"
	LineNegativeBalance LineType = "negative_balance"
)

// LineItem is one audit/receipt line on a settlement or draft.
type LineItem struct {
	Type        LineType        `json:"type"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Settlement is a finalized pay computation for one driver over a period.
// Once created it is immutable input to downstream posting/export.
type Settlement struct {
	ID               SettlementID
	SettlementNumber string // unique per company
	DriverID         DriverID
	PeriodStart      time.Time
	PeriodEnd        time.Time
	LoadIDs          []LoadID

	GrossPay               decimal.Decimal
	TotalAdditions         decimal.Decimal
	TotalDeductions        decimal.Decimal
	TotalAdvances          decimal.Decimal
	NegativeBalanceApplied decimal.Decimal
	NetPay                 decimal.Decimal

	Lines []LineItem
	Notes string

	// PayConfigWarning flags that the driver lacked a pay configuration
	// and the settlement was generated with $0 pay lines.
	PayConfigWarning bool

	CreatedAt time.Time
}

// =============================================================================
// DRAFT - read-only preview of what a settlement would look like
// =============================================================================

// DraftLoad pairs a load with its computed pay for display.
type DraftLoad struct {
	Load Load
	Pay  decimal.Decimal
}

// Draft is an unpersisted settlement preview. Building a draft never
// mutates loads, rules, advances, or balances; repeated calls with no
// intervening Generate return identical figures.
type Draft struct {
	Driver Driver
	Period Period
	Loads  []DraftLoad

	GrossPay                 decimal.Decimal
	TotalAdditions           decimal.Decimal
	TotalDeductions          decimal.Decimal
	TotalAdvances            decimal.Decimal
	NegativeBalanceDeduction decimal.Decimal
	NetPay                   decimal.Decimal

	Lines            []LineItem
	PayConfigWarning bool
}

// LoadIDs returns the ids of the draft's loads, order-preserving.
func (d *Draft) LoadIDs() []LoadID {
	ids := make([]LoadID, len(d.Loads))
	for i, dl := range d.Loads {
		ids[i] = dl.Load.ID
	}
	return ids
}
