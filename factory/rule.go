/*
Package factory provides JSON to Go deduction-rule conversion.

PURPOSE:
  Converts JSON rule definitions into settlement.DeductionRule values.
  This enables rule configuration without code changes - back office
  staff can define recurring deductions in JSON, and the factory
  creates the proper Go structs with the terms union resolved.

WHY JSON?
  - Non-developers can modify rules
  - Easy integration with admin UI
  - Version control for rule definitions
  - Database storage of rule configs

JSON SCHEMA:
  {
    "id": "rule-escrow-d1",
    "driver_id": "d1",
    "is_addition": false,
    "calculation_type": "ESCROW",
    "amount": "50",
    "goal_amount": "1000",
    "current_amount": "0",
    "frequency": "WEEKLY",
    "description": "Maintenance escrow",
    "active": true
  }

KEY FEATURES:
  - Validates JSON structure and amounts
  - Resolves the FIXED/ESCROW terms union
  - Sets sensible defaults (WEEKLY frequency, active)
  - Round-trips back to JSON for the API layer

USAGE:
  f := factory.NewRuleFactory()

  rule, err := f.ParseRule(jsonString)
  if err != nil { ... }
  store.SaveRule(ctx, rule)

  // Preset helpers for common configurations
  jsonStr := factory.EscrowRuleJSON("rule-1", "d1", 50, 1000, "Maintenance escrow")
  rule, err = f.ParseRule(jsonStr)

SEE ALSO:
  - settlement/types.go: DeductionRule and the RuleTerms union
  - api/dto.go: HTTP representations built on the same JSON shape
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fleetpay/settlement-engine/settlement"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of a deduction rule. Amounts are
// strings so that "19.99" survives the round trip exactly.
type RuleJSON struct {
	ID              string `json:"id"`
	DriverID        string `json:"driver_id"`
	IsAddition      bool   `json:"is_addition,omitempty"`
	CalculationType string `json:"calculation_type"` // FIXED or ESCROW
	Amount          string `json:"amount"`
	GoalAmount      string `json:"goal_amount,omitempty"`    // ESCROW only
	CurrentAmount   string `json:"current_amount,omitempty"` // ESCROW only
	Frequency       string `json:"frequency,omitempty"`      // default WEEKLY
	Description     string `json:"description,omitempty"`
	Active          *bool  `json:"active,omitempty"` // default true
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts JSON rule definitions to settlement.DeductionRule.
type RuleFactory struct{}

// NewRuleFactory creates a new rule factory.
func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRule parses a JSON string into a DeductionRule.
func (f *RuleFactory) ParseRule(jsonStr string) (settlement.DeductionRule, error) {
	var rj RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return settlement.DeductionRule{}, fmt.Errorf("failed to parse rule JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// FromJSON converts RuleJSON to a DeductionRule, validating amounts and
// resolving the terms union.
func (f *RuleFactory) FromJSON(rj RuleJSON) (settlement.DeductionRule, error) {
	var zero settlement.DeductionRule

	if rj.ID == "" {
		return zero, fmt.Errorf("rule id is required")
	}
	if rj.DriverID == "" {
		return zero, fmt.Errorf("rule driver_id is required")
	}

	amount, err := decimal.NewFromString(rj.Amount)
	if err != nil {
		return zero, fmt.Errorf("invalid amount %q: %w", rj.Amount, err)
	}
	if amount.IsNegative() {
		return zero, fmt.Errorf("amount must not be negative, got %s", rj.Amount)
	}

	rule := settlement.DeductionRule{
		ID:          settlement.RuleID(rj.ID),
		DriverID:    settlement.DriverID(rj.DriverID),
		IsAddition:  rj.IsAddition,
		Frequency:   parseFrequency(rj.Frequency),
		Description: rj.Description,
		Active:      true,
	}
	if rj.Active != nil {
		rule.Active = *rj.Active
	}

	switch rj.CalculationType {
	case "FIXED", "":
		rule.Terms = settlement.FixedTerms{Amount: amount}

	case "ESCROW":
		if rj.IsAddition {
			return zero, fmt.Errorf("escrow rules must be deductions")
		}
		goal, err := decimal.NewFromString(rj.GoalAmount)
		if err != nil {
			return zero, fmt.Errorf("invalid goal_amount %q: %w", rj.GoalAmount, err)
		}
		if !goal.IsPositive() {
			return zero, fmt.Errorf("goal_amount must be positive, got %s", rj.GoalAmount)
		}
		current := decimal.Zero
		if rj.CurrentAmount != "" {
			current, err = decimal.NewFromString(rj.CurrentAmount)
			if err != nil {
				return zero, fmt.Errorf("invalid current_amount %q: %w", rj.CurrentAmount, err)
			}
			if current.IsNegative() {
				return zero, fmt.Errorf("current_amount must not be negative, got %s", rj.CurrentAmount)
			}
		}
		if current.GreaterThan(goal) {
			return zero, fmt.Errorf("current_amount %s exceeds goal_amount %s", current, goal)
		}
		rule.Terms = settlement.EscrowTerms{
			Amount:        amount,
			GoalAmount:    goal,
			CurrentAmount: current,
		}

	default:
		return zero, fmt.Errorf("unknown calculation_type: %s", rj.CalculationType)
	}

	return rule, nil
}

// ToJSON converts a DeductionRule back to its JSON representation.
func (f *RuleFactory) ToJSON(rule settlement.DeductionRule) RuleJSON {
	rj := RuleJSON{
		ID:          string(rule.ID),
		DriverID:    string(rule.DriverID),
		IsAddition:  rule.IsAddition,
		Frequency:   string(rule.Frequency),
		Description: rule.Description,
	}
	active := rule.Active
	rj.Active = &active

	switch terms := rule.Terms.(type) {
	case settlement.FixedTerms:
		rj.CalculationType = "FIXED"
		rj.Amount = terms.Amount.String()
	case settlement.EscrowTerms:
		rj.CalculationType = "ESCROW"
		rj.Amount = terms.Amount.String()
		rj.GoalAmount = terms.GoalAmount.String()
		rj.CurrentAmount = terms.CurrentAmount.String()
	}

	return rj
}

func parseFrequency(s string) settlement.Frequency {
	switch s {
	case "BIWEEKLY":
		return settlement.FreqBiweekly
	case "MONTHLY":
		return settlement.FreqMonthly
	default:
		return settlement.FreqWeekly
	}
}

// =============================================================================
// PRESET RULES
// =============================================================================

// FixedDeductionJSON builds a JSON definition for a recurring flat
// deduction (insurance, trailer lease, ELD subscription).
func FixedDeductionJSON(id, driverID string, amount float64, description string) string {
	rj := RuleJSON{
		ID:              id,
		DriverID:        driverID,
		CalculationType: "FIXED",
		Amount:          decimal.NewFromFloat(amount).String(),
		Description:     description,
	}
	b, _ := json.Marshal(rj)
	return string(b)
}

// FixedAdditionJSON builds a JSON definition for a recurring flat
// addition (safety bonus, fuel surcharge pass-through).
func FixedAdditionJSON(id, driverID string, amount float64, description string) string {
	rj := RuleJSON{
		ID:              id,
		DriverID:        driverID,
		IsAddition:      true,
		CalculationType: "FIXED",
		Amount:          decimal.NewFromFloat(amount).String(),
		Description:     description,
	}
	b, _ := json.Marshal(rj)
	return string(b)
}

// EscrowRuleJSON builds a JSON definition for an escrow deduction that
// withholds amount per settlement until goal is reached.
func EscrowRuleJSON(id, driverID string, amount, goal float64, description string) string {
	rj := RuleJSON{
		ID:              id,
		DriverID:        driverID,
		CalculationType: "ESCROW",
		Amount:          decimal.NewFromFloat(amount).String(),
		GoalAmount:      decimal.NewFromFloat(goal).String(),
		CurrentAmount:   "0",
		Description:     description,
	}
	b, _ := json.Marshal(rj)
	return string(b)
}
