/*
deduction.go - Recurring addition/deduction rule application

PURPOSE:
  Applies a driver's active deduction rules to one settlement:
  - FIXED rules contribute their amount once per settlement
  - ESCROW rules contribute min(amount, goal - current), never negative;
    a rule at or above its goal contributes 0 and is skipped

  One settlement is assumed to correspond to one frequency unit of every
  rule; multi-period settlements are an explicit simplifying assumption.

ESCROW COMMIT:
  ApplyRules is pure: it computes the contributions and the escrow
  progress updates but mutates nothing. The builder commits the updates
  atomically with the settlement. A rule whose contribution brings
  CurrentAmount to GoalAmount is marked inactive in that same commit, so
  the cumulative amount deducted across all settlements never exceeds
  the goal.

SEE ALSO:
  - types.go: FixedTerms / EscrowTerms union
  - builder.go: commits EscrowUpdates inside the store transaction
*/
package settlement

import "github.com/shopspring/decimal"

// EscrowUpdate is the progress an escrow rule makes in one settlement.
type EscrowUpdate struct {
	RuleID      RuleID
	Contributed decimal.Decimal
	NewCurrent  decimal.Decimal
	GoalReached bool
}

// RuleOutcome is the result of applying a driver's rules to one
// settlement.
type RuleOutcome struct {
	TotalAdditions  decimal.Decimal
	TotalDeductions decimal.Decimal
	Lines           []LineItem
	EscrowUpdates   []EscrowUpdate
}

// ApplyRules partitions rules into additions and deductions and computes
// each rule's contribution. Inactive rules and zero contributions are
// skipped. Pure; nothing is persisted.
func ApplyRules(rules []DeductionRule) RuleOutcome {
	out := RuleOutcome{
		TotalAdditions:  decimal.Zero,
		TotalDeductions: decimal.Zero,
	}

	for _, r := range rules {
		if !r.Active {
			continue
		}

		var amount decimal.Decimal
		switch terms := r.Terms.(type) {
		case FixedTerms:
			amount = terms.Amount
		case EscrowTerms:
			if terms.GoalReached() {
				continue
			}
			amount = decimal.Min(terms.Amount, terms.Remaining())
			if !amount.IsPositive() {
				continue
			}
			newCurrent := terms.CurrentAmount.Add(amount)
			out.EscrowUpdates = append(out.EscrowUpdates, EscrowUpdate{
				RuleID:      r.ID,
				Contributed: amount,
				NewCurrent:  newCurrent,
				GoalReached: newCurrent.GreaterThanOrEqual(terms.GoalAmount),
			})
		default:
			// Sealed union; unreachable unless a new kind is added.
			continue
		}

		if !amount.IsPositive() {
			continue
		}

		lineType := LineDeduction
		if r.IsAddition {
			lineType = LineAddition
			out.TotalAdditions = out.TotalAdditions.Add(amount)
		} else {
			out.TotalDeductions = out.TotalDeductions.Add(amount)
		}
		out.Lines = append(out.Lines, LineItem{
			Type:        lineType,
			Description: r.Description,
			Amount:      amount,
		})
	}

	return out
}
