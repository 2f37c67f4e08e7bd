package settlement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpay/settlement-engine/settlement"
)

func fixedRule(id string, amount string, addition bool) settlement.DeductionRule {
	return settlement.DeductionRule{
		ID:          settlement.RuleID(id),
		DriverID:    "d1",
		IsAddition:  addition,
		Terms:       settlement.FixedTerms{Amount: dec(amount)},
		Frequency:   settlement.FreqWeekly,
		Description: "rule " + id,
		Active:      true,
	}
}

func escrowRule(id string, amount, goal, current string) settlement.DeductionRule {
	return settlement.DeductionRule{
		ID:       settlement.RuleID(id),
		DriverID: "d1",
		Terms: settlement.EscrowTerms{
			Amount:        dec(amount),
			GoalAmount:    dec(goal),
			CurrentAmount: dec(current),
		},
		Frequency:   settlement.FreqWeekly,
		Description: "escrow " + id,
		Active:      true,
	}
}

// =============================================================================
// FIXED RULES
// =============================================================================

func TestApplyRules_FixedDeductionsAndAdditions(t *testing.T) {
	out := settlement.ApplyRules([]settlement.DeductionRule{
		fixedRule("ins", "85", false),
		fixedRule("lease", "200", false),
		fixedRule("bonus", "100", true),
	})

	assert.True(t, out.TotalDeductions.Equal(dec("285")))
	assert.True(t, out.TotalAdditions.Equal(dec("100")))
	assert.Len(t, out.Lines, 3)
	assert.Empty(t, out.EscrowUpdates)
}

func TestApplyRules_InactiveRulesSkipped(t *testing.T) {
	r := fixedRule("ins", "85", false)
	r.Active = false

	out := settlement.ApplyRules([]settlement.DeductionRule{r})

	assert.True(t, out.TotalDeductions.IsZero())
	assert.Empty(t, out.Lines)
}

func TestApplyRules_ZeroAmountFixedRule_NoLine(t *testing.T) {
	out := settlement.ApplyRules([]settlement.DeductionRule{fixedRule("noop", "0", false)})

	assert.True(t, out.TotalDeductions.IsZero())
	assert.Empty(t, out.Lines)
}

// =============================================================================
// ESCROW RULES
// =============================================================================

func TestApplyRules_EscrowNormalContribution(t *testing.T) {
	out := settlement.ApplyRules([]settlement.DeductionRule{
		escrowRule("esc", "50", "1000", "300"),
	})

	assert.True(t, out.TotalDeductions.Equal(dec("50")))
	require.Len(t, out.EscrowUpdates, 1)
	u := out.EscrowUpdates[0]
	assert.True(t, u.Contributed.Equal(dec("50")))
	assert.True(t, u.NewCurrent.Equal(dec("350")))
	assert.False(t, u.GoalReached)
}

func TestApplyRules_EscrowFinalContributionClamped(t *testing.T) {
	// GIVEN: escrow at 950 of a 1000 goal with a 100 per-settlement amount
	// WHEN: rules are applied
	// THEN: exactly 50 is withheld and the rule reports goal reached

	out := settlement.ApplyRules([]settlement.DeductionRule{
		escrowRule("esc", "100", "1000", "950"),
	})

	assert.True(t, out.TotalDeductions.Equal(dec("50")), "got %s", out.TotalDeductions)
	require.Len(t, out.EscrowUpdates, 1)
	u := out.EscrowUpdates[0]
	assert.True(t, u.Contributed.Equal(dec("50")))
	assert.True(t, u.NewCurrent.Equal(dec("1000")))
	assert.True(t, u.GoalReached)
}

func TestApplyRules_EscrowAtGoal_NoContribution(t *testing.T) {
	out := settlement.ApplyRules([]settlement.DeductionRule{
		escrowRule("esc", "100", "1000", "1000"),
	})

	assert.True(t, out.TotalDeductions.IsZero())
	assert.Empty(t, out.EscrowUpdates)
	assert.Empty(t, out.Lines)
}

func TestApplyRules_CumulativeEscrowNeverExceedsGoal(t *testing.T) {
	// Simulate successive settlements feeding the updates back in.
	current := dec("0")
	total := dec("0")

	for i := 0; i < 20; i++ {
		out := settlement.ApplyRules([]settlement.DeductionRule{
			escrowRule("esc", "300", "1000", current.String()),
		})
		if len(out.EscrowUpdates) == 0 {
			break
		}
		u := out.EscrowUpdates[0]
		total = total.Add(u.Contributed)
		current = u.NewCurrent
		if u.GoalReached {
			break
		}
	}

	assert.True(t, total.Equal(dec("1000")), "total withheld %s", total)
	assert.True(t, current.Equal(dec("1000")))
}
