/*
balance.go - Cross-period negative-balance carry-forward

PURPOSE:
  When a settlement's deductions and advances exceed its gross pay, the
  driver cannot be paid a negative amount. The shortfall is recorded as
  a NegativeBalance row and collected by a later settlement.

LEDGER RULES:
  - Draft: the sum of all unapplied rows (oldest first) is shown as the
    negative-balance deduction.
  - Commit: preBalanceNet = gross + additions - deductions - advances.
    All open rows are consumed FIFO and marked applied with the
    consuming settlement's id. If the remainder is negative, net pay
    clamps to 0 and exactly ONE new row is created for the absolute
    shortfall, sourced at this settlement. Any uncollected portion of
    the old rows is re-expressed in that new row, so nothing is ever
    double-counted: each row is consumed by exactly one settlement.

ATOMICITY:
  ApplyBalances is pure. The builder persists the row updates and the
  new shortfall row in the same store transaction as the settlement;
  partial application without a settlement record is never observable.

SEE ALSO:
  - builder.go: commit path
  - store.go: ListOpenBalances FIFO contract
*/
package settlement

import "github.com/shopspring/decimal"

// BalanceApplication is the outcome of running the ledger against one
// settlement's pre-balance net pay.
type BalanceApplication struct {
	// Applied is the total prior-balance amount subtracted from this
	// settlement (the sum of consumed rows).
	Applied decimal.Decimal

	// Consumed are the rows to mark applied, in FIFO order.
	Consumed []NegativeBalance

	// NetPay is the settlement's final net pay, clamped at zero.
	NetPay decimal.Decimal

	// Shortfall is the new carry-forward amount; zero when the
	// settlement covered everything.
	Shortfall decimal.Decimal
}

// ApplyBalances consumes the driver's open negative balances against
// preBalanceNet. open must be in FIFO (oldest first) order.
func ApplyBalances(preBalanceNet decimal.Decimal, open []NegativeBalance) BalanceApplication {
	app := BalanceApplication{Applied: decimal.Zero}

	for _, b := range open {
		app.Applied = app.Applied.Add(b.Amount)
		app.Consumed = append(app.Consumed, b)
	}

	remainder := preBalanceNet.Sub(app.Applied)
	if remainder.IsNegative() {
		app.NetPay = decimal.Zero
		app.Shortfall = remainder.Neg()
	} else {
		app.NetPay = remainder
		app.Shortfall = decimal.Zero
	}
	return app
}

// OpenBalanceTotal sums unapplied rows for draft display.
func OpenBalanceTotal(open []NegativeBalance) decimal.Decimal {
	total := decimal.Zero
	for _, b := range open {
		total = total.Add(b.Amount)
	}
	return total
}
