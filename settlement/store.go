/*
store.go - Persistence interface between the engine and the database

PURPOSE:
  Defines what the settlement engine needs from storage. Implementations
  exist for SQLite (store/sqlite) and in-memory (settlement/store).

EXCLUSIVITY CONTRACT:
  LinkLoad is an atomic check-and-set: it fails with
  ErrLoadAlreadySettled if the load is already linked to any settlement.
  Backing stores additionally enforce this with a uniqueness constraint
  so a second writer cannot slip through.

  CreateSettlement fails with ErrDuplicateSettlementNumber when the
  number is taken. Number uniqueness is a storage-level constraint, not
  a read-count-then-format value.

ATOMIC COMMITS:
  TxStore.WithTx runs a function against a transactional view. Either
  the settlement row, the load links, the escrow progress, the advance
  consumption, and the balance-ledger updates all commit together, or
  none do. There is no valid intermediate state where loads are marked
  consumed without an associated settlement record.

SEE ALSO:
  - builder.go: the only writer that uses WithTx
  - store/sqlite/sqlite.go: production implementation
  - settlement/store/memory.go: in-memory implementation for tests
*/
package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Everything the engine reads and writes
// =============================================================================

type Store interface {
	// Drivers
	GetDriver(ctx context.Context, id DriverID) (*Driver, error)
	ListDrivers(ctx context.Context) ([]Driver, error)
	SaveDriver(ctx context.Context, d Driver) error

	// Loads
	GetLoad(ctx context.Context, id LoadID) (*Load, error)
	GetLoads(ctx context.Context, ids []LoadID) ([]Load, error)
	ListLoadsByDriver(ctx context.Context, driverID DriverID) ([]Load, error)
	SaveLoad(ctx context.Context, l Load) error

	// LinkLoad atomically links an unsettled load to a settlement.
	// Returns ErrLoadAlreadySettled if the load is already linked and
	// ErrLoadNotFound if it doesn't exist.
	LinkLoad(ctx context.Context, id LoadID, settlementID SettlementID) error

	// Deduction rules
	ListRulesByDriver(ctx context.Context, driverID DriverID) ([]DeductionRule, error)
	SaveRule(ctx context.Context, r DeductionRule) error

	// UpdateEscrowProgress advances an escrow rule's accumulated amount
	// and flips it inactive once the goal is reached.
	UpdateEscrowProgress(ctx context.Context, id RuleID, current decimal.Decimal, active bool) error

	// Advances
	ListOpenAdvances(ctx context.Context, driverID DriverID, issuedBefore time.Time) ([]Advance, error)
	SaveAdvance(ctx context.Context, a Advance) error
	MarkAdvanceSettled(ctx context.Context, id AdvanceID, settlementID SettlementID) error

	// Negative balances. ListOpenBalances returns unapplied rows oldest
	// first (FIFO order for carry-forward application).
	ListOpenBalances(ctx context.Context, driverID DriverID) ([]NegativeBalance, error)
	SaveBalance(ctx context.Context, b NegativeBalance) error
	MarkBalanceApplied(ctx context.Context, id BalanceID, settlementID SettlementID) error

	// Settlements
	GetSettlement(ctx context.Context, id SettlementID) (*Settlement, error)
	ListSettlements(ctx context.Context) ([]Settlement, error)
	ListSettlementsByDriver(ctx context.Context, driverID DriverID) ([]Settlement, error)

	// CreateSettlement persists a settlement row.
	// Returns ErrDuplicateSettlementNumber if the number is taken.
	CreateSettlement(ctx context.Context, s Settlement) error

	// NextSettlementSeq returns the next value of the monotonically
	// increasing settlement sequence, used for auto-generated numbers.
	// Uniqueness is still enforced by CreateSettlement's constraint.
	NextSettlementSeq(ctx context.Context) (int64, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn against a transactional view of the store.
	// If fn returns an error the transaction is rolled back, otherwise
	// it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
