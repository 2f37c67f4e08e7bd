/*
Package sqlite provides the SQLite-backed implementation of the
settlement storage interfaces.

PURPOSE:
  Implements settlement.Store and settlement.TxStore using SQLite.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  drivers:           pay configuration per driver
  loads:             shipments; settlement_id marks consumption
  deduction_rules:   recurring additions/deductions (FIXED or ESCROW)
  advances:          cash advances, netted by settlements
  negative_balances: cross-period shortfall ledger
  settlements:       generated settlements (immutable once written)
  settlement_seq:    monotonic counter for auto-generated numbers

CONSTRAINTS THAT CARRY INVARIANTS:
  - settlements.settlement_number UNIQUE: number uniqueness is enforced
    here, never by counting rows in application code
  - LinkLoad uses UPDATE ... WHERE settlement_id IS NULL and checks the
    affected-row count, so a load can be linked exactly once even under
    concurrent writers

WAL MODE:
  The database is opened with WAL for better concurrency: readers don't
  block, one writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/settlements.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := settlement.NewEngine(store)

SEE ALSO:
  - settlement/store.go: interface definitions
  - settlement/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/fleetpay/settlement-engine/settlement"
)

// Store implements settlement.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ settlement.TxStore = (*Store)(nil)

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS drivers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		pay_type TEXT NOT NULL DEFAULT '',
		pay_rate TEXT NOT NULL DEFAULT '0',
		authority_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		settlement_number TEXT NOT NULL UNIQUE,
		driver_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		load_ids_json TEXT NOT NULL,
		gross_pay TEXT NOT NULL,
		total_additions TEXT NOT NULL,
		total_deductions TEXT NOT NULL,
		total_advances TEXT NOT NULL,
		negative_balance_applied TEXT NOT NULL,
		net_pay TEXT NOT NULL,
		lines_json TEXT,
		notes TEXT,
		pay_config_warning INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_settlements_driver
		ON settlements(driver_id, created_at);

	CREATE TABLE IF NOT EXISTS loads (
		id TEXT PRIMARY KEY,
		driver_id TEXT NOT NULL,
		authority_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		pod_uploaded_at TEXT,
		ready_for_settlement INTEGER NOT NULL DEFAULT 0,
		delivered_at TEXT,
		revenue TEXT NOT NULL DEFAULT '0',
		loaded_miles TEXT NOT NULL DEFAULT '0',
		empty_miles TEXT NOT NULL DEFAULT '0',
		driver_pay TEXT,
		settlement_id TEXT REFERENCES settlements(id)
	);

	CREATE INDEX IF NOT EXISTS idx_loads_driver ON loads(driver_id);
	CREATE INDEX IF NOT EXISTS idx_loads_settlement
		ON loads(settlement_id) WHERE settlement_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS deduction_rules (
		id TEXT PRIMARY KEY,
		driver_id TEXT NOT NULL,
		is_addition INTEGER NOT NULL DEFAULT 0,
		calculation_type TEXT NOT NULL,
		amount TEXT NOT NULL DEFAULT '0',
		goal_amount TEXT,
		current_amount TEXT,
		frequency TEXT NOT NULL DEFAULT 'WEEKLY',
		description TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_rules_driver ON deduction_rules(driver_id, active);

	CREATE TABLE IF NOT EXISTS advances (
		id TEXT PRIMARY KEY,
		driver_id TEXT NOT NULL,
		load_id TEXT,
		amount TEXT NOT NULL,
		issued_at TEXT NOT NULL,
		settlement_id TEXT REFERENCES settlements(id)
	);

	CREATE INDEX IF NOT EXISTS idx_advances_driver
		ON advances(driver_id) WHERE settlement_id IS NULL;

	CREATE TABLE IF NOT EXISTS negative_balances (
		id TEXT PRIMARY KEY,
		driver_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		source_settlement_id TEXT NOT NULL,
		applied INTEGER NOT NULL DEFAULT 0,
		applied_in_settlement_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_balances_driver_open
		ON negative_balances(driver_id, created_at) WHERE applied = 0;

	CREATE TABLE IF NOT EXISTS settlement_seq (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		seq INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// DRIVERS
// =============================================================================

func (s *Store) GetDriver(ctx context.Context, id settlement.DriverID) (*settlement.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDriver(ctx, s.db, id)
}

func getDriver(ctx context.Context, db dbtx, id settlement.DriverID) (*settlement.Driver, error) {
	var d settlement.Driver
	var rate string
	err := db.QueryRowContext(ctx,
		"SELECT id, name, pay_type, pay_rate, authority_id FROM drivers WHERE id = ?", id,
	).Scan(&d.ID, &d.Name, &d.PayType, &rate, &d.AuthorityID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.PayRate = settlement.MustDecimal(rate)
	return &d, nil
}

func (s *Store) ListDrivers(ctx context.Context) ([]settlement.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listDrivers(ctx, s.db)
}

func listDrivers(ctx context.Context, db dbtx) ([]settlement.Driver, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, name, pay_type, pay_rate, authority_id FROM drivers ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drivers []settlement.Driver
	for rows.Next() {
		var d settlement.Driver
		var rate string
		if err := rows.Scan(&d.ID, &d.Name, &d.PayType, &rate, &d.AuthorityID); err != nil {
			return nil, err
		}
		d.PayRate = settlement.MustDecimal(rate)
		drivers = append(drivers, d)
	}
	return drivers, rows.Err()
}

func (s *Store) SaveDriver(ctx context.Context, d settlement.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveDriver(ctx, s.db, d)
}

func saveDriver(ctx context.Context, db dbtx, d settlement.Driver) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO drivers (id, name, pay_type, pay_rate, authority_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			pay_type = excluded.pay_type,
			pay_rate = excluded.pay_rate,
			authority_id = excluded.authority_id
	`, d.ID, d.Name, d.PayType, d.PayRate.String(), d.AuthorityID)
	return err
}

// =============================================================================
// LOADS
// =============================================================================

const loadColumns = `id, driver_id, authority_id, status, pod_uploaded_at,
	ready_for_settlement, delivered_at, revenue, loaded_miles, empty_miles,
	driver_pay, settlement_id`

func (s *Store) GetLoad(ctx context.Context, id settlement.LoadID) (*settlement.Load, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLoad(ctx, s.db, id)
}

func getLoad(ctx context.Context, db dbtx, id settlement.LoadID) (*settlement.Load, error) {
	loads, err := queryLoads(ctx, db, "SELECT "+loadColumns+" FROM loads WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(loads) == 0 {
		return nil, nil
	}
	return &loads[0], nil
}

func (s *Store) GetLoads(ctx context.Context, ids []settlement.LoadID) ([]settlement.Load, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLoads(ctx, s.db, ids)
}

func getLoads(ctx context.Context, db dbtx, ids []settlement.LoadID) ([]settlement.Load, error) {
	// Fetch one by one to preserve the caller's order and report the
	// first missing id precisely.
	out := make([]settlement.Load, 0, len(ids))
	for _, id := range ids {
		l, err := getLoad(ctx, db, id)
		if err != nil {
			return nil, err
		}
		if l == nil {
			return nil, fmt.Errorf("%w: %s", settlement.ErrLoadNotFound, id)
		}
		out = append(out, *l)
	}
	return out, nil
}

func (s *Store) ListLoadsByDriver(ctx context.Context, driverID settlement.DriverID) ([]settlement.Load, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLoadsByDriver(ctx, s.db, driverID)
}

func listLoadsByDriver(ctx context.Context, db dbtx, driverID settlement.DriverID) ([]settlement.Load, error) {
	return queryLoads(ctx, db,
		"SELECT "+loadColumns+" FROM loads WHERE driver_id = ? ORDER BY delivered_at, id", driverID)
}

func queryLoads(ctx context.Context, db dbtx, query string, args ...any) ([]settlement.Load, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loads []settlement.Load
	for rows.Next() {
		var (
			l                       settlement.Load
			pod, delivered          sql.NullString
			ready                   int
			revenue, loaded, empty  string
			driverPay, settlementID sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.DriverID, &l.AuthorityID, &l.Status, &pod,
			&ready, &delivered, &revenue, &loaded, &empty, &driverPay, &settlementID); err != nil {
			return nil, err
		}
		l.PODUploadedAt = parseNullTime(pod)
		l.ReadyForSettlement = ready != 0
		l.DeliveredAt = parseNullTime(delivered)
		l.Revenue = settlement.MustDecimal(revenue)
		l.LoadedMiles = settlement.MustDecimal(loaded)
		l.EmptyMiles = settlement.MustDecimal(empty)
		if driverPay.Valid {
			d := settlement.MustDecimal(driverPay.String)
			l.DriverPay = &d
		}
		l.SettlementID = settlement.SettlementID(settlementID.String)
		loads = append(loads, l)
	}
	return loads, rows.Err()
}

func (s *Store) SaveLoad(ctx context.Context, l settlement.Load) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveLoad(ctx, s.db, l)
}

func saveLoad(ctx context.Context, db dbtx, l settlement.Load) error {
	var driverPay sql.NullString
	if l.DriverPay != nil {
		driverPay = sql.NullString{String: l.DriverPay.String(), Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO loads (id, driver_id, authority_id, status, pod_uploaded_at,
			ready_for_settlement, delivered_at, revenue, loaded_miles, empty_miles,
			driver_pay, settlement_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			driver_id = excluded.driver_id,
			authority_id = excluded.authority_id,
			status = excluded.status,
			pod_uploaded_at = excluded.pod_uploaded_at,
			ready_for_settlement = excluded.ready_for_settlement,
			delivered_at = excluded.delivered_at,
			revenue = excluded.revenue,
			loaded_miles = excluded.loaded_miles,
			empty_miles = excluded.empty_miles,
			driver_pay = excluded.driver_pay
	`, l.ID, l.DriverID, l.AuthorityID, l.Status, formatNullTime(l.PODUploadedAt),
		boolInt(l.ReadyForSettlement), formatNullTime(l.DeliveredAt),
		l.Revenue.String(), l.LoadedMiles.String(), l.EmptyMiles.String(),
		driverPay, nullString(string(l.SettlementID)))
	return err
}

func (s *Store) LinkLoad(ctx context.Context, id settlement.LoadID, settlementID settlement.SettlementID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return linkLoad(ctx, s.db, id, settlementID)
}

// linkLoad is an atomic check-and-set: the WHERE clause refuses loads
// that are already linked, regardless of what the caller read earlier.
func linkLoad(ctx context.Context, db dbtx, id settlement.LoadID, settlementID settlement.SettlementID) error {
	res, err := db.ExecContext(ctx,
		"UPDATE loads SET settlement_id = ? WHERE id = ? AND settlement_id IS NULL",
		string(settlementID), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM loads WHERE id = ?)", id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", settlement.ErrLoadNotFound, id)
		}
		return fmt.Errorf("%w: %s", settlement.ErrLoadAlreadySettled, id)
	}
	return nil
}

// =============================================================================
// DEDUCTION RULES
// =============================================================================

func (s *Store) ListRulesByDriver(ctx context.Context, driverID settlement.DriverID) ([]settlement.DeductionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRules(ctx, s.db, driverID)
}

func listRules(ctx context.Context, db dbtx, driverID settlement.DriverID) ([]settlement.DeductionRule, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, driver_id, is_addition, calculation_type, amount,
		       goal_amount, current_amount, frequency, description, active
		FROM deduction_rules WHERE driver_id = ? ORDER BY id
	`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []settlement.DeductionRule
	for rows.Next() {
		var (
			r             settlement.DeductionRule
			isAddition    int
			calcType      string
			amount        string
			goal, current sql.NullString
			active        int
		)
		if err := rows.Scan(&r.ID, &r.DriverID, &isAddition, &calcType, &amount,
			&goal, &current, &r.Frequency, &r.Description, &active); err != nil {
			return nil, err
		}
		r.IsAddition = isAddition != 0
		r.Active = active != 0
		switch calcType {
		case "ESCROW":
			r.Terms = settlement.EscrowTerms{
				Amount:        settlement.MustDecimal(amount),
				GoalAmount:    settlement.MustDecimal(goal.String),
				CurrentAmount: settlement.MustDecimal(current.String),
			}
		default:
			r.Terms = settlement.FixedTerms{Amount: settlement.MustDecimal(amount)}
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Store) SaveRule(ctx context.Context, r settlement.DeductionRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveRule(ctx, s.db, r)
}

func saveRule(ctx context.Context, db dbtx, r settlement.DeductionRule) error {
	var (
		calcType      string
		amount        string
		goal, current sql.NullString
	)
	switch terms := r.Terms.(type) {
	case settlement.FixedTerms:
		calcType = "FIXED"
		amount = terms.Amount.String()
	case settlement.EscrowTerms:
		calcType = "ESCROW"
		amount = terms.Amount.String()
		goal = sql.NullString{String: terms.GoalAmount.String(), Valid: true}
		current = sql.NullString{String: terms.CurrentAmount.String(), Valid: true}
	default:
		return fmt.Errorf("unknown rule terms %T", r.Terms)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO deduction_rules
			(id, driver_id, is_addition, calculation_type, amount,
			 goal_amount, current_amount, frequency, description, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			is_addition = excluded.is_addition,
			calculation_type = excluded.calculation_type,
			amount = excluded.amount,
			goal_amount = excluded.goal_amount,
			current_amount = excluded.current_amount,
			frequency = excluded.frequency,
			description = excluded.description,
			active = excluded.active
	`, r.ID, r.DriverID, boolInt(r.IsAddition), calcType, amount,
		goal, current, r.Frequency, r.Description, boolInt(r.Active))
	return err
}

func (s *Store) UpdateEscrowProgress(ctx context.Context, id settlement.RuleID, current decimal.Decimal, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateEscrowProgress(ctx, s.db, id, current, active)
}

func updateEscrowProgress(ctx context.Context, db dbtx, id settlement.RuleID, current decimal.Decimal, active bool) error {
	res, err := db.ExecContext(ctx, `
		UPDATE deduction_rules SET current_amount = ?, active = ?
		WHERE id = ? AND calculation_type = 'ESCROW'
	`, current.String(), boolInt(active), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("escrow rule not found: %s", id)
	}
	return nil
}

// =============================================================================
// ADVANCES
// =============================================================================

func (s *Store) ListOpenAdvances(ctx context.Context, driverID settlement.DriverID, issuedBefore time.Time) ([]settlement.Advance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOpenAdvances(ctx, s.db, driverID, issuedBefore)
}

func listOpenAdvances(ctx context.Context, db dbtx, driverID settlement.DriverID, issuedBefore time.Time) ([]settlement.Advance, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, driver_id, load_id, amount, issued_at
		FROM advances
		WHERE driver_id = ? AND settlement_id IS NULL AND issued_at <= ?
		ORDER BY issued_at, id
	`, driverID, issuedBefore.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var advances []settlement.Advance
	for rows.Next() {
		var (
			a        settlement.Advance
			loadID   sql.NullString
			amount   string
			issuedAt string
		)
		if err := rows.Scan(&a.ID, &a.DriverID, &loadID, &amount, &issuedAt); err != nil {
			return nil, err
		}
		a.LoadID = settlement.LoadID(loadID.String)
		a.Amount = settlement.MustDecimal(amount)
		a.IssuedAt, _ = time.Parse(time.RFC3339Nano, issuedAt)
		advances = append(advances, a)
	}
	return advances, rows.Err()
}

func (s *Store) SaveAdvance(ctx context.Context, a settlement.Advance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveAdvance(ctx, s.db, a)
}

func saveAdvance(ctx context.Context, db dbtx, a settlement.Advance) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO advances (id, driver_id, load_id, amount, issued_at, settlement_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET amount = excluded.amount
	`, a.ID, a.DriverID, nullString(string(a.LoadID)), a.Amount.String(),
		a.IssuedAt.UTC().Format(time.RFC3339Nano), nullString(string(a.SettlementID)))
	return err
}

func (s *Store) MarkAdvanceSettled(ctx context.Context, id settlement.AdvanceID, settlementID settlement.SettlementID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markAdvanceSettled(ctx, s.db, id, settlementID)
}

func markAdvanceSettled(ctx context.Context, db dbtx, id settlement.AdvanceID, settlementID settlement.SettlementID) error {
	res, err := db.ExecContext(ctx,
		"UPDATE advances SET settlement_id = ? WHERE id = ? AND settlement_id IS NULL",
		string(settlementID), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("advance not found or already settled: %s", id)
	}
	return nil
}

// =============================================================================
// NEGATIVE BALANCES
// =============================================================================

func (s *Store) ListOpenBalances(ctx context.Context, driverID settlement.DriverID) ([]settlement.NegativeBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOpenBalances(ctx, s.db, driverID)
}

func listOpenBalances(ctx context.Context, db dbtx, driverID settlement.DriverID) ([]settlement.NegativeBalance, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, driver_id, amount, source_settlement_id, applied,
		       applied_in_settlement_id, created_at
		FROM negative_balances
		WHERE driver_id = ? AND applied = 0
		ORDER BY created_at, id
	`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []settlement.NegativeBalance
	for rows.Next() {
		var (
			b         settlement.NegativeBalance
			amount    string
			applied   int
			appliedIn sql.NullString
			createdAt string
		)
		if err := rows.Scan(&b.ID, &b.DriverID, &amount, &b.SourceSettlementID,
			&applied, &appliedIn, &createdAt); err != nil {
			return nil, err
		}
		b.Amount = settlement.MustDecimal(amount)
		b.Applied = applied != 0
		b.AppliedInSettlementID = settlement.SettlementID(appliedIn.String)
		b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (s *Store) SaveBalance(ctx context.Context, b settlement.NegativeBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveBalance(ctx, s.db, b)
}

func saveBalance(ctx context.Context, db dbtx, b settlement.NegativeBalance) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO negative_balances
			(id, driver_id, amount, source_settlement_id, applied,
			 applied_in_settlement_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			applied = excluded.applied,
			applied_in_settlement_id = excluded.applied_in_settlement_id
	`, b.ID, b.DriverID, b.Amount.String(), string(b.SourceSettlementID),
		boolInt(b.Applied), nullString(string(b.AppliedInSettlementID)),
		b.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) MarkBalanceApplied(ctx context.Context, id settlement.BalanceID, settlementID settlement.SettlementID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markBalanceApplied(ctx, s.db, id, settlementID)
}

func markBalanceApplied(ctx context.Context, db dbtx, id settlement.BalanceID, settlementID settlement.SettlementID) error {
	res, err := db.ExecContext(ctx, `
		UPDATE negative_balances SET applied = 1, applied_in_settlement_id = ?
		WHERE id = ? AND applied = 0
	`, string(settlementID), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("negative balance not found or already applied: %s", id)
	}
	return nil
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

const settlementColumns = `id, settlement_number, driver_id, period_start, period_end,
	load_ids_json, gross_pay, total_additions, total_deductions, total_advances,
	negative_balance_applied, net_pay, lines_json, notes, pay_config_warning, created_at`

func (s *Store) GetSettlement(ctx context.Context, id settlement.SettlementID) (*settlement.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSettlement(ctx, s.db, id)
}

func getSettlement(ctx context.Context, db dbtx, id settlement.SettlementID) (*settlement.Settlement, error) {
	settlements, err := querySettlements(ctx, db,
		"SELECT "+settlementColumns+" FROM settlements WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(settlements) == 0 {
		return nil, nil
	}
	return &settlements[0], nil
}

func (s *Store) ListSettlements(ctx context.Context) ([]settlement.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSettlements(ctx, s.db)
}

func listSettlements(ctx context.Context, db dbtx) ([]settlement.Settlement, error) {
	return querySettlements(ctx, db,
		"SELECT "+settlementColumns+" FROM settlements ORDER BY created_at, settlement_number")
}

func (s *Store) ListSettlementsByDriver(ctx context.Context, driverID settlement.DriverID) ([]settlement.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSettlementsByDriver(ctx, s.db, driverID)
}

func listSettlementsByDriver(ctx context.Context, db dbtx, driverID settlement.DriverID) ([]settlement.Settlement, error) {
	return querySettlements(ctx, db,
		"SELECT "+settlementColumns+" FROM settlements WHERE driver_id = ? ORDER BY created_at", driverID)
}

func querySettlements(ctx context.Context, db dbtx, query string, args ...any) ([]settlement.Settlement, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settlements []settlement.Settlement
	for rows.Next() {
		var (
			st                                   settlement.Settlement
			periodStart, periodEnd               string
			loadIDsJSON                          string
			gross, adds, deds, advs, balApp, net string
			linesJSON, notes                     sql.NullString
			warning                              int
			createdAt                            string
		)
		if err := rows.Scan(&st.ID, &st.SettlementNumber, &st.DriverID,
			&periodStart, &periodEnd, &loadIDsJSON, &gross, &adds, &deds, &advs,
			&balApp, &net, &linesJSON, &notes, &warning, &createdAt); err != nil {
			return nil, err
		}
		st.PeriodStart, _ = time.Parse(time.RFC3339Nano, periodStart)
		st.PeriodEnd, _ = time.Parse(time.RFC3339Nano, periodEnd)
		if err := json.Unmarshal([]byte(loadIDsJSON), &st.LoadIDs); err != nil {
			return nil, fmt.Errorf("corrupt load_ids for settlement %s: %w", st.ID, err)
		}
		st.GrossPay = settlement.MustDecimal(gross)
		st.TotalAdditions = settlement.MustDecimal(adds)
		st.TotalDeductions = settlement.MustDecimal(deds)
		st.TotalAdvances = settlement.MustDecimal(advs)
		st.NegativeBalanceApplied = settlement.MustDecimal(balApp)
		st.NetPay = settlement.MustDecimal(net)
		if linesJSON.Valid && linesJSON.String != "" {
			if err := json.Unmarshal([]byte(linesJSON.String), &st.Lines); err != nil {
				return nil, fmt.Errorf("corrupt lines for settlement %s: %w", st.ID, err)
			}
		}
		st.Notes = notes.String
		st.PayConfigWarning = warning != 0
		st.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		settlements = append(settlements, st)
	}
	return settlements, rows.Err()
}

func (s *Store) CreateSettlement(ctx context.Context, st settlement.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createSettlement(ctx, s.db, st)
}

func createSettlement(ctx context.Context, db dbtx, st settlement.Settlement) error {
	loadIDsJSON, err := json.Marshal(st.LoadIDs)
	if err != nil {
		return err
	}
	linesJSON, err := json.Marshal(st.Lines)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO settlements
			(id, settlement_number, driver_id, period_start, period_end,
			 load_ids_json, gross_pay, total_additions, total_deductions,
			 total_advances, negative_balance_applied, net_pay, lines_json,
			 notes, pay_config_warning, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, st.ID, st.SettlementNumber, st.DriverID,
		st.PeriodStart.UTC().Format(time.RFC3339Nano),
		st.PeriodEnd.UTC().Format(time.RFC3339Nano),
		string(loadIDsJSON), st.GrossPay.String(), st.TotalAdditions.String(),
		st.TotalDeductions.String(), st.TotalAdvances.String(),
		st.NegativeBalanceApplied.String(), st.NetPay.String(),
		string(linesJSON), nullString(st.Notes), boolInt(st.PayConfigWarning),
		st.CreatedAt.UTC().Format(time.RFC3339Nano))

	if err != nil && isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %s", settlement.ErrDuplicateSettlementNumber, st.SettlementNumber)
	}
	return err
}

func (s *Store) NextSettlementSeq(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nextSettlementSeq(ctx, s.db)
}

func nextSettlementSeq(ctx context.Context, db dbtx) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO settlement_seq (id, seq) VALUES (1, 1)
		ON CONFLICT(id) DO UPDATE SET seq = settlement_seq.seq + 1
		RETURNING seq
	`).Scan(&seq)
	return seq, err
}

// =============================================================================
// TRANSACTIONAL STORE (settlement.TxStore interface)
// =============================================================================

// WithTx executes fn within a single database transaction. If fn
// returns an error the transaction rolls back and nothing is visible.
func (s *Store) WithTx(ctx context.Context, fn func(settlement.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every Store call through the open transaction.
type txStore struct {
	tx *sql.Tx
}

var _ settlement.Store = (*txStore)(nil)

func (t *txStore) GetDriver(ctx context.Context, id settlement.DriverID) (*settlement.Driver, error) {
	return getDriver(ctx, t.tx, id)
}
func (t *txStore) ListDrivers(ctx context.Context) ([]settlement.Driver, error) {
	return listDrivers(ctx, t.tx)
}
func (t *txStore) SaveDriver(ctx context.Context, d settlement.Driver) error {
	return saveDriver(ctx, t.tx, d)
}
func (t *txStore) GetLoad(ctx context.Context, id settlement.LoadID) (*settlement.Load, error) {
	return getLoad(ctx, t.tx, id)
}
func (t *txStore) GetLoads(ctx context.Context, ids []settlement.LoadID) ([]settlement.Load, error) {
	return getLoads(ctx, t.tx, ids)
}
func (t *txStore) ListLoadsByDriver(ctx context.Context, driverID settlement.DriverID) ([]settlement.Load, error) {
	return listLoadsByDriver(ctx, t.tx, driverID)
}
func (t *txStore) SaveLoad(ctx context.Context, l settlement.Load) error {
	return saveLoad(ctx, t.tx, l)
}
func (t *txStore) LinkLoad(ctx context.Context, id settlement.LoadID, settlementID settlement.SettlementID) error {
	return linkLoad(ctx, t.tx, id, settlementID)
}
func (t *txStore) ListRulesByDriver(ctx context.Context, driverID settlement.DriverID) ([]settlement.DeductionRule, error) {
	return listRules(ctx, t.tx, driverID)
}
func (t *txStore) SaveRule(ctx context.Context, r settlement.DeductionRule) error {
	return saveRule(ctx, t.tx, r)
}
func (t *txStore) UpdateEscrowProgress(ctx context.Context, id settlement.RuleID, current decimal.Decimal, active bool) error {
	return updateEscrowProgress(ctx, t.tx, id, current, active)
}
func (t *txStore) ListOpenAdvances(ctx context.Context, driverID settlement.DriverID, issuedBefore time.Time) ([]settlement.Advance, error) {
	return listOpenAdvances(ctx, t.tx, driverID, issuedBefore)
}
func (t *txStore) SaveAdvance(ctx context.Context, a settlement.Advance) error {
	return saveAdvance(ctx, t.tx, a)
}
func (t *txStore) MarkAdvanceSettled(ctx context.Context, id settlement.AdvanceID, settlementID settlement.SettlementID) error {
	return markAdvanceSettled(ctx, t.tx, id, settlementID)
}
func (t *txStore) ListOpenBalances(ctx context.Context, driverID settlement.DriverID) ([]settlement.NegativeBalance, error) {
	return listOpenBalances(ctx, t.tx, driverID)
}
func (t *txStore) SaveBalance(ctx context.Context, b settlement.NegativeBalance) error {
	return saveBalance(ctx, t.tx, b)
}
func (t *txStore) MarkBalanceApplied(ctx context.Context, id settlement.BalanceID, settlementID settlement.SettlementID) error {
	return markBalanceApplied(ctx, t.tx, id, settlementID)
}
func (t *txStore) GetSettlement(ctx context.Context, id settlement.SettlementID) (*settlement.Settlement, error) {
	return getSettlement(ctx, t.tx, id)
}
func (t *txStore) ListSettlements(ctx context.Context) ([]settlement.Settlement, error) {
	return listSettlements(ctx, t.tx)
}
func (t *txStore) ListSettlementsByDriver(ctx context.Context, driverID settlement.DriverID) ([]settlement.Settlement, error) {
	return listSettlementsByDriver(ctx, t.tx, driverID)
}
func (t *txStore) CreateSettlement(ctx context.Context, st settlement.Settlement) error {
	return createSettlement(ctx, t.tx, st)
}
func (t *txStore) NextSettlementSeq(ctx context.Context) (int64, error) {
	return nextSettlementSeq(ctx, t.tx)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"loads", "advances", "negative_balances", "deduction_rules", "settlements", "drivers", "settlement_seq"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
