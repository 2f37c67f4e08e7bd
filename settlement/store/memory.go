// Package store provides an in-memory settlement.Store implementation
// for tests and development.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetpay/settlement-engine/settlement"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory holds everything in maps guarded by one RWMutex. It mirrors
// the SQLite store's constraints: one settlement per load, unique
// settlement numbers.
type Memory struct {
	mu          sync.RWMutex
	txMu        sync.Mutex // serializes WithTx blocks
	drivers     map[settlement.DriverID]settlement.Driver
	loads       map[settlement.LoadID]settlement.Load
	rules       map[settlement.RuleID]settlement.DeductionRule
	advances    map[settlement.AdvanceID]settlement.Advance
	balances    map[settlement.BalanceID]settlement.NegativeBalance
	settlements map[settlement.SettlementID]settlement.Settlement
	numbers     map[string]bool
	seq         int64

	// insertion order, so listings are deterministic
	loadOrder    []settlement.LoadID
	ruleOrder    []settlement.RuleID
	advanceOrder []settlement.AdvanceID
	balanceOrder []settlement.BalanceID
	settOrder    []settlement.SettlementID
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		drivers:     make(map[settlement.DriverID]settlement.Driver),
		loads:       make(map[settlement.LoadID]settlement.Load),
		rules:       make(map[settlement.RuleID]settlement.DeductionRule),
		advances:    make(map[settlement.AdvanceID]settlement.Advance),
		balances:    make(map[settlement.BalanceID]settlement.NegativeBalance),
		settlements: make(map[settlement.SettlementID]settlement.Settlement),
		numbers:     make(map[string]bool),
	}
}

var _ settlement.TxStore = (*Memory)(nil)

// =============================================================================
// DRIVERS
// =============================================================================

func (m *Memory) GetDriver(_ context.Context, id settlement.DriverID) (*settlement.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *Memory) ListDrivers(_ context.Context) ([]settlement.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]settlement.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveDriver(_ context.Context, d settlement.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d
	return nil
}

// =============================================================================
// LOADS
// =============================================================================

func (m *Memory) GetLoad(_ context.Context, id settlement.LoadID) (*settlement.Load, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loads[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (m *Memory) GetLoads(_ context.Context, ids []settlement.LoadID) ([]settlement.Load, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]settlement.Load, 0, len(ids))
	for _, id := range ids {
		l, ok := m.loads[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", settlement.ErrLoadNotFound, id)
		}
		out = append(out, l)
	}
	return out, nil
}

func (m *Memory) ListLoadsByDriver(_ context.Context, driverID settlement.DriverID) ([]settlement.Load, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []settlement.Load
	for _, id := range m.loadOrder {
		if l := m.loads[id]; l.DriverID == driverID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *Memory) SaveLoad(_ context.Context, l settlement.Load) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loads[l.ID]; !ok {
		m.loadOrder = append(m.loadOrder, l.ID)
	}
	m.loads[l.ID] = l
	return nil
}

func (m *Memory) LinkLoad(_ context.Context, id settlement.LoadID, settlementID settlement.SettlementID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loads[id]
	if !ok {
		return fmt.Errorf("%w: %s", settlement.ErrLoadNotFound, id)
	}
	if l.SettlementID != "" {
		return fmt.Errorf("%w: %s", settlement.ErrLoadAlreadySettled, id)
	}
	l.SettlementID = settlementID
	m.loads[id] = l
	return nil
}

// =============================================================================
// RULES
// =============================================================================

func (m *Memory) ListRulesByDriver(_ context.Context, driverID settlement.DriverID) ([]settlement.DeductionRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []settlement.DeductionRule
	for _, id := range m.ruleOrder {
		if r := m.rules[id]; r.DriverID == driverID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) SaveRule(_ context.Context, r settlement.DeductionRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[r.ID]; !ok {
		m.ruleOrder = append(m.ruleOrder, r.ID)
	}
	m.rules[r.ID] = r
	return nil
}

func (m *Memory) UpdateEscrowProgress(_ context.Context, id settlement.RuleID, current decimal.Decimal, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return fmt.Errorf("rule not found: %s", id)
	}
	terms, ok := r.Terms.(settlement.EscrowTerms)
	if !ok {
		return fmt.Errorf("rule %s is not an escrow rule", id)
	}
	terms.CurrentAmount = current
	r.Terms = terms
	r.Active = active
	m.rules[id] = r
	return nil
}

// =============================================================================
// ADVANCES
// =============================================================================

func (m *Memory) ListOpenAdvances(_ context.Context, driverID settlement.DriverID, issuedBefore time.Time) ([]settlement.Advance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []settlement.Advance
	for _, id := range m.advanceOrder {
		a := m.advances[id]
		if a.DriverID == driverID && a.SettlementID == "" && !a.IssuedAt.After(issuedBefore) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) SaveAdvance(_ context.Context, a settlement.Advance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.advances[a.ID]; !ok {
		m.advanceOrder = append(m.advanceOrder, a.ID)
	}
	m.advances[a.ID] = a
	return nil
}

func (m *Memory) MarkAdvanceSettled(_ context.Context, id settlement.AdvanceID, settlementID settlement.SettlementID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.advances[id]
	if !ok {
		return fmt.Errorf("advance not found: %s", id)
	}
	a.SettlementID = settlementID
	m.advances[id] = a
	return nil
}

// =============================================================================
// NEGATIVE BALANCES
// =============================================================================

func (m *Memory) ListOpenBalances(_ context.Context, driverID settlement.DriverID) ([]settlement.NegativeBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []settlement.NegativeBalance
	for _, id := range m.balanceOrder {
		if b := m.balances[id]; b.DriverID == driverID && !b.Applied {
			out = append(out, b)
		}
	}
	// balanceOrder is insertion order, which is creation order: FIFO.
	return out, nil
}

func (m *Memory) SaveBalance(_ context.Context, b settlement.NegativeBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[b.ID]; !ok {
		m.balanceOrder = append(m.balanceOrder, b.ID)
	}
	m.balances[b.ID] = b
	return nil
}

func (m *Memory) MarkBalanceApplied(_ context.Context, id settlement.BalanceID, settlementID settlement.SettlementID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[id]
	if !ok {
		return fmt.Errorf("balance not found: %s", id)
	}
	b.Applied = true
	b.AppliedInSettlementID = settlementID
	m.balances[id] = b
	return nil
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func (m *Memory) GetSettlement(_ context.Context, id settlement.SettlementID) (*settlement.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settlements[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) ListSettlements(_ context.Context) ([]settlement.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]settlement.Settlement, 0, len(m.settOrder))
	for _, id := range m.settOrder {
		out = append(out, m.settlements[id])
	}
	return out, nil
}

func (m *Memory) ListSettlementsByDriver(_ context.Context, driverID settlement.DriverID) ([]settlement.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []settlement.Settlement
	for _, id := range m.settOrder {
		if s := m.settlements[id]; s.DriverID == driverID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) CreateSettlement(_ context.Context, s settlement.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.numbers[s.SettlementNumber] {
		return fmt.Errorf("%w: %s", settlement.ErrDuplicateSettlementNumber, s.SettlementNumber)
	}
	m.numbers[s.SettlementNumber] = true
	m.settlements[s.ID] = s
	m.settOrder = append(m.settOrder, s.ID)
	return nil
}

func (m *Memory) NextSettlementSeq(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq, nil
}

// =============================================================================
// TRANSACTIONS - snapshot and restore on error
// =============================================================================

// WithTx simulates a transaction with a full snapshot + rollback.
// Good enough for tests; the SQLite store uses real transactions.
func (m *Memory) WithTx(ctx context.Context, fn func(settlement.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	drivers      map[settlement.DriverID]settlement.Driver
	loads        map[settlement.LoadID]settlement.Load
	rules        map[settlement.RuleID]settlement.DeductionRule
	advances     map[settlement.AdvanceID]settlement.Advance
	balances     map[settlement.BalanceID]settlement.NegativeBalance
	settlements  map[settlement.SettlementID]settlement.Settlement
	numbers      map[string]bool
	seq          int64
	loadOrder    []settlement.LoadID
	ruleOrder    []settlement.RuleID
	advanceOrder []settlement.AdvanceID
	balanceOrder []settlement.BalanceID
	settOrder    []settlement.SettlementID
}

func (m *Memory) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memorySnapshot{
		drivers:      copyMap(m.drivers),
		loads:        copyMap(m.loads),
		rules:        copyMap(m.rules),
		advances:     copyMap(m.advances),
		balances:     copyMap(m.balances),
		settlements:  copyMap(m.settlements),
		numbers:      copyMap(m.numbers),
		seq:          m.seq,
		loadOrder:    append([]settlement.LoadID(nil), m.loadOrder...),
		ruleOrder:    append([]settlement.RuleID(nil), m.ruleOrder...),
		advanceOrder: append([]settlement.AdvanceID(nil), m.advanceOrder...),
		balanceOrder: append([]settlement.BalanceID(nil), m.balanceOrder...),
		settOrder:    append([]settlement.SettlementID(nil), m.settOrder...),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers = s.drivers
	m.loads = s.loads
	m.rules = s.rules
	m.advances = s.advances
	m.balances = s.balances
	m.settlements = s.settlements
	m.numbers = s.numbers
	m.seq = s.seq
	m.loadOrder = s.loadOrder
	m.ruleOrder = s.ruleOrder
	m.advanceOrder = s.advanceOrder
	m.balanceOrder = s.balanceOrder
	m.settOrder = s.settOrder
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers = make(map[settlement.DriverID]settlement.Driver)
	m.loads = make(map[settlement.LoadID]settlement.Load)
	m.rules = make(map[settlement.RuleID]settlement.DeductionRule)
	m.advances = make(map[settlement.AdvanceID]settlement.Advance)
	m.balances = make(map[settlement.BalanceID]settlement.NegativeBalance)
	m.settlements = make(map[settlement.SettlementID]settlement.Settlement)
	m.numbers = make(map[string]bool)
	m.seq = 0
	m.loadOrder = nil
	m.ruleOrder = nil
	m.advanceOrder = nil
	m.balanceOrder = nil
	m.settOrder = nil
	return nil
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
