/*
builder.go - Draft preview and settlement generation

PURPOSE:
  Composes the eligibility filter, pay calculator, deduction engine, and
  balance ledger into the two top-level operations:

  BuildDraft:  pure, read-only preview. Never mutates loads, rules,
               advances, or balances; safe to call repeatedly. Surfaces
               warnings eagerly so operators fix data before committing.

  Generate:    persists a settlement. Links the selected loads
               exclusively, commits escrow progress, nets advances,
               applies the balance ledger, and allocates a unique
               settlement number - all in ONE store transaction.

CONCURRENCY:
  Generation is logically single-writer per driver. The engine holds a
  per-driver mutex so two concurrent Generate calls for the same driver
  serialize; across drivers the only shared state is settlement-number
  allocation, which the store's uniqueness constraint protects. The
  store's LinkLoad check-and-set is the backstop for overlapping load
  selections that slip past the mutex (e.g. two API replicas): the
  second writer fails with a conflict rather than double-paying a load.

FAILURE MODES:
  - ErrNoEligibleLoads: empty selection, no settlement produced
  - ConflictError (ErrLoadAlreadySettled): stale client state or race
  - ValidationError: a selected load fails an eligibility rule; the
    whole call is refused, nothing is committed
  - PayConfigWarning: carried on a SUCCESSFUL result, never an error

SEE ALSO:
  - batch.go: sequential multi-driver orchestration
  - store.go: WithTx atomicity contract
*/
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the settlement generator. Construct with NewEngine.
type Engine struct {
	Store TxStore
	Pay   *PayCalculator

	// Now is the clock; override in tests for deterministic periods.
	Now func() time.Time

	mu          sync.Mutex
	driverLocks map[DriverID]*sync.Mutex
}

// NewEngine creates an engine with the default pay calculator and clock.
func NewEngine(store TxStore) *Engine {
	return &Engine{
		Store:       store,
		Pay:         NewPayCalculator(),
		Now:         time.Now,
		driverLocks: make(map[DriverID]*sync.Mutex),
	}
}

// lockDriver returns the mutex serializing generation for one driver.
func (e *Engine) lockDriver(id DriverID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.driverLocks[id]
	if !ok {
		l = &sync.Mutex{}
		e.driverLocks[id] = l
	}
	return l
}

// =============================================================================
// GENERATE OPTIONS
// =============================================================================

// Overrides carries manual totals supplied by the operator. A set field
// replaces the corresponding computed total; the replaced side's rule
// lines and escrow progress are suppressed for that settlement.
type Overrides struct {
	Additions  *decimal.Decimal
	Deductions *decimal.Decimal
	Advances   *decimal.Decimal
}

// GenerateOptions tunes a single Generate call.
type GenerateOptions struct {
	// Period bounds; defaults to the last closed Monday-to-Sunday week.
	Period *Period

	// SettlementNumber, when empty, is auto-allocated from the store
	// sequence as S-<seq>.
	SettlementNumber string

	Notes     string
	Overrides Overrides
}

func (e *Engine) periodOrDefault(p *Period) Period {
	if p != nil && !p.IsZero() {
		return *p
	}
	return LastClosedWeek(e.Now())
}

// =============================================================================
// DRAFT - read-only preview
// =============================================================================

// BuildDraft computes what a settlement for the driver would look like
// right now: all unsettled eligible loads, rule-driven additions and
// deductions, open advances, and the outstanding negative balance.
// Idempotent; repeated calls with no intervening Generate return
// identical figures.
func (e *Engine) BuildDraft(ctx context.Context, driverID DriverID) (*Draft, error) {
	driver, err := e.Store.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, fmt.Errorf("%w: %s", ErrDriverNotFound, driverID)
	}

	loads, err := e.Store.ListLoadsByDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	period := LastClosedWeek(e.Now())
	eligible := Filter(loads, *driver, period, ModePreview)

	rules, err := e.Store.ListRulesByDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	advances, err := e.Store.ListOpenAdvances(ctx, driverID, e.Now())
	if err != nil {
		return nil, err
	}
	open, err := e.Store.ListOpenBalances(ctx, driverID)
	if err != nil {
		return nil, err
	}

	comp := e.compute(*driver, eligible, rules, advances, open, Overrides{})

	return &Draft{
		Driver:                   *driver,
		Period:                   period,
		Loads:                    comp.detail,
		GrossPay:                 comp.gross,
		TotalAdditions:           comp.additions,
		TotalDeductions:          comp.deductions,
		TotalAdvances:            comp.advances,
		NegativeBalanceDeduction: comp.balances.Applied,
		NetPay:                   comp.balances.NetPay,
		Lines:                    comp.lines,
		PayConfigWarning:         !driver.Configured(),
	}, nil
}

// BuildAllDrafts returns one draft per driver that currently has at
// least one eligible unsettled load. This feeds the review UI.
func (e *Engine) BuildAllDrafts(ctx context.Context) ([]*Draft, error) {
	drivers, err := e.Store.ListDrivers(ctx)
	if err != nil {
		return nil, err
	}

	var drafts []*Draft
	for _, d := range drivers {
		draft, err := e.BuildDraft(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		if len(draft.Loads) == 0 {
			continue
		}
		drafts = append(drafts, draft)
	}
	return drafts, nil
}

// =============================================================================
// GENERATE - the critical transactional operation
// =============================================================================

// Generate creates and persists a settlement for the driver covering
// exactly the given loads. See the package comment for the failure
// modes; on any error nothing is committed.
func (e *Engine) Generate(ctx context.Context, driverID DriverID, loadIDs []LoadID, opts GenerateOptions) (*Settlement, error) {
	lock := e.lockDriver(driverID)
	lock.Lock()
	defer lock.Unlock()

	driver, err := e.Store.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, fmt.Errorf("%w: %s", ErrDriverNotFound, driverID)
	}

	if len(loadIDs) == 0 {
		return nil, ErrNoEligibleLoads
	}

	loads, err := e.Store.GetLoads(ctx, loadIDs)
	if err != nil {
		return nil, err
	}

	// A load already linked to another settlement is a conflict, not a
	// validation failure: the caller's view is stale.
	var settled []LoadID
	for _, l := range loads {
		if l.Settled() {
			settled = append(settled, l.ID)
		}
	}
	if len(settled) > 0 {
		return nil, &ConflictError{DriverID: driverID, LoadIDs: settled}
	}

	period := e.periodOrDefault(opts.Period)
	if ve := Validate(loads, *driver, period); ve != nil {
		return nil, ve
	}

	rules, err := e.Store.ListRulesByDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	advances, err := e.Store.ListOpenAdvances(ctx, driverID, period.End)
	if err != nil {
		return nil, err
	}
	open, err := e.Store.ListOpenBalances(ctx, driverID)
	if err != nil {
		return nil, err
	}

	comp := e.compute(*driver, loads, rules, advances, open, opts.Overrides)

	now := e.Now().UTC()
	s := Settlement{
		ID:                     SettlementID(uuid.NewString()),
		SettlementNumber:       opts.SettlementNumber,
		DriverID:               driverID,
		PeriodStart:            period.Start,
		PeriodEnd:              period.End,
		LoadIDs:                loadIDs,
		GrossPay:               comp.gross,
		TotalAdditions:         comp.additions,
		TotalDeductions:        comp.deductions,
		TotalAdvances:          comp.advances,
		NegativeBalanceApplied: comp.balances.Applied,
		NetPay:                 comp.balances.NetPay,
		Lines:                  comp.lines,
		Notes:                  opts.Notes,
		PayConfigWarning:       !driver.Configured(),
		CreatedAt:              now,
	}

	err = e.Store.WithTx(ctx, func(tx Store) error {
		if s.SettlementNumber == "" {
			seq, err := tx.NextSettlementSeq(ctx)
			if err != nil {
				return err
			}
			s.SettlementNumber = fmt.Sprintf("S-%06d", seq)
		}

		if err := tx.CreateSettlement(ctx, s); err != nil {
			return err
		}

		for _, id := range loadIDs {
			if err := tx.LinkLoad(ctx, id, s.ID); err != nil {
				if errors.Is(err, ErrLoadAlreadySettled) {
					return &ConflictError{DriverID: driverID, LoadIDs: []LoadID{id}}
				}
				return err
			}
		}

		for _, u := range comp.escrowUpdates {
			if err := tx.UpdateEscrowProgress(ctx, u.RuleID, u.NewCurrent, !u.GoalReached); err != nil {
				return err
			}
		}

		for _, a := range comp.consumedAdvances {
			if err := tx.MarkAdvanceSettled(ctx, a.ID, s.ID); err != nil {
				return err
			}
		}

		for _, b := range comp.balances.Consumed {
			if err := tx.MarkBalanceApplied(ctx, b.ID, s.ID); err != nil {
				return err
			}
		}

		if comp.balances.Shortfall.IsPositive() {
			return tx.SaveBalance(ctx, NegativeBalance{
				ID:                 BalanceID(uuid.NewString()),
				DriverID:           driverID,
				Amount:             comp.balances.Shortfall,
				SourceSettlementID: s.ID,
				CreatedAt:          now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &s, nil
}

// =============================================================================
// SHARED COMPUTATION - identical math for drafts and commits
// =============================================================================

type computation struct {
	gross            decimal.Decimal
	detail           []DraftLoad
	additions        decimal.Decimal
	deductions       decimal.Decimal
	advances         decimal.Decimal
	consumedAdvances []Advance
	escrowUpdates    []EscrowUpdate
	balances         BalanceApplication
	lines            []LineItem
}

func (e *Engine) compute(driver Driver, loads []Load, rules []DeductionRule, advances []Advance, open []NegativeBalance, ov Overrides) computation {
	var c computation

	c.gross, c.detail = e.Pay.GrossPay(loads, driver)

	outcome := ApplyRules(rules)
	c.additions = outcome.TotalAdditions
	c.deductions = outcome.TotalDeductions
	c.lines = append(c.lines, outcome.Lines...)
	c.escrowUpdates = outcome.EscrowUpdates

	// Weekly drivers get their flat rate as a settlement-level addition.
	if driver.PayType == PayWeekly && driver.Configured() {
		c.additions = c.additions.Add(driver.PayRate)
		c.lines = append(c.lines, LineItem{
			Type:        LineAddition,
			Description: "Weekly pay",
			Amount:      driver.PayRate,
		})
	}

	if ov.Additions != nil {
		c.additions = *ov.Additions
		c.lines = dropLines(c.lines, LineAddition)
		c.escrowUpdates = dropEscrowSide(c.escrowUpdates, rules, true)
		c.lines = append(c.lines, LineItem{Type: LineAddition, Description: "Manual additions override", Amount: *ov.Additions})
	}
	if ov.Deductions != nil {
		c.deductions = *ov.Deductions
		c.lines = dropLines(c.lines, LineDeduction)
		c.escrowUpdates = dropEscrowSide(c.escrowUpdates, rules, false)
		c.lines = append(c.lines, LineItem{Type: LineDeduction, Description: "Manual deductions override", Amount: *ov.Deductions})
	}

	c.advances = decimal.Zero
	if ov.Advances != nil {
		// Operator supplied the advance total; stored advances stay open.
		c.advances = *ov.Advances
		c.lines = append(c.lines, LineItem{Type: LineAdvance, Description: "Manual advances override", Amount: *ov.Advances})
	} else {
		for _, a := range advances {
			c.advances = c.advances.Add(a.Amount)
			c.consumedAdvances = append(c.consumedAdvances, a)
			c.lines = append(c.lines, LineItem{
				Type:        LineAdvance,
				Description: "Cash advance " + string(a.ID),
				Amount:      a.Amount,
			})
		}
	}

	pre := c.gross.Add(c.additions).Sub(c.deductions).Sub(c.advances)
	c.balances = ApplyBalances(pre, open)
	if c.balances.Applied.IsPositive() {
		c.lines = append(c.lines, LineItem{
			Type:        LineNegativeBalance,
			Description: "Prior balance carried forward",
			Amount:      c.balances.Applied,
		})
	}

	return c
}

func dropLines(lines []LineItem, t LineType) []LineItem {
	var kept []LineItem
	for _, l := range lines {
		if l.Type != t {
			kept = append(kept, l)
		}
	}
	return kept
}

// dropEscrowSide removes escrow updates whose rule sits on the
// overridden side, so manual totals never advance escrow progress.
func dropEscrowSide(updates []EscrowUpdate, rules []DeductionRule, additionSide bool) []EscrowUpdate {
	byID := make(map[RuleID]DeductionRule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}
	var kept []EscrowUpdate
	for _, u := range updates {
		if r, ok := byID[u.RuleID]; ok && r.IsAddition == additionSide {
			continue
		}
		kept = append(kept, u)
	}
	return kept
}
