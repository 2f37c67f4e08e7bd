/*
scheduler.go - Automated settlement scheduler

PURPOSE:
  Periodically generates settlements for the most recent closed pay
  week, so back office staff don't have to trigger the batch by hand
  every Monday.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Targets the last fully closed Monday-Sunday week
  - Safe to re-run: settled loads are no longer eligible, so a second
    pass over the same week settles nothing and pays nobody twice
  - Per-driver failures are logged and skipped, never abort the run

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewSettlementScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: GenerateBatch endpoint (manual batch)
  - settlement/batch.go: batch orchestration semantics
*/
package api

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/fleetpay/settlement-engine/settlement"
)

// SettlementScheduler handles automated weekly settlement generation.
type SettlementScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSettlementScheduler creates a new scheduler.
func NewSettlementScheduler(handler *Handler) *SettlementScheduler {
	return &SettlementScheduler{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (ss *SettlementScheduler) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.wg.Add(1)

	go ss.run()

	log.Printf("[Scheduler] Started with check interval: %v", ss.CheckInterval)
}

// Stop stops the scheduler.
func (ss *SettlementScheduler) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker != nil {
		ss.ticker.Stop()
		close(ss.stop)
		ss.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (ss *SettlementScheduler) run() {
	defer ss.wg.Done()

	// Run immediately on start
	ss.checkAndProcess()

	for {
		select {
		case <-ss.ticker.C:
			ss.checkAndProcess()
		case <-ss.stop:
			return
		}
	}
}

func (ss *SettlementScheduler) checkAndProcess() {
	ctx := context.Background()
	period := settlement.LastClosedWeek(time.Now().UTC())

	log.Printf("[Scheduler] Checking settlements for week %s", period)

	drivers, err := ss.Handler.Store.ListDrivers(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error listing drivers: %v", err)
		return
	}

	driverIDs := make([]settlement.DriverID, len(drivers))
	for i, d := range drivers {
		driverIDs[i] = d.ID
	}

	result, err := ss.Handler.Engine.GenerateBatch(ctx, driverIDs, settlement.GenerateOptions{
		Period: &period,
	})
	if err != nil {
		log.Printf("[Scheduler] Batch run failed: %v", err)
		return
	}

	generated := 0
	failed := 0
	for _, r := range result.Results {
		switch {
		case r.Success():
			generated++
			log.Printf("[Scheduler] Generated %s for driver %s (net %s)",
				r.Settlement.SettlementNumber, r.DriverID, r.Settlement.NetPay)
		case errors.Is(r.Err, settlement.ErrNoEligibleLoads):
			// Nothing to settle this week; not a failure worth logging
		default:
			failed++
			log.Printf("[Scheduler] Driver %s failed: %v", r.DriverID, r.Err)
		}
	}

	if generated > 0 || failed > 0 {
		log.Printf("[Scheduler] Completed: %d generated, %d failed", generated, failed)
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (ss *SettlementScheduler) RunNow() {
	ss.checkAndProcess()
}

// GetNextRunTime returns when the next scheduled check will occur.
func (ss *SettlementScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(ss.CheckInterval)
}
