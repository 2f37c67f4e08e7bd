package settlement

import "context"

// =============================================================================
// BATCH ORCHESTRATOR - Sequential multi-driver generation
// =============================================================================

// DriverResult is the per-driver outcome of a batch run.
type DriverResult struct {
	DriverID   DriverID
	Settlement *Settlement
	Err        error
}

// Success reports whether this driver settled.
func (r DriverResult) Success() bool { return r.Err == nil }

// BatchResult is the full outcome of a batch run.
type BatchResult struct {
	Results   []DriverResult
	Succeeded int
	Failed    int
}

// GenerateBatch settles each driver in turn, selecting that driver's
// eligible loads for the period and calling Generate.
//
// Drivers are processed strictly sequentially, not concurrently: the
// per-driver exclusivity invariant is what matters, and sequential
// processing avoids cross-driver lock contention for no real loss on a
// back-office workload. One driver's failure never aborts the batch; it
// is recorded and processing continues.
func (e *Engine) GenerateBatch(ctx context.Context, driverIDs []DriverID, opts GenerateOptions) (*BatchResult, error) {
	period := e.periodOrDefault(opts.Period)
	opts.Period = &period

	result := &BatchResult{}
	for _, driverID := range driverIDs {
		r := DriverResult{DriverID: driverID}

		loadIDs, err := e.eligibleLoadIDs(ctx, driverID, period)
		if err != nil {
			r.Err = err
		} else if len(loadIDs) == 0 {
			r.Err = ErrNoEligibleLoads
		} else {
			r.Settlement, r.Err = e.Generate(ctx, driverID, loadIDs, opts)
		}

		if r.Err == nil {
			result.Succeeded++
		} else {
			result.Failed++
		}
		result.Results = append(result.Results, r)
	}
	return result, nil
}

func (e *Engine) eligibleLoadIDs(ctx context.Context, driverID DriverID, period Period) ([]LoadID, error) {
	driver, err := e.Store.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, ErrDriverNotFound
	}
	loads, err := e.Store.ListLoadsByDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	eligible := Filter(loads, *driver, period, ModeGenerate)
	ids := make([]LoadID, len(eligible))
	for i, l := range eligible {
		ids[i] = l.ID
	}
	return ids, nil
}
