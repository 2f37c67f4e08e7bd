/*
errors.go - Centralized error types for the settlement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these to HTTP statuses; the batch orchestrator
  records them per driver without aborting.

ERROR CATEGORIES:
  1. Validation errors - selected loads fail eligibility rules (blocking)
  2. Conflict errors   - a load or settlement number is already taken
  3. Not-found errors  - referenced driver/load/settlement missing

Pay-configuration problems are deliberately NOT errors: generation
proceeds with $0 pay lines and the result carries a visible warning.

USAGE:
  if errors.Is(err, settlement.ErrLoadAlreadySettled) {
      // stale client state; refresh and retry
  }
  var ve *settlement.ValidationError
  if errors.As(err, &ve) {
      for _, lv := range ve.Loads { ... }
  }
*/
package settlement

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNoEligibleLoads is returned when a generation is attempted with an
	// empty load selection. Not necessarily fatal to the caller; no
	// settlement is produced.
	ErrNoEligibleLoads = errors.New("no eligible loads")

	// ErrLoadAlreadySettled is returned when a selected load is already
	// linked to another settlement (race or stale client state).
	ErrLoadAlreadySettled = errors.New("load already settled")

	// ErrDuplicateSettlementNumber is returned when the requested
	// settlement number is already in use.
	ErrDuplicateSettlementNumber = errors.New("duplicate settlement number")

	// ErrDriverNotFound is returned when a referenced driver doesn't exist.
	ErrDriverNotFound = errors.New("driver not found")

	// ErrLoadNotFound is returned when a referenced load doesn't exist.
	ErrLoadNotFound = errors.New("load not found")

	// ErrSettlementNotFound is returned when a referenced settlement
	// doesn't exist.
	ErrSettlementNotFound = errors.New("settlement not found")
)

// =============================================================================
// ELIGIBILITY RULE CODES - reported per load on validation failure
// =============================================================================

const (
	RuleStatusNotSettleable = "status_not_settleable"
	RulePODMissing          = "pod_missing"
	RuleNotReady            = "not_ready_for_settlement"
	RuleOutsidePeriod       = "delivered_outside_period"
	RuleAuthorityMismatch   = "authority_mismatch"
	RuleAlreadySettled      = "already_settled"
	RuleWrongDriver         = "wrong_driver"
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// LoadValidation lists the eligibility rules a single load failed.
type LoadValidation struct {
	LoadID   LoadID
	Failures []string
}

// ValidationError is returned when one or more explicitly selected loads
// fail an eligibility rule. It blocks the entire generation; no partial
// settlement is committed.
type ValidationError struct {
	DriverID DriverID
	Loads    []LoadValidation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Loads))
	for i, lv := range e.Loads {
		parts[i] = fmt.Sprintf("%s: %s", lv.LoadID, strings.Join(lv.Failures, ","))
	}
	return fmt.Sprintf("validation failed for driver %s: %s", e.DriverID, strings.Join(parts, "; "))
}

// ConflictError wraps ErrLoadAlreadySettled with the loads that raced.
type ConflictError struct {
	DriverID DriverID
	LoadIDs  []LoadID
}

func (e *ConflictError) Error() string {
	ids := make([]string, len(e.LoadIDs))
	for i, id := range e.LoadIDs {
		ids[i] = string(id)
	}
	return fmt.Sprintf("loads already settled for driver %s: %s", e.DriverID, strings.Join(ids, ","))
}

func (e *ConflictError) Unwrap() error { return ErrLoadAlreadySettled }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict returns true if the error is a concurrency/staleness conflict
// that might succeed after the caller refreshes its state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrLoadAlreadySettled) ||
		errors.Is(err, ErrDuplicateSettlementNumber)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDriverNotFound) ||
		errors.Is(err, ErrLoadNotFound) ||
		errors.Is(err, ErrSettlementNotFound)
}

// IsClientError returns true if the error is due to invalid client input
// rather than an internal failure.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrNoEligibleLoads) ||
		IsConflict(err)
}
