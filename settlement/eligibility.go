/*
eligibility.go - Which loads a driver may be paid for

PURPOSE:
  A load is eligible for settlement iff ALL of the following hold:
  - status is one of the settleable statuses
  - proof of delivery has been uploaded
  - the readyForSettlement flag is set
  - it was delivered inside the settlement period (preview mode only
    requires that it is unsettled)
  - its operating authority matches the driver's
  - it is not already linked to a settlement

  CheckLoad reports every failed rule, not just the first, so operators
  can fix all the data problems in one pass.

SEE ALSO:
  - errors.go: rule codes and ValidationError
  - builder.go: blocking validation on Generate, eager warnings on drafts
*/
package settlement

// EligibleStatuses are the load statuses that can be settled.
var EligibleStatuses = map[LoadStatus]bool{
	LoadDelivered:   true,
	LoadInvoiced:    true,
	LoadPaid:        true,
	LoadReadyToBill: true,
	LoadBillingHold: true,
}

// EligibilityMode distinguishes preview filtering from generation
// validation.
type EligibilityMode int

const (
	// ModePreview ignores period bounds: any unsettled load that passes
	// the data checks shows up in the draft.
	ModePreview EligibilityMode = iota

	// ModeGenerate additionally requires the delivery date to fall
	// inside the settlement period.
	ModeGenerate
)

// CheckLoad returns the eligibility rules the load fails for the given
// driver and period. An empty result means the load is eligible.
func CheckLoad(l Load, d Driver, period Period, mode EligibilityMode) []string {
	var failed []string

	if l.DriverID != d.ID {
		failed = append(failed, RuleWrongDriver)
	}
	if !EligibleStatuses[l.Status] {
		failed = append(failed, RuleStatusNotSettleable)
	}
	if l.PODUploadedAt == nil {
		failed = append(failed, RulePODMissing)
	}
	if !l.ReadyForSettlement {
		failed = append(failed, RuleNotReady)
	}
	if mode == ModeGenerate {
		if l.DeliveredAt == nil || !period.Contains(*l.DeliveredAt) {
			failed = append(failed, RuleOutsidePeriod)
		}
	}
	if l.AuthorityID != d.AuthorityID {
		failed = append(failed, RuleAuthorityMismatch)
	}
	if l.Settled() {
		failed = append(failed, RuleAlreadySettled)
	}

	return failed
}

// Filter returns the eligible subset of loads, order-preserving.
// Zero eligible loads is not an error; callers decide whether to skip
// the driver.
func Filter(loads []Load, d Driver, period Period, mode EligibilityMode) []Load {
	var eligible []Load
	for _, l := range loads {
		if len(CheckLoad(l, d, period, mode)) == 0 {
			eligible = append(eligible, l)
		}
	}
	return eligible
}

// Validate checks every selected load and returns a ValidationError
// listing all failures, or nil if every load is eligible.
func Validate(loads []Load, d Driver, period Period) *ValidationError {
	var failures []LoadValidation
	for _, l := range loads {
		if failed := CheckLoad(l, d, period, ModeGenerate); len(failed) > 0 {
			failures = append(failures, LoadValidation{LoadID: l.ID, Failures: failed})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &ValidationError{DriverID: d.ID, Loads: failures}
}
