/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  All monetary fields are JSON strings ("1234.56"), never floats. The
  decimal values round-trip exactly and clients are expected to parse
  them with a decimal library of their own.

TYPES:
  Driver:
    DriverDTO, CreateDriverRequest

  Load:
    LoadDTO, CreateLoadRequest

  Rule:
    factory.RuleJSON is used directly (same shape as storage)

  Settlement:
    DraftDTO, SettlementDTO, GenerateRequest, BatchRequest, BatchResultDTO

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON type
*/
package api

import (
	"time"

	"github.com/fleetpay/settlement-engine/settlement"
)

// =============================================================================
// DRIVER TYPES
// =============================================================================

// DriverDTO represents a driver in API responses.
type DriverDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PayType     string `json:"pay_type,omitempty"`
	PayRate     string `json:"pay_rate"`
	AuthorityID string `json:"authority_id,omitempty"`
	Configured  bool   `json:"configured"`
}

// CreateDriverRequest is the request to create or update a driver.
type CreateDriverRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PayType     string `json:"pay_type,omitempty"`
	PayRate     string `json:"pay_rate,omitempty"`
	AuthorityID string `json:"authority_id,omitempty"`
}

// =============================================================================
// LOAD TYPES
// =============================================================================

// LoadDTO represents a load in API responses.
type LoadDTO struct {
	ID                 string  `json:"id"`
	DriverID           string  `json:"driver_id"`
	AuthorityID        string  `json:"authority_id,omitempty"`
	Status             string  `json:"status"`
	PODUploadedAt      *string `json:"pod_uploaded_at,omitempty"`
	ReadyForSettlement bool    `json:"ready_for_settlement"`
	DeliveredAt        *string `json:"delivered_at,omitempty"`
	Revenue            string  `json:"revenue"`
	LoadedMiles        string  `json:"loaded_miles"`
	EmptyMiles         string  `json:"empty_miles"`
	DriverPay          *string `json:"driver_pay,omitempty"`
	SettlementID       string  `json:"settlement_id,omitempty"`
}

// CreateLoadRequest is the request to create or update a load.
type CreateLoadRequest struct {
	ID                 string  `json:"id"`
	DriverID           string  `json:"driver_id"`
	AuthorityID        string  `json:"authority_id,omitempty"`
	Status             string  `json:"status"`
	PODUploadedAt      *string `json:"pod_uploaded_at,omitempty"`
	ReadyForSettlement bool    `json:"ready_for_settlement"`
	DeliveredAt        *string `json:"delivered_at,omitempty"`
	Revenue            string  `json:"revenue,omitempty"`
	LoadedMiles        string  `json:"loaded_miles,omitempty"`
	EmptyMiles         string  `json:"empty_miles,omitempty"`
	DriverPay          *string `json:"driver_pay,omitempty"`
}

// =============================================================================
// ADVANCE TYPES
// =============================================================================

// AdvanceDTO represents a cash advance.
type AdvanceDTO struct {
	ID           string `json:"id"`
	DriverID     string `json:"driver_id"`
	LoadID       string `json:"load_id,omitempty"`
	Amount       string `json:"amount"`
	IssuedAt     string `json:"issued_at"`
	SettlementID string `json:"settlement_id,omitempty"`
}

// CreateAdvanceRequest is the request to issue a cash advance.
type CreateAdvanceRequest struct {
	ID       string `json:"id,omitempty"` // generated when empty
	DriverID string `json:"driver_id"`
	LoadID   string `json:"load_id,omitempty"`
	Amount   string `json:"amount"`
	IssuedAt string `json:"issued_at,omitempty"` // default now
}

// =============================================================================
// SETTLEMENT TYPES
// =============================================================================

// LineItemDTO is one receipt line on a draft or settlement.
type LineItemDTO struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

// DraftLoadDTO pairs a load with its computed pay.
type DraftLoadDTO struct {
	Load LoadDTO `json:"load"`
	Pay  string  `json:"pay"`
}

// DraftDTO represents an unpersisted settlement preview.
type DraftDTO struct {
	Driver                   DriverDTO      `json:"driver"`
	PeriodStart              string         `json:"period_start"`
	PeriodEnd                string         `json:"period_end"`
	Loads                    []DraftLoadDTO `json:"loads"`
	GrossPay                 string         `json:"gross_pay"`
	TotalAdditions           string         `json:"total_additions"`
	TotalDeductions          string         `json:"total_deductions"`
	TotalAdvances            string         `json:"total_advances"`
	NegativeBalanceDeduction string         `json:"negative_balance_deduction"`
	NetPay                   string         `json:"net_pay"`
	Lines                    []LineItemDTO  `json:"lines"`
	PayConfigWarning         bool           `json:"pay_config_warning,omitempty"`
}

// SettlementDTO represents a generated settlement.
type SettlementDTO struct {
	ID                     string        `json:"id"`
	SettlementNumber       string        `json:"settlement_number"`
	DriverID               string        `json:"driver_id"`
	PeriodStart            string        `json:"period_start"`
	PeriodEnd              string        `json:"period_end"`
	LoadIDs                []string      `json:"load_ids"`
	GrossPay               string        `json:"gross_pay"`
	TotalAdditions         string        `json:"total_additions"`
	TotalDeductions        string        `json:"total_deductions"`
	TotalAdvances          string        `json:"total_advances"`
	NegativeBalanceApplied string        `json:"negative_balance_applied"`
	NetPay                 string        `json:"net_pay"`
	Lines                  []LineItemDTO `json:"lines"`
	Notes                  string        `json:"notes,omitempty"`
	PayConfigWarning       bool          `json:"pay_config_warning,omitempty"`
	CreatedAt              string        `json:"created_at"`
}

// OverridesDTO carries manual totals replacing computed ones.
// Nil means "compute normally".
type OverridesDTO struct {
	Additions  *string `json:"additions,omitempty"`
	Deductions *string `json:"deductions,omitempty"`
	Advances   *string `json:"advances,omitempty"`
}

// GenerateRequest is the request to generate a settlement.
type GenerateRequest struct {
	DriverID         string       `json:"driver_id"`
	LoadIDs          []string     `json:"load_ids"`
	PeriodStart      string       `json:"period_start,omitempty"`
	PeriodEnd        string       `json:"period_end,omitempty"`
	SettlementNumber string       `json:"settlement_number,omitempty"`
	Notes            string       `json:"notes,omitempty"`
	Overrides        OverridesDTO `json:"overrides,omitempty"`
}

// BatchRequest is the request to generate settlements for many drivers.
type BatchRequest struct {
	DriverIDs   []string `json:"driver_ids,omitempty"` // empty = all drivers
	PeriodStart string   `json:"period_start,omitempty"`
	PeriodEnd   string   `json:"period_end,omitempty"`
}

// DriverResultDTO is the per-driver outcome of a batch run.
type DriverResultDTO struct {
	DriverID   string         `json:"driver_id"`
	Settlement *SettlementDTO `json:"settlement,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// BatchResultDTO is the response of a batch run.
type BatchResultDTO struct {
	Results   []DriverResultDTO `json:"results"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

// ValidationFailureDTO lists the reasons a load was rejected.
type ValidationFailureDTO struct {
	LoadID   string   `json:"load_id"`
	Failures []string `json:"failures"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toDriverDTO(d settlement.Driver) DriverDTO {
	return DriverDTO{
		ID:          string(d.ID),
		Name:        d.Name,
		PayType:     string(d.PayType),
		PayRate:     d.PayRate.String(),
		AuthorityID: string(d.AuthorityID),
		Configured:  d.Configured(),
	}
}

func toLoadDTO(l settlement.Load) LoadDTO {
	dto := LoadDTO{
		ID:                 string(l.ID),
		DriverID:           string(l.DriverID),
		AuthorityID:        string(l.AuthorityID),
		Status:             string(l.Status),
		ReadyForSettlement: l.ReadyForSettlement,
		Revenue:            l.Revenue.String(),
		LoadedMiles:        l.LoadedMiles.String(),
		EmptyMiles:         l.EmptyMiles.String(),
		SettlementID:       string(l.SettlementID),
	}
	if l.PODUploadedAt != nil {
		s := l.PODUploadedAt.UTC().Format(time.RFC3339)
		dto.PODUploadedAt = &s
	}
	if l.DeliveredAt != nil {
		s := l.DeliveredAt.UTC().Format(time.RFC3339)
		dto.DeliveredAt = &s
	}
	if l.DriverPay != nil {
		s := l.DriverPay.String()
		dto.DriverPay = &s
	}
	return dto
}

func toAdvanceDTO(a settlement.Advance) AdvanceDTO {
	return AdvanceDTO{
		ID:           string(a.ID),
		DriverID:     string(a.DriverID),
		LoadID:       string(a.LoadID),
		Amount:       a.Amount.String(),
		IssuedAt:     a.IssuedAt.UTC().Format(time.RFC3339),
		SettlementID: string(a.SettlementID),
	}
}

func toLineItemDTOs(lines []settlement.LineItem) []LineItemDTO {
	dtos := make([]LineItemDTO, len(lines))
	for i, l := range lines {
		dtos[i] = LineItemDTO{
			Type:        string(l.Type),
			Description: l.Description,
			Amount:      l.Amount.String(),
		}
	}
	return dtos
}

func toDraftDTO(d *settlement.Draft) DraftDTO {
	loads := make([]DraftLoadDTO, len(d.Loads))
	for i, dl := range d.Loads {
		loads[i] = DraftLoadDTO{Load: toLoadDTO(dl.Load), Pay: dl.Pay.String()}
	}
	return DraftDTO{
		Driver:                   toDriverDTO(d.Driver),
		PeriodStart:              d.Period.Start.UTC().Format(time.RFC3339),
		PeriodEnd:                d.Period.End.UTC().Format(time.RFC3339),
		Loads:                    loads,
		GrossPay:                 d.GrossPay.String(),
		TotalAdditions:           d.TotalAdditions.String(),
		TotalDeductions:          d.TotalDeductions.String(),
		TotalAdvances:            d.TotalAdvances.String(),
		NegativeBalanceDeduction: d.NegativeBalanceDeduction.String(),
		NetPay:                   d.NetPay.String(),
		Lines:                    toLineItemDTOs(d.Lines),
		PayConfigWarning:         d.PayConfigWarning,
	}
}

func toSettlementDTO(s *settlement.Settlement) SettlementDTO {
	loadIDs := make([]string, len(s.LoadIDs))
	for i, id := range s.LoadIDs {
		loadIDs[i] = string(id)
	}
	return SettlementDTO{
		ID:                     string(s.ID),
		SettlementNumber:       s.SettlementNumber,
		DriverID:               string(s.DriverID),
		PeriodStart:            s.PeriodStart.UTC().Format(time.RFC3339),
		PeriodEnd:              s.PeriodEnd.UTC().Format(time.RFC3339),
		LoadIDs:                loadIDs,
		GrossPay:               s.GrossPay.String(),
		TotalAdditions:         s.TotalAdditions.String(),
		TotalDeductions:        s.TotalDeductions.String(),
		TotalAdvances:          s.TotalAdvances.String(),
		NegativeBalanceApplied: s.NegativeBalanceApplied.String(),
		NetPay:                 s.NetPay.String(),
		Lines:                  toLineItemDTOs(s.Lines),
		Notes:                  s.Notes,
		PayConfigWarning:       s.PayConfigWarning,
		CreatedAt:              s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toBatchResultDTO(b *settlement.BatchResult) BatchResultDTO {
	out := BatchResultDTO{Succeeded: b.Succeeded, Failed: b.Failed}
	for _, r := range b.Results {
		dto := DriverResultDTO{DriverID: string(r.DriverID)}
		if r.Settlement != nil {
			s := toSettlementDTO(r.Settlement)
			dto.Settlement = &s
		}
		if r.Err != nil {
			dto.Error = r.Err.Error()
		}
		out.Results = append(out.Results, dto)
	}
	return out
}
