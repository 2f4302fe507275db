/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  stock and costing types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DECIMALS:
  Rates, quantities and values travel as strings ("12.5") so that no
  precision is lost in JSON numbers.

VALIDATION:
  Request types carry go-playground/validator tags for shape checks
  (required fields, numeric strings, date format). Business rules such as
  "From and To cannot be the same" stay in the engine so that every
  caller gets the same message.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-ledger/costing"
	"github.com/warp/stock-ledger/document"
	"github.com/warp/stock-ledger/stock"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// LineRequest is one movement line.
type LineRequest struct {
	Item         string `json:"item" validate:"required"`
	Rate         string `json:"rate" validate:"required,numeric"`
	Quantity     string `json:"quantity" validate:"required,numeric"`
	FromLocation string `json:"from_location"`
	ToLocation   string `json:"to_location"`
}

// TransferRequest is the body of every /api/transfers call.
type TransferRequest struct {
	ReferenceType string        `json:"reference_type" validate:"required"`
	ReferenceName string        `json:"reference_name" validate:"required"`
	PostingDate   string        `json:"posting_date" validate:"omitempty,datetime=2006-01-02"`
	Lines         []LineRequest `json:"lines" validate:"required,min=1,dive"`
}

// CreateDocumentRequest creates a draft business document.
type CreateDocumentRequest struct {
	Kind         string        `json:"kind" validate:"required,oneof=StockMovement Shipment PurchaseReceipt"`
	MovementType string        `json:"movement_type" validate:"required_if=Kind StockMovement"`
	Name         string        `json:"name" validate:"required"`
	PostingDate  string        `json:"posting_date" validate:"omitempty,datetime=2006-01-02"`
	Lines        []LineRequest `json:"lines" validate:"required,min=1,dive"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

func (r TransferRequest) Reference() (stock.Reference, error) {
	date, err := parseDate(r.PostingDate)
	if err != nil {
		return stock.Reference{}, err
	}
	return stock.Reference{Type: r.ReferenceType, Name: r.ReferenceName, Date: date}, nil
}

func toLines(reqs []LineRequest) ([]stock.Line, error) {
	lines := make([]stock.Line, len(reqs))
	for i, l := range reqs {
		rate, err := decimal.NewFromString(l.Rate)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid rate %q", i+1, l.Rate)
		}
		qty, err := decimal.NewFromString(l.Quantity)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid quantity %q", i+1, l.Quantity)
		}
		lines[i] = stock.Line{
			Item:         l.Item,
			Rate:         rate,
			Quantity:     qty,
			FromLocation: l.FromLocation,
			ToLocation:   l.ToLocation,
		}
	}
	return lines, nil
}

// parseDate accepts YYYY-MM-DD; empty means today (UTC).
func parseDate(s string) (time.Time, error) {
	if s == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", s)
	}
	return t, nil
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type LotDTO struct {
	Rate     string `json:"rate"`
	Quantity string `json:"quantity"`
}

// QueueDTO is the costing queue of one (item, location).
type QueueDTO struct {
	Item          string   `json:"item"`
	Location      string   `json:"location"`
	Lots          []LotDTO `json:"lots"`
	Quantity      string   `json:"quantity"`
	StockValue    string   `json:"stock_value"`
	ValuationRate string   `json:"valuation_rate"`
	Version       int64    `json:"version"`
}

func toQueueDTO(q *costing.Queue) QueueDTO {
	lots := make([]LotDTO, len(q.Lots))
	for i, l := range q.Lots {
		lots[i] = LotDTO{Rate: l.Rate.String(), Quantity: l.Quantity.String()}
	}
	return QueueDTO{
		Item:          q.Item,
		Location:      q.Location,
		Lots:          lots,
		Quantity:      q.Quantity().String(),
		StockValue:    q.StockValue.String(),
		ValuationRate: q.Rate().String(),
		Version:       q.Version,
	}
}

// LedgerRecordDTO is one stock ledger row.
type LedgerRecordDTO struct {
	ID               string   `json:"id"`
	PostingDate      string   `json:"posting_date"`
	Item             string   `json:"item"`
	Location         string   `json:"location"`
	Rate             string   `json:"rate"`
	Quantity         string   `json:"quantity"`
	ReferenceType    string   `json:"reference_type"`
	ReferenceName    string   `json:"reference_name"`
	StockValueBefore string   `json:"stock_value_before"`
	StockValueAfter  string   `json:"stock_value_after"`
	ValueChange      string   `json:"value_change"`
	ConsumedLots     []LotDTO `json:"consumed_lots,omitempty"`
	CreatedAt        string   `json:"created_at,omitempty"`
}

func toLedgerDTOs(records []stock.LedgerRecord) []LedgerRecordDTO {
	dtos := make([]LedgerRecordDTO, len(records))
	for i, r := range records {
		dtos[i] = LedgerRecordDTO{
			ID:               r.ID,
			PostingDate:      r.Date.Format(dateLayout),
			Item:             r.Item,
			Location:         r.Location,
			Rate:             r.Rate.String(),
			Quantity:         r.Quantity.String(),
			ReferenceType:    r.ReferenceType,
			ReferenceName:    r.ReferenceName,
			StockValueBefore: r.StockValueBefore.String(),
			StockValueAfter:  r.StockValueAfter.String(),
			ValueChange:      r.ValueChange().String(),
		}
		for _, l := range r.ConsumedLots {
			dtos[i].ConsumedLots = append(dtos[i].ConsumedLots, LotDTO{Rate: l.Rate.String(), Quantity: l.Quantity.String()})
		}
		if !r.CreatedAt.IsZero() {
			dtos[i].CreatedAt = r.CreatedAt.Format(time.RFC3339)
		}
	}
	return dtos
}

type LineDTO struct {
	Item         string `json:"item"`
	Rate         string `json:"rate"`
	Quantity     string `json:"quantity"`
	FromLocation string `json:"from_location,omitempty"`
	ToLocation   string `json:"to_location,omitempty"`
}

// DocumentDTO is a business document and its status.
type DocumentDTO struct {
	Kind         string    `json:"kind"`
	MovementType string    `json:"movement_type,omitempty"`
	Name         string    `json:"name"`
	PostingDate  string    `json:"posting_date"`
	Status       string    `json:"status"`
	Lines        []LineDTO `json:"lines"`
	LedgerRows   int       `json:"ledger_rows"`
	SubmittedAt  string    `json:"submitted_at,omitempty"`
	CancelledAt  string    `json:"cancelled_at,omitempty"`
}

func toDocumentDTO(d document.Document) DocumentDTO {
	lines := make([]LineDTO, len(d.Lines))
	for i, l := range d.Lines {
		lines[i] = LineDTO{
			Item:         l.Item,
			Rate:         l.Rate.String(),
			Quantity:     l.Quantity.String(),
			FromLocation: l.FromLocation,
			ToLocation:   l.ToLocation,
		}
	}
	dto := DocumentDTO{
		Kind:         string(d.Kind),
		MovementType: string(d.MovementType),
		Name:         d.Name,
		PostingDate:  d.Date.Format(dateLayout),
		Status:       string(d.Status),
		Lines:        lines,
		LedgerRows:   d.LedgerRows,
	}
	if d.SubmittedAt != nil {
		dto.SubmittedAt = d.SubmittedAt.Format(time.RFC3339)
	}
	if d.CancelledAt != nil {
		dto.CancelledAt = d.CancelledAt.Format(time.RFC3339)
	}
	return dto
}

// DiscrepancyDTO is one reconciliation finding.
type DiscrepancyDTO struct {
	Item           string `json:"item"`
	Location       string `json:"location"`
	Kind           string `json:"kind"`
	QueueQuantity  string `json:"queue_quantity"`
	LedgerQuantity string `json:"ledger_quantity,omitempty"`
	QueueValue     string `json:"queue_value,omitempty"`
	LedgerValue    string `json:"ledger_value,omitempty"`
	Detail         string `json:"detail"`
}

// ReconciliationDTO is the result of one reconciliation run.
type ReconciliationDTO struct {
	CheckedAt     string           `json:"checked_at"`
	Clean         bool             `json:"clean"`
	Discrepancies []DiscrepancyDTO `json:"discrepancies"`
}

func toReconciliationDTO(at time.Time, found []stock.Discrepancy) ReconciliationDTO {
	dtos := make([]DiscrepancyDTO, len(found))
	for i, d := range found {
		dtos[i] = DiscrepancyDTO{
			Item:          d.Key.Item,
			Location:      d.Key.Location,
			Kind:          d.Kind,
			QueueQuantity: d.QueueQuantity.String(),
			Detail:        d.Detail,
		}
		switch d.Kind {
		case stock.DiscrepancyQuantity:
			dtos[i].LedgerQuantity = d.LedgerQuantity.String()
		case stock.DiscrepancyLedgerValue:
			dtos[i].QueueValue = d.QueueValue.String()
			dtos[i].LedgerValue = d.LedgerValue.String()
		}
	}
	return ReconciliationDTO{
		CheckedAt:     at.Format(time.RFC3339),
		Clean:         len(found) == 0,
		Discrepancies: dtos,
	}
}

// QuantityAtDTO answers "how much was there on a date".
type QuantityAtDTO struct {
	Item     string `json:"item"`
	Location string `json:"location"`
	At       string `json:"at"`
	Quantity string `json:"quantity"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ShortageDTO details an insufficient stock rejection.
type ShortageDTO struct {
	Item      string `json:"item"`
	Location  string `json:"location"`
	Required  string `json:"required"`
	Available string `json:"available"`
	Shortfall string `json:"shortfall"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error    string       `json:"error"`
	Details  string       `json:"details,omitempty"`
	Shortage *ShortageDTO `json:"shortage,omitempty"`
}
