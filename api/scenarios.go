/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with business
	documents and their ledger rows. Each scenario creates documents,
	submits them through the engine, and leaves the queues in a state that
	shows one costing behavior.

AVAILABLE SCENARIOS:

	receive-issue:      100 units at 5, then 40 issued
	transfer-locations: Stock moved between two warehouses at cost
	fifo-layers:        Two receipts at different rates consumed oldest first
	cancelled-shipment: A shipment submitted then cancelled

HOW SCENARIOS WORK:
 1. Reset the store and the document registry
 2. Create draft documents
 3. Submit them in order (each submit writes ledger rows)
 4. Optionally cancel some of them

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "fifo-layers"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Transfer and document handlers
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-ledger/document"
	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "receive-issue",
		Name:        "Receive and Issue",
		Description: "100 widgets received at 5 into Main, 40 issued; Main holds 60 valued 300",
	},
	{
		ID:          "transfer-locations",
		Name:        "Transfer Between Locations",
		Description: "60 widgets in Main, 10 moved to Branch at cost",
	},
	{
		ID:          "fifo-layers",
		Name:        "FIFO Layers",
		Description: "10 at 1 then 10 at 2 received, 15 issued consuming the oldest lot first",
	},
	{
		ID:          "cancelled-shipment",
		Name:        "Cancelled Shipment",
		Description: "A shipment is submitted then cancelled; its stock returns at the issue rate",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	loader, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		h.fail(w, "LoadScenario", "Failed to reset store", req.ScenarioID, err)
		return
	}

	if err := loader(ctx, h); err != nil {
		h.fail(w, "LoadScenario", "Failed to load scenario", req.ScenarioID, scenarioError(req.ScenarioID, err))
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetStore clears queues, ledger rows and documents.
func (h *Handler) ResetStore(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.fail(w, "ResetStore", "Failed to reset store", nil, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) reset(ctx context.Context) error {
	rs, ok := h.Repo.(resetter)
	if !ok {
		return fmt.Errorf("store %T cannot be reset", h.Repo)
	}
	if err := rs.Reset(ctx); err != nil {
		return err
	}
	h.Documents.Reset()

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

var scenarioLoaders = map[string]func(context.Context, *Handler) error{
	"receive-issue":      loadReceiveIssueScenario,
	"transfer-locations": loadTransferScenario,
	"fifo-layers":        loadFIFOLayersScenario,
	"cancelled-shipment": loadCancelledShipmentScenario,
}

func scenarioDay(offset int) time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func qty(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func loadReceiveIssueScenario(ctx context.Context, h *Handler) error {
	return h.submitAll(ctx,
		document.New(document.KindPurchaseReceipt, "PR-0001", scenarioDay(-2), []stock.Line{
			{Item: "widget", Rate: qty(5), Quantity: qty(100), ToLocation: "Main"},
		}),
		document.New(document.KindShipment, "SHP-0001", scenarioDay(-1), []stock.Line{
			{Item: "widget", Rate: qty(5), Quantity: qty(40), FromLocation: "Main"},
		}),
	)
}

func loadTransferScenario(ctx context.Context, h *Handler) error {
	return h.submitAll(ctx,
		document.New(document.KindPurchaseReceipt, "PR-0001", scenarioDay(-2), []stock.Line{
			{Item: "widget", Rate: qty(5), Quantity: qty(60), ToLocation: "Main"},
		}),
		document.NewStockMovement(document.MaterialTransfer, "MT-0001", scenarioDay(-1), []stock.Line{
			{Item: "widget", Rate: qty(5), Quantity: qty(10), FromLocation: "Main", ToLocation: "Branch"},
		}),
	)
}

func loadFIFOLayersScenario(ctx context.Context, h *Handler) error {
	return h.submitAll(ctx,
		document.New(document.KindPurchaseReceipt, "PR-0001", scenarioDay(-3), []stock.Line{
			{Item: "bolt", Rate: qty(1), Quantity: qty(10), ToLocation: "Main"},
		}),
		document.New(document.KindPurchaseReceipt, "PR-0002", scenarioDay(-2), []stock.Line{
			{Item: "bolt", Rate: qty(2), Quantity: qty(10), ToLocation: "Main"},
		}),
		document.NewStockMovement(document.MaterialIssue, "MI-0001", scenarioDay(-1), []stock.Line{
			{Item: "bolt", Rate: qty(1), Quantity: qty(15), FromLocation: "Main"},
		}),
	)
}

func loadCancelledShipmentScenario(ctx context.Context, h *Handler) error {
	err := h.submitAll(ctx,
		document.New(document.KindPurchaseReceipt, "PR-0001", scenarioDay(-2), []stock.Line{
			{Item: "widget", Rate: qty(5), Quantity: qty(50), ToLocation: "Main"},
		}),
		document.New(document.KindShipment, "SHP-0001", scenarioDay(-1), []stock.Line{
			{Item: "widget", Rate: qty(5), Quantity: qty(20), FromLocation: "Main"},
		}),
	)
	if err != nil {
		return err
	}
	_, err = h.Documents.Cancel(ctx, document.KindShipment, "SHP-0001", h.Engine)
	return err
}

func (h *Handler) submitAll(ctx context.Context, docs ...*document.Document) error {
	for _, d := range docs {
		if _, err := h.Documents.Create(d); err != nil {
			return err
		}
		if _, err := h.Documents.Submit(ctx, d.Kind, d.Name, h.Engine); err != nil {
			return err
		}
	}
	return nil
}
