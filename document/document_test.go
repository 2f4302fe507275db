package document_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/costing"
	"github.com/warp/stock-ledger/document"
	"github.com/warp/stock-ledger/stock"
	"github.com/warp/stock-ledger/store/memory"
)

var day = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newEngine(t *testing.T) (*stock.Engine, *memory.TxMemory) {
	t.Helper()
	repo := memory.NewTx()
	engine := stock.NewEngine(repo)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	engine.Logger = logger
	return engine, repo
}

func available(t *testing.T, e *stock.Engine, item, location string) decimal.Decimal {
	t.Helper()
	qty, err := e.Available(context.Background(), item, location)
	require.NoError(t, err)
	return qty
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestDocument_SubmitAndCancel(t *testing.T) {
	// GIVEN: a purchase receipt and a shipment
	// WHEN: both are submitted, then the shipment is cancelled
	// THEN: status follows Draft -> Committed -> Reversed and stock follows

	engine, _ := newEngine(t)
	ctx := context.Background()

	pr := document.New(document.KindPurchaseReceipt, "PR-1", day, []stock.Line{
		{Item: "widget", Rate: d("5"), Quantity: d("100"), ToLocation: "Main"},
	})
	require.NoError(t, pr.Submit(ctx, engine))
	assert.Equal(t, document.StatusCommitted, pr.Status)
	assert.Equal(t, 1, pr.LedgerRows)
	assert.NotNil(t, pr.SubmittedAt)

	shp := document.New(document.KindShipment, "SHP-1", day, []stock.Line{
		{Item: "widget", Rate: d("5"), Quantity: d("40"), FromLocation: "Main"},
	})
	require.NoError(t, shp.Submit(ctx, engine))
	assert.True(t, available(t, engine, "widget", "Main").Equal(d("60")))

	require.NoError(t, shp.Cancel(ctx, engine))
	assert.Equal(t, document.StatusReversed, shp.Status)
	assert.NotNil(t, shp.CancelledAt)
	assert.True(t, available(t, engine, "widget", "Main").Equal(d("100")))
}

func TestDocument_InvalidTransitions(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	doc := document.New(document.KindPurchaseReceipt, "PR-1", day, []stock.Line{
		{Item: "widget", Rate: d("5"), Quantity: d("1"), ToLocation: "Main"},
	})

	err := doc.Cancel(ctx, engine)
	assert.ErrorIs(t, err, document.ErrInvalidTransition)
	var te *document.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, document.StatusDraft, te.From)

	require.NoError(t, doc.Submit(ctx, engine))
	assert.ErrorIs(t, doc.Submit(ctx, engine), document.ErrInvalidTransition)

	require.NoError(t, doc.Cancel(ctx, engine))
	assert.ErrorIs(t, doc.Cancel(ctx, engine), document.ErrInvalidTransition)
	assert.ErrorIs(t, doc.Submit(ctx, engine), document.ErrInvalidTransition)
}

func TestDocument_FailedSubmit_StaysDraft(t *testing.T) {
	engine, repo := newEngine(t)
	ctx := context.Background()

	shp := document.New(document.KindShipment, "SHP-1", day, []stock.Line{
		{Item: "widget", Rate: d("5"), Quantity: d("1"), FromLocation: "Main"},
	})
	err := shp.Submit(ctx, engine)
	assert.ErrorIs(t, err, costing.ErrInsufficientStock)
	assert.Equal(t, document.StatusDraft, shp.Status)

	rows, err := repo.LedgerRows(ctx, stock.LedgerFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDocument_FailedCancel_StaysCommitted(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	pr := document.New(document.KindPurchaseReceipt, "PR-1", day, []stock.Line{
		{Item: "widget", Rate: d("5"), Quantity: d("10"), ToLocation: "Main"},
	})
	require.NoError(t, pr.Submit(ctx, engine))

	shp := document.New(document.KindShipment, "SHP-1", day, []stock.Line{
		{Item: "widget", Rate: d("5"), Quantity: d("8"), FromLocation: "Main"},
	})
	require.NoError(t, shp.Submit(ctx, engine))

	err := pr.Cancel(ctx, engine)
	assert.ErrorIs(t, err, costing.ErrInsufficientStock)
	assert.Equal(t, document.StatusCommitted, pr.Status)
}

// =============================================================================
// KIND-SPECIFIC VALIDATION
// =============================================================================

func TestDocument_Validate_Directions(t *testing.T) {
	issue := stock.Line{Item: "widget", Rate: d("1"), Quantity: d("1"), FromLocation: "Main"}
	receipt := stock.Line{Item: "widget", Rate: d("1"), Quantity: d("1"), ToLocation: "Main"}
	transfer := stock.Line{Item: "widget", Rate: d("1"), Quantity: d("1"), FromLocation: "Main", ToLocation: "Branch"}

	tests := []struct {
		name  string
		doc   *document.Document
		valid bool
	}{
		{"shipment issue", document.New(document.KindShipment, "S", day, []stock.Line{issue}), true},
		{"shipment receipt", document.New(document.KindShipment, "S", day, []stock.Line{receipt}), false},
		{"shipment transfer", document.New(document.KindShipment, "S", day, []stock.Line{transfer}), false},
		{"purchase receipt", document.New(document.KindPurchaseReceipt, "P", day, []stock.Line{receipt}), true},
		{"purchase issue", document.New(document.KindPurchaseReceipt, "P", day, []stock.Line{issue}), false},
		{"material issue", document.NewStockMovement(document.MaterialIssue, "M", day, []stock.Line{issue}), true},
		{"material receipt", document.NewStockMovement(document.MaterialReceipt, "M", day, []stock.Line{receipt}), true},
		{"material transfer", document.NewStockMovement(document.MaterialTransfer, "M", day, []stock.Line{transfer}), true},
		{"material transfer missing to", document.NewStockMovement(document.MaterialTransfer, "M", day, []stock.Line{issue}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, costing.ErrInvalidLocation)
			assert.True(t, stock.IsInvalidInput(err))
		})
	}
}

func TestDocument_Validate_NamesOffendingLocation(t *testing.T) {
	transfer := stock.Line{Item: "widget", Rate: d("1"), Quantity: d("1"), FromLocation: "Main", ToLocation: "Branch"}
	issue := stock.Line{Item: "widget", Rate: d("1"), Quantity: d("1"), FromLocation: "Main"}

	tests := []struct {
		name     string
		doc      *document.Document
		location string
		reason   string
	}{
		{"shipment with a target", document.New(document.KindShipment, "S", day, []stock.Line{transfer}), "Branch", "To Location is not allowed"},
		{"receipt with a source", document.New(document.KindPurchaseReceipt, "P", day, []stock.Line{transfer}), "Main", "From Location is not allowed"},
		{"transfer missing target", document.NewStockMovement(document.MaterialTransfer, "M", day, []stock.Line{issue}), "", "To Location is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ie *stock.InvalidInputError
			require.ErrorAs(t, tt.doc.Validate(), &ie)
			assert.Equal(t, tt.location, ie.Location)
			assert.Contains(t, ie.Reason, tt.reason)
			assert.NotContains(t, ie.Error(), "MainBranch")
		})
	}
}

func TestDocument_Validate_Shape(t *testing.T) {
	line := stock.Line{Item: "widget", Rate: d("1"), Quantity: d("1"), ToLocation: "Main"}

	assert.ErrorIs(t, document.New(document.KindPurchaseReceipt, "", day, []stock.Line{line}).Validate(), stock.ErrInvalidReference)
	assert.ErrorIs(t, document.New(document.KindPurchaseReceipt, "P", day, nil).Validate(), document.ErrNoLines)
	assert.ErrorIs(t, document.New("Invoice", "I", day, []stock.Line{line}).Validate(), document.ErrUnknownKind)
	assert.ErrorIs(t, document.NewStockMovement("Scrap", "M", day, []stock.Line{line}).Validate(), document.ErrUnknownKind)
}

// =============================================================================
// REGISTRY
// =============================================================================

func TestRegistry_Lifecycle(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()
	reg := document.NewRegistry()

	pr := document.New(document.KindPurchaseReceipt, "PR-1", day, []stock.Line{
		{Item: "widget", Rate: d("5"), Quantity: d("10"), ToLocation: "Main"},
	})
	created, err := reg.Create(pr)
	require.NoError(t, err)
	assert.Equal(t, document.StatusDraft, created.Status)

	_, err = reg.Create(document.New(document.KindPurchaseReceipt, "PR-1", day, pr.Lines))
	assert.ErrorIs(t, err, document.ErrDuplicate)

	submitted, err := reg.Submit(ctx, document.KindPurchaseReceipt, "PR-1", engine)
	require.NoError(t, err)
	assert.Equal(t, document.StatusCommitted, submitted.Status)

	got, err := reg.Get(document.KindPurchaseReceipt, "PR-1")
	require.NoError(t, err)
	assert.Equal(t, document.StatusCommitted, got.Status)

	cancelled, err := reg.Cancel(ctx, document.KindPurchaseReceipt, "PR-1", engine)
	require.NoError(t, err)
	assert.Equal(t, document.StatusReversed, cancelled.Status)

	_, err = reg.Submit(ctx, document.KindShipment, "NOPE", engine)
	assert.ErrorIs(t, err, document.ErrNotFound)

	assert.Len(t, reg.List(), 1)
}
