package stock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/costing"
	"github.com/warp/stock-ledger/stock"
)

func TestLedger_HistoryAndQuantityAt(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := context.Background()
	day2 := day1.AddDate(0, 0, 1)
	day3 := day1.AddDate(0, 0, 2)

	_, err := engine.CreateTransfers(ctx, stock.Reference{Type: "PurchaseReceipt", Name: "PR-1", Date: day1},
		[]stock.Line{receipt("widget", "Main", "5", "100")})
	require.NoError(t, err)
	_, err = engine.CreateTransfers(ctx, stock.Reference{Type: "Shipment", Name: "SHP-1", Date: day3},
		[]stock.Line{issue("widget", "Main", "5", "30")})
	require.NoError(t, err)
	_, err = engine.CreateTransfers(ctx, stock.Reference{Type: "Shipment", Name: "SHP-2", Date: day2},
		[]stock.Line{issue("widget", "Main", "5", "10")})
	require.NoError(t, err)

	ledger := stock.NewLedger(repo)

	history, err := ledger.History(ctx, "widget", "Main")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "PR-1", history[0].ReferenceName)
	assert.Equal(t, "SHP-2", history[1].ReferenceName, "ordered by posting date")
	assert.Equal(t, "SHP-1", history[2].ReferenceName)

	tests := []struct {
		at   time.Time
		want string
	}{
		{day1.Add(-time.Hour), "0"},
		{day1, "100"},
		{day2, "90"},
		{day3, "60"},
	}
	for _, tt := range tests {
		qty, err := ledger.QuantityAt(ctx, "widget", "Main", tt.at)
		require.NoError(t, err)
		assertDecimal(t, tt.want, qty, tt.at)
	}

	rows, err := ledger.Records(ctx, "Shipment", "SHP-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsOutward())
}

func TestReconciler_CleanAfterTransfersAndCancellations(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateTransfers(ctx, ref("PurchaseReceipt", "PR-1"), []stock.Line{
		receipt("widget", "Main", "5", "100"),
		receipt("gadget", "Main", "2.5", "12"),
	})
	require.NoError(t, err)

	mov := ref("StockMovement", "MOV-1")
	movLines := []stock.Line{move("widget", "Main", "Branch", "5", "10")}
	_, err = engine.CreateTransfers(ctx, mov, movLines)
	require.NoError(t, err)
	_, err = engine.CreateTransfers(ctx, ref("Shipment", "SHP-1"), []stock.Line{issue("gadget", "Main", "2.5", "5")})
	require.NoError(t, err)
	require.NoError(t, engine.CancelTransfers(ctx, mov, movLines))

	found, err := (&stock.Reconciler{Repo: repo}).Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestReconciler_ReportsDrift(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateTransfers(ctx, ref("PurchaseReceipt", "PR-1"), []stock.Line{receipt("widget", "Main", "5", "10")})
	require.NoError(t, err)

	// A queue written outside the engine has no ledger rows behind it.
	stray := costing.NewQueue("widget", "Annex")
	require.NoError(t, stray.Inward(d("1"), d("3")))
	require.NoError(t, repo.SaveQueue(ctx, stray))

	found, err := (&stock.Reconciler{Repo: repo}).Check(ctx)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, stock.DiscrepancyQuantity, found[0].Kind)
	assert.Equal(t, costing.Key{Item: "widget", Location: "Annex"}, found[0].Key)
	assertDecimal(t, "3", found[0].QueueQuantity)
	assertDecimal(t, "0", found[0].LedgerQuantity)
	assert.Equal(t, stock.DiscrepancyLedgerValue, found[1].Kind)
	assertDecimal(t, "3", found[1].QueueValue)
	assertDecimal(t, "0", found[1].LedgerValue)
}

func TestReconciler_ReportsValueDriftAtSameQuantity(t *testing.T) {
	// GIVEN: 10 received at rate 5 (ledger value 50)
	// WHEN: the queue is rewritten to 10 at rate 7, still self-consistent
	// THEN: only the value against the ledger is reported

	engine, repo := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateTransfers(ctx, ref("PurchaseReceipt", "PR-1"), []stock.Line{receipt("widget", "Main", "5", "10")})
	require.NoError(t, err)

	q, err := repo.LoadQueue(ctx, "widget", "Main")
	require.NoError(t, err)
	q.Lots = []costing.Lot{{Rate: d("7"), Quantity: d("10")}}
	q.StockValue = d("70")
	require.NoError(t, q.Verify())
	require.NoError(t, repo.SaveQueue(ctx, q))

	found, err := (&stock.Reconciler{Repo: repo}).Check(ctx)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stock.DiscrepancyLedgerValue, found[0].Kind)
	assertDecimal(t, "70", found[0].QueueValue)
	assertDecimal(t, "50", found[0].LedgerValue)
}

func TestReconciler_ValueCleanAfterMixedRateCancellations(t *testing.T) {
	// GIVEN: receipts at different rates and issues priced away from cost
	// WHEN: an issue and a later receipt are cancelled
	// THEN: StockValue still equals the surviving rows' value change

	engine, repo := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateTransfers(ctx, ref("PurchaseReceipt", "PR-1"), []stock.Line{receipt("widget", "Main", "1", "10")})
	require.NoError(t, err)
	pr2 := ref("PurchaseReceipt", "PR-2")
	pr2Lines := []stock.Line{receipt("widget", "Main", "9", "10")}
	_, err = engine.CreateTransfers(ctx, pr2, pr2Lines)
	require.NoError(t, err)
	shp := ref("Shipment", "SHP-1")
	shpLines := []stock.Line{issue("widget", "Main", "50", "4")}
	_, err = engine.CreateTransfers(ctx, shp, shpLines)
	require.NoError(t, err)

	require.NoError(t, engine.CancelTransfers(ctx, shp, shpLines))
	require.NoError(t, engine.CancelTransfers(ctx, pr2, pr2Lines))

	assertDecimal(t, "10", queueOf(t, repo, "widget", "Main").StockValue)
	found, err := (&stock.Reconciler{Repo: repo}).Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, found)
}
