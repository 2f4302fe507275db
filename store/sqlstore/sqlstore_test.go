package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/costing"
	"github.com/warp/stock-ledger/stock"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("oracle", "whatever")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	lite := &Store{driver: DriverSQLite}
	query := "SELECT * FROM t WHERE a = ? AND b = ?"

	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind(query))
	assert.Equal(t, query, lite.rebind(query))
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"./data/stock.db", "./data/stock.db?_foreign_keys=on&_journal_mode=WAL"},
		{":memory:", ":memory:?_foreign_keys=on&_journal_mode=WAL"},
		{"file:stock.db?cache=shared", "file:stock.db?cache=shared&_foreign_keys=on&_journal_mode=WAL"},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			assert.Equal(t, tt.want, sqliteDSN(tt.dsn))
		})
	}
}

func TestOpen_DSNWithQueryString(t *testing.T) {
	store, err := Open(DriverSQLite, ":memory:?cache=private")
	require.NoError(t, err)
	defer store.Close()
	assert.NoError(t, store.Ping(context.Background()))
}

func TestStore_QueueRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	fresh, err := store.LoadQueue(ctx, "widget", "Main")
	require.NoError(t, err)
	assert.False(t, fresh.Exists())

	require.NoError(t, fresh.Inward(dec("10"), dec("4")))
	require.NoError(t, fresh.Inward(dec("0.333"), dec("2.5")))
	require.NoError(t, store.SaveQueue(ctx, fresh))
	assert.Equal(t, int64(1), fresh.Version)

	loaded, err := store.LoadQueue(ctx, "widget", "Main")
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)
	require.Len(t, loaded.Lots, 2)
	assert.True(t, loaded.Lots[1].Rate.Equal(dec("0.333")))
	assert.True(t, loaded.StockValue.Equal(dec("40.8325")))
	assert.NoError(t, loaded.Verify())
}

func TestStore_SaveQueue_OptimisticConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	q := costing.NewQueue("widget", "Main")
	require.NoError(t, q.Inward(dec("5"), dec("10")))
	require.NoError(t, store.SaveQueue(ctx, q))

	a, err := store.LoadQueue(ctx, "widget", "Main")
	require.NoError(t, err)
	b, err := store.LoadQueue(ctx, "widget", "Main")
	require.NoError(t, err)

	_, err = a.Outward(dec("1"))
	require.NoError(t, err)
	require.NoError(t, store.SaveQueue(ctx, a))

	_, err = b.Outward(dec("2"))
	require.NoError(t, err)
	err = store.SaveQueue(ctx, b)
	assert.ErrorIs(t, err, costing.ErrConcurrentModification)
	assert.Equal(t, int64(1), b.Version, "version only moves on success")

	dup := costing.NewQueue("widget", "Main")
	assert.ErrorIs(t, store.SaveQueue(ctx, dup), costing.ErrConcurrentModification)

	current, err := store.LoadQueue(ctx, "widget", "Main")
	require.NoError(t, err)
	assert.True(t, current.Quantity().Equal(dec("9")))
}

func TestStore_LedgerRows(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	d1 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)

	rows := []stock.LedgerRecord{
		{ID: "r3", Date: d2, Item: "widget", Location: "Main", Rate: dec("5"), Quantity: dec("-4"),
			ReferenceType: "Shipment", ReferenceName: "SHP-1", StockValueBefore: dec("50"), StockValueAfter: dec("30")},
		{ID: "r1", Date: d1, Item: "widget", Location: "Main", Rate: dec("5"), Quantity: dec("10"),
			ReferenceType: "PurchaseReceipt", ReferenceName: "PR-1", StockValueBefore: dec("0"), StockValueAfter: dec("50")},
		{ID: "r2", Date: d1, Item: "gadget", Location: "Main", Rate: dec("1.5"), Quantity: dec("2"),
			ReferenceType: "PurchaseReceipt", ReferenceName: "PR-1", StockValueBefore: dec("0"), StockValueAfter: dec("3")},
	}
	require.NoError(t, store.InsertLedgerRows(ctx, rows))

	widget, err := store.LedgerRows(ctx, stock.LedgerFilter{Item: "widget", Location: "Main"})
	require.NoError(t, err)
	require.Len(t, widget, 2)
	assert.Equal(t, "r1", widget[0].ID)
	assert.Equal(t, "r3", widget[1].ID)
	assert.True(t, widget[1].Quantity.Equal(dec("-4")))
	assert.True(t, widget[1].ValueChange().Equal(dec("-20")))
	assert.True(t, widget[0].Date.Equal(d1))

	until, err := store.LedgerRows(ctx, stock.LedgerFilter{Item: "widget", Until: &d1})
	require.NoError(t, err)
	assert.Len(t, until, 1)

	removed, err := store.DeleteLedgerRows(ctx, "PurchaseReceipt", "PR-1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	all, err := store.LedgerRows(ctx, stock.LedgerFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "SHP-1", all[0].ReferenceName)
}

func TestStore_LedgerRows_KeepConsumedLots(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := []stock.LedgerRecord{
		{ID: "in", Date: day, Item: "widget", Location: "Main", Rate: dec("10"), Quantity: dec("4"),
			ReferenceType: "PurchaseReceipt", ReferenceName: "PR-1", StockValueBefore: dec("0"), StockValueAfter: dec("40")},
		{ID: "out", Date: day, Item: "widget", Location: "Main", Rate: dec("50"), Quantity: dec("-3"),
			ReferenceType: "Shipment", ReferenceName: "SHP-1", StockValueBefore: dec("40"), StockValueAfter: dec("10"),
			ConsumedLots: []costing.Lot{{Rate: dec("10"), Quantity: dec("3")}}},
	}
	require.NoError(t, store.InsertLedgerRows(ctx, rows))

	got, err := store.LedgerRows(ctx, stock.LedgerFilter{Item: "widget"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Empty(t, got[0].ConsumedLots)
	require.Len(t, got[1].ConsumedLots, 1)
	assert.True(t, got[1].ConsumedLots[0].Rate.Equal(dec("10")))
	assert.True(t, got[1].ConsumedLots[0].Quantity.Equal(dec("3")))
}

func TestStore_CancelRestoresConsumedCost(t *testing.T) {
	// GIVEN: lots 4@10 and 8@20 on SQLite, then an issue of 3 at rate 50
	// WHEN: the issue is cancelled
	// THEN: the queue is back to 4@10, 8@20 and value 200

	ctx := context.Background()
	store := newTestStore(t)
	engine := stock.NewEngine(store)
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := engine.CreateTransfers(ctx, stock.Reference{Type: "PurchaseReceipt", Name: "PR-1", Date: day}, []stock.Line{
		{Item: "widget", Rate: dec("10"), Quantity: dec("4"), ToLocation: "Main"},
		{Item: "widget", Rate: dec("20"), Quantity: dec("8"), ToLocation: "Main"},
	})
	require.NoError(t, err)

	shp := stock.Reference{Type: "Shipment", Name: "SHP-1", Date: day}
	lines := []stock.Line{{Item: "widget", Rate: dec("50"), Quantity: dec("3"), FromLocation: "Main"}}
	_, err = engine.CreateTransfers(ctx, shp, lines)
	require.NoError(t, err)
	require.NoError(t, engine.CancelTransfers(ctx, shp, lines))

	main, err := store.LoadQueue(ctx, "widget", "Main")
	require.NoError(t, err)
	assert.True(t, main.StockValue.Equal(dec("200")))
	require.Len(t, main.Lots, 2)
	assert.True(t, main.Lots[0].Quantity.Equal(dec("4")))
	assert.True(t, main.Lots[1].Rate.Equal(dec("20")))

	found, err := (&stock.Reconciler{Repo: store}).Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestStore_WithTx_RollsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(repo stock.Repository) error {
		q := costing.NewQueue("widget", "Main")
		require.NoError(t, q.Inward(dec("5"), dec("10")))
		require.NoError(t, repo.SaveQueue(ctx, q))

		seen, err := repo.LoadQueue(ctx, "widget", "Main")
		require.NoError(t, err)
		assert.True(t, seen.Exists())
		return boom
	})
	require.ErrorIs(t, err, boom)

	q, err := store.LoadQueue(ctx, "widget", "Main")
	require.NoError(t, err)
	assert.False(t, q.Exists())
}

func TestStore_EngineEndToEnd(t *testing.T) {
	// GIVEN: an engine on SQLite
	// WHEN: receive 100 @ 5, ship 40, move 10 to Branch, cancel the move
	// THEN: queues, ledger and reconciliation all agree

	ctx := context.Background()
	store := newTestStore(t)
	engine := stock.NewEngine(store)
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := engine.CreateTransfers(ctx, stock.Reference{Type: "PurchaseReceipt", Name: "PR-1", Date: day},
		[]stock.Line{{Item: "widget", Rate: dec("5"), Quantity: dec("100"), ToLocation: "Main"}})
	require.NoError(t, err)

	_, err = engine.CreateTransfers(ctx, stock.Reference{Type: "Shipment", Name: "SHP-1", Date: day},
		[]stock.Line{{Item: "widget", Rate: dec("5"), Quantity: dec("40"), FromLocation: "Main"}})
	require.NoError(t, err)

	_, err = engine.CreateTransfers(ctx, stock.Reference{Type: "Shipment", Name: "SHP-2", Date: day},
		[]stock.Line{{Item: "widget", Rate: dec("5"), Quantity: dec("70"), FromLocation: "Main"}})
	require.ErrorIs(t, err, costing.ErrInsufficientStock)

	move := stock.Reference{Type: "StockMovement", Name: "MOV-1", Date: day}
	moveLines := []stock.Line{{Item: "widget", Rate: dec("5"), Quantity: dec("10"), FromLocation: "Main", ToLocation: "Branch"}}
	_, err = engine.CreateTransfers(ctx, move, moveLines)
	require.NoError(t, err)

	main, err := store.LoadQueue(ctx, "widget", "Main")
	require.NoError(t, err)
	assert.True(t, main.StockValue.Equal(dec("250")))

	require.NoError(t, engine.CancelTransfers(ctx, move, moveLines))

	main, err = store.LoadQueue(ctx, "widget", "Main")
	require.NoError(t, err)
	assert.True(t, main.StockValue.Equal(dec("300")))
	branch, err := store.LoadQueue(ctx, "widget", "Branch")
	require.NoError(t, err)
	assert.True(t, branch.Quantity().IsZero())

	rows, err := store.LedgerRows(ctx, stock.LedgerFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	found, err := (&stock.Reconciler{Repo: store}).Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, found)
}
