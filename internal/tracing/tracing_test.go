package tracing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/warp/stock-ledger/stock"
	"github.com/warp/stock-ledger/store/memory"
)

func newTestLogger() (*logrus.Logger, *logrustest.Hook) {
	logger, hook := logrustest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func TestLogProcessor_WritesEndedSpans(t *testing.T) {
	logger, hook := newTestLogger()
	provider := NewProvider("stock-ledger", 1, NewLogProcessor(logger))
	defer provider.Shutdown(context.Background())
	tracer := provider.Tracer("test")

	_, ok := tracer.Start(context.Background(), "ok")
	ok.SetAttributes(attribute.String("reference.name", "PR-1"))
	ok.End()

	_, bad := tracer.Start(context.Background(), "bad")
	bad.SetStatus(codes.Error, "boom")
	bad.End()

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.DebugLevel, entries[0].Level)
	assert.Equal(t, "ok", entries[0].Data["span"])
	assert.Equal(t, "PR-1", entries[0].Data["reference.name"])
	assert.Equal(t, logrus.WarnLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].Data["error"])
}

func TestNewProvider_NeverSample(t *testing.T) {
	logger, hook := newTestLogger()
	provider := NewProvider("stock-ledger", 0, NewLogProcessor(logger))
	defer provider.Shutdown(context.Background())

	_, span := provider.Tracer("test").Start(context.Background(), "dropped")
	span.End()

	assert.False(t, span.SpanContext().IsSampled())
	assert.Empty(t, hook.AllEntries())
}

func TestSetup_RecordsEngineSync(t *testing.T) {
	// GIVEN: the global provider installed by Setup
	// WHEN: the engine commits a receipt
	// THEN: its Sync span reaches the logger

	logger, hook := newTestLogger()
	provider := Setup("stock-ledger", 1, logger)
	defer provider.Shutdown(context.Background())

	engine := stock.NewEngine(memory.NewTx())
	ctx := context.Background()
	_, err := engine.CreateTransfers(ctx, stock.Reference{Type: "PurchaseReceipt", Name: "PR-1"}, []stock.Line{
		{Item: "widget", Rate: decimal.NewFromInt(5), Quantity: decimal.NewFromInt(10), ToLocation: "Main"},
	})
	require.NoError(t, err)

	var syncs []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Data["span"] == "stock.Group.Sync" {
			syncs = append(syncs, e)
		}
	}
	require.Len(t, syncs, 1)
	assert.Equal(t, "PR-1", syncs[0].Data["reference.name"])
}
