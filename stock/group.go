/*
group.go - All movements of one business transaction

PURPOSE:
  A Group fans a transaction's lines out into Movements, applies them to
  working copies of the costing queues, and persists everything in Sync.

ORDERING:
  Lines are applied strictly in the order supplied. Two lines touching the
  same (item, location) share one working copy, so the second line sees
  the first line's effect. Reverse undoes committed rows newest first.

ALL-OR-NOTHING:
  1. Every line is validated before any queue is touched
  2. Queues are mutated as clones held by the group; the repository copy
     is untouched until Sync
  3. Sync writes through TxRepository.WithTx when available, so a
     persistence failure leaves nothing half-written

SYNC:
  Forward:   save touched queues, insert the new ledger rows
  Cancelled: save touched queues, delete the reference's ledger rows

STATE:
  new -> transferred -> synced
  A failed TransferStock or Reverse leaves the group unusable; start a
  new one.
*/
package stock

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/warp/stock-ledger/costing"
)

var tracer = otel.Tracer("github.com/warp/stock-ledger/stock")

type groupState int

const (
	groupNew groupState = iota
	groupTransferred
	groupFailed
	groupSynced
)

type Group struct {
	Reference Reference

	repo      Repository
	queues    map[costing.Key]*costing.Queue
	order     []costing.Key
	movements []*Movement
	records   []LedgerRecord
	cancelled bool
	state     groupState
	now       func() time.Time
}

func NewGroup(repo Repository, ref Reference) *Group {
	return &Group{
		Reference: ref,
		repo:      repo,
		queues:    make(map[costing.Key]*costing.Queue),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Queue implements QueueSource. The first request for a key loads it from
// the repository; later requests get the same working copy.
func (g *Group) Queue(ctx context.Context, key costing.Key) (*costing.Queue, error) {
	if q, ok := g.queues[key]; ok {
		return q, nil
	}
	q, err := g.repo.LoadQueue(ctx, key.Item, key.Location)
	if err != nil {
		return nil, err
	}
	if err := q.Verify(); err != nil {
		return nil, err
	}
	q = q.Clone()
	g.queues[key] = q
	g.order = append(g.order, key)
	return q, nil
}

// TransferStock validates all lines, then applies them to working copies.
// Nothing is persisted until Sync.
func (g *Group) TransferStock(ctx context.Context, lines []Line) error {
	if g.state != groupNew {
		return ErrGroupUsed
	}
	g.state = groupFailed

	movements := make([]*Movement, len(lines))
	for i, line := range lines {
		m := NewMovement(g.Reference, line)
		if err := m.Validate(); err != nil {
			if ie, ok := err.(*InvalidInputError); ok {
				ie.Line = i + 1
			}
			return err
		}
		movements[i] = m
	}

	for _, m := range movements {
		if err := m.Transfer(ctx, g); err != nil {
			return err
		}
	}

	g.movements = movements
	for _, m := range movements {
		g.records = append(g.records, m.Records...)
	}
	g.state = groupTransferred
	return nil
}

// Reverse undoes the reference's committed rows on working copies, newest
// row first. Sync then saves the queues and deletes the rows.
func (g *Group) Reverse(ctx context.Context, rows []LedgerRecord) error {
	if g.state != groupNew {
		return ErrGroupUsed
	}
	g.state = groupFailed
	g.cancelled = true

	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		q, err := g.Queue(ctx, costing.Key{Item: r.Item, Location: r.Location})
		if err != nil {
			return err
		}
		if err := reverseRecord(q, r); err != nil {
			return err
		}
	}

	g.state = groupTransferred
	return nil
}

// Records returns the ledger rows produced by TransferStock.
func (g *Group) Records() []LedgerRecord { return g.records }

// Movements returns the movements in line order.
func (g *Group) Movements() []*Movement { return g.movements }

// Queues returns the working copies in the order they were first touched.
func (g *Group) Queues() []*costing.Queue {
	out := make([]*costing.Queue, 0, len(g.order))
	for _, k := range g.order {
		out = append(out, g.queues[k])
	}
	return out
}

// Sync persists every touched queue and the ledger changes.
func (g *Group) Sync(ctx context.Context) error {
	switch g.state {
	case groupSynced:
		return ErrAlreadySynced
	case groupTransferred:
	default:
		return ErrNothingToSync
	}

	ctx, span := tracer.Start(ctx, "stock.Group.Sync", trace.WithAttributes(
		attribute.String("reference.type", g.Reference.Type),
		attribute.String("reference.name", g.Reference.Name),
		attribute.Bool("cancelled", g.cancelled),
		attribute.Int("queues", len(g.order)),
		attribute.Int("records", len(g.records)),
	))
	defer span.End()

	createdAt := g.now()
	for i := range g.records {
		g.records[i].CreatedAt = createdAt
	}

	var err error
	if txr, ok := g.repo.(TxRepository); ok {
		err = txr.WithTx(ctx, func(repo Repository) error { return g.write(ctx, repo) })
	} else {
		err = g.write(ctx, g.repo)
	}
	if err != nil {
		// Saved versions may have moved; the working copies are stale now.
		g.state = groupFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	g.state = groupSynced
	return nil
}

func (g *Group) write(ctx context.Context, repo Repository) error {
	for _, k := range g.order {
		if err := repo.SaveQueue(ctx, g.queues[k]); err != nil {
			return err
		}
	}
	if g.cancelled {
		_, err := repo.DeleteLedgerRows(ctx, g.Reference.Type, g.Reference.Name)
		return err
	}
	if len(g.records) == 0 {
		return nil
	}
	return repo.InsertLedgerRows(ctx, g.records)
}
