/*
repository.go - Persistence boundary for queues and ledger rows

PURPOSE:
  The engine never talks to a database directly. It loads and saves
  costing queues and inserts/deletes ledger rows through Repository.
  Different implementations can use SQLite, PostgreSQL, or memory.

KEY INTERFACES:
  Repository:   Queue load/save, ledger insert/delete/query
  TxRepository: Repository + WithTx for all-or-nothing Sync

OPTIMISTIC CONCURRENCY:
  SaveQueue is a compare-and-swap on Queue.Version. A queue loaded at
  version N can only be saved if the stored row is still at version N; on
  success the queue's Version becomes N+1. A mismatch returns
  costing.ErrConcurrentModification. Callers that serialize access per
  (item, location) with a Locker never see it.

IMPLEMENTATIONS:
  - store/memory:   In-memory, for tests and development
  - store/sqlstore: SQLite (mattn/go-sqlite3) and PostgreSQL (pgx)
*/
package stock

import (
	"context"

	"github.com/warp/stock-ledger/costing"
)

// =============================================================================
// REPOSITORY
// =============================================================================

type Repository interface {
	// LoadQueue returns the queue for (item, location), or a zero-state
	// queue with Version 0 if none was ever saved.
	LoadQueue(ctx context.Context, item, location string) (*costing.Queue, error)

	// SaveQueue upserts by (item, location) with a version check.
	SaveQueue(ctx context.Context, q *costing.Queue) error

	// InsertLedgerRows appends ledger rows in the given order.
	InsertLedgerRows(ctx context.Context, rows []LedgerRecord) error

	// DeleteLedgerRows removes every row of one business transaction and
	// returns how many were removed.
	DeleteLedgerRows(ctx context.Context, referenceType, referenceName string) (int, error)

	// LedgerRows returns matching rows ordered by date, then insertion.
	LedgerRows(ctx context.Context, filter LedgerFilter) ([]LedgerRecord, error)

	// ListQueues returns every persisted queue.
	ListQueues(ctx context.Context) ([]*costing.Queue, error)
}

// =============================================================================
// TRANSACTIONAL REPOSITORY
// =============================================================================

// TxRepository wraps Repository with transaction support.
// If fn returns error, everything written through the handed-in
// Repository is rolled back.
type TxRepository interface {
	Repository
	WithTx(ctx context.Context, fn func(Repository) error) error
}
