/*
Package sqlstore provides a database/sql implementation of stock.Repository.

PURPOSE:
  Persists costing queues and ledger rows in SQLite (mattn/go-sqlite3) or
  PostgreSQL (jackc/pgx stdlib driver). Queries are written once with '?'
  placeholders and rebound for PostgreSQL.

INTERFACES IMPLEMENTED:
  stock.Repository:   Queue and ledger persistence
  stock.TxRepository: Atomic Sync of a movement group

KEY TABLES:
  stock_queues: One row per (item, location). Lots are a JSON array of
                {rate, quantity} decimal strings, oldest first.
  stock_ledger: One row per location touched by a committed movement.
                Outward rows keep the lots they consumed in consumed_lots
                so a cancellation can put that exact cost back.

OPTIMISTIC CONCURRENCY:
  Every queue row carries a version. SaveQueue inserts when the in-memory
  version is 0 and updates "WHERE version = ?" otherwise; zero affected
  rows means another writer got there first and the save fails with
  costing.ErrConcurrentModification.

INDEXES:
  - idx_stock_ledger_reference: Cancellation deletes by reference
  - idx_stock_ledger_item_location_date: History and quantity-at-date

DECIMALS AND TIMES:
  Decimals are stored as TEXT to keep exact values. Times are stored as
  fixed-width UTC text so that lexical order is chronological on both
  engines.

USAGE:
  store, err := sqlstore.Open("sqlite3", "./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := stock.NewEngine(store)
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-ledger/costing"
	"github.com/warp/stock-ledger/stock"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// conn is satisfied by both *sql.DB and *sql.Tx.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements stock.TxRepository on a SQL database.
type Store struct {
	db     *sql.DB
	driver string
	mu     sync.RWMutex
}

// Open connects to the database and migrates the schema.
// For SQLite use ":memory:" for an in-memory database.
func Open(driver, dsn string) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = sql.Open(DriverSQLite, sqliteDSN(dsn))
		if err == nil && strings.HasPrefix(dsn, ":memory:") {
			// Every connection to :memory: is a separate database.
			db.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		db, err = sql.Open(DriverPostgres, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, driver: driver}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// sqliteDSN appends the connection options go-sqlite3 reads from the query
// string, keeping any the caller already set.
func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_journal_mode=WAL"
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS stock_queues (
		item TEXT NOT NULL,
		location TEXT NOT NULL,
		lots_json TEXT NOT NULL,
		stock_value TEXT NOT NULL,
		version BIGINT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (item, location)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_ledger (
		id TEXT PRIMARY KEY,
		posting_date TEXT NOT NULL,
		item TEXT NOT NULL,
		location TEXT NOT NULL,
		rate TEXT NOT NULL,
		quantity TEXT NOT NULL,
		reference_type TEXT NOT NULL,
		reference_name TEXT NOT NULL,
		stock_value_before TEXT NOT NULL,
		stock_value_after TEXT NOT NULL,
		created_at TEXT NOT NULL,
		line_no INTEGER NOT NULL,
		consumed_lots TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_ledger_reference
		ON stock_ledger(reference_type, reference_name)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_ledger_item_location_date
		ON stock_ledger(item, location, posting_date)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites '?' placeholders to $1, $2, ... for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// =============================================================================
// QUEUES
// =============================================================================

// LoadQueue returns the stored queue or a fresh one with Version 0.
func (s *Store) LoadQueue(ctx context.Context, item, location string) (*costing.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadQueue(ctx, s.db, item, location)
}

func (s *Store) loadQueue(ctx context.Context, c conn, item, location string) (*costing.Queue, error) {
	var lotsJSON, value string
	var version int64
	err := c.QueryRowContext(ctx, s.rebind(`
		SELECT lots_json, stock_value, version
		FROM stock_queues
		WHERE item = ? AND location = ?
	`), item, location).Scan(&lotsJSON, &value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return costing.NewQueue(item, location), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue %s@%s: %w", item, location, err)
	}
	return buildQueue(item, location, lotsJSON, value, version)
}

func buildQueue(item, location, lotsJSON, value string, version int64) (*costing.Queue, error) {
	lots, err := costing.DecodeLots(lotsJSON)
	if err != nil {
		return nil, fmt.Errorf("queue %s@%s: %w", item, location, err)
	}
	stockValue, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("queue %s@%s: invalid stock value %q: %w", item, location, value, err)
	}
	q := costing.NewQueue(item, location)
	q.Lots = lots
	q.StockValue = stockValue
	q.Version = version
	return q, nil
}

// SaveQueue writes q if nobody else saved it since it was loaded, then
// bumps q.Version.
func (s *Store) SaveQueue(ctx context.Context, q *costing.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveQueue(ctx, s.db, q)
}

func (s *Store) saveQueue(ctx context.Context, c conn, q *costing.Queue) error {
	lotsJSON, err := costing.EncodeLots(q.Lots)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(timeLayout)
	next := q.Version + 1

	var res sql.Result
	if q.Version == 0 {
		res, err = c.ExecContext(ctx, s.rebind(`
			INSERT INTO stock_queues (item, location, lots_json, stock_value, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (item, location) DO NOTHING
		`), q.Item, q.Location, lotsJSON, q.StockValue.String(), next, now)
	} else {
		res, err = c.ExecContext(ctx, s.rebind(`
			UPDATE stock_queues
			SET lots_json = ?, stock_value = ?, version = ?, updated_at = ?
			WHERE item = ? AND location = ? AND version = ?
		`), lotsJSON, q.StockValue.String(), next, now, q.Item, q.Location, q.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to save queue %s: %w", q.Key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save queue %s: %w", q.Key, err)
	}
	if n == 0 {
		return fmt.Errorf("queue %s at version %d: %w", q.Key, q.Version, costing.ErrConcurrentModification)
	}
	q.Version = next
	return nil
}

// ListQueues returns every stored queue ordered by item, then location.
func (s *Store) ListQueues(ctx context.Context) ([]*costing.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listQueues(ctx, s.db)
}

func (s *Store) listQueues(ctx context.Context, c conn) ([]*costing.Queue, error) {
	rows, err := c.QueryContext(ctx, `
		SELECT item, location, lots_json, stock_value, version
		FROM stock_queues
		ORDER BY item ASC, location ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queues: %w", err)
	}
	defer rows.Close()

	var queues []*costing.Queue
	for rows.Next() {
		var item, location, lotsJSON, value string
		var version int64
		if err := rows.Scan(&item, &location, &lotsJSON, &value, &version); err != nil {
			return nil, fmt.Errorf("failed to scan queue: %w", err)
		}
		q, err := buildQueue(item, location, lotsJSON, value, version)
		if err != nil {
			return nil, err
		}
		queues = append(queues, q)
	}
	return queues, rows.Err()
}

// =============================================================================
// LEDGER
// =============================================================================

// InsertLedgerRows appends rows atomically.
func (s *Store) InsertLedgerRows(ctx context.Context, records []stock.LedgerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertLedgerRows(ctx, tx, records); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) insertLedgerRows(ctx context.Context, c conn, records []stock.LedgerRecord) error {
	query := s.rebind(`
		INSERT INTO stock_ledger
		(id, posting_date, item, location, rate, quantity, reference_type, reference_name,
		 stock_value_before, stock_value_after, created_at, line_no, consumed_lots)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for i, r := range records {
		consumed := ""
		if len(r.ConsumedLots) > 0 {
			var err error
			if consumed, err = costing.EncodeLots(r.ConsumedLots); err != nil {
				return fmt.Errorf("ledger row for %s: %w", r.ReferenceName, err)
			}
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err := c.ExecContext(ctx, query,
			r.ID,
			r.Date.UTC().Format(timeLayout),
			r.Item,
			r.Location,
			r.Rate.String(),
			r.Quantity.String(),
			r.ReferenceType,
			r.ReferenceName,
			r.StockValueBefore.String(),
			r.StockValueAfter.String(),
			createdAt.UTC().Format(timeLayout),
			i,
			consumed,
		)
		if err != nil {
			return fmt.Errorf("failed to insert ledger row for %s: %w", r.ReferenceName, err)
		}
	}
	return nil
}

// DeleteLedgerRows removes every row of one business transaction.
func (s *Store) DeleteLedgerRows(ctx context.Context, referenceType, referenceName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLedgerRows(ctx, s.db, referenceType, referenceName)
}

func (s *Store) deleteLedgerRows(ctx context.Context, c conn, referenceType, referenceName string) (int, error) {
	res, err := c.ExecContext(ctx, s.rebind(`
		DELETE FROM stock_ledger WHERE reference_type = ? AND reference_name = ?
	`), referenceType, referenceName)
	if err != nil {
		return 0, fmt.Errorf("failed to delete ledger rows for %s %s: %w", referenceType, referenceName, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// LedgerRows returns matching rows oldest first.
func (s *Store) LedgerRows(ctx context.Context, filter stock.LedgerFilter) ([]stock.LedgerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledgerRows(ctx, s.db, filter)
}

func (s *Store) ledgerRows(ctx context.Context, c conn, filter stock.LedgerFilter) ([]stock.LedgerRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		where = append(where, clause)
		args = append(args, arg)
	}
	if filter.Item != "" {
		add("item = ?", filter.Item)
	}
	if filter.Location != "" {
		add("location = ?", filter.Location)
	}
	if filter.ReferenceType != "" {
		add("reference_type = ?", filter.ReferenceType)
	}
	if filter.ReferenceName != "" {
		add("reference_name = ?", filter.ReferenceName)
	}
	if filter.Until != nil {
		add("posting_date <= ?", filter.Until.UTC().Format(timeLayout))
	}

	query := `
		SELECT id, posting_date, item, location, rate, quantity, reference_type, reference_name,
		       stock_value_before, stock_value_after, created_at, consumed_lots
		FROM stock_ledger`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY posting_date ASC, created_at ASC, line_no ASC"

	rows, err := c.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var records []stock.LedgerRecord
	for rows.Next() {
		r, err := scanLedgerRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanLedgerRecord(rows *sql.Rows) (stock.LedgerRecord, error) {
	var (
		r                       stock.LedgerRecord
		postingDate, createdAt  string
		rate, quantity          string
		valueBefore, valueAfter string
		consumed                string
	)
	err := rows.Scan(
		&r.ID, &postingDate, &r.Item, &r.Location, &rate, &quantity,
		&r.ReferenceType, &r.ReferenceName, &valueBefore, &valueAfter, &createdAt,
		&consumed,
	)
	if err != nil {
		return r, fmt.Errorf("failed to scan ledger row: %w", err)
	}

	if r.Date, err = time.Parse(timeLayout, postingDate); err != nil {
		return r, fmt.Errorf("ledger row %s: %w", r.ID, err)
	}
	if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return r, fmt.Errorf("ledger row %s: %w", r.ID, err)
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&r.Rate, rate},
		{&r.Quantity, quantity},
		{&r.StockValueBefore, valueBefore},
		{&r.StockValueAfter, valueAfter},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return r, fmt.Errorf("ledger row %s: %w", r.ID, err)
		}
	}
	if r.ConsumedLots, err = costing.DecodeLots(consumed); err != nil {
		return r, fmt.Errorf("ledger row %s: %w", r.ID, err)
	}
	return r, nil
}

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"stock_ledger", "stock_queues"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (stock.TxRepository interface)
// =============================================================================

// WithTx executes fn within a database transaction. Every call fn makes on
// the repository it is handed runs inside that transaction.
func (s *Store) WithTx(ctx context.Context, fn func(stock.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) LoadQueue(ctx context.Context, item, location string) (*costing.Queue, error) {
	return ts.parent.loadQueue(ctx, ts.tx, item, location)
}

func (ts *txStore) SaveQueue(ctx context.Context, q *costing.Queue) error {
	return ts.parent.saveQueue(ctx, ts.tx, q)
}

func (ts *txStore) InsertLedgerRows(ctx context.Context, records []stock.LedgerRecord) error {
	return ts.parent.insertLedgerRows(ctx, ts.tx, records)
}

func (ts *txStore) DeleteLedgerRows(ctx context.Context, referenceType, referenceName string) (int, error) {
	return ts.parent.deleteLedgerRows(ctx, ts.tx, referenceType, referenceName)
}

func (ts *txStore) LedgerRows(ctx context.Context, filter stock.LedgerFilter) ([]stock.LedgerRecord, error) {
	return ts.parent.ledgerRows(ctx, ts.tx, filter)
}

func (ts *txStore) ListQueues(ctx context.Context) ([]*costing.Queue, error) {
	return ts.parent.listQueues(ctx, ts.tx)
}
