// Package memory provides an in-memory stock.Repository.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/stock-ledger/costing"
	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu     sync.RWMutex
	queues map[costing.Key]*costing.Queue
	ledger []stock.LedgerRecord
}

func New() *Memory {
	return &Memory{
		queues: make(map[costing.Key]*costing.Queue),
	}
}

func (m *Memory) LoadQueue(_ context.Context, item, location string) (*costing.Queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(item, location), nil
}

func (m *Memory) loadLocked(item, location string) *costing.Queue {
	if q, ok := m.queues[costing.Key{Item: item, Location: location}]; ok {
		return q.Clone()
	}
	return costing.NewQueue(item, location)
}

func (m *Memory) SaveQueue(_ context.Context, q *costing.Queue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(q)
}

func (m *Memory) saveLocked(q *costing.Queue) error {
	var stored int64
	if cur, ok := m.queues[q.Key]; ok {
		stored = cur.Version
	}
	if stored != q.Version {
		return costing.ErrConcurrentModification
	}
	q.Version++
	m.queues[q.Key] = q.Clone()
	return nil
}

func (m *Memory) InsertLedgerRows(_ context.Context, rows []stock.LedgerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertLocked(rows)
	return nil
}

func (m *Memory) insertLocked(rows []stock.LedgerRecord) {
	m.ledger = append(m.ledger, rows...)
}

func (m *Memory) DeleteLedgerRows(_ context.Context, referenceType, referenceName string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(referenceType, referenceName), nil
}

func (m *Memory) deleteLocked(referenceType, referenceName string) int {
	kept := m.ledger[:0:0]
	removed := 0
	for _, r := range m.ledger {
		if r.ReferenceType == referenceType && r.ReferenceName == referenceName {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.ledger = kept
	return removed
}

func (m *Memory) LedgerRows(_ context.Context, filter stock.LedgerFilter) ([]stock.LedgerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rowsLocked(filter), nil
}

func (m *Memory) rowsLocked(filter stock.LedgerFilter) []stock.LedgerRecord {
	var result []stock.LedgerRecord
	for _, r := range m.ledger {
		if filter.Matches(r) {
			result = append(result, r)
		}
	}
	// Stable: rows with the same date keep insertion order.
	sort.SliceStable(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result
}

func (m *Memory) ListQueues(_ context.Context) ([]*costing.Queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(), nil
}

func (m *Memory) listLocked() []*costing.Queue {
	result := make([]*costing.Queue, 0, len(m.queues))
	for _, q := range m.queues {
		result = append(result, q.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key.Less(result[j].Key) })
	return result
}

// Reset clears all queues and ledger rows.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues = make(map[costing.Key]*costing.Queue)
	m.ledger = nil
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTx() *TxMemory {
	return &TxMemory{Memory: New()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(stock.Repository) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	queues map[costing.Key]*costing.Queue
	ledger []stock.LedgerRecord
}

func (tm *TxMemory) snapshot() memorySnapshot {
	queues := make(map[costing.Key]*costing.Queue, len(tm.queues))
	for k, q := range tm.queues {
		queues[k] = q.Clone()
	}
	return memorySnapshot{
		queues: queues,
		ledger: append([]stock.LedgerRecord(nil), tm.ledger...),
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.queues = s.queues
	tm.ledger = s.ledger
}

// txMemoryView runs with the parent's lock already held.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) LoadQueue(_ context.Context, item, location string) (*costing.Queue, error) {
	return tv.parent.loadLocked(item, location), nil
}

func (tv *txMemoryView) SaveQueue(_ context.Context, q *costing.Queue) error {
	return tv.parent.saveLocked(q)
}

func (tv *txMemoryView) InsertLedgerRows(_ context.Context, rows []stock.LedgerRecord) error {
	tv.parent.insertLocked(rows)
	return nil
}

func (tv *txMemoryView) DeleteLedgerRows(_ context.Context, referenceType, referenceName string) (int, error) {
	return tv.parent.deleteLocked(referenceType, referenceName), nil
}

func (tv *txMemoryView) LedgerRows(_ context.Context, filter stock.LedgerFilter) ([]stock.LedgerRecord, error) {
	return tv.parent.rowsLocked(filter), nil
}

func (tv *txMemoryView) ListQueues(_ context.Context) ([]*costing.Queue, error) {
	return tv.parent.listLocked(), nil
}
