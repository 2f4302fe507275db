package stock

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/stock-ledger/costing"
)

// Locker serializes writers per (item, location). The engine locks every
// key a transfer touches before loading queues and releases them after
// Sync. Implementations must acquire keys in SortedKeys order.
type Locker interface {
	Lock(ctx context.Context, keys []costing.Key) (unlock func(), err error)
}

// SortedKeys returns keys deduplicated and ordered by item, then location.
func SortedKeys(keys []costing.Key) []costing.Key {
	seen := make(map[costing.Key]bool, len(keys))
	out := make([]costing.Key, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// LinesKeys returns the sorted keys touched by lines.
func LinesKeys(lines []Line) []costing.Key {
	var keys []costing.Key
	for _, l := range lines {
		keys = append(keys, l.Keys()...)
	}
	return SortedKeys(keys)
}

// =============================================================================
// LOCAL LOCKER - In-process keyed mutex
// =============================================================================

// LocalLocker is enough for a single process. Use lock.RedisLocker when
// several processes write the same database.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[costing.Key]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[costing.Key]chan struct{})}
}

func (l *LocalLocker) slot(k costing.Key) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[k]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[k] = ch
	}
	return ch
}

func (l *LocalLocker) Lock(ctx context.Context, keys []costing.Key) (func(), error) {
	keys = SortedKeys(keys)
	held := make([]chan struct{}, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, k := range keys {
		ch := l.slot(k)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

type nopLocker struct{}

func (nopLocker) Lock(context.Context, []costing.Key) (func(), error) { return func() {}, nil }
