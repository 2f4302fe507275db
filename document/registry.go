package document

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrDuplicate = errors.New("document already exists")
)

type registryKey struct {
	kind Kind
	name string
}

// Registry keeps documents in memory and runs their lifecycle one at a
// time. Returned documents are copies.
type Registry struct {
	mu   sync.Mutex
	docs map[registryKey]*Document
}

func NewRegistry() *Registry {
	return &Registry{docs: make(map[registryKey]*Document)}
}

// Create stores a draft after validating it.
func (r *Registry) Create(d *Document) (Document, error) {
	if err := d.Validate(); err != nil {
		return Document{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	k := registryKey{d.Kind, d.Name}
	if _, ok := r.docs[k]; ok {
		return Document{}, ErrDuplicate
	}
	d.Status = StatusDraft
	r.docs[k] = d
	return *d, nil
}

func (r *Registry) Get(kind Kind, name string) (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[registryKey{kind, name}]
	if !ok {
		return Document{}, ErrNotFound
	}
	return *d, nil
}

// List returns all documents ordered by date, then name.
func (r *Registry) List() []Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Document, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Submit runs the submit hooks of a stored document.
func (r *Registry) Submit(ctx context.Context, kind Kind, name string, t Transfers) (Document, error) {
	return r.run(kind, name, func(d *Document) error { return d.Submit(ctx, t) })
}

// Cancel runs the cancel hooks of a stored document.
func (r *Registry) Cancel(ctx context.Context, kind Kind, name string, t Transfers) (Document, error) {
	return r.run(kind, name, func(d *Document) error { return d.Cancel(ctx, t) })
}

func (r *Registry) run(kind Kind, name string, fn func(*Document) error) (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[registryKey{kind, name}]
	if !ok {
		return Document{}, ErrNotFound
	}
	err := fn(d)
	return *d, err
}

// Reset forgets every document.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = make(map[registryKey]*Document)
}
