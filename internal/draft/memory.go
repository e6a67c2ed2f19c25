package draft

import (
	"context"
	"sort"
	"sync"

	"cfgedit/internal/cfgedit"
)

// MemoryStore is an in-memory DraftStore. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	drafts map[key]cfgedit.Draft
}

type key struct {
	documentID string
	identity   string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drafts: make(map[key]cfgedit.Draft)}
}

func (m *MemoryStore) Put(ctx context.Context, d *cfgedit.Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[key{d.DocumentID, d.EditorIdentity}] = *d
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, documentID, identity string) (*cfgedit.Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drafts[key{documentID, identity}]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *MemoryStore) Delete(ctx context.Context, documentID, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, key{documentID, identity})
	return nil
}

func (m *MemoryStore) List(ctx context.Context, identity string) ([]*cfgedit.Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*cfgedit.Draft
	for k, d := range m.drafts {
		if k.identity == identity {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastEditedAt.After(out[j].LastEditedAt) })
	return out, nil
}

var _ cfgedit.DraftStore = (*MemoryStore)(nil)

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
