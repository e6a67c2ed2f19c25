package document

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cfgedit/internal/cfgedit"
)

// MemoryService is an in-memory DocumentService. Version stamps are "v1",
// "v2", ... per document. Safe for concurrent use.
type MemoryService struct {
	mu   sync.RWMutex
	docs map[string]*memoryDoc
}

type memoryDoc struct {
	content string
	version int
	editor  string
}

// NewMemoryService creates an empty MemoryService.
func NewMemoryService() *MemoryService {
	return &MemoryService{docs: make(map[string]*memoryDoc)}
}

func stamp(version int) string {
	return fmt.Sprintf("v%d", version)
}

// Put writes content unconditionally and returns the new stamp. It is used
// to seed documents and to simulate writes by other editors.
func (m *MemoryService) Put(id, content string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		doc = &memoryDoc{}
		m.docs[id] = doc
	}
	doc.content = content
	doc.version++
	doc.editor = ""
	return stamp(doc.version)
}

func (m *MemoryService) Load(ctx context.Context, id string) (*cfgedit.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("loading %s: %w", id, cfgedit.ErrDocumentNotFound)
	}
	return &cfgedit.Document{ID: id, Content: doc.content, VersionStamp: stamp(doc.version)}, nil
}

// Save writes req.Content if req.BasedOn is the current stamp. An empty
// BasedOn creates a new document and conflicts if one exists.
func (m *MemoryService) Save(ctx context.Context, req cfgedit.SaveRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[req.DocumentID]
	switch {
	case !ok && req.BasedOn != "":
		return "", fmt.Errorf("saving %s: %w", req.DocumentID, cfgedit.ErrDocumentNotFound)
	case !ok:
		doc = &memoryDoc{}
		m.docs[req.DocumentID] = doc
	case req.BasedOn != stamp(doc.version):
		return "", fmt.Errorf("saving %s based on %s, current is %s: %w", req.DocumentID, req.BasedOn, stamp(doc.version), cfgedit.ErrVersionConflict)
	}
	doc.content = req.Content
	doc.version++
	doc.editor = req.Editor
	return stamp(doc.version), nil
}

// List returns the ids of all documents, sorted.
func (m *MemoryService) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// LastEditor returns the identity of the last publisher, or "" if the
// document was last written with Put.
func (m *MemoryService) LastEditor(id string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if doc, ok := m.docs[id]; ok {
		return doc.editor
	}
	return ""
}

var _ cfgedit.DocumentService = (*MemoryService)(nil)
