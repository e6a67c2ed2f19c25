package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cfgedit/internal/cfgedit"
)

// DefaultLeaseTTL is how long a lease lives without renewal. It must exceed
// the heartbeat interval by a comfortable margin.
const DefaultLeaseTTL = 3 * time.Minute

// MemoryService is an in-process LockService. Expiry is evaluated lazily
// against the clock. Safe for concurrent use.
type MemoryService struct {
	clock      cfgedit.Clock
	ttl        time.Duration
	privileged map[string]bool

	mu    sync.Mutex
	locks map[string]*cfgedit.Lock
}

// NewMemoryService creates a MemoryService. privileged lists the
// identities allowed to force-break leases.
func NewMemoryService(clock cfgedit.Clock, ttl time.Duration, privileged []string) *MemoryService {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &MemoryService{
		clock:      clock,
		ttl:        ttl,
		privileged: privilegedSet(privileged),
		locks:      make(map[string]*cfgedit.Lock),
	}
}

func privilegedSet(identities []string) map[string]bool {
	set := make(map[string]bool, len(identities))
	for _, id := range identities {
		set[id] = true
	}
	return set
}

// liveLocked returns the unexpired lease on documentID, dropping an
// expired one.
func (m *MemoryService) liveLocked(documentID string, now time.Time) *cfgedit.Lock {
	l, ok := m.locks[documentID]
	if !ok {
		return nil
	}
	if !now.Before(l.ExpiresAt) {
		delete(m.locks, documentID)
		return nil
	}
	return l
}

func (m *MemoryService) Acquire(ctx context.Context, documentID, identity string) (*cfgedit.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if l := m.liveLocked(documentID, now); l != nil {
		if l.Holder != identity {
			return nil, &cfgedit.LockHeldError{DocumentID: documentID, Holder: l.Holder, HeldSince: l.AcquiredAt}
		}
		l.ExpiresAt = now.Add(m.ttl)
		copied := *l
		return &copied, nil
	}

	l := &cfgedit.Lock{DocumentID: documentID, Holder: identity, AcquiredAt: now, ExpiresAt: now.Add(m.ttl)}
	m.locks[documentID] = l
	copied := *l
	return &copied, nil
}

func (m *MemoryService) Renew(ctx context.Context, documentID, identity string) (*cfgedit.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	l := m.liveLocked(documentID, now)
	if l == nil || l.Holder != identity {
		return nil, fmt.Errorf("renewing %s: %w", documentID, cfgedit.ErrLockNotHeld)
	}
	l.ExpiresAt = now.Add(m.ttl)
	copied := *l
	return &copied, nil
}

func (m *MemoryService) Release(ctx context.Context, documentID, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.locks[documentID]; ok && l.Holder == identity {
		delete(m.locks, documentID)
	}
	return nil
}

func (m *MemoryService) ForceBreak(ctx context.Context, documentID, identity string) error {
	if !m.privileged[identity] {
		return fmt.Errorf("%s breaking lock on %s: %w", identity, documentID, cfgedit.ErrForbidden)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, documentID)
	return nil
}

func (m *MemoryService) Status(ctx context.Context, documentID string) (*cfgedit.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.liveLocked(documentID, m.clock.Now())
	if l == nil {
		return nil, nil
	}
	copied := *l
	return &copied, nil
}

var _ cfgedit.LockService = (*MemoryService)(nil)

// Close is a no-op.
func (m *MemoryService) Close() error { return nil }
