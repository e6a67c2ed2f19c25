package cfgedit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultHeartbeatInterval is how often a held lease is renewed.
const DefaultHeartbeatInterval = 60 * time.Second

// Lock is an exclusive edit lease on a document.
type Lock struct {
	DocumentID string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// LockService is the external lease authority. At most one unexpired lock
// exists per document id; only the holder may renew or release it.
type LockService interface {
	// Acquire grants the lease to identity, or returns a *LockHeldError if
	// another identity holds it. Re-acquiring a lease already held by
	// identity succeeds and extends it.
	Acquire(ctx context.Context, documentID, identity string) (*Lock, error)

	// Renew extends a lease held by identity. Returns an error wrapping
	// ErrLockNotHeld if identity no longer holds it.
	Renew(ctx context.Context, documentID, identity string) (*Lock, error)

	// Release gives up a lease held by identity. Releasing a lease that is
	// not held is not an error.
	Release(ctx context.Context, documentID, identity string) error

	// ForceBreak revokes whatever lease exists on the document. Returns an
	// error wrapping ErrForbidden unless identity is privileged.
	ForceBreak(ctx context.Context, documentID, identity string) error

	// Status returns the current unexpired lease, or nil.
	Status(ctx context.Context, documentID string) (*Lock, error)
}

// AcquireOutcome is the result class of a lease acquisition.
type AcquireOutcome int

const (
	// AcquireGranted: the session holds the lease and may edit.
	AcquireGranted AcquireOutcome = iota
	// AcquireDenied: another identity holds the lease; the session is read-only.
	AcquireDenied
	// AcquireDegraded: the lock service could not answer. The session edits
	// without a lease rather than blocking the user.
	AcquireDegraded
)

func (o AcquireOutcome) String() string {
	switch o {
	case AcquireGranted:
		return "granted"
	case AcquireDenied:
		return "denied"
	default:
		return "degraded"
	}
}

// AcquireResult describes the outcome of LockManager.Acquire.
type AcquireResult struct {
	Outcome   AcquireOutcome
	Lock      *Lock
	Holder    string
	HeldSince time.Time
	// Err is the underlying failure for AcquireDegraded.
	Err error
}

// LockManager owns the lease lifecycle for one session: acquire, periodic
// renewal, best-effort release and privileged force-break.
type LockManager struct {
	locks       LockService
	sched       Scheduler
	logger      Logger
	documentID  string
	identity    string
	interval    time.Duration
	callTimeout time.Duration

	mu        sync.Mutex
	heartbeat Timer
	held      bool
	failures  int
}

// NewLockManager creates a LockManager for one document and identity.
func NewLockManager(locks LockService, sched Scheduler, logger Logger, documentID, identity string, interval, callTimeout time.Duration) *LockManager {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &LockManager{
		locks:       locks,
		sched:       sched,
		logger:      logger,
		documentID:  documentID,
		identity:    identity,
		interval:    interval,
		callTimeout: callTimeout,
	}
}

// Acquire requests the lease. Failures other than contention degrade to
// AcquireDegraded: losing a lock check must not be harder on the user than
// losing the lock.
func (m *LockManager) Acquire(ctx context.Context) AcquireResult {
	lock, err := m.locks.Acquire(ctx, m.documentID, m.identity)
	if err != nil {
		var held *LockHeldError
		if errors.As(err, &held) {
			m.logger.Info("lock denied", "document", m.documentID, "holder", held.Holder)
			return AcquireResult{Outcome: AcquireDenied, Holder: held.Holder, HeldSince: held.HeldSince}
		}
		m.logger.Warn("lock acquisition failed, editing without lease", "document", m.documentID, "error", err)
		return AcquireResult{Outcome: AcquireDegraded, Err: err}
	}

	m.mu.Lock()
	m.held = true
	m.failures = 0
	m.mu.Unlock()

	m.logger.Info("lock acquired", "document", m.documentID, "identity", m.identity)
	return AcquireResult{Outcome: AcquireGranted, Lock: lock, Holder: lock.Holder, HeldSince: lock.AcquiredAt}
}

// Renew extends the lease once. It returns a KindLockDenied error when the
// lease is gone and KindLockRenewalFailed for any other failure. A lease
// that is gone is no longer held and its heartbeat stops.
func (m *LockManager) Renew(ctx context.Context) error {
	_, err := m.locks.Renew(ctx, m.documentID, m.identity)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.failures = 0
		return nil
	}
	m.failures++

	var held *LockHeldError
	if errors.Is(err, ErrLockNotHeld) || errors.As(err, &held) {
		m.held = false
		m.stopHeartbeatLocked()
		return lockDenied("renew", err)
	}
	return newError(KindLockRenewalFailed, "renew", err)
}

// StartHeartbeat renews the lease every interval until StopHeartbeat or
// Release. onRenew receives the result of every renewal, nil on success.
// Transient failures never stop the heartbeat; losing the lease does.
func (m *LockManager) StartHeartbeat(onRenew func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held || m.heartbeat != nil {
		return
	}
	m.heartbeat = m.sched.Every(m.interval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.callTimeout)
		defer cancel()

		err := m.Renew(ctx)
		if err != nil {
			m.logger.Warn("lock renewal failed", "document", m.documentID, "failures", m.Failures(), "error", err)
		} else {
			m.logger.Debug("lock renewed", "document", m.documentID)
		}
		if onRenew != nil {
			onRenew(err)
		}
	})
}

// StopHeartbeat cancels periodic renewal.
func (m *LockManager) StopHeartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopHeartbeatLocked()
}

func (m *LockManager) stopHeartbeatLocked() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
}

// Release gives up the lease. It is fire-and-forget: the outcome is logged
// and never retried. Server-side lease expiry is what actually frees a lock
// whose release never arrived.
func (m *LockManager) Release(ctx context.Context) {
	m.mu.Lock()
	m.stopHeartbeatLocked()
	held := m.held
	m.held = false
	m.mu.Unlock()

	if !held {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	if err := m.locks.Release(ctx, m.documentID, m.identity); err != nil {
		m.logger.Warn("lock release failed", "document", m.documentID, "error", err)
		return
	}
	m.logger.Info("lock released", "document", m.documentID)
}

// ForceBreak revokes the current holder's lease. The caller follows up
// with Acquire.
func (m *LockManager) ForceBreak(ctx context.Context) error {
	if err := m.locks.ForceBreak(ctx, m.documentID, m.identity); err != nil {
		return lockDenied("force-break", err)
	}
	m.logger.Warn("lock force-broken", "document", m.documentID, "by", m.identity)
	return nil
}

// Held reports whether the manager believes it holds the lease. The lease
// may have been broken elsewhere; only a renewal or publish can tell.
func (m *LockManager) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

// Failures returns the number of consecutive failed renewals.
func (m *LockManager) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}
