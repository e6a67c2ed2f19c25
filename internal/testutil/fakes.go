package testutil

import (
	"context"
	"sync"

	"cfgedit/internal/cfgedit"
)

// StubValidator returns canned issues. Issues, when set, computes the
// result from the text; Err makes every call fail.
type StubValidator struct {
	mu     sync.Mutex
	Issues func(text string) []cfgedit.ValidationIssue
	Err    error
	calls  []string
}

func (v *StubValidator) Validate(ctx context.Context, text, ruleSetID string) ([]cfgedit.ValidationIssue, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, text)
	if v.Err != nil {
		return nil, v.Err
	}
	if v.Issues == nil {
		return nil, nil
	}
	return v.Issues(text), nil
}

// Calls returns the texts validated so far.
func (v *StubValidator) Calls() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.calls...)
}

// SetErr changes the failure returned by later calls.
func (v *StubValidator) SetErr(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Err = err
}

// FlakyDocuments wraps a DocumentService and fails calls on demand.
type FlakyDocuments struct {
	cfgedit.DocumentService

	mu      sync.Mutex
	loadErr error
	saveErr error
	saves   int
}

func NewFlakyDocuments(inner cfgedit.DocumentService) *FlakyDocuments {
	return &FlakyDocuments{DocumentService: inner}
}

func (f *FlakyDocuments) FailLoad(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadErr = err
}

func (f *FlakyDocuments) FailSave(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveErr = err
}

// Saves returns how many Save calls reached the wrapper.
func (f *FlakyDocuments) Saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func (f *FlakyDocuments) Load(ctx context.Context, id string) (*cfgedit.Document, error) {
	f.mu.Lock()
	err := f.loadErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.DocumentService.Load(ctx, id)
}

func (f *FlakyDocuments) Save(ctx context.Context, req cfgedit.SaveRequest) (string, error) {
	f.mu.Lock()
	f.saves++
	err := f.saveErr
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return f.DocumentService.Save(ctx, req)
}

// FlakyLocks wraps a LockService and fails calls on demand.
type FlakyLocks struct {
	cfgedit.LockService

	mu         sync.Mutex
	acquireErr error
	renewErr   error
	releases   int
}

func NewFlakyLocks(inner cfgedit.LockService) *FlakyLocks {
	return &FlakyLocks{LockService: inner}
}

func (f *FlakyLocks) FailAcquire(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquireErr = err
}

func (f *FlakyLocks) FailRenew(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewErr = err
}

// Releases returns how many Release calls reached the wrapper.
func (f *FlakyLocks) Releases() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases
}

func (f *FlakyLocks) Acquire(ctx context.Context, documentID, identity string) (*cfgedit.Lock, error) {
	f.mu.Lock()
	err := f.acquireErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.LockService.Acquire(ctx, documentID, identity)
}

func (f *FlakyLocks) Renew(ctx context.Context, documentID, identity string) (*cfgedit.Lock, error) {
	f.mu.Lock()
	err := f.renewErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.LockService.Renew(ctx, documentID, identity)
}

func (f *FlakyLocks) Release(ctx context.Context, documentID, identity string) error {
	f.mu.Lock()
	f.releases++
	f.mu.Unlock()
	return f.LockService.Release(ctx, documentID, identity)
}

// FlakyDrafts wraps a DraftStore and fails writes on demand.
type FlakyDrafts struct {
	cfgedit.DraftStore

	mu     sync.Mutex
	putErr error
	puts   int
}

func NewFlakyDrafts(inner cfgedit.DraftStore) *FlakyDrafts {
	return &FlakyDrafts{DraftStore: inner}
}

func (f *FlakyDrafts) FailPut(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putErr = err
}

// Puts returns how many Put calls reached the wrapper.
func (f *FlakyDrafts) Puts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func (f *FlakyDrafts) Put(ctx context.Context, d *cfgedit.Draft) error {
	f.mu.Lock()
	f.puts++
	err := f.putErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.DraftStore.Put(ctx, d)
}
