// Package locks serializes destructive operations on the same proposal,
// either within one process or across replicas sharing a Redis instance.
package locks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"pitchdesk/api/internal/metrics"
)

// ErrLockTimeout is returned when a lock could not be taken before the
// context ended.
var ErrLockTimeout = errors.New("resource is busy")

// defaultWait bounds Acquire when the caller's context has no deadline.
const defaultWait = 10 * time.Second

// Locker hands out exclusive locks by key. release is safe to call more than
// once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// ProposalKey is the lock key guarding one proposal.
func ProposalKey(proposalID string) string {
	return "proposal:" + proposalID
}

// AcquireAll takes every key in sorted order so that two callers locking the
// same set cannot deadlock. Duplicate keys are taken once.
func AcquireAll(ctx context.Context, locker Locker, keys ...string) (func(), error) {
	unique := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, key)
	}
	sort.Strings(unique)

	releases := make([]func(), 0, len(unique))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, key := range unique {
		release, err := locker.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// LocalLocker is an in-process Locker backed by one-slot channels.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	ctx, cancel := withDefaultWait(ctx)
	defer cancel()

	slot := l.slot(key)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		metrics.RecordLockAcquisition("local", "timeout")
		return nil, ErrLockTimeout
	}
	metrics.RecordLockAcquisition("local", "acquired")

	var once sync.Once
	return func() {
		once.Do(func() { <-slot })
	}, nil
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	return slot
}

func withDefaultWait(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultWait)
}
