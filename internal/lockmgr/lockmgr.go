// Package lockmgr provides per-key mutual exclusion for remote projects.
//
// The remote store has no compare-and-swap; concurrent writers against the
// same project would silently overwrite each other (last write wins). The
// Manager serializes every write path to a project behind an in-process
// lock keyed by project identifier. Locks on different keys are fully
// independent.
//
// The lock table lives in memory only. flatsync assumes a single process
// per remote project: a crash drops any held locks, and a remote project
// may be left half-updated. Cross-process coordination is intentionally
// out of scope.
package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrAborted reports a wait cut short by ReleaseAll clearing the table.
var ErrAborted = errors.New("lock wait aborted")

// TimeoutError reports a failed acquisition, naming the contended key and
// its current holder so callers can decide whether to retry later.
type TimeoutError struct {
	Key     string
	Holder  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for lock %q held by %q", e.Timeout, e.Key, e.Holder)
}

// Info describes a held lock, for diagnostics.
type Info struct {
	Key        string
	Holder     string
	AcquiredAt time.Time
}

// Status is the result of a lock table inspection.
type Status struct {
	Locked bool
	Info   *Info
}

type lockState struct {
	holder     string
	acquiredAt time.Time
	// waiters receive true on hand-off, false when the wait is aborted.
	waiters []chan bool
}

// Manager is a table of per-key locks with bounded-wait acquisition.
// All methods are safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*lockState
}

// NewManager creates an empty lock table.
func NewManager() *Manager {
	return &Manager{locks: make(map[string]*lockState)}
}

// Acquire takes the lock for key on behalf of holder, waiting up to timeout
// if it is currently held. On success it returns a release function that is
// safe to defer; releasing through it (or through Release) is idempotent.
// On timeout it returns a *TimeoutError naming the key and current holder.
//
// Waiters are queued FIFO, so a contended key is handed over in arrival
// order. A canceled ctx aborts the wait early.
func (m *Manager) Acquire(ctx context.Context, key, holder string, timeout time.Duration) (func(), error) {
	m.mu.Lock()
	state, held := m.locks[key]
	if !held {
		m.locks[key] = &lockState{holder: holder, acquiredAt: time.Now()}
		m.mu.Unlock()
		return m.releaseFunc(key), nil
	}

	// Queue behind the current holder. The releaser hands the lock over by
	// sending true on our channel; we only have to fill in ownership.
	wait := make(chan bool, 1)
	state.waiters = append(state.waiters, wait)
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case granted := <-wait:
		if !granted {
			return nil, fmt.Errorf("waiting for lock %q: %w", key, ErrAborted)
		}
		m.mu.Lock()
		if st, ok := m.locks[key]; ok {
			st.holder = holder
			st.acquiredAt = time.Now()
		} else {
			// Table was cleared while we waited; take a fresh entry.
			m.locks[key] = &lockState{holder: holder, acquiredAt: time.Now()}
		}
		m.mu.Unlock()
		return m.releaseFunc(key), nil

	case <-timer.C:
		holderNow := m.abandonWait(key, wait)
		return nil, &TimeoutError{Key: key, Holder: holderNow, Timeout: timeout}

	case <-ctx.Done():
		m.abandonWait(key, wait)
		return nil, fmt.Errorf("waiting for lock %q: %w", key, ctx.Err())
	}
}

// abandonWait removes a waiter from the queue after a timeout or
// cancellation. If the hand-off raced the timeout and the lock was already
// given to us, pass it straight to the next waiter (or free it).
func (m *Manager) abandonWait(key string, wait chan bool) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, held := m.locks[key]
	if !held {
		return ""
	}

	for i, w := range state.waiters {
		if w == wait {
			state.waiters = append(state.waiters[:i], state.waiters[i+1:]...)
			return state.holder
		}
	}

	// Not in the queue: the release already handed the lock to this waiter.
	select {
	case granted := <-wait:
		if granted {
			m.handOff(key, state)
		}
	default:
	}
	return state.holder
}

// releaseFunc returns an idempotent closure releasing key.
func (m *Manager) releaseFunc(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { m.Release(key) })
	}
}

// Release frees the lock for key, handing it to the next queued waiter if
// any. Releasing an unheld key is a no-op.
func (m *Manager) Release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, held := m.locks[key]
	if !held {
		return
	}
	m.handOff(key, state)
}

// handOff gives the lock to the next waiter, or removes the table entry
// when the queue is empty. Callers must hold mu.
func (m *Manager) handOff(key string, state *lockState) {
	if len(state.waiters) == 0 {
		delete(m.locks, key)
		return
	}
	next := state.waiters[0]
	state.waiters = state.waiters[1:]
	next <- true
}

// Status reports whether key is locked and by whom.
func (m *Manager) Status(key string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, held := m.locks[key]
	if !held {
		return Status{Locked: false}
	}
	return Status{
		Locked: true,
		Info: &Info{
			Key:        key,
			Holder:     state.holder,
			AcquiredAt: state.acquiredAt,
		},
	}
}

// ReleaseAll clears the whole lock table. Queued waiters are woken with
// ErrAborted, never granted the lock. Intended for tests and process
// shutdown only.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, state := range m.locks {
		for _, w := range state.waiters {
			w <- false
		}
		delete(m.locks, key)
	}
}

// Process-wide lock table shared by orchestrator and executor, mirroring the
// single shared rate limiter.
var (
	defaultManager *Manager
	defaultOnce    sync.Once
)

// Default returns the shared process-wide lock manager.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultManager = NewManager()
	})
	return defaultManager
}

// ResetDefault clears the shared lock table, for tests.
func ResetDefault() {
	Default().ReleaseAll()
}
