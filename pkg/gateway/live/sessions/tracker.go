// Package sessions tracks live bridge sessions for admission control and
// graceful shutdown broadcast. It is off the per-message hot path.
package sessions

import (
	"context"
	"errors"
	"sync"
)

// ErrCapacityExceeded is returned by Acquire when the configured concurrent
// session limit is reached.
var ErrCapacityExceeded = errors.New("session capacity exceeded")

type Handle struct {
	Cancel func()
	Warn   func(code, message string)
}

// Tracker holds the active session table and a counting semaphore over it.
// A zero limit admits nothing; a negative limit admits everything.
type Tracker struct {
	limit int

	mu       sync.Mutex
	inflight int
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

func NewTracker(limit int) *Tracker {
	return &Tracker{
		limit:    limit,
		sessions: make(map[string]*trackedSession),
	}
}

// Acquire reserves one admission slot before any session resources are
// built. The returned release func is idempotent and must be called once
// the session ends (or was never started).
func (t *Tracker) Acquire() (release func(), err error) {
	if t == nil {
		return func() {}, nil
	}

	t.mu.Lock()
	if t.limit >= 0 && t.inflight >= t.limit {
		t.mu.Unlock()
		return nil, ErrCapacityExceeded
	}
	t.inflight++
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			t.inflight--
			t.mu.Unlock()
		})
	}, nil
}

func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedSession{handle: h}

	t.mu.Lock()
	if t.sessions == nil {
		t.sessions = make(map[string]*trackedSession)
	}
	old := t.sessions[sessionID]
	t.sessions[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}

	return func() { t.unregister(sessionID, entry) }
}

func (t *Tracker) unregister(sessionID string, entry *trackedSession) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions != nil && t.sessions[sessionID] == entry {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *Tracker) WarnAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}

	var warns []func(code, message string)
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry == nil || entry.handle.Warn == nil {
			continue
		}
		warns = append(warns, entry.handle.Warn)
	}
	t.mu.Unlock()

	for _, warn := range warns {
		warn(code, message)
		sent++
	}
	return sent
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
