package syncer

import (
	"context"
	"sync"
	"time"
)

// Phase is the current step of the sync state machine.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseFolders       Phase = "folders"
	PhaseBasicReleases Phase = "basic-releases"
	PhaseDetails       Phase = "details"
	PhaseError         Phase = "error"
)

// Progress is a current/total pair for the active phase.
type Progress struct {
	Current int
	Total   int
}

// Status is an observable snapshot of the sync session.
type Status struct {
	Syncing        bool
	Phase          Phase
	Progress       *Progress
	Error          string
	DetailFailed   int
	LastFullSyncAt *time.Time
}

// Tracker owns the shared sync state: the single-active-session guard,
// the phase machine, and the cancellation handle. Observers receive a
// Status copy after every transition; the UI layer subscribes here.
type Tracker struct {
	mu        sync.Mutex
	status    Status
	cancel    context.CancelFunc
	observers []func(Status)
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{status: Status{Phase: PhaseIdle}}
}

// Subscribe registers an observer invoked on every status change.
func (t *Tracker) Subscribe(fn func(Status)) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// Status returns the current snapshot.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// begin claims the single active session, superseding any previous
// cancellation handle. Returns ok=false when a session is already
// running; the new run is a no-op then.
func (t *Tracker) begin(parent context.Context) (context.Context, bool) {
	t.mu.Lock()
	if t.status.Syncing {
		t.mu.Unlock()
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	t.cancel = cancel
	t.status.Syncing = true
	t.status.Error = ""
	t.status.Progress = nil
	t.status.DetailFailed = 0
	t.notifyLocked()
	return ctx, true
}

// Cancel aborts the active session, if any, and resets to idle.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.status = Status{Phase: PhaseIdle, LastFullSyncAt: t.status.LastFullSyncAt}
	t.notifyLocked()
}

// Dismiss clears an error banner back to idle without touching data.
func (t *Tracker) Dismiss() {
	t.mu.Lock()
	if t.status.Phase == PhaseError {
		t.status.Phase = PhaseIdle
		t.status.Error = ""
	}
	t.notifyLocked()
}

func (t *Tracker) setPhase(p Phase) {
	t.mu.Lock()
	t.status.Phase = p
	t.status.Error = ""
	t.notifyLocked()
}

func (t *Tracker) setProgress(current, total int) {
	t.mu.Lock()
	t.status.Progress = &Progress{Current: current, Total: total}
	t.notifyLocked()
}

func (t *Tracker) setDetailFailed(n int) {
	t.mu.Lock()
	t.status.DetailFailed = n
	t.notifyLocked()
}

func (t *Tracker) setLastFullSyncAt(ts time.Time) {
	t.mu.Lock()
	t.status.LastFullSyncAt = &ts
	t.notifyLocked()
}

// fail records a user-visible failure and ends the session.
func (t *Tracker) fail(msg string) {
	t.mu.Lock()
	t.status.Phase = PhaseError
	t.status.Error = msg
	t.status.Syncing = false
	t.cancel = nil
	t.notifyLocked()
}

// finish ends the session cleanly, returning to idle.
func (t *Tracker) finish() {
	t.mu.Lock()
	t.status.Syncing = false
	t.status.Phase = PhaseIdle
	t.status.Progress = nil
	t.cancel = nil
	t.notifyLocked()
}

// notifyLocked snapshots status, releases the lock, and invokes the
// observers. Callers must hold mu; it is released on return.
func (t *Tracker) notifyLocked() {
	snapshot := t.status
	observers := make([]func(Status), len(t.observers))
	copy(observers, t.observers)
	t.mu.Unlock()
	for _, fn := range observers {
		fn(snapshot)
	}
}
