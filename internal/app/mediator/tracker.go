package mediator

import (
	"sync"
	"time"

	"github.com/ahrav/cluster-mediator/internal/domain/cluster"
)

// pendingChangeTracker records the most recent un-drained notification per
// change kind. Notification callbacks write concurrently; the drain loop (or
// the fallback path) is the single reader. Last write wins: a burst of
// notifications for one kind collapses into a single entry carrying the
// newest timestamp, which is what queue-latency accounting is based on.
type pendingChangeTracker struct {
	mu      sync.Mutex
	pending map[cluster.ChangeKind]time.Time
}

func newPendingChangeTracker() *pendingChangeTracker {
	return &pendingChangeTracker{pending: make(map[cluster.ChangeKind]time.Time)}
}

// notify marks kind as pending at the current time, overwriting any earlier
// un-drained notification. It never blocks and never fails.
func (t *pendingChangeTracker) notify(kind cluster.ChangeKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[kind] = time.Now()
}

// takeAndClear atomically removes and returns the pending notification time
// for kind. The removal happens before the handler runs, so a notification
// arriving mid-handler creates a fresh entry instead of being lost.
func (t *pendingChangeTracker) takeAndClear(kind cluster.ChangeKind) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	notifiedAt, ok := t.pending[kind]
	if ok {
		delete(t.pending, kind)
	}
	return notifiedAt, ok
}

// processTimeTracker records when each kind was last processed (successfully
// or not). Every registered kind has an entry from construction onward; the
// drain loop compares these against the proactive-check interval to catch
// kinds whose notifications stopped arriving.
type processTimeTracker struct {
	mu        sync.RWMutex
	processed map[cluster.ChangeKind]time.Time
}

func newProcessTimeTracker(kinds []cluster.ChangeKind, initTime time.Time) *processTimeTracker {
	processed := make(map[cluster.ChangeKind]time.Time, len(kinds))
	for _, kind := range kinds {
		processed[kind] = initTime
	}
	return &processTimeTracker{processed: processed}
}

func (t *processTimeTracker) get(kind cluster.ChangeKind) time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.processed[kind]
}

func (t *processTimeTracker) set(kind cluster.ChangeKind, processedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed[kind] = processedAt
}
