package index

import (
	"sync"
	"time"
)

// RebuildState is the lifecycle of one creator's rebuild task.
type RebuildState string

const (
	RebuildPending   RebuildState = "pending"
	RebuildRunning   RebuildState = "running"
	RebuildCompleted RebuildState = "completed"
	RebuildFailed    RebuildState = "failed"
)

// RebuildStatus is an immutable snapshot of one creator's rebuild progress.
type RebuildStatus struct {
	Creator        string       `json:"creator"`
	State          RebuildState `json:"state"`
	MemosTotal     int          `json:"memos_total"`
	MemosProcessed int          `json:"memos_processed"`
	MemosFailed    int          `json:"memos_failed"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// rebuildTracker is the mutable, per-creator progress tracker behind a
// RebuildStatus snapshot. One instance exists per creator since a
// rebuild-all task is keyed by creator rather than being a single
// process-wide operation.
type rebuildTracker struct {
	mu sync.RWMutex

	creator        string
	state          RebuildState
	memosTotal     int
	memosProcessed int
	memosFailed    int
	startedAt      time.Time
	finishedAt     time.Time
	errMessage     string
}

func newRebuildTracker(creator string) *rebuildTracker {
	return &rebuildTracker{creator: creator, state: RebuildPending, startedAt: time.Now()}
}

// Start transitions the tracker to running with the given expected total.
func (t *rebuildTracker) Start(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = RebuildRunning
	t.memosTotal = total
	t.startedAt = time.Now()
}

// RecordSuccess counts one successfully reindexed memo.
func (t *rebuildTracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.memosProcessed++
}

// RecordFailure counts one memo that failed to reindex. The rebuild does
// not abort on a per-memo failure; it is only counted.
func (t *rebuildTracker) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.memosProcessed++
	t.memosFailed++
}

// Finish marks the rebuild completed or failed.
func (t *rebuildTracker) Finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finishedAt = time.Now()
	if err != nil {
		t.state = RebuildFailed
		t.errMessage = err.Error()
		return
	}
	t.state = RebuildCompleted
}

func (t *rebuildTracker) isActive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state == RebuildPending || t.state == RebuildRunning
}

// Snapshot returns an immutable copy of the tracker's current state.
func (t *rebuildTracker) Snapshot() RebuildStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return RebuildStatus{
		Creator:        t.creator,
		State:          t.state,
		MemosTotal:     t.memosTotal,
		MemosProcessed: t.memosProcessed,
		MemosFailed:    t.memosFailed,
		StartedAt:      t.startedAt,
		FinishedAt:     t.finishedAt,
		Error:          t.errMessage,
	}
}

// RebuildRegistry enforces the one-active-rebuild-per-creator rule:
// starting a second rebuild while one is pending/running for the same
// creator is refused by Begin, which the ingest pipeline reports as
// ErrCodeRebuildInProgress (ERR_501_REBUILD_IN_PROGRESS).
type RebuildRegistry struct {
	trackers sync.Map // creator -> *rebuildTracker
}

// NewRebuildRegistry creates an empty registry.
func NewRebuildRegistry() *RebuildRegistry {
	return &RebuildRegistry{}
}

// Begin registers a new rebuild for creator, or returns (nil, false) if one
// is already pending/running.
func (r *RebuildRegistry) Begin(creator string) (*rebuildTracker, bool) {
	tracker := newRebuildTracker(creator)
	actual, loaded := r.trackers.LoadOrStore(creator, tracker)
	if loaded {
		existing := actual.(*rebuildTracker)
		if existing.isActive() {
			return nil, false
		}
		r.trackers.Store(creator, tracker)
		return tracker, true
	}
	return tracker, true
}

// Status returns the current rebuild status for creator, if one has ever
// run.
func (r *RebuildRegistry) Status(creator string) (RebuildStatus, bool) {
	v, ok := r.trackers.Load(creator)
	if !ok {
		return RebuildStatus{}, false
	}
	return v.(*rebuildTracker).Snapshot(), true
}
