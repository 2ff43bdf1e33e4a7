package index

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebuildRegistry_BeginThenStatus(t *testing.T) {
	r := NewRebuildRegistry()

	tracker, ok := r.Begin("users/1")
	require.True(t, ok)
	tracker.Start(3)
	tracker.RecordSuccess()
	tracker.RecordFailure()

	status, ok := r.Status("users/1")
	require.True(t, ok)
	assert.Equal(t, RebuildRunning, status.State)
	assert.Equal(t, 3, status.MemosTotal)
	assert.Equal(t, 2, status.MemosProcessed)
	assert.Equal(t, 1, status.MemosFailed)
}

func TestRebuildRegistry_RejectsConcurrentRebuildForSameCreator(t *testing.T) {
	r := NewRebuildRegistry()
	_, ok := r.Begin("users/1")
	require.True(t, ok)

	_, ok = r.Begin("users/1")

	assert.False(t, ok)
}

func TestRebuildRegistry_AllowsNewRebuildAfterPreviousFinished(t *testing.T) {
	r := NewRebuildRegistry()
	first, ok := r.Begin("users/1")
	require.True(t, ok)
	first.Finish(nil)

	_, ok = r.Begin("users/1")

	assert.True(t, ok)
}

func TestRebuildRegistry_DifferentCreatorsAreIndependent(t *testing.T) {
	r := NewRebuildRegistry()
	_, ok1 := r.Begin("users/1")
	_, ok2 := r.Begin("users/2")

	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestRebuildTracker_FinishWithErrorMarksFailed(t *testing.T) {
	r := NewRebuildRegistry()
	tracker, _ := r.Begin("users/1")
	tracker.Start(1)

	tracker.Finish(errors.New("fetch failed"))

	status, ok := r.Status("users/1")
	require.True(t, ok)
	assert.Equal(t, RebuildFailed, status.State)
	assert.Equal(t, "fetch failed", status.Error)
}

func TestRebuildRegistry_StatusUnknownCreator(t *testing.T) {
	r := NewRebuildRegistry()

	_, ok := r.Status("users/never-started")

	assert.False(t, ok)
}
