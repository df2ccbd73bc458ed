package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dock-orchestrator/core/models"
	"dock-orchestrator/core/statestore"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func seedTask(t *testing.T, s *statestore.Store, batch, gen int, queueWait, runTime time.Duration) {
	t.Helper()
	queued := epoch.Add(time.Duration(batch) * time.Minute)
	started := queued.Add(queueWait)
	require.NoError(t, s.PutTask(&models.Task{
		BatchIndex: batch,
		Generation: gen,
		State:      models.TaskStateCompleted,
		QueuedAt:   queued,
		StartedAt:  started,
		EndedAt:    started.Add(runTime),
	}))
}

func TestReportPerTaskSpans(t *testing.T) {
	s, err := statestore.New(t.TempDir())
	require.NoError(t, err)
	seedTask(t, s, 0, 1, 2*time.Minute, 10*time.Minute)
	seedTask(t, s, 1, 1, 4*time.Minute, 20*time.Minute)

	rep, err := NewReporter(s).Report()
	require.NoError(t, err)
	require.Len(t, rep.Tasks, 2)
	assert.Equal(t, 0, rep.Untimed)

	assert.Equal(t, 2*time.Minute, rep.Tasks[0].QueueWait)
	assert.Equal(t, 10*time.Minute, rep.Tasks[0].RunTime)
	assert.Equal(t, 4*time.Minute, rep.Tasks[1].QueueWait)
}

func TestReportStats(t *testing.T) {
	s, err := statestore.New(t.TempDir())
	require.NoError(t, err)
	for i, rt := range []time.Duration{10 * time.Minute, 20 * time.Minute, 30 * time.Minute, 60 * time.Minute} {
		seedTask(t, s, i, 1, time.Minute, rt)
	}

	rep, err := NewReporter(s).Report()
	require.NoError(t, err)

	assert.Equal(t, 4, rep.RunTime.Count)
	assert.Equal(t, 120*time.Minute, rep.RunTime.Sum)
	assert.Equal(t, 30*time.Minute, rep.RunTime.Mean)
	assert.Equal(t, 25*time.Minute, rep.RunTime.Median)
	assert.Equal(t, []time.Duration{60 * time.Minute, 30 * time.Minute, 20 * time.Minute}, rep.RunTime.Top)
	assert.Greater(t, rep.RunTime.Stddev, time.Duration(0))
}

func TestReportCountsUntimedTasks(t *testing.T) {
	s, err := statestore.New(t.TempDir())
	require.NoError(t, err)
	seedTask(t, s, 0, 1, time.Minute, time.Minute)
	// Still queued: no start or end timestamps yet.
	require.NoError(t, s.PutTask(&models.Task{
		BatchIndex: 1, Generation: 1, State: models.TaskStateQueued, QueuedAt: epoch,
	}))

	rep, err := NewReporter(s).Report()
	require.NoError(t, err)
	assert.Len(t, rep.Tasks, 1)
	assert.Equal(t, 1, rep.Untimed)
}

func TestReportIncludesAllGenerations(t *testing.T) {
	s, err := statestore.New(t.TempDir())
	require.NoError(t, err)
	seedTask(t, s, 0, 1, time.Minute, 5*time.Minute)
	seedTask(t, s, 0, 2, time.Minute, 7*time.Minute)

	rep, err := NewReporter(s).Report()
	require.NoError(t, err)
	assert.Len(t, rep.Tasks, 2)
	assert.Equal(t, 12*time.Minute, rep.RunTime.Sum)
}

func TestReportWallClock(t *testing.T) {
	s, err := statestore.New(t.TempDir())
	require.NoError(t, err)
	seedTask(t, s, 0, 1, time.Minute, 10*time.Minute)
	seedTask(t, s, 5, 1, time.Minute, 30*time.Minute)

	rep, err := NewReporter(s).Report()
	require.NoError(t, err)
	// First queued at batch 0's timestamp, last ended by batch 5's task.
	want := epoch.Add(5*time.Minute + time.Minute + 30*time.Minute).Sub(epoch)
	assert.Equal(t, want, rep.WallClock)
}

func TestReportEmptyStore(t *testing.T) {
	s, err := statestore.New(t.TempDir())
	require.NoError(t, err)

	rep, err := NewReporter(s).Report()
	require.NoError(t, err)
	assert.Empty(t, rep.Tasks)
	assert.Equal(t, 0, rep.QueueWait.Count)
	assert.Equal(t, time.Duration(0), rep.WallClock)
}
