package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dock-orchestrator/config"
	"dock-orchestrator/core/models"
	"dock-orchestrator/core/statestore"
)

// fakeClient records submissions and returns scripted responses.
type fakeClient struct {
	reqs      []ArrayRequest
	failCalls map[int]error // call index -> error
	cancelled []string
	queue     map[string][]QueueEntry
}

func (f *fakeClient) SubmitArray(ctx context.Context, req ArrayRequest) (string, error) {
	call := len(f.reqs)
	f.reqs = append(f.reqs, req)
	if err, ok := f.failCalls[call]; ok {
		return "", err
	}
	return strconv.Itoa(1000 + call), nil
}

func (f *fakeClient) QueueStatus(ctx context.Context, jobID string) ([]QueueEntry, error) {
	return f.queue[jobID], nil
}

func (f *fakeClient) Cancel(ctx context.Context, jobID string) error {
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func testConfig(root string) *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			LigandPath: "/data/ligands.sdf",
			Licensing:  "lf:flexlm;http://license.example.org:8080;",
			BatchSize:  2000,
			LogLevel:   1,
			Scoring:    config.ScoringDescending,
		},
		Paths: config.PathsConfig{SharedRoot: root},
		Scheduler: config.SchedulerConfig{
			JobName:         "docking",
			TimeLimit:       "24:00:00",
			Nodes:           1,
			MaxArraySize:    2,
			MaxRunningTasks: 10,
			CommandTimeout:  time.Second,
			StaleAfter:      30 * time.Minute,
		},
	}
}

func newTestSubmitter(t *testing.T) (*Submitter, *fakeClient, *statestore.Store) {
	t.Helper()
	cfg := testConfig(t.TempDir())
	store, err := statestore.New(cfg.StateDir("c1"))
	require.NoError(t, err)
	client := &fakeClient{failCalls: map[int]error{}}
	return NewSubmitter(store, client, cfg, "/etc/dock/campaign.yaml", quietLogger()), client, store
}

func assignments(n int) []models.Assignment {
	out := make([]models.Assignment, n)
	for i := range out {
		out[i] = models.Assignment{Batch: i, Generation: 1}
	}
	return out
}

func TestGroupAssignments(t *testing.T) {
	groups := GroupAssignments(assignments(5), 2)
	require.Len(t, groups, 3)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 2)
	assert.Len(t, groups[2], 1)

	assert.Len(t, GroupAssignments(assignments(2), 2), 1)
	assert.Empty(t, GroupAssignments(nil, 2))
}

func TestEncodeDecodeAssignments(t *testing.T) {
	as := []models.Assignment{{Batch: 0, Generation: 1}, {Batch: 7, Generation: 3}}
	tag := EncodeAssignments(as)
	assert.Equal(t, "0:1,7:3", tag)

	decoded, err := DecodeAssignments(tag)
	require.NoError(t, err)
	assert.Equal(t, as, decoded)
}

func TestDecodeAssignmentsMalformed(t *testing.T) {
	for _, tag := range []string{"", "0", "0:x", "x:1", "0:1,,2:1"} {
		_, err := DecodeAssignments(tag)
		assert.Error(t, err, "tag %q", tag)
	}
}

func TestSubmitSplitsOversizedArrays(t *testing.T) {
	s, client, store := newTestSubmitter(t)

	// Three batches against a maximum array size of two: two chained
	// arrays of sizes two and one.
	outcomes, err := s.Submit(context.Background(), "c1", assignments(3))
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.Len(t, client.reqs, 2)

	assert.Equal(t, 2, client.reqs[0].Size)
	assert.Equal(t, 1, client.reqs[1].Size)
	assert.Empty(t, client.reqs[0].DependsOn)
	assert.Equal(t, "1000", client.reqs[1].DependsOn)

	arrays, err := store.ListJobArrays()
	require.NoError(t, err)
	require.Len(t, arrays, 2)
	assert.Equal(t, []int{0, 1}, arrays[0].BatchIndices())
	assert.Equal(t, []int{2}, arrays[1].BatchIndices())
}

func TestSubmitThrottleCappedByGroupSize(t *testing.T) {
	s, client, _ := newTestSubmitter(t)
	_, err := s.Submit(context.Background(), "c1", assignments(3))
	require.NoError(t, err)

	// MaxRunningTasks is 10, far above both group sizes.
	assert.Equal(t, 2, client.reqs[0].Throttle)
	assert.Equal(t, 1, client.reqs[1].Throttle)
}

func TestSubmitThrottleCappedByConfig(t *testing.T) {
	s, client, _ := newTestSubmitter(t)
	s.cfg.Scheduler.MaxRunningTasks = 1
	_, err := s.Submit(context.Background(), "c1", assignments(2))
	require.NoError(t, err)
	assert.Equal(t, 1, client.reqs[0].Throttle)
}

func TestSubmitRecordsQueuedTasks(t *testing.T) {
	s, _, store := newTestSubmitter(t)
	_, err := s.Submit(context.Background(), "c1", assignments(3))
	require.NoError(t, err)

	latest, err := store.LatestTasks()
	require.NoError(t, err)
	require.Len(t, latest, 3)
	for b := 0; b < 3; b++ {
		assert.Equal(t, models.TaskStateQueued, latest[b].State)
		assert.NotEmpty(t, latest[b].ArrayJobID)
		assert.False(t, latest[b].QueuedAt.IsZero())
	}
	// Array index restarts per job array.
	assert.Equal(t, 0, latest[0].ArrayIndex)
	assert.Equal(t, 1, latest[1].ArrayIndex)
	assert.Equal(t, 0, latest[2].ArrayIndex)
}

func TestSubmitPassesWorkerArguments(t *testing.T) {
	s, client, _ := newTestSubmitter(t)
	_, err := s.Submit(context.Background(), "c1", assignments(2))
	require.NoError(t, err)

	args := client.reqs[0].ScriptArgs
	joined := fmt.Sprint(args)
	assert.Contains(t, joined, "--campaign")
	assert.Contains(t, joined, "c1")
	assert.Contains(t, joined, "0:1,1:1")
	assert.Contains(t, joined, "--licensing")
	assert.NotEmpty(t, client.reqs[0].Script)
}

func TestSubmitPartialFailureParksGroup(t *testing.T) {
	s, client, store := newTestSubmitter(t)
	client.failCalls[1] = &UnavailableError{Command: "sbatch", Err: fmt.Errorf("connection refused")}

	outcomes, err := s.Submit(context.Background(), "c1", assignments(3))
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.NoError(t, outcomes[0].Err)
	assert.NotNil(t, outcomes[0].Array)
	assert.Error(t, outcomes[1].Err)
	assert.Nil(t, outcomes[1].Array)

	// The failed group waits on the pending queue for a later retry.
	pending, err := store.LoadPendingGroups()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, []models.Assignment{{Batch: 2, Generation: 1}}, pending[0])

	// The successful array stays in the ledger.
	arrays, err := store.ListJobArrays()
	require.NoError(t, err)
	require.Len(t, arrays, 1)
}

func TestSubmitChainsOntoExistingLedger(t *testing.T) {
	s, client, store := newTestSubmitter(t)
	require.NoError(t, store.AppendJobArray(&models.JobArray{JobID: "900", CampaignID: "c1"}))

	_, err := s.Submit(context.Background(), "c1", assignments(1))
	require.NoError(t, err)
	assert.Equal(t, "900", client.reqs[0].DependsOn)
}

func TestSubmitNothing(t *testing.T) {
	s, client, _ := newTestSubmitter(t)
	outcomes, err := s.Submit(context.Background(), "c1", nil)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Empty(t, client.reqs)
}
