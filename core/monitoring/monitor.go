package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"dock-orchestrator/core/models"
	"dock-orchestrator/core/scheduler"
	"dock-orchestrator/core/statestore"
)

// LiveStatusUnknown is reported when the scheduler's view of a task
// cannot be obtained. It is informational, never an error.
const LiveStatusUnknown = "unknown"

// TaskStatus pairs a task's persisted record with the scheduler's live
// view of it, when obtainable.
type TaskStatus struct {
	Task       *models.Task `json:"task"`
	LiveStatus string       `json:"live_status,omitempty"`
}

// Snapshot is a point-in-time, read-only view of a campaign.
type Snapshot struct {
	Campaign *models.Campaign           `json:"campaign"`
	Tasks    []TaskStatus               `json:"tasks"`
	Counts   map[models.TaskState]int   `json:"counts"`
	TakenAt  time.Time                  `json:"taken_at"`
}

// Progress returns completed task count against total batches. Batches
// without a task record yet still count toward the total.
func (s *Snapshot) Progress() (completed, total int) {
	return s.Counts[models.TaskStateCompleted], s.Campaign.BatchCount
}

// Monitor builds campaign snapshots from the state store and the
// scheduler queue. It never writes to the store and never calls scheduler
// mutation operations.
type Monitor struct {
	store  *statestore.Store
	client scheduler.Client
	log    *logrus.Logger
}

// NewMonitor creates a monitor. client may be nil, in which case live
// scheduler status is reported as unknown.
func NewMonitor(store *statestore.Store, client scheduler.Client, log *logrus.Logger) *Monitor {
	return &Monitor{store: store, client: client, log: log}
}

// Snapshot reports the current state of every known task. jobID narrows
// the live-status query to one job array; empty means all.
func (m *Monitor) Snapshot(ctx context.Context, jobID string) (*Snapshot, error) {
	campaign, err := m.store.LoadCampaign()
	if err != nil {
		return nil, err
	}
	latest, err := m.store.LatestTasks()
	if err != nil {
		return nil, err
	}

	live := m.liveStatuses(ctx, jobID)

	snap := &Snapshot{
		Campaign: campaign,
		Counts:   make(map[models.TaskState]int),
		TakenAt:  time.Now(),
	}
	batches := make([]int, 0, len(latest))
	for b := range latest {
		batches = append(batches, b)
	}
	sort.Ints(batches)
	for _, b := range batches {
		t := latest[b]
		ts := TaskStatus{Task: t}
		if !t.State.Terminal() {
			ts.LiveStatus = LiveStatusUnknown
			if status, ok := live[liveKey{t.ArrayJobID, t.ArrayIndex}]; ok {
				ts.LiveStatus = status
			}
		}
		snap.Tasks = append(snap.Tasks, ts)
		snap.Counts[t.State]++
	}
	return snap, nil
}

type liveKey struct {
	jobID string
	index int
}

// liveStatuses queries the scheduler queue for every job array in scope.
// Unreachable schedulers degrade to an empty map, reported upstream as
// unknown status.
func (m *Monitor) liveStatuses(ctx context.Context, jobID string) map[liveKey]string {
	live := make(map[liveKey]string)
	if m.client == nil {
		return live
	}
	arrays, err := m.store.ListJobArrays()
	if err != nil {
		m.log.WithError(err).Warn("job array ledger unreadable")
		return live
	}
	for _, a := range arrays {
		if jobID != "" && a.JobID != jobID {
			continue
		}
		entries, err := m.client.QueueStatus(ctx, a.JobID)
		if err != nil {
			m.log.WithError(err).WithField("job_id", a.JobID).Debug("queue status unavailable")
			continue
		}
		for _, e := range entries {
			for i := e.FirstIndex; i <= e.LastIndex; i++ {
				live[liveKey{a.JobID, i}] = e.Status
			}
		}
	}
	return live
}
