package models

import "time"

// TaskState represents the lifecycle state of a scheduled task
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateQueued    TaskState = "queued"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCancelled TaskState = "cancelled"
)

// Terminal reports whether the state is final. Only Completed counts as
// done for resume purposes.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCancelled:
		return true
	}
	return false
}

// Task is one scheduled execution of one batch. A task record is keyed by
// (campaign, batch index, generation) and written by exactly one owner:
// the worker that runs it. Re-submission creates a new generation; old
// records are kept for audit.
type Task struct {
	CampaignID string    `json:"campaign_id"`
	BatchIndex int       `json:"batch_index"`
	Generation int       `json:"generation"`
	ArrayJobID string    `json:"array_job_id"`
	ArrayIndex int       `json:"array_index"`
	State      TaskState `json:"state"`

	QueuedAt    time.Time `json:"queued_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	EndedAt     time.Time `json:"ended_at,omitempty"`
	HeartbeatAt time.Time `json:"heartbeat_at,omitempty"`

	ExitCode   int    `json:"exit_code"`
	Diagnostic string `json:"diagnostic,omitempty"`

	Node NodeTelemetry `json:"node,omitempty"`
}

// NodeTelemetry captures compute-node health sampled by the worker
// alongside its heartbeat.
type NodeTelemetry struct {
	Hostname      string  `json:"hostname,omitempty"`
	CPUPercent    float64 `json:"cpu_percent,omitempty"`
	MemoryPercent float64 `json:"memory_percent,omitempty"`
}

// Stale reports whether a running task's heartbeat is older than the
// given threshold.
func (t *Task) Stale(now time.Time, threshold time.Duration) bool {
	if t.State != TaskStateRunning {
		return false
	}
	last := t.HeartbeatAt
	if last.IsZero() {
		last = t.StartedAt
	}
	if last.IsZero() {
		last = t.QueuedAt
	}
	return now.Sub(last) > threshold
}

// JobArray is one scheduler-level submission covering a group of batches.
// Array index i runs batch Assignments[i].Batch at generation
// Assignments[i].Generation. On a first submission the group is a
// contiguous slice of the campaign's batches; on resume it can be any
// subset, so the mapping is carried explicitly.
type JobArray struct {
	JobID       string       `json:"job_id"`
	CampaignID  string       `json:"campaign_id"`
	Assignments []Assignment `json:"assignments"`
	Throttle    int          `json:"throttle"`
	SubmittedAt time.Time    `json:"submitted_at"`
}

// Assignment binds one scheduler array index to one batch generation.
type Assignment struct {
	Batch      int `json:"batch"`
	Generation int `json:"generation"`
}

// Size returns the number of array indices in the submission.
func (a *JobArray) Size() int { return len(a.Assignments) }

// BatchIndices returns the batch indices covered by the array, in order.
func (a *JobArray) BatchIndices() []int {
	out := make([]int, len(a.Assignments))
	for i, as := range a.Assignments {
		out[i] = as.Batch
	}
	return out
}
