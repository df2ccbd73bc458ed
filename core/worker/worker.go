package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"dock-orchestrator/core/batch"
	"dock-orchestrator/core/models"
	"dock-orchestrator/core/statestore"
)

// Params carries everything a worker needs to locate and run its task.
// The array index comes from the scheduler; the assignment list is the
// submission tag the job array was created with.
type Params struct {
	CampaignID  string
	InputDir    string
	OutputDir   string
	ArrayJobID  string
	ArrayIndex  int
	Assignments []models.Assignment
}

// Runner executes exactly one task on a compute node: unpack the batch,
// invoke the docking engine, record results and a terminal state. It is
// the single writer for its task's (batch, generation) record.
type Runner struct {
	store  *statestore.Store
	engine Engine
	log    *logrus.Logger

	// HeartbeatEvery is how often the running record is refreshed so the
	// resume controller can tell live tasks from stale ones.
	HeartbeatEvery time.Duration
}

// NewRunner creates a task runner.
func NewRunner(store *statestore.Store, engine Engine, log *logrus.Logger) *Runner {
	return &Runner{store: store, engine: engine, log: log, HeartbeatEvery: time.Minute}
}

// Run executes the task. Engine failures end the task as Failed with a
// captured diagnostic; they are never returned as errors. An error return
// means the worker could not even account for its work in the state
// store.
func (r *Runner) Run(ctx context.Context, p Params) error {
	if p.ArrayIndex < 0 || p.ArrayIndex >= len(p.Assignments) {
		return fmt.Errorf("array index %d outside assignment list (%d entries)", p.ArrayIndex, len(p.Assignments))
	}
	a := p.Assignments[p.ArrayIndex]
	log := r.log.WithFields(logrus.Fields{
		"campaign": p.CampaignID,
		"batch":    a.Batch,
		"gen":      a.Generation,
	})

	task := &models.Task{
		CampaignID: p.CampaignID,
		BatchIndex: a.Batch,
		Generation: a.Generation,
		ArrayJobID: p.ArrayJobID,
		ArrayIndex: p.ArrayIndex,
		State:      models.TaskStateRunning,
		QueuedAt:   r.queuedAt(a),
		StartedAt:  time.Now(),
	}
	task.HeartbeatAt = task.StartedAt
	task.Node = sampleNode()
	// The transition to Running is one atomic record write: a crash
	// before it leaves the task observably Queued, not lost.
	if err := r.store.PutTask(task); err != nil {
		return fmt.Errorf("record running state: %w", err)
	}

	stopHeartbeat := r.startHeartbeat(ctx, task)
	defer stopHeartbeat()

	outcome := r.execute(ctx, p, a, log)
	stopHeartbeat()

	task.EndedAt = time.Now()
	task.ExitCode = outcome.ExitCode
	task.Diagnostic = outcome.Diagnostic
	if outcome.Succeeded() {
		task.State = models.TaskStateCompleted
	} else {
		task.State = models.TaskStateFailed
	}
	if err := r.store.PutTask(task); err != nil {
		return fmt.Errorf("record terminal state: %w", err)
	}
	log.WithFields(logrus.Fields{
		"state":   task.State,
		"results": len(outcome.Records),
	}).Info("task finished")
	return nil
}

// queuedAt recovers the submission timestamp from the record the
// submitter wrote, keeping the queue-wait measurable.
func (r *Runner) queuedAt(a models.Assignment) time.Time {
	if prev, err := r.store.GetTask(a.Batch, a.Generation); err == nil && !prev.QueuedAt.IsZero() {
		return prev.QueuedAt
	}
	return time.Now()
}

// execute runs the engine over the unpacked batch and persists any
// results. All failures funnel into the returned Outcome.
func (r *Runner) execute(ctx context.Context, p Params, a models.Assignment, log *logrus.Entry) *Outcome {
	workDir, err := os.MkdirTemp("", fmt.Sprintf("dock_%s_%06d_", p.CampaignID, a.Batch))
	if err != nil {
		return &Outcome{ExitCode: -1, Diagnostic: fmt.Sprintf("working area: %v", err)}
	}
	defer os.RemoveAll(workDir)

	archive := filepath.Join(p.InputDir, batch.ArchiveName(a.Batch))
	if err := batch.Unpack(archive, workDir); err != nil {
		return &Outcome{ExitCode: -1, Diagnostic: fmt.Sprintf("unpack %s: %v", archive, err)}
	}

	outcome, err := r.engine.Run(ctx, workDir, a.Batch)
	if err != nil {
		return &Outcome{ExitCode: -1, Diagnostic: fmt.Sprintf("engine: %v", err)}
	}
	if !outcome.Succeeded() {
		log.WithField("diagnostic", outcome.Diagnostic).Warn("engine run failed")
		return outcome
	}

	taskOut := TaskOutputDir(p.OutputDir, a.Batch, a.Generation)
	if err := r.persistResults(workDir, taskOut, outcome); err != nil {
		return &Outcome{ExitCode: outcome.ExitCode,
			Diagnostic: fmt.Sprintf("persist results: %v", err)}
	}
	return outcome
}

// TaskOutputDir returns the output directory owned by one task
// generation.
func TaskOutputDir(outputRoot string, batchIndex, generation int) string {
	return filepath.Join(outputRoot, fmt.Sprintf("batch_%06d", batchIndex), fmt.Sprintf("g%d", generation))
}

// ResultsFilename is the immutable per-task result record file.
const ResultsFilename = "results.json"

// persistResults copies pose files into the task's output directory and
// writes the result records. Pose references are rewritten relative to
// the output directory so the collector can resolve them later.
func (r *Runner) persistResults(workDir, taskOut string, outcome *Outcome) error {
	if err := os.MkdirAll(taskOut, 0o755); err != nil {
		return err
	}
	engineOut := filepath.Join(workDir, "output")
	for i := range outcome.Records {
		rec := &outcome.Records[i]
		src := rec.PoseFile
		if !filepath.IsAbs(src) {
			src = filepath.Join(engineOut, src)
		}
		dst := filepath.Join(taskOut, filepath.Base(rec.PoseFile))
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("pose %s: %w", rec.PoseFile, err)
		}
		rec.PoseFile = filepath.Base(rec.PoseFile)
	}
	data, err := json.MarshalIndent(outcome.Records, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(taskOut, ".results.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(taskOut, ResultsFilename))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// startHeartbeat refreshes the running record on a ticker until stopped.
func (r *Runner) startHeartbeat(ctx context.Context, task *models.Task) func() {
	hctx, cancel := context.WithCancel(ctx)
	var once sync.Once
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.HeartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-ticker.C:
				beat := *task
				beat.HeartbeatAt = time.Now()
				beat.Node = sampleNode()
				if err := r.store.PutTask(&beat); err != nil {
					r.log.WithError(err).Warn("heartbeat write failed")
					continue
				}
				task.HeartbeatAt = beat.HeartbeatAt
				task.Node = beat.Node
			}
		}
	}()
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// sampleNode captures host telemetry for the task record. Failures leave
// fields zero; telemetry is best effort.
func sampleNode() models.NodeTelemetry {
	var t models.NodeTelemetry
	t.Hostname, _ = os.Hostname()
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		t.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		t.MemoryPercent = vm.UsedPercent
	}
	return t
}
