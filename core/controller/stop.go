package controller

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"dock-orchestrator/config"
	"dock-orchestrator/core/models"
	"dock-orchestrator/core/scheduler"
	"dock-orchestrator/core/statestore"
)

// StopReport describes what a stop pass did.
type StopReport struct {
	// CancelledJobs are the job arrays a cancellation was sent for.
	CancelledJobs []string
	// CancelledBatches are the batches whose tasks were marked Cancelled.
	CancelledBatches []int
	// Unconfirmed is set when the scheduler did not confirm cancellation
	// within the bounded wait and tasks were marked optimistically.
	Unconfirmed bool
	// NextSubmitted is the job id of the next pending group submitted
	// after the stop, if any.
	NextSubmitted string
}

// NoOp reports whether there was nothing to cancel.
func (r *StopReport) NoOp() bool { return len(r.CancelledJobs) == 0 }

// StopController cancels a job array or a whole campaign. Cancellation is
// cooperative: the scheduler terminates task processes; the controller
// then records the tasks as Cancelled. Stopping an already-stopped scope
// is a no-op.
type StopController struct {
	store     *statestore.Store
	client    scheduler.Client
	submitter *scheduler.Submitter
	cfg       *config.Config
	log       *logrus.Logger

	// ConfirmWait bounds how long to wait for the scheduler to confirm
	// the queue has drained before marking tasks optimistically.
	ConfirmWait time.Duration
	// PollEvery is the confirmation poll interval.
	PollEvery time.Duration

	now func() time.Time
}

// NewStopController creates a stop controller.
func NewStopController(store *statestore.Store, client scheduler.Client, submitter *scheduler.Submitter, cfg *config.Config, log *logrus.Logger) *StopController {
	return &StopController{
		store:       store,
		client:      client,
		submitter:   submitter,
		cfg:         cfg,
		log:         log,
		ConfirmWait: 30 * time.Second,
		PollEvery:   2 * time.Second,
		now:         time.Now,
	}
}

// Stop cancels all non-terminal tasks under the scope. jobID narrows the
// scope to one job array; empty means the whole campaign. If groups are
// queued awaiting submission, the next one is submitted after the stop.
func (c *StopController) Stop(ctx context.Context, campaignID, jobID string) (*StopReport, error) {
	latest, err := c.store.LatestTasks()
	if err != nil {
		return nil, err
	}
	arrays, err := c.store.ListJobArrays()
	if err != nil {
		return nil, err
	}

	// Job arrays that still own a non-terminal task.
	active := make(map[string][]*models.Task)
	for _, t := range latest {
		if t.State.Terminal() {
			continue
		}
		if jobID != "" && t.ArrayJobID != jobID {
			continue
		}
		active[t.ArrayJobID] = append(active[t.ArrayJobID], t)
	}

	report := &StopReport{}
	if len(active) == 0 {
		c.log.Info("nothing to stop")
		return c.submitNext(ctx, campaignID, report)
	}

	for _, a := range arrays {
		tasks, ok := active[a.JobID]
		if !ok {
			continue
		}
		if err := c.client.Cancel(ctx, a.JobID); err != nil {
			return report, err
		}
		report.CancelledJobs = append(report.CancelledJobs, a.JobID)
		confirmed := c.awaitDrained(ctx, a.JobID)
		if !confirmed {
			report.Unconfirmed = true
			c.log.WithField("job_id", a.JobID).Warn("cancellation unconfirmed, marking tasks cancelled optimistically")
		}
		ended := c.now()
		for _, t := range tasks {
			marked, err := c.markCancelled(t, ended)
			if err != nil {
				return report, err
			}
			if marked {
				report.CancelledBatches = append(report.CancelledBatches, t.BatchIndex)
			}
		}
		c.log.WithFields(logrus.Fields{
			"job_id": a.JobID,
			"tasks":  len(tasks),
		}).Info("job array stopped")
	}
	// Tasks whose array never made it into the ledger (pending records
	// from a failed submission) are cancelled directly.
	for id, tasks := range active {
		if id != "" {
			continue
		}
		ended := c.now()
		for _, t := range tasks {
			marked, err := c.markCancelled(t, ended)
			if err != nil {
				return report, err
			}
			if marked {
				report.CancelledBatches = append(report.CancelledBatches, t.BatchIndex)
			}
		}
	}

	return c.submitNext(ctx, campaignID, report)
}

// markCancelled re-reads the task's record and writes Cancelled only
// while it is still non-terminal. A worker that finished during the
// drain wait keeps its terminal record.
func (c *StopController) markCancelled(t *models.Task, ended time.Time) (bool, error) {
	cur, err := c.store.GetTask(t.BatchIndex, t.Generation)
	if err != nil {
		cur = t
	}
	if cur.State.Terminal() {
		return false, nil
	}
	cancelled := *cur
	cancelled.State = models.TaskStateCancelled
	cancelled.EndedAt = ended
	if err := c.store.PutTask(&cancelled); err != nil {
		return false, err
	}
	return true, nil
}

// awaitDrained polls the scheduler queue until the job disappears or the
// bounded wait expires.
func (c *StopController) awaitDrained(ctx context.Context, jobID string) bool {
	deadline := c.now().Add(c.ConfirmWait)
	for c.now().Before(deadline) {
		entries, err := c.client.QueueStatus(ctx, jobID)
		if err == nil && len(entries) == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.PollEvery):
		}
	}
	return false
}

// submitNext pops the next queued group, if any, and submits it.
func (c *StopController) submitNext(ctx context.Context, campaignID string, report *StopReport) (*StopReport, error) {
	if c.submitter == nil {
		return report, nil
	}
	pending, err := c.store.LoadPendingGroups()
	if err != nil || len(pending) == 0 {
		return report, nil
	}
	next := pending[0]
	if err := c.store.SavePendingGroups(pending[1:]); err != nil {
		return report, err
	}
	outcomes, err := c.submitter.Submit(ctx, campaignID, next)
	if err != nil {
		return report, err
	}
	for _, o := range outcomes {
		if o.Array != nil {
			report.NextSubmitted = o.Array.JobID
		}
	}
	if report.NextSubmitted != "" {
		c.log.WithField("job_id", report.NextSubmitted).Info("submitted next queued job array")
	}
	return report, nil
}
