package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"dock-orchestrator/config"
	"dock-orchestrator/core/models"
	"dock-orchestrator/core/scheduler"
	"dock-orchestrator/core/statestore"
)

// ResumeConflictError reports a batch whose task is currently running
// with a fresh heartbeat; re-submitting it would race the in-flight
// worker. Only the batch in question is affected.
type ResumeConflictError struct {
	Batches []int
}

func (e *ResumeConflictError) Error() string {
	return fmt.Sprintf("resume conflict: batches %v are running and not stale", e.Batches)
}

// ResumeReport describes what a resume pass did.
type ResumeReport struct {
	// Resubmitted batches, in order.
	Resubmitted []int
	// Completed batches left untouched.
	Completed []int
	// Conflicts are running, non-stale batches that were skipped.
	Conflicts []int
	// Outcomes are the per-group submission results.
	Outcomes []scheduler.GroupOutcome
}

// NoOp reports whether the pass found nothing to re-submit.
func (r *ResumeReport) NoOp() bool {
	return len(r.Resubmitted) == 0 && len(r.Conflicts) == 0
}

// ResumeController re-submits exactly the batches whose latest task is
// not Completed. Completed work and existing result records are never
// touched; re-submission creates new task generations and keeps the old
// records for audit.
type ResumeController struct {
	store     *statestore.Store
	submitter *scheduler.Submitter
	cfg       *config.Config
	log       *logrus.Logger

	now func() time.Time
}

// NewResumeController creates a resume controller.
func NewResumeController(store *statestore.Store, submitter *scheduler.Submitter, cfg *config.Config, log *logrus.Logger) *ResumeController {
	return &ResumeController{store: store, submitter: submitter, cfg: cfg, log: log, now: time.Now}
}

// Resume recomputes the incomplete batch set and re-submits it. Batches
// with a live running task are skipped and reported via
// ResumeConflictError alongside the report; all other batches proceed.
func (c *ResumeController) Resume(ctx context.Context, campaignID string) (*ResumeReport, error) {
	campaign, err := c.store.LoadCampaign()
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	latest, err := c.store.LatestTasks()
	if err != nil {
		return nil, err
	}

	report := &ResumeReport{}
	now := c.now()
	var assignments []models.Assignment
	for b := 0; b < campaign.BatchCount; b++ {
		t, ok := latest[b]
		if !ok {
			assignments = append(assignments, models.Assignment{Batch: b, Generation: 1})
			report.Resubmitted = append(report.Resubmitted, b)
			continue
		}
		switch {
		case t.State == models.TaskStateCompleted:
			report.Completed = append(report.Completed, b)
		case t.State == models.TaskStateRunning && !t.Stale(now, c.cfg.Scheduler.StaleAfter):
			report.Conflicts = append(report.Conflicts, b)
		default:
			assignments = append(assignments, models.Assignment{Batch: b, Generation: t.Generation + 1})
			report.Resubmitted = append(report.Resubmitted, b)
		}
	}

	if len(assignments) == 0 {
		c.log.WithField("completed", len(report.Completed)).Info("nothing to resume")
	} else {
		if err := c.reconcilePending(assignments); err != nil {
			return nil, fmt.Errorf("reconcile pending queue: %w", err)
		}
		outcomes, err := c.submitter.Submit(ctx, campaignID, assignments)
		if err != nil {
			return nil, err
		}
		report.Outcomes = outcomes
		c.log.WithFields(logrus.Fields{
			"resubmitted": len(report.Resubmitted),
			"completed":   len(report.Completed),
			"conflicts":   len(report.Conflicts),
		}).Info("resume submitted")
	}

	if len(report.Conflicts) > 0 {
		return report, &ResumeConflictError{Batches: report.Conflicts}
	}
	return report, nil
}

// reconcilePending drops queued submission groups that are superseded by
// the re-submission. A parked group still referencing a batch at an old
// generation would otherwise race the new one when a later stop pops it.
func (c *ResumeController) reconcilePending(assignments []models.Assignment) error {
	unlock, err := c.store.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	pending, err := c.store.LoadPendingGroups()
	if err != nil || len(pending) == 0 {
		return err
	}
	resubmit := make(map[int]bool, len(assignments))
	for _, a := range assignments {
		resubmit[a.Batch] = true
	}
	changed := false
	kept := make([][]models.Assignment, 0, len(pending))
	for _, group := range pending {
		var g []models.Assignment
		for _, a := range group {
			if resubmit[a.Batch] {
				changed = true
				continue
			}
			g = append(g, a)
		}
		if len(g) > 0 {
			kept = append(kept, g)
		}
	}
	if !changed {
		return nil
	}
	c.log.WithField("dropped", len(pending)-len(kept)).Debug("superseded pending groups reconciled")
	return c.store.SavePendingGroups(kept)
}
