package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dock-orchestrator/config"
	"dock-orchestrator/core/models"
	"dock-orchestrator/core/statestore"
)

// GroupOutcome reports the result of one job-array submission within a
// Submit call. Earlier successful groups are never rolled back when a
// later one fails; the caller retries only the failed groups.
type GroupOutcome struct {
	Assignments []models.Assignment
	Array       *models.JobArray
	Err         error
}

// Submitter maps batches onto scheduler job arrays, splitting across
// multiple submissions when the batch count exceeds the scheduler's
// maximum array size and chaining each array on the previous one.
type Submitter struct {
	store      *statestore.Store
	client     Client
	cfg        *config.Config
	configPath string
	log        *logrus.Logger

	// now is swapped in tests.
	now func() time.Time
}

// NewSubmitter creates a submitter over the campaign's state store.
// configPath is the cluster configuration file workers load on their
// compute node.
func NewSubmitter(store *statestore.Store, client Client, cfg *config.Config, configPath string, log *logrus.Logger) *Submitter {
	return &Submitter{store: store, client: client, cfg: cfg, configPath: configPath, log: log, now: time.Now}
}

// EncodeAssignments renders an assignment list as the submission tag
// passed to workers ("batch:generation,...", ordered by array index).
func EncodeAssignments(as []models.Assignment) string {
	parts := make([]string, len(as))
	for i, a := range as {
		parts[i] = fmt.Sprintf("%d:%d", a.Batch, a.Generation)
	}
	return strings.Join(parts, ",")
}

// DecodeAssignments parses a submission tag back into assignments.
func DecodeAssignments(s string) ([]models.Assignment, error) {
	if s == "" {
		return nil, fmt.Errorf("empty assignment tag")
	}
	parts := strings.Split(s, ",")
	out := make([]models.Assignment, len(parts))
	for i, p := range parts {
		b, g, ok := strings.Cut(p, ":")
		if !ok {
			return nil, fmt.Errorf("malformed assignment %q", p)
		}
		batch, err := strconv.Atoi(b)
		if err != nil {
			return nil, fmt.Errorf("malformed assignment %q", p)
		}
		gen, err := strconv.Atoi(g)
		if err != nil {
			return nil, fmt.Errorf("malformed assignment %q", p)
		}
		out[i] = models.Assignment{Batch: batch, Generation: gen}
	}
	return out, nil
}

// GroupAssignments partitions assignments into consecutive groups of at
// most maxSize, preserving order.
func GroupAssignments(as []models.Assignment, maxSize int) [][]models.Assignment {
	var groups [][]models.Assignment
	for len(as) > 0 {
		n := maxSize
		if n > len(as) {
			n = len(as)
		}
		groups = append(groups, as[:n])
		as = as[n:]
	}
	return groups
}

// Submit schedules the given batch assignments as one or more job arrays.
// It holds the campaign submission lock for the duration so concurrent
// submissions cannot assign overlapping array indices. Partial success is
// returned as per-group outcomes; failed groups are parked on the pending
// queue for later retry.
func (s *Submitter) Submit(ctx context.Context, campaignID string, assignments []models.Assignment) ([]GroupOutcome, error) {
	if len(assignments) == 0 {
		return nil, nil
	}
	unlock, err := s.store.Lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	script, err := s.ensureWorkerScript(campaignID)
	if err != nil {
		return nil, err
	}

	// Chain onto the campaign's most recent array, as the previous
	// submissions did.
	dependsOn := ""
	if arrays, err := s.store.ListJobArrays(); err == nil && len(arrays) > 0 {
		dependsOn = arrays[len(arrays)-1].JobID
	}

	groups := GroupAssignments(assignments, s.cfg.Scheduler.MaxArraySize)
	outcomes := make([]GroupOutcome, 0, len(groups))
	var failed [][]models.Assignment
	for _, group := range groups {
		array, err := s.submitGroup(ctx, campaignID, script, group, dependsOn)
		if err != nil {
			s.log.WithError(err).WithField("batches", len(group)).Error("job array submission failed")
			outcomes = append(outcomes, GroupOutcome{Assignments: group, Err: err})
			failed = append(failed, group)
			continue
		}
		dependsOn = array.JobID
		outcomes = append(outcomes, GroupOutcome{Assignments: group, Array: array})
	}
	if len(failed) > 0 {
		pending, _ := s.store.LoadPendingGroups()
		if err := s.store.SavePendingGroups(append(pending, failed...)); err != nil {
			s.log.WithError(err).Warn("could not record pending groups")
		}
	}
	return outcomes, nil
}

func (s *Submitter) submitGroup(ctx context.Context, campaignID, script string, group []models.Assignment, dependsOn string) (*models.JobArray, error) {
	sched := s.cfg.Scheduler
	throttle := sched.MaxRunningTasks
	if throttle > len(group) {
		throttle = len(group)
	}

	// Create the task records first so a crash after sbatch still leaves
	// every scheduled task observable.
	queuedAt := s.now()
	for i, a := range group {
		t := &models.Task{
			CampaignID: campaignID,
			BatchIndex: a.Batch,
			Generation: a.Generation,
			ArrayIndex: i,
			State:      models.TaskStatePending,
			QueuedAt:   queuedAt,
		}
		if err := s.store.PutTask(t); err != nil {
			return nil, fmt.Errorf("record task %d g%d: %w", a.Batch, a.Generation, err)
		}
	}

	req := ArrayRequest{
		Script: script,
		ScriptArgs: []string{
			"--campaign", campaignID,
			"--tasks", EncodeAssignments(group),
			"--licensing", s.cfg.Engine.Licensing,
			"--output", s.cfg.OutputDir(campaignID),
			"--verbosity", strconv.Itoa(s.cfg.Engine.LogLevel),
		},
		JobName:       sched.JobName,
		Account:       sched.Account,
		Partition:     sched.Partition,
		TimeLimit:     sched.TimeLimit,
		Nodes:         sched.Nodes,
		Size:          len(group),
		Throttle:      throttle,
		OutputPattern: filepath.Join(s.cfg.OutputDir(campaignID), sched.JobName+"_%A_%a.out"),
		DependsOn:     dependsOn,
		ExtraOptions:  sched.ExtraOptions,
	}
	jobID, err := s.client.SubmitArray(ctx, req)
	if err != nil {
		return nil, err
	}

	array := &models.JobArray{
		JobID:       jobID,
		CampaignID:  campaignID,
		Assignments: group,
		Throttle:    throttle,
		SubmittedAt: s.now(),
	}
	if err := s.store.AppendJobArray(array); err != nil {
		return nil, fmt.Errorf("record job array %s: %w", jobID, err)
	}
	for i, a := range group {
		t := &models.Task{
			CampaignID: campaignID,
			BatchIndex: a.Batch,
			Generation: a.Generation,
			ArrayJobID: jobID,
			ArrayIndex: i,
			State:      models.TaskStateQueued,
			QueuedAt:   queuedAt,
		}
		if err := s.store.PutTask(t); err != nil {
			return nil, fmt.Errorf("record task %d g%d: %w", a.Batch, a.Generation, err)
		}
	}
	s.log.WithFields(logrus.Fields{
		"job_id":   jobID,
		"batches":  len(group),
		"throttle": throttle,
	}).Info("submitted job array")
	return array, nil
}

// ensureWorkerScript writes the thin scheduler entry script that execs
// this binary's worker command with the submission tag arguments.
func (s *Submitter) ensureWorkerScript(campaignID string) (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.store.Dir(), "worker.sh")
	script := fmt.Sprintf("#!/bin/sh\nexec %q worker --config %q \"$@\"\n",
		self, s.configPath)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		return "", err
	}
	return path, nil
}
