package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RejectedError reports that the scheduler declined a submission, for
// example because a quota was exceeded. Not retried.
type RejectedError struct {
	Command string
	Output  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("scheduler rejected %s: %s", e.Command, strings.TrimSpace(e.Output))
}

// UnavailableError reports that the scheduler could not be reached after
// bounded retries.
type UnavailableError struct {
	Command string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("scheduler unavailable (%s): %v", e.Command, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// ArrayRequest describes one job-array submission.
type ArrayRequest struct {
	Script        string
	ScriptArgs    []string
	JobName       string
	Account       string
	Partition     string
	TimeLimit     string
	Nodes         int
	Size          int    // array indices 0..Size-1
	Throttle      int    // concurrent task cap
	OutputPattern string // scheduler log file pattern
	DependsOn     string // after-any dependency job id
	ExtraOptions  string
}

// QueueEntry is one live scheduler queue line for an array task or a
// collapsed range of tasks.
type QueueEntry struct {
	FirstIndex int
	LastIndex  int
	Status     string
	Reason     string
}

// Client is the capability interface over the external batch scheduler.
// Tests substitute a fake; production uses SlurmClient.
type Client interface {
	SubmitArray(ctx context.Context, req ArrayRequest) (string, error)
	QueueStatus(ctx context.Context, jobID string) ([]QueueEntry, error)
	Cancel(ctx context.Context, jobID string) error
}

// SlurmClient drives a Slurm-like scheduler through its command-line
// tools. Transient failures are retried a bounded number of times with
// backoff before surfacing as UnavailableError.
type SlurmClient struct {
	Timeout time.Duration
	Retries int
	Backoff time.Duration
	log     *logrus.Logger

	// runCommand is swapped in tests.
	runCommand func(ctx context.Context, name string, args ...string) (string, error)
}

// NewSlurmClient creates a scheduler client with the given per-command
// timeout.
func NewSlurmClient(timeout time.Duration, log *logrus.Logger) *SlurmClient {
	c := &SlurmClient{
		Timeout: timeout,
		Retries: 3,
		Backoff: 2 * time.Second,
		log:     log,
	}
	c.runCommand = c.execCommand
	return c
}

func (c *SlurmClient) execCommand(ctx context.Context, name string, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}

// run executes a scheduler command with bounded retries on communication
// failure. A command that runs but exits non-zero is a rejection, not a
// communication failure.
func (c *SlurmClient) run(ctx context.Context, name string, args ...string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if attempt > 0 {
			c.log.WithField("command", name).Warnf("retrying after scheduler error: %v", lastErr)
			select {
			case <-ctx.Done():
				return "", &UnavailableError{Command: name, Err: ctx.Err()}
			case <-time.After(c.Backoff * time.Duration(attempt)):
			}
		}
		out, err := c.runCommand(ctx, name, args...)
		if err == nil {
			return out, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return out, &RejectedError{Command: name, Output: out}
		}
		lastErr = err
	}
	return "", &UnavailableError{Command: name, Err: lastErr}
}

var submittedRegexp = regexp.MustCompile(`Submitted batch job (\d+)`)

// SubmitArray submits one job array and returns the scheduler job id.
func (c *SlurmClient) SubmitArray(ctx context.Context, req ArrayRequest) (string, error) {
	args := []string{
		fmt.Sprintf("--array=0-%d%%%d", req.Size-1, req.Throttle),
		"--ntasks=1",
		"--job-name=" + req.JobName,
		"--time=" + req.TimeLimit,
		fmt.Sprintf("--nodes=%d", req.Nodes),
	}
	if req.Account != "" {
		args = append(args, "--account="+req.Account)
	}
	if req.Partition != "" {
		args = append(args, "--partition="+req.Partition)
	}
	if req.OutputPattern != "" {
		args = append(args, "--output="+req.OutputPattern)
	}
	if req.DependsOn != "" {
		args = append(args, "--dependency=afterany:"+req.DependsOn)
	}
	if req.ExtraOptions != "" {
		args = append(args, strings.Fields(req.ExtraOptions)...)
	}
	args = append(args, req.Script)
	args = append(args, req.ScriptArgs...)

	out, err := c.run(ctx, "sbatch", args...)
	if err != nil {
		return "", err
	}
	m := submittedRegexp.FindStringSubmatch(out)
	if m == nil {
		return "", &RejectedError{Command: "sbatch", Output: out}
	}
	return m[1], nil
}

var arrayRangeRegexp = regexp.MustCompile(`^\d+_\[(\d+)-(\d+)(?:%\d+)?\]$`)
var arraySingleRegexp = regexp.MustCompile(`^\d+_(\d+)$`)

// QueueStatus returns the live queue entries for a job array. An empty
// result means the scheduler no longer knows the job.
func (c *SlurmClient) QueueStatus(ctx context.Context, jobID string) ([]QueueEntry, error) {
	out, err := c.run(ctx, "squeue", "-h", "-j", jobID, "-o", "%i %t %r")
	if err != nil {
		return nil, err
	}
	var entries []QueueEntry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		if len(fields) < 2 {
			c.log.WithField("line", line).Warn("unparseable queue line")
			continue
		}
		entry := QueueEntry{Status: fields[1]}
		if len(fields) == 3 {
			entry.Reason = fields[2]
		}
		if m := arraySingleRegexp.FindStringSubmatch(fields[0]); m != nil {
			idx, _ := strconv.Atoi(m[1])
			entry.FirstIndex, entry.LastIndex = idx, idx
		} else if m := arrayRangeRegexp.FindStringSubmatch(fields[0]); m != nil {
			entry.FirstIndex, _ = strconv.Atoi(m[1])
			entry.LastIndex, _ = strconv.Atoi(m[2])
		} else {
			c.log.WithField("line", line).Warn("unparseable queue id")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Cancel requests termination of a job array and all its tasks.
func (c *SlurmClient) Cancel(ctx context.Context, jobID string) error {
	_, err := c.run(ctx, "scancel", jobID)
	return err
}
