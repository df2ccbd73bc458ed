package timing

import (
	"math"
	"sort"
	"time"

	"dock-orchestrator/core/models"
	"dock-orchestrator/core/statestore"
)

// TaskTiming is the derived timing of one task generation.
type TaskTiming struct {
	BatchIndex int
	Generation int
	State      models.TaskState
	// QueueWait is the Queued to Running span.
	QueueWait time.Duration
	// RunTime is the Running to terminal span.
	RunTime time.Duration
}

// Stats summarizes a set of durations.
type Stats struct {
	Count  int
	Sum    time.Duration
	Mean   time.Duration
	Median time.Duration
	Stddev time.Duration
	Top    []time.Duration // longest three
}

// Report aggregates campaign timing. Purely derived from state store
// timestamps; there is no independent timing state.
type Report struct {
	Tasks []TaskTiming
	// Untimed counts tasks without enough timestamps to measure.
	Untimed   int
	QueueWait Stats
	RunTime   Stats
	// WallClock spans the first queued to the last terminal timestamp.
	WallClock time.Duration
}

// Reporter derives elapsed-time reports from the state store.
type Reporter struct {
	store *statestore.Store
}

// NewReporter creates a timing reporter.
func NewReporter(store *statestore.Store) *Reporter {
	return &Reporter{store: store}
}

// Report computes per-task and campaign-wide timing over every task
// generation, including retained historical generations.
func (r *Reporter) Report() (*Report, error) {
	tasks, err := r.store.ListTasks()
	if err != nil {
		return nil, err
	}

	rep := &Report{}
	var queueWaits, runTimes []time.Duration
	var firstQueued, lastEnded time.Time
	for _, t := range tasks {
		if !t.QueuedAt.IsZero() && (firstQueued.IsZero() || t.QueuedAt.Before(firstQueued)) {
			firstQueued = t.QueuedAt
		}
		if t.EndedAt.After(lastEnded) {
			lastEnded = t.EndedAt
		}
		if t.StartedAt.IsZero() || t.EndedAt.IsZero() {
			rep.Untimed++
			continue
		}
		tt := TaskTiming{
			BatchIndex: t.BatchIndex,
			Generation: t.Generation,
			State:      t.State,
			QueueWait:  t.StartedAt.Sub(t.QueuedAt),
			RunTime:    t.EndedAt.Sub(t.StartedAt),
		}
		rep.Tasks = append(rep.Tasks, tt)
		queueWaits = append(queueWaits, tt.QueueWait)
		runTimes = append(runTimes, tt.RunTime)
	}
	rep.QueueWait = summarize(queueWaits)
	rep.RunTime = summarize(runTimes)
	if !firstQueued.IsZero() && !lastEnded.IsZero() {
		rep.WallClock = lastEnded.Sub(firstQueued)
	}
	return rep, nil
}

func summarize(ds []time.Duration) Stats {
	s := Stats{Count: len(ds)}
	if len(ds) == 0 {
		return s
	}
	sorted := make([]time.Duration, len(ds))
	copy(sorted, ds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for _, d := range sorted {
		s.Sum += d
	}
	s.Mean = s.Sum / time.Duration(len(sorted))
	if n := len(sorted); n%2 == 1 {
		s.Median = sorted[n/2]
	} else {
		s.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	if len(sorted) > 1 {
		var sq float64
		mean := float64(s.Mean)
		for _, d := range sorted {
			diff := float64(d) - mean
			sq += diff * diff
		}
		s.Stddev = time.Duration(math.Sqrt(sq / float64(len(sorted)-1)))
	}
	top := 3
	if top > len(sorted) {
		top = len(sorted)
	}
	for i := 0; i < top; i++ {
		s.Top = append(s.Top, sorted[len(sorted)-1-i])
	}
	return s
}
