package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"dock-orchestrator/core/models"
)

// Store persists campaign and task state as one small JSON file per record
// on the shared filesystem. Every write is a write-to-temp-then-rename so
// readers never observe a half-written record. Concurrent writers never
// target the same (batch, generation) key, so no locking is needed for
// task records; the job-array ledger is serialized with an explicit lock
// file instead.
type Store struct {
	dir string
}

// New opens (creating if needed) the state store rooted at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state store directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) taskPath(batch, generation int) string {
	return filepath.Join(s.dir, fmt.Sprintf("task_%06d_g%d.json", batch, generation))
}

// writeAtomic replaces path with data in a single rename.
func (s *Store) writeAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// PutTask creates or replaces the record for the task's
// (batch, generation) key.
func (s *Store) PutTask(t *models.Task) error {
	return s.writeAtomic(s.taskPath(t.BatchIndex, t.Generation), t)
}

// GetTask reads one task record.
func (s *Store) GetTask(batch, generation int) (*models.Task, error) {
	data, err := os.ReadFile(s.taskPath(batch, generation))
	if err != nil {
		return nil, err
	}
	var t models.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("task %d g%d: %w", batch, generation, err)
	}
	return &t, nil
}

// ListTasks returns every task record, all generations included, ordered
// by batch then generation.
func (s *Store) ListTasks() ([]*models.Task, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var tasks []*models.Task
	for _, e := range entries {
		var batch, gen int
		if _, err := fmt.Sscanf(e.Name(), "task_%06d_g%d.json", &batch, &gen); err != nil {
			continue
		}
		t, err := s.GetTask(batch, gen)
		if err != nil {
			// A record that cannot be parsed is reported by the caller as
			// unknown, not treated as fatal.
			continue
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].BatchIndex != tasks[j].BatchIndex {
			return tasks[i].BatchIndex < tasks[j].BatchIndex
		}
		return tasks[i].Generation < tasks[j].Generation
	})
	return tasks, nil
}

// LatestTasks returns the current (highest-generation) task per batch.
func (s *Store) LatestTasks() (map[int]*models.Task, error) {
	tasks, err := s.ListTasks()
	if err != nil {
		return nil, err
	}
	latest := make(map[int]*models.Task)
	for _, t := range tasks {
		if cur, ok := latest[t.BatchIndex]; !ok || t.Generation > cur.Generation {
			latest[t.BatchIndex] = t
		}
	}
	return latest, nil
}

// NextGeneration returns the generation the next submission of the batch
// should use.
func (s *Store) NextGeneration(batch int) (int, error) {
	latest, err := s.LatestTasks()
	if err != nil {
		return 0, err
	}
	if t, ok := latest[batch]; ok {
		return t.Generation + 1, nil
	}
	return 1, nil
}

// NextAssignments returns one assignment per batch index in [0, count),
// each at the generation its next submission should use. The task
// directory is scanned once regardless of count.
func (s *Store) NextAssignments(count int) ([]models.Assignment, error) {
	latest, err := s.LatestTasks()
	if err != nil {
		return nil, err
	}
	out := make([]models.Assignment, count)
	for b := 0; b < count; b++ {
		gen := 1
		if t, ok := latest[b]; ok {
			gen = t.Generation + 1
		}
		out[b] = models.Assignment{Batch: b, Generation: gen}
	}
	return out, nil
}

// SaveCampaign writes the campaign metadata record.
func (s *Store) SaveCampaign(c *models.Campaign) error {
	return s.writeAtomic(filepath.Join(s.dir, "campaign.json"), c)
}

// LoadCampaign reads the campaign metadata record.
func (s *Store) LoadCampaign() (*models.Campaign, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "campaign.json"))
	if err != nil {
		return nil, err
	}
	var c models.Campaign
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("campaign record: %w", err)
	}
	return &c, nil
}

const arrayLedger = "jobarrays.json"

// AppendJobArray records a submitted job array in the ledger. Callers must
// hold the submission lock.
func (s *Store) AppendJobArray(a *models.JobArray) error {
	arrays, err := s.ListJobArrays()
	if err != nil {
		return err
	}
	arrays = append(arrays, a)
	return s.writeAtomic(filepath.Join(s.dir, arrayLedger), arrays)
}

// ListJobArrays returns every job array submitted for the campaign, in
// submission order.
func (s *Store) ListJobArrays() ([]*models.JobArray, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, arrayLedger))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var arrays []*models.JobArray
	if err := json.Unmarshal(data, &arrays); err != nil {
		return nil, fmt.Errorf("job array ledger: %w", err)
	}
	return arrays, nil
}

const pendingQueue = "pending.json"

// SavePendingGroups replaces the queue of batch groups awaiting
// submission.
func (s *Store) SavePendingGroups(groups [][]models.Assignment) error {
	return s.writeAtomic(filepath.Join(s.dir, pendingQueue), groups)
}

// LoadPendingGroups returns the queue of batch groups awaiting submission.
func (s *Store) LoadPendingGroups() ([][]models.Assignment, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, pendingQueue))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var groups [][]models.Assignment
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("pending queue: %w", err)
	}
	return groups, nil
}

const lockName = "submit.lock"

// lockStaleAfter guards against locks left behind by a crashed submitter.
const lockStaleAfter = 10 * time.Minute

// Lock acquires the campaign submission lock. It serializes job-array
// submissions so two concurrent submitters cannot assign overlapping
// array-index ranges.
func (s *Store) Lock() (func(), error) {
	path := filepath.Join(s.dir, lockName)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().Format(time.RFC3339))
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		info, statErr := os.Stat(path)
		if statErr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			os.Remove(path)
			continue
		}
		return nil, fmt.Errorf("submission lock held: %s", path)
	}
	return nil, fmt.Errorf("submission lock held: %s", path)
}
