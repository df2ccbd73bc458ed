package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"dock-orchestrator/config"
	"dock-orchestrator/core/models"
	"dock-orchestrator/core/statestore"
	"dock-orchestrator/core/worker"
)

// Ranking is the collector's output: every result record reachable from
// completed tasks, ordered by fitness score with a stable tie-break on
// ligand identifier. Recomputed on demand; never mutated in place.
type Ranking struct {
	Records []models.ResultRecord
	// Incomplete are batches whose latest task is not Completed; their
	// results are excluded and the ranking is partial.
	Incomplete []int
	// Flagged are completed batches with missing or malformed result
	// files; excluded and reported, never fatal.
	Flagged []int
}

// Collector aggregates per-task result files into one ordered ranking.
type Collector struct {
	store     *statestore.Store
	outputDir string
	scoring   config.Scoring
	log       *logrus.Logger
}

// NewCollector creates a collector reading task output under outputDir.
func NewCollector(store *statestore.Store, outputDir string, scoring config.Scoring, log *logrus.Logger) *Collector {
	return &Collector{store: store, outputDir: outputDir, scoring: scoring, log: log}
}

// Collect builds the global ranking from every completed task's
// immutable result records.
func (c *Collector) Collect() (*Ranking, error) {
	campaign, err := c.store.LoadCampaign()
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	latest, err := c.store.LatestTasks()
	if err != nil {
		return nil, err
	}

	ranking := &Ranking{}
	for b := 0; b < campaign.BatchCount; b++ {
		t, ok := latest[b]
		if !ok || t.State != models.TaskStateCompleted {
			ranking.Incomplete = append(ranking.Incomplete, b)
			continue
		}
		records, err := c.readResults(b, t.Generation)
		if err != nil {
			c.log.WithError(err).WithField("batch", b).Warn("result records unreadable, flagging batch")
			ranking.Flagged = append(ranking.Flagged, b)
			continue
		}
		ranking.Records = append(ranking.Records, records...)
	}

	c.sortRecords(ranking.Records)
	c.log.WithFields(logrus.Fields{
		"records":    len(ranking.Records),
		"incomplete": len(ranking.Incomplete),
		"flagged":    len(ranking.Flagged),
	}).Info("ranking collected")
	return ranking, nil
}

func (c *Collector) readResults(batch, generation int) ([]models.ResultRecord, error) {
	path := filepath.Join(worker.TaskOutputDir(c.outputDir, batch, generation), worker.ResultsFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []models.ResultRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// sortRecords orders by the configured score direction, ties broken by
// ascending ligand identifier. The direction is an explicit configuration
// choice, never inferred from the data.
func (c *Collector) sortRecords(records []models.ResultRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Score != b.Score {
			if c.scoring == config.ScoringAscending {
				return a.Score < b.Score
			}
			return a.Score > b.Score
		}
		return a.LigandID < b.LigandID
	})
}

// RankingFilename is the merged ranking written next to the campaign's
// output.
const RankingFilename = "ranking.csv"

// WriteRankingFile writes the ordered ranking as CSV-style lines of
// rank, score, ligand id and pose reference.
func (c *Collector) WriteRankingFile(ranking *Ranking, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fmt.Fprintln(f, "# rank,score,ligand,pose")
	for i, r := range ranking.Records {
		if _, err := fmt.Fprintf(f, "%d,%g,%s,%s\n", i+1, r.Score, r.LigandID, r.PoseFile); err != nil {
			return err
		}
	}
	return nil
}

// MaterializePoses copies each record's pose file into destDir named
// after its rank, so the top of the ranking can be inspected directly.
func (c *Collector) MaterializePoses(ranking *Ranking, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	latest, err := c.store.LatestTasks()
	if err != nil {
		return err
	}
	for i, r := range ranking.Records {
		t, ok := latest[r.Batch]
		if !ok {
			continue
		}
		src := filepath.Join(worker.TaskOutputDir(c.outputDir, r.Batch, t.Generation), r.PoseFile)
		dst := filepath.Join(destDir, fmt.Sprintf("rank_%06d_%s", i+1, filepath.Base(r.PoseFile)))
		if err := copyFile(src, dst); err != nil {
			c.log.WithError(err).WithField("ligand", r.LigandID).Warn("pose file missing, skipping")
		}
	}
	return nil
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
