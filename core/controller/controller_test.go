package controller

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"dock-orchestrator/config"
	"dock-orchestrator/core/scheduler"
	"dock-orchestrator/core/statestore"
)

// fakeClient satisfies scheduler.Client with scripted queue responses.
type fakeClient struct {
	reqs      []scheduler.ArrayRequest
	cancelled []string
	queue     map[string][]scheduler.QueueEntry

	// onQueueStatus, when set, runs before each queue poll is answered.
	onQueueStatus func(jobID string)
}

func (f *fakeClient) SubmitArray(ctx context.Context, req scheduler.ArrayRequest) (string, error) {
	f.reqs = append(f.reqs, req)
	return strconv.Itoa(2000 + len(f.reqs)), nil
}

func (f *fakeClient) QueueStatus(ctx context.Context, jobID string) ([]scheduler.QueueEntry, error) {
	if f.onQueueStatus != nil {
		f.onQueueStatus(jobID)
	}
	return f.queue[jobID], nil
}

func (f *fakeClient) Cancel(ctx context.Context, jobID string) error {
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testConfig(root string) *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			LigandPath: "/data/ligands.sdf",
			Licensing:  "lf:flexlm;http://license.example.org:8080;",
			BatchSize:  2000,
			LogLevel:   1,
			Scoring:    config.ScoringDescending,
		},
		Paths: config.PathsConfig{SharedRoot: root},
		Scheduler: config.SchedulerConfig{
			JobName:         "docking",
			TimeLimit:       "24:00:00",
			Nodes:           1,
			MaxArraySize:    100,
			MaxRunningTasks: 10,
			CommandTimeout:  time.Second,
			StaleAfter:      30 * time.Minute,
		},
	}
}

// testHarness wires a store, fake scheduler and submitter for one campaign.
func testHarness(t *testing.T) (*statestore.Store, *fakeClient, *scheduler.Submitter, *config.Config) {
	t.Helper()
	cfg := testConfig(t.TempDir())
	store, err := statestore.New(cfg.StateDir("c1"))
	require.NoError(t, err)
	client := &fakeClient{queue: map[string][]scheduler.QueueEntry{}}
	sub := scheduler.NewSubmitter(store, client, cfg, "/etc/dock/campaign.yaml", quietLogger())
	return store, client, sub, cfg
}
