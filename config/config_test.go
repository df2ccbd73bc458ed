package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "campaign.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfig = `
engine:
  ligand_path: /data/ligands.sdf
  receptor_path: /data/protein.mol2
  conf_template: /data/gold.conf
  licensing: "lf:flexlm;http://license.example.org:8080;"
paths:
  shared_root: /scratch/dock
scheduler:
  partition: compute
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, 2000, cfg.Engine.BatchSize)
	assert.Equal(t, ScoringDescending, cfg.Engine.Scoring)
	assert.Equal(t, 1000, cfg.Scheduler.MaxArraySize)
	assert.Equal(t, 50, cfg.Scheduler.MaxRunningTasks)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.CommandTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.StaleAfter)
	assert.Equal(t, "compute", cfg.Scheduler.Partition)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, validConfig+"\nengin_typo:\n  foo: 1\n"))
	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("DOCK_TEST_ROOT", "/scratch/env")
	cfg, err := Load(writeConfig(t, `
engine:
  ligand_path: /data/ligands.sdf
  conf_template: /data/gold.conf
  licensing: "lf:flexlm;http://license.example.org:8080;"
paths:
  shared_root: ${DOCK_TEST_ROOT}
`))
	require.NoError(t, err)
	assert.Equal(t, "/scratch/env", cfg.Paths.SharedRoot)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"zero batch size", func(c *Config) { c.Engine.BatchSize = 0 }, "engine.batch_size"},
		{"negative batch size", func(c *Config) { c.Engine.BatchSize = -5 }, "engine.batch_size"},
		{"missing ligand path", func(c *Config) { c.Engine.LigandPath = "" }, "engine.ligand_path"},
		{"missing licensing", func(c *Config) { c.Engine.Licensing = "" }, "engine.licensing"},
		{"bad scoring", func(c *Config) { c.Engine.Scoring = "sideways" }, "engine.scoring"},
		{"missing root", func(c *Config) { c.Paths.SharedRoot = "" }, "paths.shared_root"},
		{"zero array size", func(c *Config) { c.Scheduler.MaxArraySize = 0 }, "scheduler.max_array_size"},
		{"zero throttle", func(c *Config) { c.Scheduler.MaxRunningTasks = 0 }, "scheduler.max_running_tasks"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validConfig))
			require.NoError(t, err)
			tc.mutate(cfg)
			err = cfg.Validate()
			var cfgErr *Error
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tc.key, cfgErr.Key)
		})
	}
}

func TestValidateLicensing(t *testing.T) {
	assert.NoError(t, validateLicensing("lf:flexlm;http://server:8080;extra"))
	assert.Error(t, validateLicensing("no delimiters at all"))
	assert.Error(t, validateLicensing("lf:flexlm;ftp://server:8080;"))
}

func TestDerivedPaths(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "/scratch/dock/c1", cfg.CampaignRoot("c1"))
	assert.Equal(t, "/scratch/dock/c1/in", cfg.InputDir("c1"))
	assert.Equal(t, "/scratch/dock/c1/out", cfg.OutputDir("c1"))
	assert.Equal(t, "/scratch/dock/c1/state", cfg.StateDir("c1"))
}
