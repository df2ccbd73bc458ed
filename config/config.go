package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Error reports an invalid or incomplete campaign configuration.
// Nothing is started when Load returns one of these.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config: %s", e.Reason)
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// Scoring direction for the global ranking.
type Scoring string

const (
	// ScoringDescending ranks higher fitness first (affinity-like scores).
	ScoringDescending Scoring = "descending"
	// ScoringAscending ranks lower fitness first (distance-like scores).
	ScoringAscending Scoring = "ascending"
)

// Config holds the validated campaign configuration
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Paths     PathsConfig     `yaml:"paths"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// EngineConfig configures the docking engine inputs and invocation
type EngineConfig struct {
	LigandPath   string  `yaml:"ligand_path"`
	ReceptorPath string  `yaml:"receptor_path"`
	CavityPath   string  `yaml:"cavity_path"`
	ConfTemplate string  `yaml:"conf_template"`
	Executable   string  `yaml:"executable"`
	Licensing    string  `yaml:"licensing"`
	BatchSize    int     `yaml:"batch_size"`
	LogLevel     int     `yaml:"log_level"`
	Scoring      Scoring `yaml:"scoring"`
}

// PathsConfig configures the shared filesystem layout.
// Input, output and state directories are derived from the root so they
// cannot drift apart between submission and worker nodes.
type PathsConfig struct {
	SharedRoot string `yaml:"shared_root"`
}

// SchedulerConfig configures batch scheduler submissions
type SchedulerConfig struct {
	JobName         string        `yaml:"job_name"`
	Account         string        `yaml:"account"`
	Partition       string        `yaml:"partition"`
	TimeLimit       string        `yaml:"time_limit"`
	Nodes           int           `yaml:"nodes"`
	MaxArraySize    int           `yaml:"max_array_size"`
	MaxRunningTasks int           `yaml:"max_running_tasks"`
	ExtraOptions    string        `yaml:"extra_options"`
	CommandTimeout  time.Duration `yaml:"command_timeout"`
	StaleAfter      time.Duration `yaml:"stale_after"`
}

// Load reads and validates the campaign configuration from a YAML file.
// Unknown keys are rejected rather than ignored. Values may reference
// environment variables with ${VAR} syntax.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("read %s: %v", path, err)}
	}
	expanded := os.Expand(string(raw), os.Getenv)

	cfg := defaults()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, &Error{Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Engine: EngineConfig{
			Executable: "dock_engine",
			BatchSize:  2000,
			LogLevel:   1,
			Scoring:    ScoringDescending,
		},
		Scheduler: SchedulerConfig{
			JobName:         "docking",
			TimeLimit:       "24:00:00",
			Nodes:           1,
			MaxArraySize:    1000,
			MaxRunningTasks: 50,
			CommandTimeout:  30 * time.Second,
			StaleAfter:      30 * time.Minute,
		},
	}
}

// Validate bounds-checks every recognized option
func (c *Config) Validate() error {
	if c.Engine.BatchSize <= 0 {
		return &Error{Key: "engine.batch_size", Reason: "must be a positive integer"}
	}
	if c.Engine.LigandPath == "" {
		return &Error{Key: "engine.ligand_path", Reason: "required"}
	}
	if c.Engine.Licensing == "" {
		return &Error{Key: "engine.licensing", Reason: "required"}
	}
	if err := validateLicensing(c.Engine.Licensing); err != nil {
		return err
	}
	switch c.Engine.Scoring {
	case ScoringAscending, ScoringDescending:
	default:
		return &Error{Key: "engine.scoring", Reason: `must be "ascending" or "descending"`}
	}
	if c.Paths.SharedRoot == "" {
		return &Error{Key: "paths.shared_root", Reason: "required"}
	}
	if c.Scheduler.MaxArraySize <= 0 {
		return &Error{Key: "scheduler.max_array_size", Reason: "must be a positive integer"}
	}
	if c.Scheduler.MaxRunningTasks <= 0 {
		return &Error{Key: "scheduler.max_running_tasks", Reason: "must be a positive integer"}
	}
	if c.Scheduler.Nodes <= 0 {
		return &Error{Key: "scheduler.nodes", Reason: "must be a positive integer"}
	}
	if c.Scheduler.StaleAfter <= 0 {
		return &Error{Key: "scheduler.stale_after", Reason: "must be a positive duration"}
	}
	return nil
}

// validateLicensing checks the licensing endpoint carries a server URL.
// The string is semicolon-delimited with the server URL in the second field.
func validateLicensing(s string) error {
	parts := strings.Split(s, ";")
	if len(parts) < 2 || !strings.HasPrefix(parts[1], "http://") {
		return &Error{Key: "engine.licensing", Reason: `license server url missing "http://"`}
	}
	return nil
}

// CampaignRoot returns the directory owning all of a campaign's files.
func (c *Config) CampaignRoot(campaignID string) string {
	return c.Paths.SharedRoot + "/" + campaignID
}

// InputDir returns the batch archive staging directory for a campaign.
func (c *Config) InputDir(campaignID string) string {
	return c.CampaignRoot(campaignID) + "/in"
}

// OutputDir returns the per-task output directory root for a campaign.
func (c *Config) OutputDir(campaignID string) string {
	return c.CampaignRoot(campaignID) + "/out"
}

// StateDir returns the state store directory for a campaign.
func (c *Config) StateDir(campaignID string) string {
	return c.CampaignRoot(campaignID) + "/state"
}
