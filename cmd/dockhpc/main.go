package main

import (
	"errors"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dock-orchestrator/config"
	"dock-orchestrator/core/batch"
	"dock-orchestrator/core/controller"
	"dock-orchestrator/core/scheduler"
	"dock-orchestrator/core/statestore"
)

// Exit codes, one per failure class, so cluster wrappers can branch on
// the kind of failure without parsing output.
const (
	exitFailure              = 1
	exitConfigError          = 2
	exitInputConflict        = 3
	exitSchedulerRejected    = 4
	exitSchedulerUnavailable = 5
	exitResumeConflict       = 6
)

var (
	configPath string
	campaignID string

	log = logrus.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dockhpc",
	Short: "Molecular docking campaign orchestrator",
	Long: `dockhpc partitions a ligand library into batches, submits them to the
cluster scheduler as job arrays, and tracks every task on the shared
filesystem. Interrupted campaigns can be resumed, stopped and collected
into a single ranked result list.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "campaign.yaml", "campaign configuration file")
	rootCmd.PersistentFlags().StringVar(&campaignID, "campaign", "", "campaign identifier")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a failure to its exit code.
func exitCode(err error) int {
	var (
		cfgErr      *config.Error
		inputErr    *batch.InputConflictError
		rejected    *scheduler.RejectedError
		unavailable *scheduler.UnavailableError
		resumeErr   *controller.ResumeConflictError
	)
	switch {
	case errors.As(err, &cfgErr):
		return exitConfigError
	case errors.As(err, &inputErr):
		return exitInputConflict
	case errors.As(err, &rejected):
		return exitSchedulerRejected
	case errors.As(err, &unavailable):
		return exitSchedulerUnavailable
	case errors.As(err, &resumeErr):
		return exitResumeConflict
	}
	return exitFailure
}

// loadConfig loads the campaign configuration and applies its verbosity
// to the process logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.SetLevel(verbosityLevel(cfg.Engine.LogLevel))
	return cfg, nil
}

// verbosityLevel maps the engine verbosity integer onto logger levels.
func verbosityLevel(v int) logrus.Level {
	switch {
	case v <= 0:
		return logrus.WarnLevel
	case v == 1:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}

// openStore opens the campaign's state store, creating it if needed.
func openStore(cfg *config.Config) (*statestore.Store, error) {
	if campaignID == "" {
		return nil, &config.Error{Key: "campaign", Reason: "required, pass --campaign"}
	}
	return statestore.New(cfg.StateDir(campaignID))
}

// newSubmitter wires the scheduler client and submitter for a campaign.
func newSubmitter(store *statestore.Store, cfg *config.Config) (*scheduler.Submitter, scheduler.Client) {
	client := scheduler.NewSlurmClient(cfg.Scheduler.CommandTimeout, log)
	return scheduler.NewSubmitter(store, client, cfg, configPath, log), client
}
