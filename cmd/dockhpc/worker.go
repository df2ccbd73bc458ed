package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"dock-orchestrator/core/scheduler"
	"dock-orchestrator/core/worker"
)

var (
	workerTasks     string
	workerLicensing string
	workerOutput    string
	workerVerbosity int
)

// workerCmd represents the worker command. It is what the generated
// job-array script execs on the compute node, one invocation per array
// index; it is not meant to be run by hand.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one batch task on a compute node",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log.SetLevel(verbosityLevel(workerVerbosity))
		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		assignments, err := scheduler.DecodeAssignments(workerTasks)
		if err != nil {
			return fmt.Errorf("parse --tasks: %w", err)
		}
		jobID := os.Getenv("SLURM_ARRAY_JOB_ID")
		index, err := strconv.Atoi(os.Getenv("SLURM_ARRAY_TASK_ID"))
		if err != nil {
			return fmt.Errorf("parse SLURM_ARRAY_TASK_ID: %w", err)
		}
		if workerOutput == "" {
			workerOutput = cfg.OutputDir(campaignID)
		}

		engine := worker.NewExecEngine(cfg.Engine.Executable, workerLicensing, workerVerbosity, log)
		runner := worker.NewRunner(store, engine, log)
		return runner.Run(cmd.Context(), worker.Params{
			CampaignID:  campaignID,
			InputDir:    cfg.InputDir(campaignID),
			OutputDir:   workerOutput,
			ArrayJobID:  jobID,
			ArrayIndex:  index,
			Assignments: assignments,
		})
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerTasks, "tasks", "", "batch:generation assignment list, ordered by array index")
	workerCmd.Flags().StringVar(&workerLicensing, "licensing", "", "engine licensing endpoint")
	workerCmd.Flags().StringVar(&workerOutput, "output", "", "campaign output directory root")
	workerCmd.Flags().IntVar(&workerVerbosity, "verbosity", 1, "engine and worker verbosity")
	rootCmd.AddCommand(workerCmd)
}
