package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dock-orchestrator/core/controller"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop [job-id]",
	Short: "Cancel a job array or the whole campaign",
	Long: `Stop cancels the named job array, or every non-terminal task in the
campaign when no job id is given, and records the affected tasks as
Cancelled. If submission groups are queued waiting on the scheduler,
the next one is submitted after the stop. Stopping an already-stopped
scope is a no-op.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		jobID := ""
		if len(args) > 0 {
			jobID = args[0]
		}

		submitter, client := newSubmitter(store, cfg)
		ctrl := controller.NewStopController(store, client, submitter, cfg, log)
		report, err := ctrl.Stop(cmd.Context(), campaignID, jobID)
		if err != nil {
			return err
		}

		if report.NoOp() {
			fmt.Println("nothing to stop")
		} else {
			fmt.Printf("cancelled %d job arrays, %d batch tasks\n",
				len(report.CancelledJobs), len(report.CancelledBatches))
			if report.Unconfirmed {
				fmt.Println("scheduler did not confirm cancellation, tasks marked cancelled optimistically")
			}
		}
		if report.NextSubmitted != "" {
			fmt.Printf("submitted next queued job array %s\n", report.NextSubmitted)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
