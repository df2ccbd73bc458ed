package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dock-orchestrator/core/controller"
)

// resumeCmd represents the resume command
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Re-submit the campaign's incomplete batches",
	Long: `Resume recomputes which batches have no completed task and re-submits
exactly those. Completed batches and their result records are never
touched. Batches with a live running task are skipped and reported as
conflicts; the rest proceed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		submitter, _ := newSubmitter(store, cfg)
		ctrl := controller.NewResumeController(store, submitter, cfg, log)

		report, err := ctrl.Resume(cmd.Context(), campaignID)
		if report != nil {
			if report.NoOp() {
				fmt.Printf("campaign %s: all %d batches completed, nothing to resume\n",
					campaignID, len(report.Completed))
			} else {
				fmt.Printf("campaign %s: %d batches re-submitted, %d completed, %d conflicts\n",
					campaignID, len(report.Resubmitted), len(report.Completed), len(report.Conflicts))
			}
			for _, o := range report.Outcomes {
				if o.Err != nil {
					fmt.Printf("  %d batches not submitted: %v\n", len(o.Assignments), o.Err)
					continue
				}
				fmt.Printf("  job array %s: %d tasks\n", o.Array.JobID, o.Array.Size())
			}
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
