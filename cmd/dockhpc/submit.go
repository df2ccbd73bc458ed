package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"dock-orchestrator/core/batch"
	"dock-orchestrator/core/models"
)

// submitCmd represents the submit command
var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Partition the ligand library and submit the campaign",
	Long: `Submit reads the ligand library, partitions it into batch archives on
the shared filesystem and submits one job array task per batch. Batch
counts above the scheduler's maximum array size are split into chained
arrays. The generated campaign identifier is printed on success; every
later command takes it via --campaign.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if campaignID == "" {
			campaignID = uuid.New().String()
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.OutputDir(campaignID), 0o755); err != nil {
			return err
		}

		partitioner := batch.NewPartitioner(cfg.Engine, cfg.InputDir(campaignID), log)
		batches, err := partitioner.Partition()
		if err != nil {
			return err
		}

		campaign := &models.Campaign{
			ID:           campaignID,
			ReceptorPath: cfg.Engine.ReceptorPath,
			CavityPath:   cfg.Engine.CavityPath,
			LigandPath:   cfg.Engine.LigandPath,
			BatchSize:    cfg.Engine.BatchSize,
			BatchCount:   len(batches),
			CreatedAt:    time.Now(),
		}
		if err := store.SaveCampaign(campaign); err != nil {
			return err
		}

		assignments, err := store.NextAssignments(len(batches))
		if err != nil {
			return err
		}

		submitter, _ := newSubmitter(store, cfg)
		outcomes, err := submitter.Submit(cmd.Context(), campaignID, assignments)
		if err != nil {
			return err
		}

		fmt.Printf("campaign %s: %d ligand batches\n", campaignID, len(batches))
		var firstErr error
		for _, o := range outcomes {
			if o.Err != nil {
				fmt.Printf("  %d batches not submitted: %v\n", len(o.Assignments), o.Err)
				if firstErr == nil {
					firstErr = o.Err
				}
				continue
			}
			fmt.Printf("  job array %s: %d tasks, throttle %d\n",
				o.Array.JobID, o.Array.Size(), o.Array.Throttle)
		}
		return firstErr
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
}
