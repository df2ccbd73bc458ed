package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dock-orchestrator/core/monitoring"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show campaign progress",
	Long: `Status reports every batch's latest task state alongside the
scheduler's live queue view. It is strictly read-only and always exits
zero so it can run in watch loops without tripping error handling.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			log.Error(err)
			return nil
		}
		store, err := openStore(cfg)
		if err != nil {
			log.Error(err)
			return nil
		}
		jobID := ""
		if len(args) > 0 {
			jobID = args[0]
		}

		_, client := newSubmitter(store, cfg)
		monitor := monitoring.NewMonitor(store, client, log)
		snap, err := monitor.Snapshot(cmd.Context(), jobID)
		if err != nil {
			log.Error(err)
			return nil
		}

		completed, total := snap.Progress()
		fmt.Printf("campaign %s: %d/%d batches completed\n", snap.Campaign.ID, completed, total)
		for state, n := range snap.Counts {
			fmt.Printf("  %-10s %d\n", state, n)
		}
		for _, ts := range snap.Tasks {
			t := ts.Task
			line := fmt.Sprintf("  batch %06d g%d  %-10s", t.BatchIndex, t.Generation, t.State)
			if ts.LiveStatus != "" {
				line += fmt.Sprintf("  queue=%s", ts.LiveStatus)
			}
			if t.Diagnostic != "" {
				line += fmt.Sprintf("  (%s)", t.Diagnostic)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
