package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dock-orchestrator/core/timing"
)

// timingCmd represents the timing command
var timingCmd = &cobra.Command{
	Use:   "timing",
	Short: "Report queue-wait and run-time statistics",
	Long: `Timing derives elapsed-time statistics from the timestamps already in
the task records, across every retained task generation. It writes
nothing and always exits zero.`,
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

		report, err := timing.NewReporter(store).Report()
		if err != nil {
			log.Error(err)
			return nil
		}

		fmt.Printf("campaign %s: %d tasks measured, %d without timestamps\n",
			campaignID, len(report.Tasks), report.Untimed)
		printStats("queue wait", report.QueueWait)
		printStats("run time", report.RunTime)
		fmt.Printf("wall clock %s\n", report.WallClock)
		return nil
	},
}

func printStats(name string, s timing.Stats) {
	if s.Count == 0 {
		fmt.Printf("%s: no measurements\n", name)
		return
	}
	fmt.Printf("%s: n=%d sum=%s mean=%s median=%s stddev=%s\n",
		name, s.Count, s.Sum, s.Mean, s.Median, s.Stddev)
	for i, d := range s.Top {
		fmt.Printf("  longest #%d: %s\n", i+1, d)
	}
}

func init() {
	rootCmd.AddCommand(timingCmd)
}
