package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"dock-orchestrator/core/collector"
)

var materializePoses bool

// collectCmd represents the collect command
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Merge per-batch results into one ranked list",
	Long: `Collect reads every completed task's result records and merges them
into a single ranking ordered by fitness score, ties broken by ligand
identifier. Batches without a completed task are reported and the
ranking is marked partial. With --materialize-poses the ranked pose
files are copied under the campaign's poses directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		coll := collector.NewCollector(store, cfg.OutputDir(campaignID), cfg.Engine.Scoring, log)
		ranking, err := coll.Collect()
		if err != nil {
			return err
		}

		rankingPath := filepath.Join(cfg.CampaignRoot(campaignID), collector.RankingFilename)
		if err := coll.WriteRankingFile(ranking, rankingPath); err != nil {
			return err
		}
		fmt.Printf("wrote %d ranked records to %s\n", len(ranking.Records), rankingPath)
		if len(ranking.Incomplete) > 0 {
			fmt.Printf("partial ranking: %d batches have no completed task: %v\n",
				len(ranking.Incomplete), ranking.Incomplete)
		}
		if len(ranking.Flagged) > 0 {
			fmt.Printf("%d completed batches had unreadable results: %v\n",
				len(ranking.Flagged), ranking.Flagged)
		}

		if materializePoses {
			posesDir := filepath.Join(cfg.CampaignRoot(campaignID), "poses")
			if err := coll.MaterializePoses(ranking, posesDir); err != nil {
				return err
			}
			fmt.Printf("pose files copied to %s\n", posesDir)
		}
		return nil
	},
}

func init() {
	collectCmd.Flags().BoolVar(&materializePoses, "materialize-poses", false, "copy ranked pose files into the poses directory")
	rootCmd.AddCommand(collectCmd)
}
