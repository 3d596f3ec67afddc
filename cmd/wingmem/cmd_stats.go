package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"wingmem/internal/memory"
)

var statsJSON bool

// statsCmd prints the aggregate engine view.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show engine statistics",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "emit stats as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	store, err := memory.Open(cfg.Memory.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	stats, err := store.EngineStats(0)
	if err != nil {
		return err
	}

	if statsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Printf("atoms:    %d\n", stats.TotalAtoms)
	fmt.Printf("contexts: %d\n", stats.TotalContexts)
	fmt.Printf("chains:   %d (%.0f%% validated)\n", stats.TotalChains, stats.ValidatedChainFraction*100)
	if len(stats.AtomsByType) > 0 {
		fmt.Println("atoms by type:")
		for atomType, count := range stats.AtomsByType {
			fmt.Printf("  %-20s %d\n", atomType, count)
		}
	}
	if len(stats.TopTags) > 0 {
		fmt.Println("top tags:")
		for _, tc := range stats.TopTags {
			fmt.Printf("  %-20s %d\n", tc.Tag, tc.Count)
		}
	}
	if stats.AvgQueryMillis > 0 {
		fmt.Printf("avg query: %.2fms\n", stats.AvgQueryMillis)
	}
	return nil
}
