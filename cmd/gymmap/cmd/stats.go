package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// statsCmd prints catalog statistics.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog statistics and the latest validation summary",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	stats, err := db.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Total gyms: %d\n", stats.Total)
	if stats.Closed > 0 {
		fmt.Printf("Permanently closed: %d\n", stats.Closed)
	}

	fmt.Println("\nBy source:")
	for _, source := range sortedKeys(stats.BySource) {
		fmt.Printf("  %-16s %4d  (%.1f%%)\n",
			source, stats.BySource[source], percent(stats.BySource[source], stats.Total))
	}

	fmt.Println("\nBy state:")
	states := sortedKeys(stats.ByState)
	sort.SliceStable(states, func(i, j int) bool {
		return stats.ByState[states[i]] > stats.ByState[states[j]]
	})
	if len(states) > 15 {
		states = states[:15]
	}
	for _, state := range states {
		fmt.Printf("  %-4s %4d\n", state, stats.ByState[state])
	}

	fmt.Println("\nCompleteness:")
	for _, field := range []string{"name", "street", "city", "state", "postcode", "phone", "website", "latitude", "hours"} {
		n := stats.Completeness[field]
		label := field
		if field == "latitude" {
			label = "coordinates"
		}
		fmt.Printf("  %-12s %4d/%d  (%.1f%%)\n", label, n, stats.Total, percent(n, stats.Total))
	}

	if stats.LastRun != "" {
		fmt.Printf("\nLast validation run: %s\n", stats.LastRun)
		for _, status := range sortedKeys(stats.LastStatuses) {
			fmt.Printf("  %-10s %4d\n", status, stats.LastStatuses[status])
		}
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
