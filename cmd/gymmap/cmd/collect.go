package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crakt/gymmap/internal/sources"
	"github.com/crakt/gymmap/internal/sources/overpass"
	"github.com/crakt/gymmap/internal/sources/sport80"
	"github.com/crakt/gymmap/pkg/pipeline"
)

var skipUSAC bool

// collectCmd fetches every source and rebuilds the merged catalog.
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Fetch all sources, merge duplicates, and store the catalog",
	Long: `Collect fetches gym listings from OpenStreetMap (Overpass) and the
USA Climbing partner directory, merges duplicates across sources, and
upserts the result into the local database. Re-running is idempotent:
records are keyed by their upstream source ID.

Examples:
  gymmap collect
  gymmap collect --skip-usac       # OpenStreetMap only
  gymmap collect --db west.sqlite`,
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)
	collectCmd.Flags().BoolVar(&skipUSAC, "skip-usac", false, "skip the USA Climbing directory")
}

func runCollect(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	services, err := loadServices()
	if err != nil {
		return err
	}

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	connectors := []sources.Connector{
		overpass.New(
			overpass.WithEndpoint(services.Overpass.Endpoint),
			overpass.WithFetcher(newFetcher("overpass", services.Overpass, nil)),
		),
	}
	if !skipUSAC {
		connectors = append(connectors, sport80.New(
			sport80.WithBaseURL(services.Sport80.Endpoint),
			sport80.WithFetcher(newFetcher("sport80", services.Sport80, nil)),
		))
	}

	result, err := pipeline.NewCollector(db, connectors...).Run(ctx)
	if err != nil {
		return err
	}

	for source, n := range result.Fetched {
		fmt.Printf("%-14s %d records\n", source, n)
	}
	for source, ferr := range result.Failed {
		fmt.Printf("%-14s FAILED: %v\n", source, ferr)
	}
	fmt.Printf("\nMerged: %d  Stored: %d\n", result.Merged, result.Stored)
	return nil
}
