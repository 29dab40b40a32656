package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crakt/gymmap/internal/config"
	"github.com/crakt/gymmap/internal/ratelimit"
	"github.com/crakt/gymmap/internal/search/nominatim"
	"github.com/crakt/gymmap/internal/search/places"
	"github.com/crakt/gymmap/pkg/gyms"
	"github.com/crakt/gymmap/pkg/pipeline"
	"github.com/crakt/gymmap/pkg/reconcile"
	"github.com/crakt/gymmap/pkg/validate"
)

var (
	validateProvider string
	validateAPIKey   string
	validateRate     float64
	validateLimit    int
	validateDryRun   bool
	autoUpdate       bool
	problemsPath     string
)

// validateCmd re-checks stored gyms against a search provider.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Re-check stored gyms against a search provider",
	Long: `Validate compares each stored gym against a live search provider and
records an outcome per gym: valid, updated, closed, not_found, or error.
Outcomes are appended to the validation history.

With --auto-update, confirmed changes are folded back into the catalog.
Name rewrites need higher confidence than contact-detail updates, and
permanently closed gyms are marked in metadata rather than deleted.

Examples:
  gymmap validate --limit 10
  gymmap validate --provider nominatim
  gymmap validate --auto-update
  gymmap validate --auto-update --dry-run`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateProvider, "provider", "google", "search provider: google or nominatim")
	validateCmd.Flags().StringVar(&validateAPIKey, "api-key", "", "API key (default: GOOGLE_PLACES_API_KEY env)")
	validateCmd.Flags().Float64Var(&validateRate, "rate", 10.0, "requests per second")
	validateCmd.Flags().IntVar(&validateLimit, "limit", 0, "validate only the first N gyms")
	validateCmd.Flags().BoolVar(&validateDryRun, "dry-run", false, "with --auto-update, log changes without writing them")
	validateCmd.Flags().BoolVar(&autoUpdate, "auto-update", false, "apply confirmed changes to the catalog")
	validateCmd.Flags().StringVar(&problemsPath, "problems", "", "JSON export path for problem records (default: <db>_problems.json)")
}

func runValidate(cmd *cobra.Command, _ []string) error {
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

	var checker validate.Checker
	var limiter *ratelimit.Limiter

	switch validateProvider {
	case "google":
		key, err := config.GoogleAPIKey(validateAPIKey)
		if err != nil {
			return fmt.Errorf("google places: %w (set GOOGLE_PLACES_API_KEY or pass --api-key)", err)
		}
		burst := int(validateRate / 2)
		if burst < 2 {
			burst = 2
		}
		limiter = ratelimit.New(validateRate, burst)
		client, err := places.New(key, limiter, places.WithBaseURL(services.Places.Endpoint))
		if err != nil {
			return err
		}
		checker = validate.New(client)
	case "nominatim":
		// Nominatim's usage policy allows at most one request per second.
		limiter = ratelimit.New(services.Nominatim.RPS, services.Nominatim.Burst)
		checker = nominatim.New(
			nominatim.WithBaseURL(services.Nominatim.Endpoint),
			nominatim.WithFetcher(newFetcher("nominatim", services.Nominatim, limiter)),
		)
	default:
		return fmt.Errorf("unknown provider %q (want google or nominatim)", validateProvider)
	}

	runner := pipeline.NewRunner(db, checker)
	runner.Limit = validateLimit
	runner.Limiter = limiter
	runner.ProblemsPath = problemsPath
	if runner.ProblemsPath == "" {
		runner.ProblemsPath = strings.TrimSuffix(viper.GetString("db"), ".sqlite") + "_problems.json"
	}
	if autoUpdate {
		reconciler := reconcile.New(db)
		reconciler.DryRun = validateDryRun
		runner.Reconciler = reconciler
	}

	result, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Validated %d gyms (run %s)\n\n", result.Checked, result.RunID)
	statuses := make([]gyms.Status, 0, len(result.ByStatus))
	for status := range result.ByStatus {
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
	for _, status := range statuses {
		count := result.ByStatus[status]
		pct := 0.0
		if result.Checked > 0 {
			pct = float64(count) / float64(result.Checked) * 100
		}
		fmt.Printf("  %-10s %4d  (%.1f%%)\n", status, count, pct)
	}

	if result.Applied != nil {
		fmt.Printf("\nReconciled: %d updated, %d closed, %d skipped",
			result.Applied.Updated, result.Applied.Closed, result.Applied.Skipped)
		if autoUpdate && validateDryRun {
			fmt.Print(" (dry run)")
		}
		fmt.Println()
	}
	if len(result.Problems) > 0 {
		fmt.Printf("\nExported %d problem records to %s\n", len(result.Problems), runner.ProblemsPath)
	}
	if limiter != nil {
		stats := result.Requests
		fmt.Printf("\nRequests: %d in %.1fs (%.2f req/s)\n",
			stats.Requests, stats.Elapsed.Seconds(), stats.AverageRPS)
	}
	return nil
}
