package cmd

import (
	"context"
	"net/http"

	"github.com/spf13/viper"

	"github.com/crakt/gymmap/internal/config"
	"github.com/crakt/gymmap/internal/fetch"
	"github.com/crakt/gymmap/internal/ratelimit"
	"github.com/crakt/gymmap/internal/store"
)

// openStore opens the database named by the --db flag.
func openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, viper.GetString("db"))
}

// loadServices reads per-service tunables from the --sources file.
func loadServices() (config.Services, error) {
	return config.LoadServices(viper.GetString("sources"))
}

// newFetcher builds a fetcher from one service's tunables.
func newFetcher(service string, svc config.Service, limiter *ratelimit.Limiter) *fetch.Client {
	if limiter == nil {
		limiter = ratelimit.New(svc.RPS, svc.Burst)
	}
	return fetch.New(service,
		fetch.WithMaxRetries(svc.Retries),
		fetch.WithLimiter(limiter),
		fetch.WithHTTPClient(&http.Client{Timeout: svc.Timeout}),
	)
}
