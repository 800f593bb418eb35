package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	sfapi "github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout-cli/internal/resilience"
	"github.com/sells-group/leadscout-cli/internal/store"
	"github.com/sells-group/leadscout-cli/pkg/crawlexec"
	"github.com/sells-group/leadscout-cli/pkg/salesforce"
	"github.com/sells-group/leadscout-cli/pkg/searchexec"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "leadscout.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore initializes the store and runs migrations; callers defer Close.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func initSearchExec() (searchexec.Client, error) {
	if err := cfg.Validate("search"); err != nil {
		return nil, err
	}
	return searchexec.NewClient(cfg.Search.BaseURL, cfg.Search.Key,
		searchexec.WithTimeout(time.Duration(cfg.Search.TimeoutSecs)*time.Second),
		searchexec.WithRetry(resilience.FromConfig(
			cfg.Search.RetryAttempts, cfg.Search.RetryBackoffMS, cfg.Search.RetryBackoffCapMS))), nil
}

func initCrawlExec() (crawlexec.Client, error) {
	if err := cfg.Validate("crawl"); err != nil {
		return nil, err
	}
	return crawlexec.NewClient(cfg.Crawl.BaseURL, cfg.Crawl.Key,
		crawlexec.WithTimeout(time.Duration(cfg.Crawl.TimeoutSecs)*time.Second),
		crawlexec.WithRetry(resilience.FromConfig(
			cfg.Crawl.RetryAttempts, cfg.Crawl.RetryBackoffMS, cfg.Crawl.RetryBackoffCapMS))), nil
}

func initSalesforce() (salesforce.Client, error) {
	if err := cfg.Validate("salesforce"); err != nil {
		return nil, err
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := sfapi.Init(sfapi.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "salesforce JWT auth")
	}

	return salesforce.NewClient(sf, salesforce.WithRateLimit(cfg.Salesforce.RateLimitRPS)), nil
}

// parseIDList parses a comma-separated list of numeric ids.
func parseIDList(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, eris.Errorf("invalid id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
