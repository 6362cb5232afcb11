package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"

	"github.com/capbothers/pim-cli/internal/registry"
	"github.com/capbothers/pim-cli/internal/store"
	"github.com/capbothers/pim-cli/pkg/shopify"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "pim.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: int32(cfg.Store.MaxConns),
			MinConns: int32(cfg.Store.MinConns),
		})
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initRegistry() (*registry.Registry, error) {
	return registry.Load(cfg.Schema.Path)
}

func initShopify() (shopify.Client, error) {
	if err := cfg.Validate("apply"); err != nil {
		return nil, err
	}
	return shopify.NewClient(
		cfg.Shopify.StoreDomain,
		cfg.Shopify.AccessToken,
		shopify.WithRateLimit(cfg.Shopify.RateLimit),
	), nil
}

// printJSON writes a result to stdout for piping into jq or scripts.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
