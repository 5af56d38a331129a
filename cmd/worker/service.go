package main

import (
	"context"
	"log"

	"github.com/cfp-titulos/titulos-backend/config"
	"github.com/cfp-titulos/titulos-backend/internal/bootstrap"
	"github.com/cfp-titulos/titulos-backend/internal/catalog/cache"
	"github.com/cfp-titulos/titulos-backend/internal/catalog/client"
	"github.com/cfp-titulos/titulos-backend/internal/catalog/service"
	"github.com/cfp-titulos/titulos-backend/internal/overlay"
)

// buildService wires the same core the API server uses, from the same env
// config. The returned cleanup closes any opened connections.
func buildService() (*service.CatalogService, func()) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	cleanups := []func(){}

	var store overlay.Store
	switch cfg.Overlay.Backend {
	case "postgres":
		db, err := bootstrap.OpenDB(ctx, bootstrap.DBOptions{DSN: cfg.Overlay.Database.DSN()})
		if err != nil {
			log.Fatalf("overlay database: %v", err)
		}
		cleanups = append(cleanups, func() { db.Close() })

		pgStore := overlay.NewPostgresStore(db)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Fatalf("overlay schema: %v", err)
		}
		store = pgStore
	default:
		store = overlay.NewFileStore(cfg.Overlay.Path)
	}

	var snapshotCache service.SnapshotCache
	redisClient, err := bootstrap.OpenRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	if redisClient != nil {
		cleanups = append(cleanups, func() { redisClient.Close() })
		snapshotCache = cache.NewSnapshotCache(redisClient, cfg.Cache.TTL)
	}

	fetcher := client.NewClient(cfg.Catalog.URL, cfg.Catalog.DetailURL, cfg.Catalog.FetchTimeout)
	svc := service.NewCatalogService(fetcher, store, snapshotCache, service.Options{
		MonthLocale:   cfg.Catalog.MonthLocale,
		DetailEnabled: cfg.Catalog.DetailEnabled,
		DetailRate:    cfg.Catalog.DetailRateLimit,
		DetailBurst:   cfg.Catalog.DetailBurst,
	})

	return svc, func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
}
