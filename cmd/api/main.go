package main

import (
	"context"
	"database/sql"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/cfp-titulos/titulos-backend/config"
	"github.com/cfp-titulos/titulos-backend/internal/bootstrap"
	"github.com/cfp-titulos/titulos-backend/internal/catalog/cache"
	"github.com/cfp-titulos/titulos-backend/internal/catalog/client"
	"github.com/cfp-titulos/titulos-backend/internal/catalog/service"
	croncatalog "github.com/cfp-titulos/titulos-backend/internal/cron"
	"github.com/cfp-titulos/titulos-backend/internal/overlay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	bootstrap.SetGinMode(cfg.App.Environment)
	ctx := context.Background()

	var db *sql.DB
	var store overlay.Store

	switch cfg.Overlay.Backend {
	case "postgres":
		db, err = bootstrap.OpenDB(ctx, bootstrap.DBOptions{DSN: cfg.Overlay.Database.DSN()})
		if err != nil {
			log.Fatalf("overlay database: %v", err)
		}
		defer db.Close()

		pgStore := overlay.NewPostgresStore(db)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Fatalf("overlay schema: %v", err)
		}
		store = pgStore
	default:
		store = overlay.NewFileStore(cfg.Overlay.Path)
	}

	var redisClient *redis.Client
	var snapshotCache service.SnapshotCache
	redisClient, err = bootstrap.OpenRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		snapshotCache = cache.NewSnapshotCache(redisClient, cfg.Cache.TTL)
	}

	fetcher := client.NewClient(cfg.Catalog.URL, cfg.Catalog.DetailURL, cfg.Catalog.FetchTimeout)
	svc := service.NewCatalogService(fetcher, store, snapshotCache, service.Options{
		MonthLocale:   cfg.Catalog.MonthLocale,
		DetailEnabled: cfg.Catalog.DetailEnabled,
		DetailRate:    cfg.Catalog.DetailRateLimit,
		DetailBurst:   cfg.Catalog.DetailBurst,
	})

	scheduler := croncatalog.NewScheduler(svc, cfg.Catalog.RefreshCron)
	scheduler.Start()
	defer scheduler.Stop()

	r := bootstrap.BuildRouter(bootstrap.RouterDeps{
		ServiceName: "titulos-backend",
		Version:     cfg.App.Version,
		Catalog:     svc,
		DB:          db,
		Cache:       redisClient,
	})

	log.Printf("listening on :%s (overlay backend=%s)", cfg.Server.Port, cfg.Overlay.Backend)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("server: %v", err)
	}
}
