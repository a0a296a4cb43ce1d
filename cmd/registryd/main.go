// Command registryd runs the stardag registry's HTTP API: the service
// SDKs talk to for build tracking, task registration, lock coordination,
// and task search, plus the UI-facing organization/workspace/environment
// management routes.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/stardag-dev/stardag-registry/internal/app/system"
	"github.com/stardag-dev/stardag-registry/internal/config"
	"github.com/stardag-dev/stardag-registry/internal/platform/cache"
	"github.com/stardag-dev/stardag-registry/internal/platform/database"
	"github.com/stardag-dev/stardag-registry/internal/platform/migrations"
	"github.com/stardag-dev/stardag-registry/internal/registry/auth"
	"github.com/stardag-dev/stardag-registry/internal/registry/httpapi"
	"github.com/stardag-dev/stardag-registry/internal/registry/lock"
	"github.com/stardag-dev/stardag-registry/internal/registry/search"
	"github.com/stardag-dev/stardag-registry/internal/registry/store"
	"github.com/stardag-dev/stardag-registry/pkg/logger"
)

func main() {
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log := logger.New(logger.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	var (
		db      *sql.DB
		backing store.Store
	)
	if cfg.DatabaseDSN != "" {
		db, err = database.Open(context.Background(), cfg.DatabaseDSN, database.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnLifetime,
		})
		if err != nil {
			log.Fatalf("connect to postgres: %v", err)
		}
		defer db.Close()

		if *runMigrations {
			if err := migrations.Apply(context.Background(), db); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
		}
		backing = store.NewPostgresStore(db)
	} else {
		log.Warnf("DATABASE_URL not set; using in-memory store (data lost on restart)")
		backing = store.NewMemoryStore()
	}

	apiKeys := auth.NewApiKeyResolver(backing)
	internalTokens := auth.NewTokenIssuer(cfg.InternalTokenSecret, cfg.OIDCIssuer, cfg.InternalTokenTTL)
	resolver := auth.NewResolver(apiKeys, internalTokens, backing)
	oidc := auth.NewOIDCValidator(cfg.OIDCIssuer, cfg.OIDCAudience, cfg.OIDCIssuer+"/.well-known/jwks.json")
	locks := lock.New(backing)

	var cacheBackend cache.Backend
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL, "stardag:search:")
		if err != nil {
			log.Fatalf("connect to redis: %v", err)
		}
		cacheBackend = redisCache
	} else {
		cacheBackend = cache.New(cache.Config{DefaultTTL: 5 * time.Minute})
	}
	searchSvc := search.NewWithCache(backing, cacheBackend)

	httpCfg := httpapi.Config{
		OIDCIssuer:              cfg.OIDCIssuer,
		OIDCClientID:            cfg.OIDCClientID,
		InternalTokenTTL:        cfg.InternalTokenTTL,
		MaxOrganizationsPerUser: cfg.MaxOrganizationsPerUser,
		MaxWorkspacesPerUser:    cfg.MaxWorkspacesPerUser,
		DefaultLockTTL:          cfg.DefaultLockTTL,
	}
	deps := httpapi.Deps{
		Store:    backing,
		Resolver: resolver,
		OIDC:     oidc,
		Internal: internalTokens,
		Locks:    locks,
		Search:   searchSvc,
		DB:       db,
	}

	addr := cfg.ServerHost + ":" + strconv.Itoa(cfg.ServerPort)
	svc := httpapi.NewService(addr, httpCfg, deps, log)

	keyRefresher := auth.NewKeyRefresher(oidc, cfg.OIDCKeyRefreshSchedule, log)
	sweeper := lock.NewSweeper(locks, cfg.LockSweepSchedule, log)

	manager := system.NewManager()
	if err := manager.Register(svc); err != nil {
		log.Fatalf("register http service: %v", err)
	}
	if err := manager.Register(keyRefresher); err != nil {
		log.Fatalf("register oidc key refresher: %v", err)
	}
	if err := manager.Register(sweeper); err != nil {
		log.Fatalf("register lock sweeper: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		log.Fatalf("start services: %v", err)
	}
	log.Infof("registry listening on %s", addr)

	<-ctx.Done()
	log.Infof("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DBConnLifetime)
	defer cancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		log.Errorf("shutdown error: %v", err)
	}
}
