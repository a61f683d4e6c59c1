// gatehoused is the tenant role configuration daemon: it keeps the
// per-tenant role and permission documents hot in memory, serves the
// health and metrics endpoints and reconciles writes into the configured
// backends.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/gatehouse-io/gatehouse/pkg/catalog"
	"github.com/gatehouse-io/gatehouse/pkg/config"
	"github.com/gatehouse-io/gatehouse/pkg/distrib"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/service"
	"github.com/gatehouse-io/gatehouse/pkg/source"
	"github.com/gatehouse-io/gatehouse/pkg/source/configservice"
	"github.com/gatehouse-io/gatehouse/pkg/source/database"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gatehoused: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	log := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := distrib.NewHub(log)

	// Distribution backend.
	var (
		client     distrib.Client
		fileClient *distrib.FileClient
		redisDist  *distrib.RedisClient
		rdb        *redis.Client
	)
	switch cfg.Distrib.Type {
	case "file":
		fileClient, err = distrib.NewFileClient(cfg.Distrib.FileRoot, log)
		if err != nil {
			return err
		}
		client = fileClient
		log.WithField("root", cfg.Distrib.FileRoot).Info("using file distribution backend")
	case "redis":
		opts, err := redis.ParseURL(cfg.Distrib.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		if cfg.Distrib.RedisPassword != "" {
			opts.Password = cfg.Distrib.RedisPassword
		}
		opts.DB = cfg.Distrib.RedisDB
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		redisDist = distrib.NewRedisClient(rdb, log)
		client = redisDist
		log.Info("using redis distribution backend")
	}

	// Sources.
	configSource := configservice.NewSource(client, cfg.Engine.RolesPathTemplate, cfg.Engine.PermissionsPathTemplate, log, metrics)
	for _, l := range configSource.Listeners() {
		hub.Register(l)
	}

	sources := []source.Source{configSource}
	var db *sql.DB
	if cfg.Database.PostgresURL != "" {
		db, err = sql.Open("postgres", cfg.Database.PostgresURL)
		if err != nil {
			return fmt.Errorf("failed to open postgres: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

		if cfg.Database.MigrateOnStart {
			if err := database.RunMigrations(ctx, db, log); err != nil {
				return err
			}
		}
		sources = append(sources, database.NewSource(db, log, metrics))
		log.Info("database source registered")
	}

	selector, err := source.NewSelector(source.StaticModeProvider(cfg.Engine.TenantModes), log, metrics, sources...)
	if err != nil {
		return err
	}

	// Privilege catalog rides the same distribution tree.
	privileges := catalog.NewDocument(cfg.Engine.PrivilegesPath, log)
	hub.Register(privileges)

	roleService := service.NewRoleService(selector, privileges, service.NoReferences{}, log)

	// Initial document load before serving traffic.
	switch cfg.Distrib.Type {
	case "file":
		if err := fileClient.Bootstrap(hub); err != nil {
			return fmt.Errorf("bootstrap failed: %w", err)
		}
	case "redis":
		if err := redisDist.Bootstrap(ctx, hub); err != nil {
			return fmt.Errorf("bootstrap failed: %w", err)
		}
	}

	// Fresh tenants get the default role before traffic arrives.
	for _, tenantKey := range cfg.Engine.SeedTenants {
		if err := roleService.SeedTenant(ctx, tenantKey); err != nil {
			return fmt.Errorf("failed to seed tenant %s: %w", tenantKey, err)
		}
	}

	group, ctx := errgroup.WithContext(ctx)

	// Change feed.
	switch cfg.Distrib.Type {
	case "file":
		group.Go(func() error { return fileClient.Watch(ctx, hub) })
	case "redis":
		group.Go(func() error { return redisDist.Listen(ctx, hub) })
	}

	// Periodic full resync recovers from missed notifications.
	if cfg.Engine.ResyncSchedule != "" {
		schedule := cron.New()
		_, err := schedule.AddFunc(cfg.Engine.ResyncSchedule, func() {
			var err error
			switch cfg.Distrib.Type {
			case "file":
				err = fileClient.Resync(ctx, hub)
			case "redis":
				err = redisDist.Resync(ctx, hub)
			}
			if err != nil {
				log.WithError(err).Error("periodic resync failed")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid resync schedule %q: %w", cfg.Engine.ResyncSchedule, err)
		}
		schedule.Start()
		defer schedule.Stop()
		log.WithField("schedule", cfg.Engine.ResyncSchedule).Info("periodic resync scheduled")
	}

	// Health and metrics server.
	health := observability.NewHealthChecker(db, rdb)
	router := mux.NewRouter()
	router.HandleFunc("/healthz", health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", health.Readiness).Methods(http.MethodGet)
	if cfg.Observability.MetricsEnabled {
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	group.Go(func() error {
		log.WithField("addr", server.Addr).Info("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Info("gatehoused started")
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("gatehoused stopped")
	return nil
}
