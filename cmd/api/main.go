package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dialer-platform/internal/auth"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/clock"
	"dialer-platform/internal/config"
	"dialer-platform/internal/dispatch"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/slots"
	"dialer-platform/internal/telephony"
	"dialer-platform/internal/tenants"
	"dialer-platform/pkg/logger"
	"dialer-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	store := queue.NewPostgresStore(db)
	campaignRepo := campaigns.NewPostgresRepo(db)
	directory := tenants.NewPostgresDirectory(db, cfg.Dispatch.TenantConcurrencyLimit)
	for _, ensure := range []func(context.Context) error{
		store.EnsureSchema,
		campaignRepo.EnsureSchema,
		directory.EnsureSchema,
	} {
		if err := ensure(rootCtx); err != nil {
			log.Error("schema init failed", "err", err)
			os.Exit(1)
		}
	}

	// Slot counters expire a little after the orphan cutoff so a crashed
	// process cannot pin capacity forever.
	tracker := slots.NewRedisTracker(rdb, cfg.Dispatch.SystemConcurrencyLimit,
		cfg.Dispatch.MaxCallDuration+cfg.Dispatch.OrphanSweepInterval)

	engine := dispatch.NewEngine(dispatch.Deps{
		Store:    store,
		Slots:    tracker,
		Registry: campaigns.NewRegistry(campaignRepo),
		Tenants:  directory,
		Provider: telephony.NewFakeProvider(),
		Clock:    clock.System(),
		Log:      log,
	}, dispatch.Config{
		SystemLimit:         cfg.Dispatch.SystemConcurrencyLimit,
		DispatchTimeout:     cfg.Dispatch.DispatchTimeout,
		ProviderCooldown:    cfg.Dispatch.ProviderCooldown,
		MaxCallDuration:     cfg.Dispatch.MaxCallDuration,
		OrphanSweepInterval: cfg.Dispatch.OrphanSweepInterval,
	})

	// Recover slot accounting from entries that were in flight before restart.
	if err := engine.RebuildSlots(rootCtx); err != nil {
		log.Error("slot rebuild failed", "err", err)
		os.Exit(1)
	}

	go engine.Run(rootCtx)
	go engine.RunOrphanSweep(rootCtx)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, authManager, engine, db)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
