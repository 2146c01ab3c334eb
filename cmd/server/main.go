package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/possync/reconcile/internal/config"
	"github.com/possync/reconcile/internal/lock"
	"github.com/possync/reconcile/internal/repository"
	"github.com/possync/reconcile/internal/repository/memory"
	"github.com/possync/reconcile/internal/repository/mongodb"
	"github.com/possync/reconcile/internal/repository/sheets"
	"github.com/possync/reconcile/internal/scheduler"
	"github.com/possync/reconcile/internal/server/handlers"
	"github.com/possync/reconcile/internal/server/router"
	"github.com/possync/reconcile/internal/service/ingestion"
	"github.com/possync/reconcile/internal/service/ledger"
	"github.com/possync/reconcile/internal/service/matching"
	"github.com/possync/reconcile/internal/service/notify"
	reportingsvc "github.com/possync/reconcile/internal/service/reporting"
	whatsappclient "github.com/possync/reconcile/pkg/clients/whatsapp"
	"github.com/possync/reconcile/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.Log.Level))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	location, err := time.LoadLocation(cfg.Scheduling.Timezone)
	if err != nil {
		baseLogger.Fatal("failed to load timezone", zap.Error(err))
	}

	var store repository.Store
	switch cfg.Store.Driver {
	case config.DriverMemory:
		baseLogger.Warn("using in-memory store, data is lost on restart")
		store = memory.NewStore()
	default:
		mongoStore, err := mongodb.NewStore(context.Background(), cfg.MongoDB, baseLogger.Named("repo.mongodb"))
		if err != nil {
			baseLogger.Fatal("failed to init mongodb store", zap.Error(err))
		}
		defer func() {
			if err := mongoStore.Close(context.Background()); err != nil {
				baseLogger.Error("failed to close mongodb connection", zap.Error(err))
			}
		}()
		store = mongoStore
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			baseLogger.Fatal("failed to reach redis", zap.String("address", cfg.Redis.Address), zap.Error(err))
		}
		locker = lock.NewRedis(rdb, cfg.Redis.LockTTL, baseLogger.Named("lock.redis"))
		baseLogger.Info("distributed receipt locks enabled")
	}

	mutator := ledger.NewMutator(store, cfg.Reconcile.StockConflictRetries, baseLogger.Named("svc.ledger"))
	registry := matching.NewRegistry(store.Counterparties(), cfg.Reconcile.DefaultFeeRate, cfg.Reconcile.RegistryCacheTTL, baseLogger.Named("svc.registry"))
	matcher := matching.NewEngine(store, locker, registry, cfg.Reconcile.ErrorSampleSize, baseLogger.Named("svc.matching"))
	controller := ingestion.NewController(store, mutator, locker, matcher, ingestion.Settings{
		SampleSize: cfg.Reconcile.ErrorSampleSize,
		Retries:    cfg.Reconcile.StockConflictRetries,
	}, baseLogger.Named("svc.ingestion"))

	var (
		gridSource  handlers.GridSource
		sheetWriter reportingsvc.SheetWriter
	)
	if cfg.Sheets.Enabled() {
		sheetsRepo, err := sheets.NewGoogleSheetRepository(context.Background(), cfg.Sheets, baseLogger.Named("repo.sheets"))
		if err != nil {
			baseLogger.Fatal("failed to init sheets repository", zap.Error(err))
		}
		gridSource = sheetsRepo
		if cfg.Sheets.UploadLogRange != "" {
			sheetWriter = sheetsRepo
		}
	} else {
		baseLogger.Warn("google sheets not configured, sheet ingestion disabled")
	}

	var sender notify.Sender = notify.Nop{}
	if cfg.WhatsApp.Enabled() {
		if _, err := whatsappclient.NormalizeRecipient(cfg.WhatsApp.NotifyTo); err != nil {
			baseLogger.Fatal("invalid WHATSAPP_NOTIFY_TO", zap.Error(err))
		}
		whatsClient := whatsappclient.NewClient(cfg.WhatsApp)
		sender = notify.NewWhatsApp(whatsClient, cfg.WhatsApp.NotifyTo, baseLogger.Named("notify.whatsapp"))
		baseLogger.Info("whatsapp notifications enabled")
	}

	reportingSvc := reportingsvc.NewService(mutator, sender, sheetWriter, cfg.Sheets.UploadLogRange, location, baseLogger.Named("svc.reporting"))

	sched, err := scheduler.NewScheduler(cfg.Scheduling, matcher, reportingSvc, baseLogger.Named("scheduler"))
	if err != nil {
		baseLogger.Fatal("failed to init scheduler", zap.Error(err))
	}
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	engine := router.New(router.Handlers{
		Sales:     handlers.NewSalesHandler(controller, gridSource, reportingSvc, cfg.Server.MaxUploadBytes, baseLogger.Named("handlers.sales")),
		Approvals: handlers.NewApprovalsHandler(matcher, gridSource, reportingSvc, cfg.Server.MaxUploadBytes, baseLogger.Named("handlers.approvals")),
		Inventory: handlers.NewInventoryHandler(mutator, baseLogger.Named("handlers.inventory")),
	}, baseLogger.Named("router"))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}
