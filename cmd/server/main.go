package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tokoledger/backend/internal/cache"
	"tokoledger/backend/internal/config"
	"tokoledger/backend/internal/remote"
	"tokoledger/backend/internal/service"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/store/memory"
	"tokoledger/backend/internal/store/sqlite"
	"tokoledger/backend/internal/syncer"
)

func main() {
	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
	defer startCancel()

	closers := make([]func() error, 0, 3)

	var repo store.Repository
	if cfg.SQLitePath != "" {
		db, err := sqlite.Open(cfg.SQLitePath, log)
		if err != nil {
			log.WithError(err).Fatal("sqlite store unavailable")
		}
		repo = db
		closers = append(closers, db.Close)
		log.WithField("path", cfg.SQLitePath).Info("store: sqlite")
	} else {
		repo = memory.NewSeeded()
		log.Info("store: in-memory")
	}

	balances := cache.OutstandingCache(cache.NewMemoryOutstandingCache())
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisOutstandingCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(startCtx); err != nil {
			log.WithError(err).Warn("redis unavailable, using in-memory cache")
		} else {
			balances = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis")
		}
	}

	var rem remote.Ledger
	if cfg.RemoteDatabaseURL != "" {
		pg, err := remote.NewPostgresLedger(startCtx, cfg.RemoteDatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("remote ledger unavailable and REMOTE_DATABASE_URL is set")
		}
		if err := pg.EnsureSchema(startCtx); err != nil {
			log.WithError(err).Fatal("remote schema bootstrap failed")
		}
		rem = pg
		closers = append(closers, pg.Close)
		log.Info("remote: postgres")
	} else {
		rem = remote.NewMemoryLedger()
		log.Info("remote: in-memory")
	}

	svc := service.New(repo, balances, log)
	engine := syncer.New(repo, rem, svc, log, syncer.Config{
		ConnectionID:   cfg.ConnectionID,
		Debounce:       cfg.SyncDebounce,
		Interval:       cfg.SyncInterval,
		Timeout:        cfg.SyncTimeout,
		MaxJobAttempts: cfg.MaxJobAttempts,
		JobRetention:   time.Duration(cfg.JobRetentionDays) * 24 * time.Hour,
	})
	svc.SetChangeNotifier(engine.NotifyChange)

	go engine.Start(ctx)
	go reconcileLoop(ctx, svc, log, cfg.ReconcileInterval)

	log.WithField("terminal_id", cfg.TerminalID).Info("ledger running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.WithError(err).Warn("close error")
		}
	}

	log.Info("ledger stopped")
}

// reconcileLoop periodically repairs drift between materialized stock
// quantities and the movement ledger.
func reconcileLoop(ctx context.Context, svc *service.Service, log *logrus.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			repaired, err := svc.ReconcileAll(ctx)
			if err != nil {
				log.WithError(err).Warn("reconcile run failed")
				continue
			}
			if len(repaired) > 0 {
				log.WithField("repaired", len(repaired)).Warn("stock drift repaired")
			}
		}
	}
}
