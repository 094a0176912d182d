package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"probewatch/internal/admission"
	"probewatch/internal/catalog"
	"probewatch/internal/config"
	"probewatch/internal/detection"
	"probewatch/internal/probe"
	"probewatch/internal/progress"
	"probewatch/internal/queue"
	"probewatch/internal/scheduler"
	"probewatch/internal/storage"
	"probewatch/internal/version"
	"probewatch/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	version.PrintBanner()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	pool, sched, cleanup, err := initializeServices(cfg)
	if err != nil {
		log.Fatalf("service init failed: %v", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pool.Start(ctx); err != nil {
		log.Fatalf("worker pool start failed: %v", err)
	}
	if err := sched.StartAll(ctx); err != nil {
		log.Fatalf("scheduler start failed: %v", err)
	}

	log.Print("probewatch is running, waiting for a shutdown signal")
	<-ctx.Done()

	log.Print("shutting down")
	sched.StopAll()
	pool.Stop()
}

// initializeServices wires every process-wide singleton into place:
// storage, queue, admission, progress bus, probe executor, catalog
// syncer, the worker pool, the detection service, and the cron
// scheduler. The returned cleanup func closes every resource that owns
// one (store, queue, admission controller) in reverse order.
func initializeServices(cfg *config.EnvConfig) (*worker.Pool, *scheduler.Scheduler, func(), error) {
	store, err := storage.NewStore(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	q, err := queue.New(cfg)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}

	adm, err := admission.New(cfg, cfg.MaxGlobalConcurrency, cfg.ChannelConcurrency)
	if err != nil {
		q.Close()
		store.Close()
		return nil, nil, nil, err
	}

	bus := progress.NewBus()

	var mirror *progress.BrokerMirror
	if cfg.BrokerURL != "" {
		opts, err := redis.ParseURL(cfg.BrokerURL)
		if err != nil {
			adm.Close()
			q.Close()
			store.Close()
			return nil, nil, nil, err
		}
		client := redis.NewClient(opts)
		mirror = progress.NewBrokerMirror(bus, client)
		mirror.Start(context.Background())
	}

	executor := probe.NewExecutor()
	syncer := catalog.NewSyncer(executor, store)

	pool := worker.NewPool(q, adm, executor, store, bus, mirror)
	detector := detection.NewService(store, q, bus, syncer, cfg.SecondaryChatProbe)
	sched := scheduler.New(store, detector, pool)

	cleanup := func() {
		if mirror != nil {
			mirror.Stop()
		}
		adm.Close()
		q.Close()
		store.Close()
	}

	return pool, sched, cleanup, nil
}
