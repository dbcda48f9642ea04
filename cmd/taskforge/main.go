package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"taskforge/internal/auth"
	"taskforge/internal/bridge"
	"taskforge/internal/config"
	"taskforge/internal/db"
	httpx "taskforge/internal/http"
	"taskforge/internal/queue"
	"taskforge/internal/store"
	"taskforge/internal/task"
	"taskforge/internal/worker"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		log.Fatal(err)
	}

	jwtSvc := auth.NewJWT(cfg.JWTSecret)
	metrics := &worker.Metrics{}

	registry := worker.NewRegistry()
	registry.Register("default", worker.SimulatedExecutor)

	// Each process gets a random identity at startup; it scopes claims in
	// queue mode.
	workerID := uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	svc := &task.Service{
		DB:                 gdb,
		QueueMode:          cfg.QueueModeEnabled(),
		DefaultMaxAttempts: cfg.DefaultMaxAttempts,
	}

	if cfg.QueueModeEnabled() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		q := queue.NewRedisQueue(rdb, cfg.QueueNamespace)
		svc.Queue = q

		b := &bridge.Bridge{
			Store:     &store.EnqueueStore{DB: gdb},
			Queue:     q,
			Interval:  cfg.BridgeInterval,
			BatchSize: cfg.BridgeBatchSize,
			Lock:      cfg.EnqueueLock,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Run(ctx)
		}()

		loop := &worker.QueueLoop{
			Store:             &store.QueueStore{DB: gdb},
			Queue:             q,
			DLQ:               queue.NewRedisDeadLetter(rdb, cfg.QueueNamespace),
			Registry:          registry,
			Metrics:           metrics,
			WorkerID:          workerID,
			BatchSize:         cfg.ReceiveBatchSize,
			WaitSeconds:       cfg.ReceiveWaitSeconds,
			VisibilitySeconds: cfg.VisibilitySeconds,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.Run(ctx)
		}()
	} else {
		p := &worker.Poller{
			Store:     &store.PollStore{DB: gdb},
			Registry:  registry,
			Metrics:   metrics,
			WorkerID:  workerID,
			Interval:  cfg.PollInterval,
			BatchSize: cfg.PollBatchSize,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
	}

	r := httpx.NewRouter(cfg, gdb, jwtSvc, svc, metrics)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on %s mode=%s workerId=%s", cfg.HTTPAddr, cfg.QueueMode, workerID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// graceful shutdown: stop accepting batches, let in-flight work finish
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
