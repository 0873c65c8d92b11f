package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/scorepulse/scorepulse/internal/broadcast"
	"github.com/scorepulse/scorepulse/internal/config"
	"github.com/scorepulse/scorepulse/internal/feed"
	"github.com/scorepulse/scorepulse/internal/health"
	"github.com/scorepulse/scorepulse/internal/logging"
	"github.com/scorepulse/scorepulse/internal/scheduler"
	"github.com/scorepulse/scorepulse/internal/server"
	"github.com/scorepulse/scorepulse/internal/store"
	"github.com/scorepulse/scorepulse/internal/strategy"
	"github.com/scorepulse/scorepulse/internal/version"
	"github.com/scorepulse/scorepulse/internal/worker"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	return pool
}

func setupRedis(cfg *config.Config) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := worker.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		PollInterval:      cfg.PollInterval,
		UpdateTimeout:     cfg.UpdateTimeout,
		MaxAttempts:       cfg.MaxUpdateAttempts,
		InitialBackoff:    cfg.InitialBackoff,
		BackoffCap:        cfg.BackoffCap,
		Cooldown:          cfg.Cooldown,
		StoreReconnectMax: cfg.StoreReconnectMax,
	}
}

func main() {
	cfg := setupConfig()

	if cfg.WorkerMode() {
		runWorker(cfg)
		return
	}
	runPrimary(cfg)
}

// runWorker is the process body for one shard of the update pipeline. It
// polls only its own games, publishes updates to Redis, and heartbeats on
// stdout for the supervisor. It serves no HTTP.
func runWorker(cfg *config.Config) {
	logging.InitWorkerLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Worker starting", "worker_index", cfg.WorkerIndex, "worker_count", cfg.WorkerCount)

	clock := clockwork.NewRealClock()

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	gameStore := store.New(pool)
	feedClient := feed.NewClient(cfg.FeedBaseURL, clock)
	publisher := worker.NewPublisher(redisClient)
	shard := worker.Filter(cfg.WorkerIndex, cfg.WorkerCount)

	sched := scheduler.New(gameStore, feedClient, strategy.DefaultRegistry(), publisher,
		clock, schedulerConfig(cfg), shard)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	heartbeater := worker.NewHeartbeater(os.Stdout, cfg.WorkerIndex, cfg.HeartbeatInterval, clock,
		func() int { return sched.Stats().AssignedGames })
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		heartbeater.Run(ctx)
	}()

	sched.Run(ctx)
	<-hbDone

	slog.Info("Worker stopped", "worker_index", cfg.WorkerIndex)
}

// runPrimary serves the WebSocket and health endpoints. With a worker pool
// configured it supervises the pool and relays Redis updates into the local
// hub; without one it runs the whole update pipeline in-process.
func runPrimary(cfg *config.Config) {
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	build := version.Get()
	slog.Info("Application starting",
		"env", cfg.AppEnv, "port", cfg.Port, "worker_count", cfg.WorkerCount,
		"version", build.Version, "commit", build.Commit)

	clock := clockwork.NewRealClock()

	pool := setupDB(cfg)
	gameStore := store.New(pool)

	hub := broadcast.NewHub(clock, broadcast.Config{
		SendBufferSize:       cfg.SendBufferSize,
		CompressionThreshold: cfg.CompressionThreshold,
		PingInterval:         cfg.HeartbeatInterval,
	})

	runCtx, cancelRun := context.WithCancel(context.Background())
	pipelineDone := make(chan struct{})

	var statsFn func() scheduler.Stats
	var redisClient *goredis.Client

	if cfg.WorkerCount > 0 {
		redisClient = setupRedis(cfg)

		supervisor := worker.NewSupervisor(worker.SelfCommand(), cfg.WorkerCount, cfg.HeartbeatInterval, clock)
		relay := worker.NewRelay(redisClient, hub)
		statsFn = supervisor.Stats

		go relay.Start(runCtx)
		go func() {
			defer close(pipelineDone)
			supervisor.Run(runCtx)
		}()
	} else {
		feedClient := feed.NewClient(cfg.FeedBaseURL, clock)
		sched := scheduler.New(gameStore, feedClient, strategy.DefaultRegistry(), hub,
			clock, schedulerConfig(cfg), nil)
		statsFn = sched.Stats

		go func() {
			defer close(pipelineDone)
			sched.Run(runCtx)
		}()
	}

	monitor := health.New(gameStore, statsFn, hub.ClientCount, clock, cfg.PollInterval)
	verifier := server.NewJWTVerifier(cfg.AuthSecret)
	srv := server.NewServer(cfg, hub, monitor, verifier, clock)

	done := runGracefulShutdown(srv, hub, pool, redisClient, cancelRun, pipelineDone)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}

// runGracefulShutdown tears the process down in dependency order: stop the
// update pipeline first so nothing new is produced, close the HTTP
// listener, notify and drop the WebSocket clients, and close the store
// last so in-flight writes can finish.
func runGracefulShutdown(srv *server.Server, hub *broadcast.Hub, pool *pgxpool.Pool,
	redisClient *goredis.Client, cancelRun context.CancelFunc, pipelineDone <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		cancelRun()
		select {
		case <-pipelineDone:
		case <-time.After(30 * time.Second):
			slog.Warn("Update pipeline did not drain in time")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		hub.Stop()

		if redisClient != nil {
			_ = redisClient.Close()
		}
		pool.Close()

		close(done)
	}()

	return done
}
