package cmd

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"judgeworker/core"
	"judgeworker/handler"
	"judgeworker/health"
	"judgeworker/queue"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the worker: consume submissions, judge them, publish replies",
	RunE:  runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg := core.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCloser, err := core.SetupLogging(cfg, "worker.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redisClient.Close()

	workerID := core.NewWorkerID()
	hostname, _ := os.Hostname()
	startedAt := time.Now()

	state := core.NewHeartbeatState(workerID, hostname, cfg.MaxConcurrentSubmissions)
	go state.Start(ctx, redisClient)

	h := handler.New(handler.Config{
		MaxRetryCount:        cfg.MaxRetryCount,
		MaxParallelTestcases: cfg.MaxParallelTestcases,
		SandboxRunnerPath:    cfg.SandboxRunnerPath,
		DefaultTimeLimitSec:  cfg.DefaultTimeLimitSec,
		DefaultMemoryLimitKB: cfg.DefaultMemoryLimitKB,
		Tracker:              state,
	})

	qcfg := queue.DefaultConfig()
	qcfg.Host = cfg.RabbitMQHost
	qcfg.User = cfg.RabbitMQUser
	qcfg.Pass = cfg.RabbitMQPass
	qcfg.SubmissionQueue = cfg.SubmissionQueue
	qcfg.Prefetch = cfg.MaxConcurrentSubmissions
	qcfg.AdaptiveMode = cfg.AdaptiveMode
	qcfg.HealthThresholds = health.Thresholds{MemoryPercent: cfg.MemoryThreshold, CPUPercent: cfg.CPUThreshold, SwapPercent: 10}

	consumer := queue.New(qcfg, h)

	metrics := core.NewMetricsService(redisClient, consumer, cfg.SubmissionQueue)
	router := core.NewStatusRouter(consumer, metrics, workerID, startedAt)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("status server error: %v", err)
		}
	}()

	log.Printf("worker started. id=%s prefetch=%d queue=%s adaptive=%v", workerID, cfg.MaxConcurrentSubmissions, cfg.SubmissionQueue, cfg.AdaptiveMode)

	runErr := consumer.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if runErr != nil {
		log.Printf("consumer exited with error: %v", runErr)
		return runErr
	}
	log.Printf("worker shut down cleanly.")
	return nil
}
