package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-task-lease/internal/kafka"
	"github.com/ramiqadoumi/go-task-lease/internal/postgres"
	redisstore "github.com/ramiqadoumi/go-task-lease/internal/redis"
	"github.com/ramiqadoumi/go-task-lease/internal/reporter"
	"github.com/ramiqadoumi/go-task-lease/pkg/retry"
	"github.com/ramiqadoumi/go-task-lease/pkg/telemetry"
	"github.com/ramiqadoumi/go-task-lease/services/worker"
	"github.com/ramiqadoumi/go-task-lease/services/worker/config"
	"github.com/ramiqadoumi/go-task-lease/services/worker/handler"
	"github.com/ramiqadoumi/go-task-lease/services/worker/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the worker",
	Long: `Recover tasks left in this worker's processing list, then lease and
execute tasks from the priority queues until SIGINT or SIGTERM.

The worker id keys the processing list, so keep it stable across restarts
of the same instance or leftovers will not be recovered.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("worker-id", "", "stable worker id (default: hostname)")
	f.StringSlice("queues", redisstore.DefaultQueues, "priority chain, highest first")
	f.Duration("lock-ttl", redisstore.DefaultLockTTL, "task lock lease")
	f.Duration("heartbeat-interval", 10*time.Second, "lock renewal period; must be shorter than --lock-ttl")
	f.Duration("fetch-timeout", 5*time.Second, "how long one fetch waits for work")
	f.Duration("task-timeout", 0, "per-attempt execution timeout; 0 disables")
	f.Int("max-retries", 3, "retries after the first failed attempt")
	f.Duration("base-delay", time.Second, "backoff base delay")
	f.Duration("max-delay", 60*time.Second, "backoff cap")
	f.String("reporter-target", "", "ResultCollector gRPC address; empty disables reporting")
	f.Duration("reporter-timeout", reporter.DefaultTimeout, "deadline for one result report")
	f.String("roles-file", "", "YAML roles file for agent phases")
	f.String("llm-provider", "openai", "openai | anthropic")
	f.String("llm-api-key", "", "LLM API key")
	f.String("llm-base-url", "", "OpenAI-compatible base URL override")
	f.String("llm-model", "", "model name")
	f.Int("phase-rate-limit", 0, "max attempts per phase per window across all workers; 0 disables")
	f.Duration("phase-rate-window", time.Minute, "sliding window for --phase-rate-limit")
	f.String("metrics-addr", ":9091", "ops server address (metrics, health, task state)")
	f.String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	for key, flag := range map[string]string{
		"worker_id":          "worker-id",
		"queues":             "queues",
		"lock_ttl":           "lock-ttl",
		"heartbeat_interval": "heartbeat-interval",
		"fetch_timeout":      "fetch-timeout",
		"task_timeout":       "task-timeout",
		"max_retries":        "max-retries",
		"base_delay":         "base-delay",
		"max_delay":          "max-delay",
		"reporter_target":    "reporter-target",
		"reporter_timeout":   "reporter-timeout",
		"roles_file":         "roles-file",
		"llm_provider":       "llm-provider",
		"llm_api_key":        "llm-api-key",
		"llm_base_url":       "llm-base-url",
		"llm_model":          "llm-model",
		"phase_rate_limit":   "phase-rate-limit",
		"phase_rate_window":  "phase-rate-window",
		"metrics_addr":       "metrics-addr",
		"otel_endpoint":      "otel-endpoint",
	} {
		bindFlag(key, f, flag)
	}
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = defaultWorkerID()
	}

	logger := buildLogger(cfg.LogLevel, "worker").With(slog.String("worker_id", workerID))

	redisClient := redisstore.NewClient(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()
	store := redisstore.NewLeaseStore(redisClient)

	queue := redisstore.NewQueue(store, cfg.Queues,
		redisstore.WithQueueLogger(logger),
		redisstore.WithMalformedHook(func(name string, _ error) {
			telemetry.WorkerMalformedTotal.WithLabelValues(name).Inc()
		}),
	)
	states := redisstore.NewStatePublisher(store, redisstore.WithPublisherLogger(logger))

	registry, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("executors: %w", err)
	}

	opts := []worker.Option{
		worker.WithLogger(logger),
		worker.WithRetryPolicy(retry.Policy{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.BaseDelay, MaxDelay: cfg.MaxDelay}),
		worker.WithLockTTL(cfg.LockTTL),
		worker.WithHeartbeatInterval(cfg.HeartbeatInterval),
		worker.WithFetchTimeout(cfg.FetchTimeout),
		worker.WithTaskTimeout(cfg.TaskTimeout),
		worker.WithRegistration(redisstore.NewRegistrar(store), 3*cfg.HeartbeatInterval),
	}

	var rep worker.Reporter
	if cfg.ReporterTarget != "" {
		client, err := reporter.NewClient(cfg.ReporterTarget, cfg.ReporterTimeout)
		if err != nil {
			return fmt.Errorf("reporter: %w", err)
		}
		defer func() { _ = client.Close() }()
		rep = client
	}

	if cfg.PhaseRateLimit > 0 {
		opts = append(opts, worker.WithRateLimiter(
			redisstore.NewPhaseLimiter(store, cfg.PhaseRateLimit, cfg.PhaseRateWindow, nil),
		))
	}

	var history postgres.ExecutionRepository
	if cfg.PostgresDSN != "" {
		initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := postgres.NewPool(initCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		history = postgres.NewRepository(pool)
		opts = append(opts, worker.WithHistory(history))
	}

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		dlq := kafka.NewDeadLetterSink(brokers, cfg.DLQTopic)
		defer func() { _ = dlq.Close() }()
		opts = append(opts, worker.WithDeadLetter(dlq))
	}

	w := worker.NewWorker(workerID, queue, redisstore.NewLocker(store), states, registry, rep, opts...)
	logger = logger.With(slog.String("instance_id", w.InstanceID()))

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "worker", cfg.OTelEndpoint,
		telemetry.WorkerIdentity(workerID, w.InstanceID(), queue.Queues())...)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	router := telemetry.NewRouter(map[string]telemetry.ReadyFunc{
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	})
	handler.NewState(states, history, logger).Mount(router)
	telemetry.StartServer(runCtx, cfg.MetricsAddr, middleware.RequestLogger(logger)(router), logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down, in-flight task will be left for recovery if interrupted",
			slog.Int64("in_flight", w.InFlight()))
		runCancel()
	}()

	logger.Info("worker starting",
		slog.Any("queues", queue.Queues()),
		slog.Any("phases", registry.Phases()),
		slog.Int("max_retries", cfg.MaxRetries),
		slog.Duration("lock_ttl", cfg.LockTTL),
		slog.Duration("heartbeat_interval", cfg.HeartbeatInterval),
	)

	if err := w.Run(runCtx); err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	logger.Info("stopped cleanly")
	return nil
}

// defaultWorkerID is the hostname, which stays stable across container
// restarts under a StatefulSet or a fixed compose service name. A second
// process on the same host needs its own --worker-id: the registration makes
// it exit with worker.ErrWorkerIDInUse otherwise.
func defaultWorkerID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-" + uuid.New().String()[:8]
}
