package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-task-lease/internal/kafka"
	redisstore "github.com/ramiqadoumi/go-task-lease/internal/redis"
	"github.com/ramiqadoumi/go-task-lease/services/worker/config"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Requeue dead-lettered tasks",
	Long: `Consume the dead-letter topic and push each record's original bytes back
onto a queue. Offsets are committed only after the requeue succeeds.

By default a task returns to the queue it was fetched from. Tasks with no
known source queue go to tasks:default. Processing lists are never a
destination.`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().String("queue", "", "requeue everything onto this queue instead of the source queue")
	replayCmd.Flags().String("group-id", "worker-dlq-replay", "Kafka consumer group")
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return fmt.Errorf("kafka_brokers is required")
	}
	override, _ := cmd.Flags().GetString("queue")
	groupID, _ := cmd.Flags().GetString("group-id")

	logger := buildLogger(cfg.LogLevel, "replay")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore()
	defer closeStore()
	q := redisstore.NewQueue(store, nil)

	reader := kafka.NewDeadLetterReader(brokers, cfg.DLQTopic, groupID, logger)
	defer func() { _ = reader.Close() }()

	return reader.Consume(ctx, requeueHandler(q, override, logger))
}

// requeueHandler pushes a dead letter's raw bytes back onto its source queue,
// or onto override when set. A processing list is owned by one worker and
// never fetched from, so it falls back to the default queue.
func requeueHandler(q redisstore.Queue, override string, logger *slog.Logger) kafka.DeadLetterHandler {
	return func(ctx context.Context, dl kafka.DeadLetter) error {
		dest := override
		if dest == "" {
			dest = dl.Queue
		}
		if dest == "" || redisstore.IsProcessingKey(dest) {
			dest = redisstore.FallbackQueue
		}
		if err := q.Requeue(ctx, dest, dl.Raw); err != nil {
			return err
		}
		logger.Info("task requeued",
			slog.String("task_id", dl.TaskID),
			slog.String("queue", dest),
			slog.Int("attempts", dl.Attempts),
		)
		return nil
	}
}
