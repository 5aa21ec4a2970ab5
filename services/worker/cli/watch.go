package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	redisstore "github.com/ramiqadoumi/go-task-lease/internal/redis"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream task state transitions as JSON lines",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().String("task", "", "only print events for this task id")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	only, _ := cmd.Flags().GetString("task")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore()
	defer closeStore()

	events, err := redisstore.NewStatePublisher(store).Watch(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for ev := range events {
		if only != "" && ev.TaskID != only {
			continue
		}
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}
