package cli

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ramiqadoumi/go-task-lease/internal/domain"
	redisstore "github.com/ramiqadoumi/go-task-lease/internal/redis"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Enqueue a task",
	Example: `  worker submit --phase research --payload '{"topic":"Go generics"}'
  worker submit --phase webhook --queue tasks:high --payload '{"url":"https://example.com/hook"}'`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().String("id", "", "task id (default: random UUID)")
	submitCmd.Flags().String("phase", "", "phase selecting the executor")
	submitCmd.Flags().String("queue", "tasks:default", "destination queue")
	submitCmd.Flags().String("payload", "{}", "JSON object passed to the executor")
	_ = submitCmd.MarkFlagRequired("phase")
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	id, _ := cmd.Flags().GetString("id")
	phase, _ := cmd.Flags().GetString("phase")
	queueName, _ := cmd.Flags().GetString("queue")
	rawPayload, _ := cmd.Flags().GetString("payload")

	var payload map[string]any
	if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
		return fmt.Errorf("payload must be a JSON object: %w", err)
	}
	if id == "" {
		id = uuid.NewString()
	}

	store, closeStore := openStore()
	defer closeStore()

	q := redisstore.NewQueue(store, nil)
	if _, err := q.Enqueue(cmd.Context(), queueName, &domain.Task{ID: id, Phase: phase, Payload: payload}); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
