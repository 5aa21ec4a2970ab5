package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	redisstore "github.com/ramiqadoumi/go-task-lease/internal/redis"
)

var stateCmd = &cobra.Command{
	Use:   "state <task-id>",
	Short: "Print the published state of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore := openStore()
		defer closeStore()

		st, err := redisstore.NewStatePublisher(store).GetState(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}
