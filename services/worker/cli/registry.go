package cli

import (
	"github.com/ramiqadoumi/go-task-lease/internal/executor"
	"github.com/ramiqadoumi/go-task-lease/services/worker/config"
)

// buildRegistry assembles the phase executors once at startup. The webhook
// phase is always present; agent phases come from the roles file.
func buildRegistry(cfg config.Config) (*executor.Registry, error) {
	executors := map[string]executor.Executor{
		executor.WebhookPhase: executor.NewWebhookExecutor(),
	}

	if cfg.RolesFile != "" {
		roles, err := executor.LoadRoles(cfg.RolesFile)
		if err != nil {
			return nil, err
		}
		completer, err := executor.NewCompleter(executor.LLMConfig{
			Provider: cfg.LLMProvider,
			APIKey:   cfg.LLMAPIKey,
			BaseURL:  cfg.LLMBaseURL,
			Model:    cfg.LLMModel,
		})
		if err != nil {
			return nil, err
		}
		agents, err := executor.NewAgentExecutors(roles, completer)
		if err != nil {
			return nil, err
		}
		for phase, exec := range agents {
			executors[phase] = exec
		}
	}

	return executor.NewRegistry(executors), nil
}
