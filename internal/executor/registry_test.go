package executor_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-lease/internal/domain"
	"github.com/ramiqadoumi/go-task-lease/internal/executor"
)

func constant(out string) executor.Executor {
	return executor.Func(func(context.Context, *domain.Task) (json.RawMessage, error) {
		return json.RawMessage(out), nil
	})
}

func TestRegistry_DispatchesByPhase(t *testing.T) {
	reg := executor.NewRegistry(map[string]executor.Executor{
		"research": constant(`"r"`),
		"outline":  constant(`"o"`),
	})

	out, err := reg.Execute(context.Background(), &domain.Task{ID: "t1", Phase: "outline"})
	require.NoError(t, err)
	assert.JSONEq(t, `"o"`, string(out))
	assert.Equal(t, []string{"outline", "research"}, reg.Phases())
}

func TestRegistry_UnknownPhase(t *testing.T) {
	reg := executor.NewRegistry(nil)

	_, err := reg.Execute(context.Background(), &domain.Task{ID: "t1", Phase: "sms"})
	require.Error(t, err)

	var invalid *domain.InvalidPhaseError
	require.True(t, errors.As(err, &invalid), "expected InvalidPhaseError, got %T", err)
	assert.Equal(t, "sms", invalid.Phase)
}

func TestRegistry_IsDetachedFromInput(t *testing.T) {
	in := map[string]executor.Executor{"a": constant(`1`)}
	reg := executor.NewRegistry(in)
	in["b"] = constant(`2`)

	_, err := reg.Get("b")
	assert.Error(t, err, "mutating the input map must not change the registry")
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	reg := executor.NewRegistry(map[string]executor.Executor{"a": constant(`1`)})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = reg.Execute(context.Background(), &domain.Task{Phase: "a"})
		}()
	}
	wg.Wait()
}
