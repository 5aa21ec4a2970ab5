package worker

import (
	"context"
	"log/slog"
	"time"

	redisstore "github.com/ramiqadoumi/go-task-lease/internal/redis"
)

// heartbeat keeps a task lock alive while the task executes. stop cancels
// the goroutine and waits for it to exit, so no renewal can land after the
// lock is released.
type heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startHeartbeat(
	ctx context.Context,
	taskID string,
	interval, ttl time.Duration,
	locker redisstore.Locker,
	states redisstore.StatePublisher,
	log *slog.Logger,
) *heartbeat {
	ctx, cancel := context.WithCancel(ctx)
	hb := &heartbeat{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(hb.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				renewed, err := locker.Renew(ctx, taskID, ttl)
				switch {
				case err != nil:
					if ctx.Err() != nil {
						return
					}
					log.Warn("heartbeat renew failed", slog.String("error", err.Error()))
				case !renewed:
					log.Warn("heartbeat found no lock to renew")
				}
				if err := states.Touch(ctx, taskID); err != nil && ctx.Err() == nil {
					log.Warn("heartbeat touch failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
	return hb
}

func (h *heartbeat) stop() {
	h.cancel()
	<-h.done
}
