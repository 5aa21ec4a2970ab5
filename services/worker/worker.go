package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramiqadoumi/go-task-lease/internal/domain"
	"github.com/ramiqadoumi/go-task-lease/internal/executor"
	"github.com/ramiqadoumi/go-task-lease/internal/kafka"
	"github.com/ramiqadoumi/go-task-lease/internal/postgres"
	redisstore "github.com/ramiqadoumi/go-task-lease/internal/redis"
	"github.com/ramiqadoumi/go-task-lease/internal/reporter"
	"github.com/ramiqadoumi/go-task-lease/pkg/retry"
	"github.com/ramiqadoumi/go-task-lease/pkg/telemetry"
)

var (
	// ErrWorkerIDInUse is returned by Run when another live process holds the
	// registration for the same worker id.
	ErrWorkerIDInUse = errors.New("worker id registered by another process")
	// ErrRegistrationLost is returned by Run when the registration could not
	// be kept alive and another process may now own the worker id.
	ErrRegistrationLost = errors.New("worker registration lost")
)

// Reporter delivers terminal outcomes to the result collector.
type Reporter interface {
	Report(ctx context.Context, res *reporter.Result) error
}

// Worker pulls tasks from the priority queues and drives each one through
// claim, execution with retry, state publication, reporting and ack.
type Worker struct {
	workerID   string
	instanceID string
	processing string

	queue    redisstore.Queue
	locker   redisstore.Locker
	states   redisstore.StatePublisher
	executor executor.Executor
	reporter Reporter

	limiter redisstore.PhaseLimiter
	history postgres.ExecutionRepository
	dlq     kafka.DeadLetterSink

	registrar       redisstore.Registrar
	registrationTTL time.Duration

	policy            retry.Policy
	lockTTL           time.Duration
	heartbeatInterval time.Duration
	fetchTimeout      time.Duration
	errorBackoff      time.Duration
	taskTimeout       time.Duration
	logger            *slog.Logger

	inFlight atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

func WithLogger(l *slog.Logger) Option                  { return func(w *Worker) { w.logger = l } }
func WithRetryPolicy(p retry.Policy) Option             { return func(w *Worker) { w.policy = p } }
func WithLockTTL(d time.Duration) Option                { return func(w *Worker) { w.lockTTL = d } }
func WithHeartbeatInterval(d time.Duration) Option      { return func(w *Worker) { w.heartbeatInterval = d } }
func WithFetchTimeout(d time.Duration) Option           { return func(w *Worker) { w.fetchTimeout = d } }
func WithErrorBackoff(d time.Duration) Option           { return func(w *Worker) { w.errorBackoff = d } }
func WithTaskTimeout(d time.Duration) Option            { return func(w *Worker) { w.taskTimeout = d } }
func WithRateLimiter(l redisstore.PhaseLimiter) Option  { return func(w *Worker) { w.limiter = l } }
func WithHistory(r postgres.ExecutionRepository) Option { return func(w *Worker) { w.history = r } }
func WithDeadLetter(s kafka.DeadLetterSink) Option      { return func(w *Worker) { w.dlq = s } }

// WithRegistration makes Run hold an exclusive registration of the worker id
// for its whole lifetime. Only a registered worker reclaims task locks left
// under its own id by a crashed run.
func WithRegistration(r redisstore.Registrar, ttl time.Duration) Option {
	return func(w *Worker) { w.registrar, w.registrationTTL = r, ttl }
}

// NewWorker constructs a Worker with the given dependencies and options.
// rep may be nil, in which case outcomes are only published to the store.
func NewWorker(
	workerID string,
	queue redisstore.Queue,
	locker redisstore.Locker,
	states redisstore.StatePublisher,
	exec executor.Executor,
	rep Reporter,
	opts ...Option,
) *Worker {
	w := &Worker{
		workerID:          workerID,
		instanceID:        uuid.NewString(),
		processing:        redisstore.ProcessingKey(workerID),
		queue:             queue,
		locker:            locker,
		states:            states,
		executor:          exec,
		reporter:          rep,
		policy:            retry.DefaultPolicy(),
		lockTTL:           redisstore.DefaultLockTTL,
		heartbeatInterval: 10 * time.Second,
		fetchTimeout:      5 * time.Second,
		errorBackoff:      time.Second,
		registrationTTL:   30 * time.Second,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// InstanceID identifies this process among restarts of the same worker id.
func (w *Worker) InstanceID() string { return w.instanceID }

// InFlight returns the number of tasks currently held by this worker.
func (w *Worker) InFlight() int64 { return w.inFlight.Load() }

// Run recovers leftovers from a previous run, then polls until ctx is
// cancelled. A task interrupted by cancellation stays in the processing list
// and is picked up by the next Run with the same worker id.
//
// With a registrar, Run first claims the worker id and returns
// ErrWorkerIDInUse if another live process holds it.
func (w *Worker) Run(ctx context.Context) error {
	if w.registrar != nil {
		if err := w.register(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var cancel context.CancelCauseFunc
		ctx, cancel = context.WithCancelCause(ctx)
		done := w.keepRegistered(ctx, cancel)
		defer func() {
			cancel(nil)
			<-done
			w.deregister()
		}()
	}

	w.recoverLeftovers(ctx)

	for ctx.Err() == nil {
		d, err := w.queue.FetchWait(ctx, w.processing, w.fetchTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("fetch failed", slog.String("error", err.Error()))
			w.sleep(ctx, w.errorBackoff)
			continue
		}
		if d == nil {
			continue
		}
		telemetry.WorkerTasksFetched.WithLabelValues(d.Queue).Inc()
		w.handle(ctx, d)
	}
	if errors.Is(context.Cause(ctx), ErrRegistrationLost) {
		return ErrRegistrationLost
	}
	return nil
}

// register claims the worker id for this instance. A registration left by a
// crashed process expires within one TTL, so the claim is retried for that
// long before giving up.
func (w *Worker) register(ctx context.Context) error {
	deadline := time.Now().Add(w.registrationTTL)
	interval := max(w.registrationTTL/10, 10*time.Millisecond)
	for {
		ok, err := w.registrar.Register(ctx, w.workerID, w.instanceID, w.registrationTTL)
		if err != nil {
			return fmt.Errorf("register worker %s: %w", w.workerID, err)
		}
		if ok {
			w.logger.Info("worker registered",
				slog.String("worker_id", w.workerID),
				slog.String("instance_id", w.instanceID),
			)
			return nil
		}
		if !time.Now().Before(deadline) {
			holder, _, _ := w.registrar.Holder(ctx, w.workerID)
			return fmt.Errorf("%w: %s is held by instance %q", ErrWorkerIDInUse, w.workerID, holder)
		}
		w.sleep(ctx, interval)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// keepRegistered refreshes the registration every third of its TTL. Losing it
// cancels ctx with ErrRegistrationLost.
func (w *Worker) keepRegistered(ctx context.Context, cancel context.CancelCauseFunc) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(max(w.registrationTTL/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			ok, err := w.registrar.Refresh(ctx, w.workerID, w.instanceID, w.registrationTTL)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Warn("registration refresh failed", slog.String("error", err.Error()))
				}
				continue
			}
			if !ok {
				w.logger.Error("worker registration lost, stopping",
					slog.String("worker_id", w.workerID),
					slog.String("instance_id", w.instanceID),
				)
				cancel(ErrRegistrationLost)
				return
			}
		}
	}()
	return done
}

func (w *Worker) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := w.registrar.Deregister(ctx, w.workerID, w.instanceID); err != nil {
		w.logger.Error("deregister failed", slog.String("error", err.Error()))
	}
}

func (w *Worker) recoverLeftovers(ctx context.Context) {
	for d, err := range w.queue.Leftovers(ctx, w.processing) {
		if err != nil {
			w.logger.Error("recovery scan failed", slog.String("error", err.Error()))
			return
		}
		telemetry.WorkerRecoveredTotal.Inc()
		w.logger.Info("recovering task from processing list", slog.String("task_id", d.TaskID))
		w.handle(ctx, d)
		if ctx.Err() != nil {
			return
		}
	}
}

// outcome is the terminal result of one handling pass.
type outcome struct {
	result   json.RawMessage
	err      error
	attempts int
}

// handle runs one delivery to completion. Store bookkeeping uses a context
// detached from ctx so shutdown cannot strand a lock or a half-written state.
func (w *Worker) handle(ctx context.Context, d *redisstore.Delivery) {
	opCtx := context.WithoutCancel(ctx)

	ctx, span := telemetry.Tracer("worker").Start(ctx, "worker.handle_task")
	defer span.End()
	span.SetAttributes(
		telemetry.AttrTaskID.String(d.TaskID),
		telemetry.AttrTaskPhase.String(d.Task.Phase),
		telemetry.AttrTaskQueue.String(d.Queue),
		telemetry.AttrRecovered.Bool(d.Queue == ""),
		telemetry.AttrWorkerID.String(w.workerID),
		telemetry.AttrInstanceID.String(w.instanceID),
	)

	log := w.logger.With(
		slog.String("task_id", d.TaskID),
		slog.String("phase", d.Task.Phase),
		slog.String("queue", d.Queue),
		slog.String("worker_id", w.workerID),
	)

	if w.alreadyCompleted(opCtx, d.TaskID, log) {
		w.ack(opCtx, d, log)
		telemetry.WorkerTasksProcessed.WithLabelValues(telemetry.OutcomeSkipped).Inc()
		return
	}

	claimed, err := w.claim(opCtx, d.TaskID)
	if err != nil {
		// Left in the processing list; recovered on the next start.
		log.Error("lock acquire failed", slog.String("error", err.Error()))
		span.RecordError(err)
		return
	}
	if !claimed {
		log.Info("task locked by another worker, dropping duplicate delivery")
		telemetry.WorkerLockContention.Inc()
		w.ack(opCtx, d, log)
		telemetry.WorkerTasksProcessed.WithLabelValues(telemetry.OutcomeDuplicate).Inc()
		return
	}

	// Re-checked under the lock: the previous holder may have completed the
	// task between the first check and the acquire.
	if w.alreadyCompleted(opCtx, d.TaskID, log) {
		if _, err := w.locker.Release(opCtx, d.TaskID, w.workerID); err != nil {
			log.Error("lock release failed", slog.String("error", err.Error()))
		}
		w.ack(opCtx, d, log)
		telemetry.WorkerTasksProcessed.WithLabelValues(telemetry.OutcomeSkipped).Inc()
		return
	}

	w.inFlight.Add(1)
	telemetry.WorkerTasksInFlight.Inc()
	hb := startHeartbeat(opCtx, d.TaskID, w.heartbeatInterval, w.lockTTL, w.locker, w.states, log)

	interrupted := false
	defer func() {
		hb.stop()
		if _, err := w.locker.Release(opCtx, d.TaskID, w.workerID); err != nil {
			log.Error("lock release failed", slog.String("error", err.Error()))
		}
		if !interrupted {
			w.ack(opCtx, d, log)
		}
		telemetry.WorkerTasksInFlight.Dec()
		w.inFlight.Add(-1)
	}()

	start := time.Now()
	var (
		out       outcome
		published bool
	)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		perr := &domain.ExecutionPanicError{TaskID: d.TaskID, Value: r}
		log.Error("recovered panic while handling task", slog.String("error", perr.Error()))
		span.RecordError(perr)
		span.SetStatus(codes.Error, "panic")
		if !published {
			out.err = perr
			w.fail(opCtx, d, out, log)
			telemetry.WorkerTasksProcessed.WithLabelValues(telemetry.OutcomeFailed).Inc()
		}
	}()

	out = w.execute(ctx, opCtx, d, log)
	duration := time.Since(start)
	telemetry.WorkerTaskDurationSeconds.WithLabelValues(d.Task.Phase).Observe(duration.Seconds())

	if out.err != nil && ctx.Err() != nil {
		interrupted = true
		log.Warn("shutdown interrupted task, leaving it for recovery",
			slog.Int("attempts", out.attempts),
			slog.String("error", out.err.Error()),
		)
		return
	}

	if out.err == nil {
		log.Info("task completed",
			slog.Int64("duration_ms", duration.Milliseconds()),
			slog.Int("attempts", out.attempts),
		)
		w.syncState(opCtx, d.TaskID, domain.StatusCompleted, redisstore.StateFields{
			RetryCount: out.attempts - 1,
			Result:     string(out.result),
		}, log)
		published = true
		telemetry.WorkerTasksProcessed.WithLabelValues(telemetry.OutcomeCompleted).Inc()
		w.report(opCtx, &reporter.Result{
			TaskID:     d.TaskID,
			Status:     reporter.StatusSuccess,
			ResultData: out.result,
			Timestamp:  time.Now().UTC(),
		}, log)
	} else {
		log.Error("task failed after all retries",
			slog.Int("attempts", out.attempts),
			slog.Int64("duration_ms", duration.Milliseconds()),
			slog.String("error", out.err.Error()),
		)
		span.RecordError(out.err)
		span.SetStatus(codes.Error, "task exhausted all retries")
		published = true
		w.fail(opCtx, d, out, log)
		telemetry.WorkerTasksProcessed.WithLabelValues(telemetry.OutcomeFailed).Inc()
	}

	w.recordHistory(opCtx, d, out, duration, log)
}

func (w *Worker) alreadyCompleted(ctx context.Context, taskID string, log *slog.Logger) bool {
	st, err := w.states.GetState(ctx, taskID)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		if !errors.As(err, &notFound) {
			log.Warn("state lookup failed, continuing", slog.String("error", err.Error()))
		}
		return false
	}
	if st.Status != domain.StatusCompleted {
		return false
	}
	skipped := &domain.TaskAlreadyProcessedError{TaskID: taskID, Status: st.Status}
	log.Info("skipping task", slog.String("reason", skipped.Error()))
	return true
}

// claim takes the task lock. While this instance holds the worker id
// registration, a lock under the same id can only be left over from a crashed
// run and is reclaimed. Without a registration it counts as contention.
func (w *Worker) claim(ctx context.Context, taskID string) (bool, error) {
	ok, err := w.locker.Acquire(ctx, taskID, w.workerID, w.lockTTL)
	if err != nil || ok || w.registrar == nil {
		return ok, err
	}
	owner, held, err := w.locker.Owner(ctx, taskID)
	if err != nil || !held || owner != w.workerID {
		return false, err
	}
	return w.locker.Renew(ctx, taskID, w.lockTTL)
}

// execute runs the executor under the retry policy. running is published
// before every attempt and retrying before every backoff wait.
func (w *Worker) execute(ctx, opCtx context.Context, d *redisstore.Delivery, log *slog.Logger) outcome {
	var out outcome
	out.err = retry.Do(ctx, w.policy, func(ctx context.Context) error {
		out.attempts++
		trace.SpanFromContext(ctx).AddEvent("attempt", trace.WithAttributes(telemetry.AttrAttempt.Int(out.attempts)))
		w.syncState(opCtx, d.TaskID, domain.StatusRunning, redisstore.StateFields{RetryCount: out.attempts - 1}, log)

		res, err := w.attempt(ctx, d)
		if err != nil {
			return err
		}
		out.result = res
		return nil
	}, func(retries int, err error, delay time.Duration) {
		if ctx.Err() != nil {
			return
		}
		telemetry.WorkerRetriesTotal.WithLabelValues(d.Task.Phase).Inc()
		log.Warn("attempt failed, retrying",
			slog.Int("retry", retries),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		w.syncState(opCtx, d.TaskID, domain.StatusRetrying, redisstore.StateFields{RetryCount: retries}, log)
	})
	return out
}

// attempt makes one execution attempt. A panic in the executor fails the
// attempt instead of the worker. A phase with no executor is never retried.
func (w *Worker) attempt(ctx context.Context, d *redisstore.Delivery) (res json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.ExecutionPanicError{TaskID: d.TaskID, Value: r}
		}
	}()

	if w.limiter != nil {
		if err := w.limiter.Check(ctx, d.Task.Phase); err != nil {
			return nil, err
		}
	}

	execCtx := ctx
	if w.taskTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(execCtx, w.taskTimeout)
		defer cancel()
	}
	res, err = w.executor.Execute(execCtx, d.Task)
	var invalid *domain.InvalidPhaseError
	if errors.As(err, &invalid) {
		return nil, retry.Permanent(err)
	}
	return res, err
}

// fail publishes and reports the failed state, then dead-letters the raw
// record if a sink is configured.
func (w *Worker) fail(ctx context.Context, d *redisstore.Delivery, out outcome, log *slog.Logger) {
	w.syncState(ctx, d.TaskID, domain.StatusFailed, redisstore.StateFields{
		RetryCount: max(out.attempts-1, 0),
		Error:      out.err.Error(),
	}, log)

	data, _ := json.Marshal(map[string]string{"error": out.err.Error()})
	w.report(ctx, &reporter.Result{
		TaskID:     d.TaskID,
		Status:     reporter.StatusFailure,
		ResultData: data,
		Timestamp:  time.Now().UTC(),
	}, log)

	if w.dlq == nil {
		return
	}
	err := w.dlq.Send(ctx, kafka.DeadLetter{
		TaskID:   d.TaskID,
		Phase:    d.Task.Phase,
		Queue:    d.Queue,
		WorkerID: w.workerID,
		Attempts: out.attempts,
		Error:    out.err.Error(),
		Raw:      d.Raw,
	})
	if err != nil {
		log.Error("dead-letter publish failed", slog.String("error", err.Error()))
		return
	}
	telemetry.WorkerDLQTotal.Inc()
}

func (w *Worker) syncState(ctx context.Context, taskID string, status domain.Status, fields redisstore.StateFields, log *slog.Logger) {
	fields.OwnerID = w.workerID
	if err := w.states.SyncState(ctx, taskID, status, fields); err != nil {
		log.Error("state sync failed",
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}

// report delivers res to the collector. Failures are logged only; the store
// already holds the outcome.
func (w *Worker) report(ctx context.Context, res *reporter.Result, log *slog.Logger) {
	if w.reporter == nil {
		return
	}
	if err := w.reporter.Report(ctx, res); err != nil {
		telemetry.WorkerReportFailures.Inc()
		log.Error("result report failed", slog.String("error", err.Error()))
	}
}

func (w *Worker) recordHistory(ctx context.Context, d *redisstore.Delivery, out outcome, duration time.Duration, log *slog.Logger) {
	if w.history == nil {
		return
	}
	exec := &domain.Execution{
		TaskID:     d.TaskID,
		WorkerID:   w.workerID,
		Phase:      d.Task.Phase,
		Queue:      d.Queue,
		Attempts:   out.attempts,
		Status:     domain.StatusCompleted,
		DurationMs: duration.Milliseconds(),
	}
	if out.err != nil {
		exec.Status = domain.StatusFailed
		exec.Error = out.err.Error()
	}
	if err := w.history.RecordExecution(ctx, exec); err != nil {
		log.Error("failed to record execution", slog.String("error", err.Error()))
	}
}

func (w *Worker) ack(ctx context.Context, d *redisstore.Delivery, log *slog.Logger) {
	if err := w.queue.Ack(ctx, w.processing, d.Raw); err != nil {
		log.Error("ack failed", slog.String("error", err.Error()))
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// String identifies the worker in logs.
func (w *Worker) String() string {
	return fmt.Sprintf("worker %s/%s (%s)", w.workerID, w.instanceID, w.processing)
}
