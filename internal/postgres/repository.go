package postgres

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramiqadoumi/go-task-lease/internal/domain"
	"github.com/ramiqadoumi/go-task-lease/internal/postgres/migrations"
)

// ExecutionRepository stores the history of task handling passes.
type ExecutionRepository interface {
	RecordExecution(ctx context.Context, exec *domain.Execution) error
	ListByTask(ctx context.Context, taskID string, limit int) ([]*domain.Execution, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a pgxpool with the ExecutionRepository interface.
func NewRepository(pool *pgxpool.Pool) ExecutionRepository {
	return &repository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// Migrate applies every embedded migration in file-name order and returns
// the names applied. Migrations are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	files, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		sql, err := migrations.FS.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return nil, fmt.Errorf("execute migration %s: %w", f, err)
		}
	}
	return files, nil
}

func (r *repository) RecordExecution(ctx context.Context, exec *domain.Execution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO task_executions
			(id, task_id, worker_id, phase, queue, attempts, status, duration_ms, error, executed_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		exec.ID, exec.TaskID, exec.WorkerID, exec.Phase, exec.Queue, exec.Attempts,
		string(exec.Status), exec.DurationMs, exec.Error, exec.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("record execution for task %s: %w", exec.TaskID, err)
	}
	return nil
}

func (r *repository) ListByTask(ctx context.Context, taskID string, limit int) ([]*domain.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, worker_id, phase, queue, attempts, status, duration_ms, error, executed_at
		FROM task_executions
		WHERE task_id = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []*domain.Execution
	for rows.Next() {
		var (
			e      domain.Execution
			status string
		)
		if err := rows.Scan(
			&e.ID, &e.TaskID, &e.WorkerID, &e.Phase, &e.Queue, &e.Attempts,
			&status, &e.DurationMs, &e.Error, &e.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.Status = domain.Status(status)
		out = append(out, &e)
	}
	return out, rows.Err()
}
