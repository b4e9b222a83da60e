package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/pkg/database"
)

// TaskStatus tracks a queued task through its lifetime
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskDead    TaskStatus = "dead"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 30 * time.Second
)

// Task is one unit of work in shared.work_queue
type Task struct {
	ID          uuid.UUID       `json:"id"`
	TaskType    string          `json:"task_type"`
	Payload     json.RawMessage `json:"payload"`
	Status      TaskStatus      `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	RunAt       time.Time       `json:"run_at"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// WorkQueue is a Postgres-backed task queue with at-least-once delivery.
// Claiming uses FOR UPDATE SKIP LOCKED so concurrent workers never fight
// over a row, and a task only leaves the queue after its handler
// succeeds.
type WorkQueue struct {
	db          *database.DB
	maxAttempts int
	backoffBase time.Duration
	logger      *zap.Logger
}

// NewWorkQueue creates the work queue repository. Zero values for
// maxAttempts and backoffBase fall back to the defaults.
func NewWorkQueue(db *database.DB, maxAttempts int, backoffBase time.Duration, logger *zap.Logger) *WorkQueue {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if backoffBase <= 0 {
		backoffBase = defaultBackoffBase
	}
	return &WorkQueue{db: db, maxAttempts: maxAttempts, backoffBase: backoffBase, logger: logger}
}

// Enqueue adds a task, runnable immediately
func (q *WorkQueue) Enqueue(ctx context.Context, taskType string, payload interface{}) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode task payload: %w", err)
	}

	id := uuid.New()
	_, err = q.db.Pool.Exec(ctx, `
		INSERT INTO shared.work_queue (id, task_type, payload, status, attempts, max_attempts, run_at)
		VALUES ($1, $2, $3, $4, 0, $5, now())`,
		id, taskType, body, TaskPending, q.maxAttempts)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.logger.Info("Task enqueued",
		zap.String("task_id", id.String()),
		zap.String("task_type", taskType))
	return id, nil
}

// Claim picks the oldest runnable task and marks it running. Returns nil
// when the queue is empty. The attempt counter bumps at claim time, so a
// worker crash still counts against the retry budget.
func (q *WorkQueue) Claim(ctx context.Context, taskTypes []string) (*Task, error) {
	var task Task

	err := q.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT id, task_type, payload, attempts, max_attempts, run_at, created_at
			FROM shared.work_queue
			WHERE status = $1 AND run_at <= now() AND task_type = ANY($2)
			ORDER BY run_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED`,
			TaskPending, taskTypes)

		err := row.Scan(&task.ID, &task.TaskType, &task.Payload,
			&task.Attempts, &task.MaxAttempts, &task.RunAt, &task.CreatedAt)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE shared.work_queue
			SET status = $1, attempts = attempts + 1, claimed_at = now()
			WHERE id = $2`,
			TaskRunning, task.ID)
		if err != nil {
			return fmt.Errorf("failed to mark task running: %w", err)
		}
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	task.Attempts++
	task.Status = TaskRunning
	return &task, nil
}

// Ack marks a task done after its handler succeeded
func (q *WorkQueue) Ack(ctx context.Context, taskID uuid.UUID) error {
	tag, err := q.db.Pool.Exec(ctx, `
		UPDATE shared.work_queue
		SET status = $1, completed_at = now()
		WHERE id = $2 AND status = $3`,
		TaskDone, taskID, TaskRunning)
	if err != nil {
		return fmt.Errorf("failed to ack task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Nack records a handler failure. Under the attempt budget the task goes
// back to pending with exponential backoff; past it the task is dead and
// needs a human. Returns whether the task died.
func (q *WorkQueue) Nack(ctx context.Context, task *Task, handlerErr error) (dead bool, err error) {
	if task.Attempts >= task.MaxAttempts {
		_, err := q.db.Pool.Exec(ctx, `
			UPDATE shared.work_queue
			SET status = $1, last_error = $2, completed_at = now()
			WHERE id = $3`,
			TaskDead, handlerErr.Error(), task.ID)
		if err != nil {
			return false, fmt.Errorf("failed to mark task dead: %w", err)
		}

		q.logger.Error("Task exhausted its retries",
			zap.String("task_id", task.ID.String()),
			zap.String("task_type", task.TaskType),
			zap.Int("attempts", task.Attempts),
			zap.Error(handlerErr))
		return true, nil
	}

	delay := q.Backoff(task.Attempts)
	_, err = q.db.Pool.Exec(ctx, `
		UPDATE shared.work_queue
		SET status = $1, last_error = $2, run_at = now() + $3
		WHERE id = $4`,
		TaskPending, handlerErr.Error(), delay, task.ID)
	if err != nil {
		return false, fmt.Errorf("failed to requeue task: %w", err)
	}

	q.logger.Warn("Task failed, retrying",
		zap.String("task_id", task.ID.String()),
		zap.Int("attempt", task.Attempts),
		zap.Duration("retry_in", delay),
		zap.Error(handlerErr))
	return false, nil
}

// Backoff returns the retry delay after the given attempt, starting at
// the configured base and doubling each time
func (q *WorkQueue) Backoff(attempt int) time.Duration {
	delay := q.backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// ReapStale requeues tasks stuck in running longer than the given age.
// Covers workers that died between claim and ack.
func (q *WorkQueue) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := q.db.Pool.Exec(ctx, `
		UPDATE shared.work_queue
		SET status = $1, last_error = 'worker lost'
		WHERE status = $2 AND claimed_at < now() - $3`,
		TaskPending, TaskRunning, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale tasks: %w", err)
	}

	n := int(tag.RowsAffected())
	if n > 0 {
		q.logger.Warn("Requeued stale tasks", zap.Int("count", n))
	}
	return n, nil
}
