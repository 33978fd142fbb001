package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/water-metering-ledger/internal/ledger"
)

// PostgresQueue stores queue items in the tasks table. Leases use
// FOR UPDATE SKIP LOCKED so concurrent consumers never lease the same row.
type PostgresQueue struct {
	pool *pgxpool.Pool
}

// NewPostgresQueue creates a queue backed by pool. The tasks table is created by repository.Migrate.
func NewPostgresQueue(pool *pgxpool.Pool) *PostgresQueue {
	return &PostgresQueue{pool: pool}
}

func (q *PostgresQueue) Enqueue(ctx context.Context, queue string, task Task) error {
	query := `
		INSERT INTO tasks (queue, name, payload, enqueued_at)
		VALUES ($1, $2, $3, now())
	`
	if _, err := q.pool.Exec(ctx, query, queue, task.Name, task.Payload); err != nil {
		return enqueueErr(err, queue, task.Name)
	}
	return nil
}

// enqueueErr maps a duplicate (queue, name) to ledger.ErrAlreadyExists.
func enqueueErr(err error, queue, name string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("task %q in %s: %w", name, queue, ledger.ErrAlreadyExists)
	}
	return fmt.Errorf("failed to insert task: %w", err)
}

func (q *PostgresQueue) Lease(ctx context.Context, queue string, max int, leaseFor time.Duration) ([]Task, error) {
	query := `
		UPDATE tasks t
		SET leased_until = now() + make_interval(secs => $3), lease_count = t.lease_count + 1
		FROM (
			SELECT queue, name
			FROM tasks
			WHERE queue = $1 AND (leased_until IS NULL OR leased_until <= now())
			ORDER BY enqueued_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) picked
		WHERE t.queue = picked.queue AND t.name = picked.name
		RETURNING t.name, t.payload, t.queue, t.enqueued_at, t.lease_count
	`

	rows, err := q.pool.Query(ctx, query, queue, max, leaseFor.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to lease tasks: %w", err)
	}
	leased, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Task, error) {
		var t Task
		err := row.Scan(&t.Name, &t.Payload, &t.Queue, &t.EnqueuedAt, &t.LeaseCount)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan leased tasks: %w", err)
	}
	return leased, nil
}

func (q *PostgresQueue) Delete(ctx context.Context, queue, name string) (bool, error) {
	tag, err := q.pool.Exec(ctx, `DELETE FROM tasks WHERE queue = $1 AND name = $2`, queue, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *PostgresQueue) Depth(ctx context.Context, queue string) (int, error) {
	var n int
	if err := q.pool.QueryRow(ctx, `SELECT count(*) FROM tasks WHERE queue = $1`, queue).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}
