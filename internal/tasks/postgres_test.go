package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/water-metering-ledger/internal/ledger"
	"github.com/septivank/water-metering-ledger/internal/repository"
)

func TestEnqueueErr(t *testing.T) {
	err := enqueueErr(&pgconn.PgError{Code: "23505"}, QueueNeedHelp, "Process--a.jpg")
	if !errors.Is(err, ledger.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}

	cause := errors.New("connection refused")
	err = enqueueErr(cause, QueueNeedHelp, "Process--a.jpg")
	if errors.Is(err, ledger.ErrAlreadyExists) || !errors.Is(err, cause) {
		t.Errorf("Expected wrapped cause, got %v", err)
	}
}

func setupPostgresQueue(t *testing.T) *PostgresQueue {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := repository.NewRepository(pool).Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewPostgresQueue(pool)
}

func TestPostgresQueue_ConcurrentLeasesAreDisjoint(t *testing.T) {
	q := setupPostgresQueue(t)
	ctx := context.Background()
	queue := "it-" + uuid.NewString()[:8]

	const total = 10
	for i := 0; i < total; i++ {
		if err := q.Enqueue(ctx, queue, NewTask("A1", fmt.Sprintf("img-%d.jpg", i))); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := q.Enqueue(ctx, queue, NewTask("A1", "img-0.jpg")); !errors.Is(err, ledger.ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists for a duplicate name, got %v", err)
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			leased, err := q.Lease(ctx, queue, 3, time.Minute)
			if err != nil {
				t.Errorf("lease: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, task := range leased {
				seen[task.Name]++
			}
		}()
	}
	wg.Wait()

	rest, err := q.Lease(ctx, queue, total, time.Minute)
	if err != nil {
		t.Fatalf("lease rest: %v", err)
	}
	for _, task := range rest {
		seen[task.Name]++
	}

	if len(seen) != total {
		t.Errorf("Expected all %d tasks leased, got %d", total, len(seen))
	}
	for name, n := range seen {
		if n != 1 {
			t.Errorf("Expected %s leased once, got %d", name, n)
		}
	}

	again, err := q.Lease(ctx, queue, total, time.Minute)
	if err != nil {
		t.Fatalf("lease again: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Expected no tasks while leases are held, got %d", len(again))
	}

	ok, err := q.Delete(ctx, queue, TaskName("img-0.jpg"))
	if err != nil || !ok {
		t.Fatalf("Expected delete to succeed, got %v %v", ok, err)
	}
	depth, err := q.Depth(ctx, queue)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != total-1 {
		t.Errorf("Expected depth %d, got %d", total-1, depth)
	}
}
