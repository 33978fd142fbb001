package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/septivank/water-metering-ledger/internal/ledger"
)

// MemoryQueue is a process-local Queue
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string][]*memoryItem
	now    func() time.Time
}

type memoryItem struct {
	task        Task
	leasedUntil time.Time
}

// NewMemoryQueue creates an empty in-memory queue set
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		queues: make(map[string][]*memoryItem),
		now:    time.Now,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, queue string, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, it := range q.queues[queue] {
		if it.task.Name == task.Name {
			return fmt.Errorf("task %q in %s: %w", task.Name, queue, ledger.ErrAlreadyExists)
		}
	}
	task.Queue = queue
	task.EnqueuedAt = q.now()
	task.LeaseCount = 0
	q.queues[queue] = append(q.queues[queue], &memoryItem{task: task})
	return nil
}

func (q *MemoryQueue) Lease(ctx context.Context, queue string, max int, leaseFor time.Duration) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	out := make([]Task, 0, max)
	for _, it := range q.queues[queue] {
		if len(out) >= max {
			break
		}
		if now.Before(it.leasedUntil) {
			continue
		}
		it.leasedUntil = now.Add(leaseFor)
		it.task.LeaseCount++
		out = append(out, it.task)
	}
	return out, nil
}

func (q *MemoryQueue) Delete(ctx context.Context, queue, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.queues[queue]
	for i, it := range items {
		if it.task.Name == name {
			q.queues[queue] = append(items[:i], items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (q *MemoryQueue) Depth(ctx context.Context, queue string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[queue]), nil
}

// Snapshot returns every item of a queue, leased or not.
func (q *MemoryQueue) Snapshot(queue string) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, 0, len(q.queues[queue]))
	for _, it := range q.queues[queue] {
		out = append(out, it.task)
	}
	return out
}
