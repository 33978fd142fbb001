package tasks

import (
	"context"
	"strings"
	"time"

	"github.com/septivank/water-metering-ledger/internal/ledger"
)

// Queue names used by the reading pipeline
const (
	QueueImageProcessing     = "image-processing"
	QueueNegativeConsumption = "negative-consumption"
	QueueNeedHelp            = "need-help"
)

const (
	namePrefix = "Process--"
	delimiter  = "--"
)

// Task is a pull-queue work item. Payload is the correlation key for results.
type Task struct {
	Name       string    `json:"name"`
	Payload    string    `json:"payload"`
	Queue      string    `json:"queue"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LeaseCount int       `json:"lease_count"`
}

// Queue is a set of named pull queues. Items stay until deleted; a leased item
// is invisible to other consumers until its lease runs out.
type Queue interface {
	// Enqueue fails with ledger.ErrAlreadyExists when the name is taken in that queue.
	Enqueue(ctx context.Context, queue string, task Task) error
	Lease(ctx context.Context, queue string, max int, leaseFor time.Duration) ([]Task, error)
	// Delete reports whether an item was removed. A missing item is not an error.
	Delete(ctx context.Context, queue, name string) (bool, error)
	Depth(ctx context.Context, queue string) (int, error)
}

// NewTask builds the image-processing item for an image of a meter.
func NewTask(accountNumber, image string) Task {
	return Task{
		Name:    TaskName(image),
		Payload: accountNumber + delimiter + image,
	}
}

// TaskName returns the queue item name for an image.
func TaskName(image string) string {
	return namePrefix + image
}

// ParsePayload splits "{account}--{image}" on the first delimiter.
func ParsePayload(payload string) (accountNumber, image string, err error) {
	accountNumber, image, ok := strings.Cut(payload, delimiter)
	if !ok {
		return "", "", ledger.NewError(ledger.KindInput, ledger.EntityTask, "malformed payload %q: missing %q", payload, delimiter)
	}
	if accountNumber == "" || image == "" {
		return "", "", ledger.NewError(ledger.KindInput, ledger.EntityTask, "malformed payload %q: empty account or image", payload)
	}
	return accountNumber, image, nil
}

// KnownQueue reports whether name is one of the pipeline queues.
func KnownQueue(name string) bool {
	switch name {
	case QueueImageProcessing, QueueNegativeConsumption, QueueNeedHelp:
		return true
	}
	return false
}
