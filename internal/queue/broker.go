package queue

import (
	"context"
	"errors"
	"time"
)

// Logical queue names. The broker job key is always the durable job id, which
// gives us de-dup on enqueue and eviction on pause/cancel.
const (
	QueueVoterImport = "voter-import"
	QueueGeocode     = "geocode"
	QueueScheduled   = "scheduled"
)

var ErrNotFound = errors.New("queue: job not found")

type EnqueueOptions struct {
	// Delay postpones the first delivery.
	Delay time.Duration
}

// Delivery is one claimed unit of work. It doubles as the release token for
// Ack/Nack: at most one delivery per job key is in flight at a time.
type Delivery struct {
	Queue     string
	JobKey    string
	Payload   []byte
	ClaimedAt time.Time
	WorkerID  string
}

// JobCounts mirrors the per-queue observability shape the control plane
// exposes. When the queue is paused the waiting set is reported as paused.
type JobCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Paused    int64 `json:"paused"`
}

// Broker is the at-least-once queue contract. Idempotency on redelivery is the
// orchestrator's concern (the Start CAS), not the broker's.
type Broker interface {
	Enqueue(ctx context.Context, queue, jobKey string, payload []byte, opts EnqueueOptions) error
	// Claim blocks up to wait for one unit. A nil delivery with nil error
	// means the wait elapsed with nothing to do.
	Claim(ctx context.Context, queue, workerID string, wait time.Duration) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Nack(ctx context.Context, d *Delivery, requeue bool) error
	// Remove evicts an unstarted job (waiting or delayed). Active claims are
	// not touched; the worker observes the store status instead.
	Remove(ctx context.Context, queue, jobKey string) (bool, error)
	JobCounts(ctx context.Context, queue string) (JobCounts, error)
	PauseQueue(ctx context.Context, queue string) error
	ResumeQueue(ctx context.Context, queue string) error
	Close() error
}
