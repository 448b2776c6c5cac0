package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/utils"
)

// Per-queue redis layout:
//
//	<prefix>:queue:<name>:waiting   list of job keys, LPUSH head / RPOP tail
//	<prefix>:queue:<name>:delayed   zset job key -> due unix millis
//	<prefix>:queue:<name>:active    zset job key -> claim unix millis
//	<prefix>:queue:<name>:payloads  hash job key -> payload JSON
//	<prefix>:queue:<name>:counts    hash completed/failed counters
//	<prefix>:queue:<name>:paused    flag key
//
// A claim whose heartbeat is older than the visibility timeout is promoted
// back to waiting, which is what redelivers units owned by dead workers.
type RedisBroker struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string

	visibilityTimeout time.Duration
	pollInterval      time.Duration
	retryBackoff      time.Duration
}

type RedisBrokerOptions struct {
	Prefix            string
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	RetryBackoff      time.Duration
}

func NewRedisBroker(log *logger.Logger) (*RedisBroker, error) {
	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "localhost:6379", log))
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisBrokerFromClient(log, rdb, RedisBrokerOptions{}), nil
}

// NewRedisBrokerFromClient wraps an existing client. Tests hand in a miniredis
// backed client here.
func NewRedisBrokerFromClient(log *logger.Logger, rdb *goredis.Client, opts RedisBrokerOptions) *RedisBroker {
	if opts.Prefix == "" {
		opts.Prefix = "cocoa"
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 5 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 30 * time.Second
	}
	return &RedisBroker{
		log:               log.With("service", "RedisBroker"),
		rdb:               rdb,
		prefix:            opts.Prefix,
		visibilityTimeout: opts.VisibilityTimeout,
		pollInterval:      opts.PollInterval,
		retryBackoff:      opts.RetryBackoff,
	}
}

func (b *RedisBroker) key(queue, part string) string {
	return fmt.Sprintf("%s:queue:%s:%s", b.prefix, queue, part)
}

func (b *RedisBroker) Enqueue(ctx context.Context, queue, jobKey string, payload []byte, opts EnqueueOptions) error {
	if queue == "" || jobKey == "" {
		return fmt.Errorf("queue and jobKey required")
	}

	// Job-id keying: a key already holding a payload is waiting, delayed or
	// active, so a second enqueue is a no-op.
	exists, err := b.rdb.HExists(ctx, b.key(queue, "payloads"), jobKey).Result()
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if payload == nil {
		payload = []byte("{}")
	}
	if err := b.rdb.HSet(ctx, b.key(queue, "payloads"), jobKey, payload).Err(); err != nil {
		return err
	}
	if opts.Delay > 0 {
		due := float64(time.Now().Add(opts.Delay).UnixMilli())
		return b.rdb.ZAdd(ctx, b.key(queue, "delayed"), goredis.Z{Score: due, Member: jobKey}).Err()
	}
	return b.rdb.LPush(ctx, b.key(queue, "waiting"), jobKey).Err()
}

func (b *RedisBroker) Claim(ctx context.Context, queue, workerID string, wait time.Duration) (*Delivery, error) {
	deadline := time.Now().Add(wait)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		paused, err := b.rdb.Exists(ctx, b.key(queue, "paused")).Result()
		if err != nil {
			return nil, err
		}
		if paused == 0 {
			if err := b.promoteDue(ctx, queue); err != nil {
				return nil, err
			}
			if err := b.requeueStale(ctx, queue); err != nil {
				return nil, err
			}

			jobKey, err := b.rdb.RPop(ctx, b.key(queue, "waiting")).Result()
			if err != nil && err != goredis.Nil {
				return nil, err
			}
			if err == nil && jobKey != "" {
				now := time.Now()
				if err := b.rdb.ZAdd(ctx, b.key(queue, "active"), goredis.Z{
					Score:  float64(now.UnixMilli()),
					Member: jobKey,
				}).Err(); err != nil {
					return nil, err
				}
				payload, err := b.rdb.HGet(ctx, b.key(queue, "payloads"), jobKey).Result()
				if err != nil && err != goredis.Nil {
					return nil, err
				}
				return &Delivery{
					Queue:     queue,
					JobKey:    jobKey,
					Payload:   []byte(payload),
					ClaimedAt: now,
					WorkerID:  workerID,
				}, nil
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		park := b.pollInterval
		if park > remaining {
			park = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(park):
		}
	}
}

// promoteDue moves delayed jobs whose due time has passed onto the waiting
// list.
func (b *RedisBroker) promoteDue(ctx context.Context, queue string) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := b.rdb.ZRangeByScore(ctx, b.key(queue, "delayed"), &goredis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return err
	}
	for _, jobKey := range due {
		removed, err := b.rdb.ZRem(ctx, b.key(queue, "delayed"), jobKey).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := b.rdb.LPush(ctx, b.key(queue, "waiting"), jobKey).Err(); err != nil {
			return err
		}
	}
	return nil
}

// requeueStale redelivers active claims past the visibility timeout.
func (b *RedisBroker) requeueStale(ctx context.Context, queue string) error {
	cutoff := strconv.FormatInt(time.Now().Add(-b.visibilityTimeout).UnixMilli(), 10)
	stale, err := b.rdb.ZRangeByScore(ctx, b.key(queue, "active"), &goredis.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return err
	}
	for _, jobKey := range stale {
		removed, err := b.rdb.ZRem(ctx, b.key(queue, "active"), jobKey).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		b.log.Warn("Requeueing stale claim", "queue", queue, "job_key", jobKey)
		if err := b.rdb.LPush(ctx, b.key(queue, "waiting"), jobKey).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (b *RedisBroker) Ack(ctx context.Context, d *Delivery) error {
	if d == nil {
		return nil
	}
	if err := b.rdb.ZRem(ctx, b.key(d.Queue, "active"), d.JobKey).Err(); err != nil {
		return err
	}
	if err := b.rdb.HDel(ctx, b.key(d.Queue, "payloads"), d.JobKey).Err(); err != nil {
		return err
	}
	return b.rdb.HIncrBy(ctx, b.key(d.Queue, "counts"), "completed", 1).Err()
}

func (b *RedisBroker) Nack(ctx context.Context, d *Delivery, requeue bool) error {
	if d == nil {
		return nil
	}
	if err := b.rdb.ZRem(ctx, b.key(d.Queue, "active"), d.JobKey).Err(); err != nil {
		return err
	}
	if requeue {
		due := float64(time.Now().Add(b.retryBackoff).UnixMilli())
		return b.rdb.ZAdd(ctx, b.key(d.Queue, "delayed"), goredis.Z{Score: due, Member: d.JobKey}).Err()
	}
	if err := b.rdb.HDel(ctx, b.key(d.Queue, "payloads"), d.JobKey).Err(); err != nil {
		return err
	}
	return b.rdb.HIncrBy(ctx, b.key(d.Queue, "counts"), "failed", 1).Err()
}

func (b *RedisBroker) Remove(ctx context.Context, queue, jobKey string) (bool, error) {
	if queue == "" || jobKey == "" {
		return false, nil
	}
	fromWaiting, err := b.rdb.LRem(ctx, b.key(queue, "waiting"), 0, jobKey).Result()
	if err != nil {
		return false, err
	}
	fromDelayed, err := b.rdb.ZRem(ctx, b.key(queue, "delayed"), jobKey).Result()
	if err != nil {
		return false, err
	}
	removed := fromWaiting > 0 || fromDelayed > 0
	if removed {
		if err := b.rdb.HDel(ctx, b.key(queue, "payloads"), jobKey).Err(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (b *RedisBroker) JobCounts(ctx context.Context, queue string) (JobCounts, error) {
	var counts JobCounts

	waiting, err := b.rdb.LLen(ctx, b.key(queue, "waiting")).Result()
	if err != nil {
		return counts, err
	}
	active, err := b.rdb.ZCard(ctx, b.key(queue, "active")).Result()
	if err != nil {
		return counts, err
	}
	delayed, err := b.rdb.ZCard(ctx, b.key(queue, "delayed")).Result()
	if err != nil {
		return counts, err
	}
	raw, err := b.rdb.HGetAll(ctx, b.key(queue, "counts")).Result()
	if err != nil {
		return counts, err
	}
	counts.Active = active
	counts.Delayed = delayed
	counts.Completed = parseCount(raw["completed"])
	counts.Failed = parseCount(raw["failed"])

	paused, err := b.rdb.Exists(ctx, b.key(queue, "paused")).Result()
	if err != nil {
		return counts, err
	}
	if paused > 0 {
		counts.Paused = waiting
	} else {
		counts.Waiting = waiting
	}
	return counts, nil
}

func (b *RedisBroker) PauseQueue(ctx context.Context, queue string) error {
	return b.rdb.Set(ctx, b.key(queue, "paused"), "1", 0).Err()
}

func (b *RedisBroker) ResumeQueue(ctx context.Context, queue string) error {
	return b.rdb.Del(ctx, b.key(queue, "paused")).Err()
}

func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}

func parseCount(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
