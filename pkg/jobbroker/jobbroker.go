// Package jobbroker is the Job Broker: at-least-once
// enqueue and worker dispatch over a Redis stream, with exponential
// backoff and an age-limited dead-letter path.
//
// Ready jobs live on a Redis Stream consumed through a consumer group
// (XREADGROUP/XACK). Jobs awaiting backoff live in a sorted
// set keyed by their next-eligible-run timestamp; a scheduler loop
// promotes due jobs back onto the stream.
package jobbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/auditeng/compliance/internal/config"
	apperrors "github.com/auditeng/compliance/internal/errors"
)

const (
	streamKey  = "jobs:process_document"
	delayedKey = "jobs:process_document:delayed"
	groupName  = "workers"
)

// job is the payload carried on the stream and in the delayed set.
type job struct {
	TaskID     string    `json:"task_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`
}

// Handler processes one job. Re-entry on the same task id must be safe:
// orchestration uses the task's persisted status as the idempotency key
//, not anything the broker tracks itself.
type Handler func(ctx context.Context, taskID string) error

// TerminalFunc is invoked once a job exhausts its attempts or its age
// limit, so the caller can mark the task FAILED with the last error.
type TerminalFunc func(ctx context.Context, taskID string, reason string)

type Broker struct {
	rdb    *redis.Client
	cfg    config.BrokerConfig
	logger *zap.Logger
}

func New(rdb *redis.Client, cfg config.BrokerConfig, logger *zap.Logger) *Broker {
	return &Broker{rdb: rdb, cfg: cfg, logger: logger}
}

// Enqueue creates a new process_document job at attempt 1.
func (b *Broker) Enqueue(ctx context.Context, taskID string) error {
	if err := b.ensureGroup(ctx); err != nil {
		return err
	}
	return b.publish(ctx, job{TaskID: taskID, Attempt: 1, EnqueuedAt: time.Now().UTC()})
}

func (b *Broker) publish(ctx context.Context, j job) error {
	payload, err := json.Marshal(j)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "encode job")
	}
	if err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]any{"job": payload},
	}).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeExternal, "enqueue job")
	}
	return nil
}

func (b *Broker) ensureGroup(ctx context.Context) error {
	err := b.rdb.XGroupCreateMkStream(ctx, streamKey, groupName, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return apperrors.Wrap(err, apperrors.ErrorTypeExternal, "create consumer group")
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Run starts cfg.Threads consumer goroutines plus one delayed-job
// scheduler, and blocks until ctx is cancelled; handler errors are
// retried or passed to terminal, never returned ("processes=1,
// threads=4" by default).
func (b *Broker) Run(ctx context.Context, handler Handler, terminal TerminalFunc) error {
	if err := b.ensureGroup(ctx); err != nil {
		return err
	}

	threads := b.cfg.Threads
	if threads <= 0 {
		threads = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < threads; i++ {
		consumerName := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			return b.consumeLoop(gctx, consumerName, handler, terminal)
		})
	}
	g.Go(func() error {
		return b.schedulerLoop(gctx)
	})
	return g.Wait()
}

func (b *Broker) consumeLoop(ctx context.Context, consumer string, handler Handler, terminal TerminalFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    groupName,
			Consumer: consumer,
			Streams:  []string{streamKey, ">"},
			Count:    1,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			b.logger.Warn("job broker read failed", zap.Error(err))
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				b.handleMessage(ctx, msg, handler, terminal)
			}
		}
	}
}

func (b *Broker) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler, terminal TerminalFunc) {
	raw, _ := msg.Values["job"].(string)
	var j job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		b.logger.Error("job broker dropped unparseable message", zap.String("id", msg.ID), zap.Error(err))
		b.rdb.XAck(ctx, streamKey, groupName, msg.ID)
		return
	}

	handlerErr := handler(ctx, j.TaskID)
	b.rdb.XAck(ctx, streamKey, groupName, msg.ID)
	if handlerErr == nil {
		return
	}

	j.LastError = handlerErr.Error()
	maxAttempts := b.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	ageLimit := b.cfg.JobAgeLimit
	if ageLimit <= 0 {
		ageLimit = 24 * time.Hour
	}

	permanentlyFailed := j.Attempt >= maxAttempts || time.Since(j.EnqueuedAt) > ageLimit
	if permanentlyFailed {
		terminal(ctx, j.TaskID, j.LastError)
		return
	}

	runAt := time.Now().Add(b.backoff(j.Attempt))
	j.Attempt++
	if err := b.scheduleRetry(ctx, j, runAt); err != nil {
		b.logger.Error("job broker failed to schedule retry", zap.String("task_id", j.TaskID), zap.Error(err))
		terminal(ctx, j.TaskID, fmt.Sprintf("retry scheduling failed: %v", err))
	}
}

// backoff returns the retry delay: 1s after the first failure, doubling, capped at 5min.
func (b *Broker) backoff(attempt int) time.Duration {
	base := b.cfg.BaseBackoff
	if base <= 0 {
		base = time.Second
	}
	max := b.cfg.MaxBackoff
	if max <= 0 {
		max = 5 * time.Minute
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}

func (b *Broker) scheduleRetry(ctx context.Context, j job, runAt time.Time) error {
	payload, err := json.Marshal(j)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "encode retry job")
	}
	return b.rdb.ZAdd(ctx, delayedKey, redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: payload,
	}).Err()
}

// schedulerLoop promotes due delayed jobs back onto the stream.
func (b *Broker) schedulerLoop(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := b.promoteDue(ctx); err != nil {
				b.logger.Warn("job broker scheduler pass failed", zap.Error(err))
			}
		}
	}
}

func (b *Broker) promoteDue(ctx context.Context) error {
	now := float64(time.Now().UnixMilli())
	due, err := b.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return err
	}
	for _, member := range due {
		var j job
		if err := json.Unmarshal([]byte(member), &j); err != nil {
			b.rdb.ZRem(ctx, delayedKey, member)
			continue
		}
		if err := b.publish(ctx, j); err != nil {
			return err
		}
		b.rdb.ZRem(ctx, delayedKey, member)
	}
	return nil
}

// Depth reports the number of ready jobs waiting on the stream, for
// the queue-depth metric.
func (b *Broker) Depth(ctx context.Context) (int64, error) {
	length, err := b.rdb.XLen(ctx, streamKey).Result()
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeExternal, "read stream length")
	}
	return length, nil
}
