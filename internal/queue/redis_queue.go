// Package queue implements the durable work queue on Redis: a ready list,
// a scheduled set for retry backoff, an in-flight set with visibility
// leases, and a dead-letter list for jobs that exhausted their attempts.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"stt-pipeline/internal/config"
)

// RedisQueue delivers jobs at least once; the processing workflow must
// tolerate duplicate deliveries for the same job id.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	scheduledKey  string
	dlqKey        string
	jobMetaPrefix string
	visibilityTTL time.Duration
	maxAttempts   int
	backoffBase   time.Duration
}

// Delivery is one dequeued unit of work. Attempt is 1-based and counts
// every delivery of the job, including lease-expiry redeliveries.
type Delivery struct {
	JobID     string
	AudioPath string
	Attempt   int
}

// DeadLetter is the append-only record of a permanently failed job.
type DeadLetter struct {
	JobID string    `json:"job_id"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisQueueWithClient(client, cfg)
}

// NewRedisQueueWithClient reuses an existing Redis client; tests pass a
// miniredis-backed one.
func NewRedisQueueWithClient(client *redis.Client, cfg config.Config) *RedisQueue {
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 5 * time.Minute
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := cfg.BackoffBase
	if backoff <= 0 {
		backoff = time.Second
	}
	return &RedisQueue{
		client:        client,
		readyKey:      "stt:queue:ready",
		inflightKey:   "stt:queue:inflight",
		scheduledKey:  "stt:queue:scheduled",
		dlqKey:        "stt:queue:dlq",
		jobMetaPrefix: "stt:queue:jobmeta:",
		visibilityTTL: visibility,
		maxAttempts:   maxAttempts,
		backoffBase:   backoff,
	}
}

func (q *RedisQueue) metaKey(jobID string) string {
	return q.jobMetaPrefix + jobID
}

// MaxAttempts exposes the retry budget so the worker driver can tell a
// final attempt from an earlier one.
func (q *RedisQueue) MaxAttempts() int { return q.maxAttempts }

// Backoff returns the delay before the given retry: base doubling per
// attempt already consumed.
func (q *RedisQueue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return q.backoffBase << (attempt - 1)
}

// Enqueue submits a job for immediate dispatch.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID, audioPath string) error {
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(jobID), "audio_path", audioPath, "attempts", 0)
	pipe.RPush(ctx, q.readyKey, jobID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return nil
}

// Dequeue pops the next ready job into the in-flight set under a
// visibility lease and bumps its attempt counter. Returns nil when the
// queue is empty.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	keys := []string{q.readyKey, q.inflightKey}
	res, err := dequeueScript.Run(ctx, q.client, keys, time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	jobID, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}

	attempt, err := q.client.HIncrBy(ctx, q.metaKey(jobID), "attempts", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("count attempt for %s: %w", jobID, err)
	}
	audioPath, err := q.client.HGet(ctx, q.metaKey(jobID), "audio_path").Result()
	if err == redis.Nil {
		audioPath = ""
	} else if err != nil {
		return nil, fmt.Errorf("read meta for %s: %w", jobID, err)
	}
	return &Delivery{JobID: jobID, AudioPath: audioPath, Attempt: int(attempt)}, nil
}

// Ack removes a job from in-flight tracking and drops its meta record.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// Retry releases the lease and schedules a redelivery after the backoff
// for the attempt just consumed. Meta (and the attempt counter) survives.
func (q *RedisQueue) Retry(ctx context.Context, jobID string, attempt int) error {
	runAt := time.Now().Add(q.Backoff(attempt))
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID})
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("schedule retry for %s: %w", jobID, err)
	}
	return nil
}

// PromoteScheduled moves due scheduled jobs back into the ready list.
// Returns how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.scheduledKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// RequeueExpired reclaims leases that timed out, re-enqueuing them for
// another delivery.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// PushDeadLetter appends a permanently failed job to the DLQ and releases
// its lease. This is the only path into the sink.
func (q *RedisQueue) PushDeadLetter(ctx context.Context, jobID, reason string) error {
	entry, err := json.Marshal(DeadLetter{JobID: jobID, Error: reason, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode dead letter for %s: %w", jobID, err)
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	pipe.RPush(ctx, q.dlqKey, entry)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("push dead letter for %s: %w", jobID, err)
	}
	return nil
}

// PeekDeadLetters reads the oldest dead-letter entries for operator
// inspection; the sink never feeds back into the state machine.
func (q *RedisQueue) PeekDeadLetters(ctx context.Context, count int64) ([]DeadLetter, error) {
	raw, err := q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, item := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(item), &dl); err != nil {
			// Legacy/hand-inserted entries: surface the raw payload.
			dl = DeadLetter{JobID: item}
		}
		out = append(out, dl)
	}
	return out, nil
}

// ReadyDepth returns the length of the ready list.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local ready = KEYS[1]
local inflight = KEYS[2]
local job = redis.call('LPOP', ready)
if job then
  redis.call('ZADD', inflight, ARGV[1], job)
  return job
end
return nil
`)
