package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/personal/banner-lifecycle/internal/domain/schedule"
	"github.com/personal/banner-lifecycle/pkg/monitoring"
)

// claimDueScript pops due members of the queue together with their attempt
// counters. Running it as one script keeps two schedulers from claiming the
// same activation.
var claimDueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for i = 1, #due, 2 do
	local key = due[i]
	redis.call('ZREM', KEYS[1], key)
	local attempt = redis.call('HGET', KEYS[2], key)
	redis.call('HDEL', KEYS[2], key)
	table.insert(out, key)
	table.insert(out, due[i + 1])
	table.insert(out, attempt or '0')
end
return out
`)

// requeueScript adds the activation only when its key is absent
var requeueScript = redis.NewScript(`
if redis.call('ZADD', KEYS[1], 'NX', ARGV[1], ARGV[2]) == 1 then
	redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
	return 1
end
return 0
`)

// RedisActivationTimer implements schedule.Timer and schedule.Source on a
// Redis sorted set scored by due time in unix milliseconds
type RedisActivationTimer struct {
	client      *redis.Client
	queueKey    string
	attemptsKey string
	now         func() time.Time
}

// NewRedisActivationTimer creates a timer storing its keys under prefix
func NewRedisActivationTimer(client *redis.Client, prefix string) *RedisActivationTimer {
	return &RedisActivationTimer{
		client:      client,
		queueKey:    prefix + ":queue",
		attemptsKey: prefix + ":attempts",
		now:         time.Now,
	}
}

// WithClock replaces the clock used to turn delays into due times
func (r *RedisActivationTimer) WithClock(now func() time.Time) *RedisActivationTimer {
	r.now = now
	return r
}

// Enqueue adds or replaces the activation. ZADD on an existing member only
// moves its score, so the job key stays unique.
func (r *RedisActivationTimer) Enqueue(ctx context.Context, activation *schedule.Activation, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	dueAt := r.now().Add(delay)
	key := string(activation.Key())

	start := time.Now()
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, r.queueKey, redis.Z{
			Score:  float64(dueAt.UnixMilli()),
			Member: key,
		})
		pipe.HSet(ctx, r.attemptsKey, key, activation.Attempt())
		return nil
	})
	monitoring.RecordRedisCommand("enqueue_activation", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to enqueue activation %s: %w", key, err)
	}

	return nil
}

// Requeue adds a retry without clobbering an activation enqueued since delivery
func (r *RedisActivationTimer) Requeue(ctx context.Context, activation *schedule.Activation, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	dueAt := r.now().Add(delay)
	key := string(activation.Key())

	start := time.Now()
	err := requeueScript.Run(ctx, r.client, []string{r.queueKey, r.attemptsKey},
		dueAt.UnixMilli(), key, activation.Attempt()).Err()
	monitoring.RecordRedisCommand("requeue_activation", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to requeue activation %s: %w", key, err)
	}

	return nil
}

// Cancel removes the activation if it is still outstanding
func (r *RedisActivationTimer) Cancel(ctx context.Context, key schedule.JobKey) error {
	start := time.Now()
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.queueKey, string(key))
		pipe.HDel(ctx, r.attemptsKey, string(key))
		return nil
	})
	monitoring.RecordRedisCommand("cancel_activation", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to cancel activation %s: %w", key, err)
	}

	return nil
}

// ClaimDue atomically removes and returns up to limit activations due at or before now
func (r *RedisActivationTimer) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*schedule.Activation, error) {
	if limit <= 0 {
		return nil, nil
	}

	start := time.Now()
	raw, err := claimDueScript.Run(ctx, r.client, []string{r.queueKey, r.attemptsKey}, now.UnixMilli(), limit).StringSlice()
	monitoring.RecordRedisCommand("claim_activations", time.Since(start), err)
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim due activations: %w", err)
	}

	activations := make([]*schedule.Activation, 0, len(raw)/3)
	for i := 0; i+2 < len(raw); i += 3 {
		activation, err := decodeActivation(raw[i], raw[i+1], raw[i+2])
		if err != nil {
			// A foreign member cannot be delivered, it is already popped
			monitoring.RecordActivation("claim", "malformed")
			continue
		}
		activations = append(activations, activation)
	}

	return activations, nil
}

// Pending returns the number of outstanding activations
func (r *RedisActivationTimer) Pending(ctx context.Context) (int64, error) {
	start := time.Now()
	size, err := r.client.ZCard(ctx, r.queueKey).Result()
	monitoring.RecordRedisCommand("zcard", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to count activations: %w", err)
	}
	return size, nil
}

func decodeActivation(key, score, attempt string) (*schedule.Activation, error) {
	bannerID, err := schedule.JobKey(key).BannerID()
	if err != nil {
		return nil, err
	}

	dueMillis, err := strconv.ParseFloat(score, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid score %q: %w", score, err)
	}

	n, err := strconv.Atoi(attempt)
	if err != nil {
		n = 0
	}

	return schedule.RestoreActivation(bannerID, time.UnixMilli(int64(dueMillis)), n), nil
}
