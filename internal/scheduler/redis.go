package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// claimScript re-scores due members to the lease deadline and returns their payloads.
// Running it as one script keeps two workers from leasing the same member.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local out = {}
for _, id in ipairs(ids) do
  local payload = redis.call('HGET', KEYS[2], id)
  if payload then
    redis.call('ZADD', KEYS[1], 'XX', ARGV[3], id)
    table.insert(out, payload)
  else
    redis.call('ZREM', KEYS[1], id)
  end
end
return out
`)

// ackScript removes a member still scored at its lease deadline.
var ackScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) == tonumber(ARGV[2]) then
  redis.call('ZREM', KEYS[1], ARGV[1])
  redis.call('HDEL', KEYS[2], ARGV[1])
  return 1
end
return 0
`)

// retryScript re-arms a member still scored at its lease deadline.
var retryScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) == tonumber(ARGV[2]) then
  redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
  redis.call('HSET', KEYS[2], ARGV[1], ARGV[4])
  return 1
end
return 0
`)

// RedisStore keeps jobs in a ZSET scored by fire time in milliseconds and a HASH of
// JSON payloads keyed by order id.
type RedisStore struct {
	client     redis.UniversalClient
	dueKey     string
	payloadKey string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "orderflow:cancel"
	}
	return &RedisStore{
		client:     client,
		dueKey:     prefix + ":due",
		payloadKey: prefix + ":payload",
	}
}

func (r *RedisStore) Put(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, r.dueKey, redis.Z{
			Score:  float64(job.FireAt.UnixMilli()),
			Member: job.OrderID,
		})
		pipe.HSet(ctx, r.payloadKey, job.OrderID, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put job %s: %w", job.OrderID, err)
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, orderID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.dueKey, orderID)
		pipe.HDel(ctx, r.payloadKey, orderID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove job %s: %w", orderID, err)
	}
	return nil
}

func (r *RedisStore) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	leasedUntil := now.Add(lease)

	payloads, err := claimScript.Run(ctx, r.client,
		[]string{r.dueKey, r.payloadKey},
		strconv.FormatInt(now.UnixMilli(), 10),
		limit,
		strconv.FormatInt(leasedUntil.UnixMilli(), 10),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}

	jobs := make([]Job, 0, len(payloads))
	var errs []error
	for _, p := range payloads {
		var job Job
		if err := json.Unmarshal([]byte(p), &job); err != nil {
			errs = append(errs, fmt.Errorf("unmarshal job: %w", err))
			continue
		}
		job.LeasedUntil = leasedUntil
		jobs = append(jobs, job)
	}
	return jobs, errors.Join(errs...)
}

func (r *RedisStore) Ack(ctx context.Context, job Job) error {
	err := ackScript.Run(ctx, r.client,
		[]string{r.dueKey, r.payloadKey},
		job.OrderID,
		strconv.FormatInt(job.LeasedUntil.UnixMilli(), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("ack job %s: %w", job.OrderID, err)
	}
	return nil
}

func (r *RedisStore) Retry(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	err = retryScript.Run(ctx, r.client,
		[]string{r.dueKey, r.payloadKey},
		job.OrderID,
		strconv.FormatInt(job.LeasedUntil.UnixMilli(), 10),
		strconv.FormatInt(job.FireAt.UnixMilli(), 10),
		payload,
	).Err()
	if err != nil {
		return fmt.Errorf("retry job %s: %w", job.OrderID, err)
	}
	return nil
}

// Pending reports the number of armed jobs.
func (r *RedisStore) Pending(ctx context.Context) (int64, error) {
	return r.client.ZCard(ctx, r.dueKey).Result()
}
