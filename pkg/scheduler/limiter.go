package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter gates evaluation dispatch. Wait blocks until the caller may
// proceed or the context ends.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Local is an in-process token bucket for single-node deployments.
type Local struct {
	limiter *rate.Limiter
}

// NewLocal creates a limiter allowing rps evaluations per second with
// the given burst.
func NewLocal(rps float64, burst int) *Local {
	return &Local{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *Local) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// redisTokenBucketScript refills and consumes the bucket atomically.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = current unix time (seconds, fractional)
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// Distributed is a Redis-backed token bucket shared by every node
// evaluating the same organization. The bucket key is per org so one
// tenant's backlog cannot starve another's.
type Distributed struct {
	client *redis.Client
	rps    float64
	burst  int
	// retry is how long Wait sleeps between denied attempts.
	retry time.Duration
}

// NewDistributed connects a shared limiter. rps and burst apply per
// organization key.
func NewDistributed(addr, password string, db int, rps float64, burst int) *Distributed {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Distributed{client: rdb, rps: rps, burst: burst, retry: 50 * time.Millisecond}
}

// ForOrg returns a Limiter view bound to one organization's bucket.
func (d *Distributed) ForOrg(orgID string) Limiter {
	return orgLimiter{d: d, key: fmt.Sprintf("decivue:limiter:%s", orgID)}
}

func (d *Distributed) allow(ctx context.Context, key string) (bool, error) {
	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := redisTokenBucketScript.Run(ctx, d.client, []string{key}, d.rps, d.burst, 1, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("redis limiter: unexpected script result %T", res)
	}
	return allowed == 1, nil
}

// Close releases the Redis connection.
func (d *Distributed) Close() error {
	return d.client.Close()
}

type orgLimiter struct {
	d   *Distributed
	key string
}

func (o orgLimiter) Wait(ctx context.Context) error {
	for {
		allowed, err := o.d.allow(ctx, o.key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.d.retry):
		}
	}
}
