package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed submit_guard.lua
var submitGuardLua string

//go:embed release_guard.lua
var releaseGuardLua string

const inFlightMarker = "in-flight"

// DefaultClaimTTL bounds how long an unfinished submission holds its key.
// Bind extends the key to the full TTL once the job exists.
const DefaultClaimTTL = time.Minute

var (
	submitGuardScript  = redis.NewScript(submitGuardLua)
	releaseGuardScript = redis.NewScript(releaseGuardLua)
)

// Claim is the state of an idempotency key after Claim.
type Claim struct {
	// Claimed is true when this caller now owns the key.
	Claimed bool
	// JobID is set when an earlier submission already admitted a job.
	JobID uuid.UUID
	// InFlight is true when another submission holds the key but has not finished.
	InFlight bool
}

// IdempotencyGuard deduplicates submissions that carry the same client key.
type IdempotencyGuard interface {
	Claim(ctx context.Context, key string) (Claim, error)
	Bind(ctx context.Context, key string, jobID uuid.UUID) error
	Release(ctx context.Context, key string) error
}

// RedisGuard stores idempotency keys in Redis. An in-flight claim lives for
// claimTTL; a bound job id lives for ttl.
type RedisGuard struct {
	rdb      *redis.Client
	ttl      time.Duration
	claimTTL time.Duration
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisGuard{rdb: rdb, ttl: ttl, claimTTL: min(DefaultClaimTTL, ttl)}
}

func (g *RedisGuard) Claim(ctx context.Context, key string) (Claim, error) {
	res, err := submitGuardScript.Run(ctx, g.rdb, []string{guardKey(key)},
		inFlightMarker, int64(g.claimTTL/time.Second)).Result()
	if err != nil {
		return Claim{}, fmt.Errorf("error executing submit guard script: %w", err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return Claim{}, errors.New("unexpected response format from Redis")
	}
	status, _ := arr[0].(int64)
	value, _ := arr[1].(string)

	if status == 1 {
		return Claim{Claimed: true}, nil
	}
	if value == inFlightMarker {
		return Claim{InFlight: true}, nil
	}
	jobID, err := uuid.Parse(value)
	if err != nil {
		return Claim{}, fmt.Errorf("corrupt idempotency value %q: %w", value, err)
	}
	return Claim{JobID: jobID}, nil
}

func (g *RedisGuard) Bind(ctx context.Context, key string, jobID uuid.UUID) error {
	if err := g.rdb.Set(ctx, guardKey(key), jobID.String(), g.ttl).Err(); err != nil {
		return fmt.Errorf("failed to bind idempotency key: %w", err)
	}
	return nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := releaseGuardScript.Run(ctx, g.rdb, []string{guardKey(key)}, inFlightMarker).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func guardKey(key string) string {
	return "idem:submit:" + key
}
