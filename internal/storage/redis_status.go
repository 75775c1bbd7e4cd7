package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/peteski22/creatorsync/internal/sync"
)

const defaultStatusKeyPrefix = "creatorsync:sync-status"

// tryBeginScript claims a creator's hash unless an in-flight, non-abandoned run holds it.
// ARGV: now_ms, stale_after_ms, progress_json, run_id, seq, in_flight, updated_at_ms.
var tryBeginScript = redis.NewScript(`
	if redis.call("HGET", KEYS[1], "in_flight") == "1" then
		local updated = tonumber(redis.call("HGET", KEYS[1], "updated_at") or "0")
		local stale = tonumber(ARGV[2])
		if stale <= 0 or tonumber(ARGV[1]) - updated <= stale then
			return 0
		end
	end
	redis.call("HSET", KEYS[1],
		"progress", ARGV[3],
		"run_id", ARGV[4],
		"seq", ARGV[5],
		"in_flight", ARGV[6],
		"updated_at", ARGV[7])
	return 1
`)

// recordProgressScript applies a write only for the owning run and a newer sequence number.
// Returns -1 when another run owns the record, 0 for a stale write and 1 when applied.
// ARGV: run_id, seq, progress_json, in_flight, updated_at_ms.
var recordProgressScript = redis.NewScript(`
	local owner = redis.call("HGET", KEYS[1], "run_id")
	if not owner or owner ~= ARGV[1] then
		return -1
	end
	local seq = tonumber(redis.call("HGET", KEYS[1], "seq") or "0")
	if tonumber(ARGV[2]) <= seq then
		return 0
	end
	redis.call("HSET", KEYS[1],
		"progress", ARGV[3],
		"seq", ARGV[2],
		"in_flight", ARGV[4],
		"updated_at", ARGV[5])
	return 1
`)

// RedisStatusStore keeps sync progress in Redis so it survives restarts and is shared across instances.
// Each creator has one hash; claims and writes are Lua scripts, so they are atomic per creator.
type RedisStatusStore struct {
	client     redis.UniversalClient
	keyPrefix  string
	now        func() time.Time
	staleAfter time.Duration
}

// NewRedisStatusStore creates a Redis-backed status store.
// In-flight records untouched for staleAfter are taken over by the next TryBegin; zero disables this.
func NewRedisStatusStore(client redis.UniversalClient, keyPrefix string, staleAfter time.Duration) (*RedisStatusStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if staleAfter < 0 {
		return nil, errors.New("stale after cannot be negative")
	}
	if keyPrefix == "" {
		keyPrefix = defaultStatusKeyPrefix
	}

	return &RedisStatusStore{
		client:     client,
		keyPrefix:  keyPrefix,
		now:        time.Now,
		staleAfter: staleAfter,
	}, nil
}

// RecordProgress implements sync.StatusStore.
func (r *RedisStatusStore) RecordProgress(ctx context.Context, creatorID string, p sync.Progress) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = r.now()
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding progress: %w", err)
	}

	res, err := recordProgressScript.Run(ctx, r.client, []string{r.key(creatorID)},
		p.RunID,
		p.Seq,
		data,
		inFlightFlag(p),
		p.UpdatedAt.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("recording progress in redis: %w", err)
	}
	if res < 0 {
		return sync.ErrRunSuperseded
	}

	return nil
}

// Status implements sync.StatusStore.
func (r *RedisStatusStore) Status(ctx context.Context, creatorID string) (*sync.Progress, error) {
	values, err := r.client.HMGet(ctx, r.key(creatorID), "progress", "seq").Result()
	if err != nil {
		return nil, fmt.Errorf("reading status from redis: %w", err)
	}

	raw, ok := values[0].(string)
	if !ok {
		return nil, nil
	}

	var p sync.Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decoding progress: %w", err)
	}
	if seq, ok := values[1].(string); ok {
		if p.Seq, err = strconv.ParseInt(seq, 10, 64); err != nil {
			return nil, fmt.Errorf("parsing seq: %w", err)
		}
	}

	return &p, nil
}

// TryBegin implements sync.StatusStore.
func (r *RedisStatusStore) TryBegin(ctx context.Context, creatorID string, p sync.Progress) (bool, error) {
	now := r.now()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}

	data, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("encoding progress: %w", err)
	}

	res, err := tryBeginScript.Run(ctx, r.client, []string{r.key(creatorID)},
		now.UnixMilli(),
		r.staleAfter.Milliseconds(),
		data,
		p.RunID,
		p.Seq,
		inFlightFlag(p),
		p.UpdatedAt.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("claiming creator in redis: %w", err)
	}

	return res == 1, nil
}

func (r *RedisStatusStore) key(creatorID string) string {
	return r.keyPrefix + ":" + creatorID
}

func inFlightFlag(p sync.Progress) string {
	if p.InFlight() {
		return "1"
	}
	return "0"
}

var _ sync.StatusStore = (*RedisStatusStore)(nil)
