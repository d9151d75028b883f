package slots

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"dialer-platform/internal/queue"
)

// RedisTracker enforces both ceilings with a single Lua script so the
// check-and-reserve step is atomic across processes. Counter keys carry a
// TTL as a safety net against leaked slots on process crash; the orphan
// sweep remains the authoritative reclaim path.
type RedisTracker struct {
	client      *redis.Client
	systemLimit int
	counterTTL  time.Duration
}

func NewRedisTracker(client *redis.Client, systemLimit int, counterTTL time.Duration) *RedisTracker {
	if counterTTL <= 0 {
		counterTTL = 4 * time.Hour
	}
	return &RedisTracker{client: client, systemLimit: systemLimit, counterTTL: counterTTL}
}

const (
	keySystemCount = "slots:count:system"
	keyStartedZSet = "slots:started"
	keyExternalIdx = "slots:external"
)

func tenantCountKey(tenantID string) string { return "slots:count:tenant:" + tenantID }
func entryKey(entryID string) string        { return "slots:entry:" + entryID }

var reserveScript = redis.NewScript(`
-- KEYS[1] = system counter, KEYS[2] = tenant counter
-- ARGV[1] = system limit, ARGV[2] = tenant limit, ARGV[3] = ttl_ms
local total = tonumber(redis.call('GET', KEYS[1]) or '0')
if total >= tonumber(ARGV[1]) then
  return 0
end
local tenant = tonumber(redis.call('GET', KEYS[2]) or '0')
if tenant >= tonumber(ARGV[2]) then
  return 0
end
redis.call('INCR', KEYS[1])
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('PEXPIRE', KEYS[2], ARGV[3])
return 1
`)

var releaseScript = redis.NewScript(`
-- KEYS[1] = system counter, KEYS[2] = tenant counter
local total = redis.call('DECR', KEYS[1])
if total <= 0 then
  redis.call('DEL', KEYS[1])
end
local tenant = redis.call('DECR', KEYS[2])
if tenant <= 0 then
  redis.call('DEL', KEYS[2])
end
return 1
`)

func (t *RedisTracker) Reserve(ctx context.Context, s Slot, tenantLimit int) (bool, error) {
	exists, err := t.client.Exists(ctx, entryKey(s.EntryID)).Result()
	if err != nil {
		return false, err
	}
	if exists > 0 {
		return false, ErrDuplicate
	}

	res, err := reserveScript.Run(ctx, t.client,
		[]string{keySystemCount, tenantCountKey(s.TenantID)},
		t.systemLimit, tenantLimit, t.counterTTL.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	if res != 1 {
		return false, nil
	}

	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, entryKey(s.EntryID),
		"tenant_id", s.TenantID,
		"call_type", string(s.CallType),
		"external_id", s.ExternalID,
		"started_ms", s.StartedAt.UnixMilli())
	pipe.ZAdd(ctx, keyStartedZSet, redis.Z{Score: float64(s.StartedAt.UnixMilli()), Member: s.EntryID})
	if s.ExternalID != "" {
		pipe.HSet(ctx, keyExternalIdx, s.ExternalID, s.EntryID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		// Roll the counters back; the record never materialized.
		_, _ = releaseScript.Run(ctx, t.client,
			[]string{keySystemCount, tenantCountKey(s.TenantID)}).Result()
		return false, err
	}
	return true, nil
}

func (t *RedisTracker) Release(ctx context.Context, entryID string) error {
	s, ok, err := t.get(ctx, entryID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSlotNotFound
	}
	return t.remove(ctx, s)
}

func (t *RedisTracker) remove(ctx context.Context, s Slot) error {
	pipe := t.client.TxPipeline()
	pipe.Del(ctx, entryKey(s.EntryID))
	pipe.ZRem(ctx, keyStartedZSet, s.EntryID)
	if s.ExternalID != "" {
		pipe.HDel(ctx, keyExternalIdx, s.ExternalID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	_, err := releaseScript.Run(ctx, t.client,
		[]string{keySystemCount, tenantCountKey(s.TenantID)}).Result()
	return err
}

func (t *RedisTracker) BindExternal(ctx context.Context, entryID, externalID string) error {
	s, ok, err := t.get(ctx, entryID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSlotNotFound
	}
	pipe := t.client.TxPipeline()
	if s.ExternalID != "" {
		pipe.HDel(ctx, keyExternalIdx, s.ExternalID)
	}
	pipe.HSet(ctx, entryKey(entryID), "external_id", externalID)
	pipe.HSet(ctx, keyExternalIdx, externalID, entryID)
	_, err = pipe.Exec(ctx)
	return err
}

func (t *RedisTracker) ResolveExternal(ctx context.Context, externalID string) (Slot, bool, error) {
	entryID, err := t.client.HGet(ctx, keyExternalIdx, externalID).Result()
	if err == redis.Nil {
		return Slot{}, false, nil
	}
	if err != nil {
		return Slot{}, false, err
	}
	return t.get(ctx, entryID)
}

func (t *RedisTracker) Counts(ctx context.Context, tenantID string) (int, int, error) {
	tenant, err := t.client.Get(ctx, tenantCountKey(tenantID)).Int()
	if err != nil && err != redis.Nil {
		return 0, 0, err
	}
	total, err := t.client.Get(ctx, keySystemCount).Int()
	if err != nil && err != redis.Nil {
		return 0, 0, err
	}
	return tenant, total, nil
}

func (t *RedisTracker) Reap(ctx context.Context, cutoff time.Time) ([]Slot, error) {
	ids, err := t.client.ZRangeByScore(ctx, keyStartedZSet, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff.UnixMilli()-1),
	}).Result()
	if err != nil {
		return nil, err
	}
	orphans := make([]Slot, 0, len(ids))
	for _, id := range ids {
		s, ok, err := t.get(ctx, id)
		if err != nil {
			return orphans, err
		}
		if !ok {
			// Already released between range and fetch.
			_ = t.client.ZRem(ctx, keyStartedZSet, id).Err()
			continue
		}
		if err := t.remove(ctx, s); err != nil {
			return orphans, err
		}
		orphans = append(orphans, s)
	}
	return orphans, nil
}

func (t *RedisTracker) Rebuild(ctx context.Context, existing []Slot) error {
	// Wipe current accounting, tenant counters included.
	old, err := t.client.ZRange(ctx, keyStartedZSet, 0, -1).Result()
	if err != nil {
		return err
	}
	staleTenants := map[string]struct{}{}
	for _, id := range old {
		s, ok, err := t.get(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			staleTenants[s.TenantID] = struct{}{}
		}
	}
	pipe := t.client.TxPipeline()
	for _, id := range old {
		pipe.Del(ctx, entryKey(id))
	}
	for tenantID := range staleTenants {
		pipe.Del(ctx, tenantCountKey(tenantID))
	}
	pipe.Del(ctx, keyStartedZSet, keyExternalIdx, keySystemCount)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	tenants := map[string]int{}
	pipe = t.client.TxPipeline()
	for _, s := range existing {
		pipe.HSet(ctx, entryKey(s.EntryID),
			"tenant_id", s.TenantID,
			"call_type", string(s.CallType),
			"external_id", s.ExternalID,
			"started_ms", s.StartedAt.UnixMilli())
		pipe.ZAdd(ctx, keyStartedZSet, redis.Z{Score: float64(s.StartedAt.UnixMilli()), Member: s.EntryID})
		if s.ExternalID != "" {
			pipe.HSet(ctx, keyExternalIdx, s.ExternalID, s.EntryID)
		}
		tenants[s.TenantID]++
	}
	if len(existing) > 0 {
		pipe.Set(ctx, keySystemCount, len(existing), t.counterTTL)
	}
	for tenantID, n := range tenants {
		pipe.Set(ctx, tenantCountKey(tenantID), n, t.counterTTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (t *RedisTracker) get(ctx context.Context, entryID string) (Slot, bool, error) {
	vals, err := t.client.HGetAll(ctx, entryKey(entryID)).Result()
	if err != nil {
		return Slot{}, false, err
	}
	if len(vals) == 0 {
		return Slot{}, false, nil
	}
	startedMs, _ := strconv.ParseInt(vals["started_ms"], 10, 64)
	return Slot{
		EntryID:    entryID,
		TenantID:   vals["tenant_id"],
		CallType:   queue.CallType(vals["call_type"]),
		ExternalID: vals["external_id"],
		StartedAt:  time.UnixMilli(startedMs).UTC(),
	}, true, nil
}
