package quota

import (
	"context"
	"sync/atomic"
	"time"

	"trafficguard/pkg/config"
	"trafficguard/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("quota",
	fx.Provide(NewRedisTracker),
)

// Usage is a point-in-time view of consumed oracle quota.
type Usage struct {
	Used        int64   `json:"used"`
	Limit       int64   `json:"limit"`
	PercentUsed float64 `json:"percent_used"`
}

// Tracker is the shared, explicitly-owned quota counter both batch jobs
// consult. It is passed in rather than reached for as a singleton so tests
// can substitute a deterministic fake.
type Tracker interface {
	Record(ctx context.Context, cost int64) error
	Usage(ctx context.Context) (Usage, error)
}

// pacific is the YouTube Data API quota reset zone.
var pacific = mustLoadLocation("America/Los_Angeles")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

type RedisTracker struct {
	rdb   *redis.Client
	limit int64
}

type Params struct {
	fx.In

	Redis  *redis.Client
	Config *config.Config
}

func NewRedisTracker(p Params) Tracker {
	return &RedisTracker{
		rdb:   p.Redis,
		limit: p.Config.YouTube.QuotaLimit,
	}
}

func (t *RedisTracker) key() string {
	return rediskey.BuildQuotaKey("youtube", time.Now().In(pacific).Format("20060102"))
}

func (t *RedisTracker) Record(ctx context.Context, cost int64) error {
	key := t.key()
	used, err := t.rdb.IncrBy(ctx, key, cost).Result()
	if err != nil {
		return err
	}

	if used == cost {
		// first write of the day, key expires well after the reset boundary
		_ = t.rdb.Expire(ctx, key, 48*time.Hour).Err()
	}

	return nil
}

func (t *RedisTracker) Usage(ctx context.Context) (Usage, error) {
	used, err := t.rdb.Get(ctx, t.key()).Int64()
	if err != nil && err != redis.Nil {
		return Usage{}, err
	}

	return newUsage(used, t.limit), nil
}

// MemoryTracker is an in-process tracker used by tests and single-node
// deployments without redis.
type MemoryTracker struct {
	used  atomic.Int64
	limit int64
}

func NewMemoryTracker(limit int64) *MemoryTracker {
	return &MemoryTracker{limit: limit}
}

func (t *MemoryTracker) Record(ctx context.Context, cost int64) error {
	t.used.Add(cost)
	return nil
}

func (t *MemoryTracker) Usage(ctx context.Context) (Usage, error) {
	return newUsage(t.used.Load(), t.limit), nil
}

// Set overwrites the consumed counter; test helper.
func (t *MemoryTracker) Set(used int64) {
	t.used.Store(used)
}

func newUsage(used, limit int64) Usage {
	u := Usage{Used: used, Limit: limit}
	if limit > 0 {
		u.PercentUsed = float64(used) / float64(limit) * 100
	}
	return u
}
