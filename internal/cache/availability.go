package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"parking_reservation/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	availabilityKey = "parking:lots:availability"
	generationKey   = "parking:lots:availability:gen"
)

// KV is the subset of the redis client the cache uses.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// NewClient parses a redis:// URL and checks the server answers.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// Availability keeps the lot listing summary in redis. Every spot status
// change bumps a generation counter; an entry only counts while its
// generation is current, so a listing computed before a change and written
// after it is never served. Redis errors degrade to a cache miss.
type Availability struct {
	kv     KV
	ttl    time.Duration
	logger *slog.Logger
}

type entry struct {
	Generation int64                    `json:"generation"`
	Lots       []domain.LotAvailability `json:"lots"`
}

func NewAvailability(kv KV, ttl time.Duration, logger *slog.Logger) *Availability {
	return &Availability{kv: kv, ttl: ttl, logger: logger.With(slog.String("component", "availability_cache"))}
}

// Get returns the cached listing and the generation a fresh listing must be
// stored under. The generation is -1 when redis cannot be read.
func (c *Availability) Get(ctx context.Context) ([]domain.LotAvailability, int64, bool) {
	gen, err := c.kv.Get(ctx, generationKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("cache read failed", slog.String("error", err.Error()))
		return nil, -1, false
	}

	raw, err := c.kv.Get(ctx, availabilityKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache read failed", slog.String("error", err.Error()))
			return nil, -1, false
		}
		return nil, gen, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("discarding unreadable cache entry", slog.String("error", err.Error()))
		c.Invalidate(ctx)
		return nil, -1, false
	}
	if e.Generation != gen {
		return nil, gen, false
	}
	return e.Lots, gen, true
}

// Set stores lots under generation, as returned by the Get that missed.
func (c *Availability) Set(ctx context.Context, generation int64, lots []domain.LotAvailability) {
	if generation < 0 {
		return
	}
	raw, err := json.Marshal(entry{Generation: generation, Lots: lots})
	if err != nil {
		return
	}
	if err := c.kv.Set(ctx, availabilityKey, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", slog.String("error", err.Error()))
	}
}

func (c *Availability) Invalidate(ctx context.Context) {
	if err := c.kv.Incr(ctx, generationKey).Err(); err != nil {
		c.logger.Warn("cache invalidation failed", slog.String("error", err.Error()))
	}
	if err := c.kv.Del(ctx, availabilityKey).Err(); err != nil {
		c.logger.Warn("cache invalidation failed", slog.String("error", err.Error()))
	}
}

// SpotStatusChanged implements service.Notifier.
func (c *Availability) SpotStatusChanged(ctx context.Context, _ domain.SpotStatusNotification) {
	c.Invalidate(ctx)
}
