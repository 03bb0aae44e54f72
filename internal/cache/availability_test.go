package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"parking_reservation/internal/domain"

	"github.com/redis/go-redis/v9"
)

type memKV struct {
	data map[string]string
	ttl  time.Duration
	err  error
}

func newMemKV() *memKV { return &memKV{data: map[string]string{}} }

func (m *memKV) Get(ctx context.Context, key string) *redis.StringCmd {
	if m.err != nil {
		return redis.NewStringResult("", m.err)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if m.err != nil {
		return redis.NewStatusResult("", m.err)
	}
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	m.ttl = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *memKV) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	if m.err != nil {
		return redis.NewIntResult(0, m.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *memKV) Incr(ctx context.Context, key string) *redis.IntCmd {
	if m.err != nil {
		return redis.NewIntResult(0, m.err)
	}
	n, _ := strconv.ParseInt(m.data[key], 10, 64)
	n++
	m.data[key] = strconv.FormatInt(n, 10)
	return redis.NewIntResult(n, nil)
}

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestAvailabilityRoundTripAndInvalidate(t *testing.T) {
	kv := newMemKV()
	c := NewAvailability(kv, 30*time.Second, testLogger)
	ctx := context.Background()

	_, gen, ok := c.Get(ctx)
	if ok || gen != 0 {
		t.Fatalf("expected miss at generation 0, got hit=%v gen=%d", ok, gen)
	}

	lots := []domain.LotAvailability{{
		ParkingLot:     domain.ParkingLot{ID: 1, Name: "Central", HourlyRate: 20, Capacity: 2},
		TotalSpots:     2,
		AvailableSpots: 1,
		OccupiedSpots:  1,
	}}
	c.Set(ctx, gen, lots)
	if kv.ttl != 30*time.Second {
		t.Fatalf("expected ttl 30s, got %v", kv.ttl)
	}

	got, _, ok := c.Get(ctx)
	if !ok || len(got) != 1 || got[0].ID != 1 || got[0].AvailableSpots != 1 {
		t.Fatalf("unexpected cached value %+v (hit=%v)", got, ok)
	}

	c.SpotStatusChanged(ctx, domain.SpotStatusNotification{LotID: 1, SpotID: 2, Status: domain.SpotAvailable})
	if _, gen, ok := c.Get(ctx); ok || gen != 1 {
		t.Fatalf("expected miss at generation 1 after spot change, got hit=%v gen=%d", ok, gen)
	}
}

func TestAvailabilityListingFromBeforeChangeNotServed(t *testing.T) {
	kv := newMemKV()
	c := NewAvailability(kv, time.Minute, testLogger)
	ctx := context.Background()

	// a reader misses and starts computing the listing
	_, gen, _ := c.Get(ctx)
	stale := []domain.LotAvailability{{ParkingLot: domain.ParkingLot{ID: 1}, AvailableSpots: 1}}

	// a booking lands before the reader writes back
	c.SpotStatusChanged(ctx, domain.SpotStatusNotification{LotID: 1, SpotID: 1, Status: domain.SpotOccupied})
	c.Set(ctx, gen, stale)

	_, current, ok := c.Get(ctx)
	if ok {
		t.Fatal("listing computed before the change must not be served")
	}
	if current != gen+1 {
		t.Fatalf("expected generation %d, got %d", gen+1, current)
	}

	fresh := []domain.LotAvailability{{ParkingLot: domain.ParkingLot{ID: 1}, AvailableSpots: 0}}
	c.Set(ctx, current, fresh)
	got, _, ok := c.Get(ctx)
	if !ok || got[0].AvailableSpots != 0 {
		t.Fatalf("expected the fresh listing, got %+v (hit=%v)", got, ok)
	}
}

func TestAvailabilityRedisDownIsMiss(t *testing.T) {
	kv := newMemKV()
	kv.err = errors.New("connection refused")
	c := NewAvailability(kv, time.Minute, testLogger)

	c.Set(context.Background(), 0, []domain.LotAvailability{{}})
	_, gen, ok := c.Get(context.Background())
	if ok || gen != -1 {
		t.Fatalf("expected miss with no usable generation, got hit=%v gen=%d", ok, gen)
	}
}

func TestAvailabilityCorruptEntryDropped(t *testing.T) {
	kv := newMemKV()
	kv.data[availabilityKey] = "{not json"
	c := NewAvailability(kv, time.Minute, testLogger)

	if _, _, ok := c.Get(context.Background()); ok {
		t.Fatal("expected miss for corrupt entry")
	}
	if _, exists := kv.data[availabilityKey]; exists {
		t.Fatal("corrupt entry should be deleted")
	}
}
