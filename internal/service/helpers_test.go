package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"
	"parking_reservation/internal/repository/memory"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []domain.SpotStatusNotification
}

func (r *recordingNotifier) SpotStatusChanged(_ context.Context, n domain.SpotStatusNotification) {
	r.mu.Lock()
	r.seen = append(r.seen, n)
	r.mu.Unlock()
}

func (r *recordingNotifier) all() []domain.SpotStatusNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SpotStatusNotification(nil), r.seen...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ReservationEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt domain.ReservationEvent) error {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type testEnv struct {
	store        *memory.Store
	clock        *fakeClock
	notifier     *recordingNotifier
	events       *recordingPublisher
	reservations *ReservationService
	parking      *ParkingService
	users        *UserService
	auditor      *Auditor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    memory.NewStore(),
		clock:    newFakeClock(t0),
		notifier: &recordingNotifier{},
		events:   &recordingPublisher{},
	}
	env.reservations = NewReservationService(env.store, env.clock, env.notifier, env.events, testLogger)
	env.parking = NewParkingService(env.store, nil, testLogger)
	env.users = NewUserService(env.store, testLogger)
	env.auditor = NewAuditor(env.store, env.clock, env.notifier, testLogger)
	return env
}

func (e *testEnv) user(t *testing.T, email string, complete bool) *domain.User {
	t.Helper()
	u := &domain.User{Name: "Test User", Email: email, Role: domain.RoleUser}
	if complete {
		u.Address = "1 Main St"
		u.PostalCode = "560001"
	}
	created, err := e.store.Users().Create(context.Background(), u)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return created
}

func (e *testEnv) lot(t *testing.T, rate float64, capacity int) *domain.ParkingLot {
	t.Helper()
	lot, err := e.parking.CreateParkingLot(context.Background(), domain.ParkingLotDTO{
		Name: "Central", Address: "2 Lot Rd", PostalCode: "560002", HourlyRate: rate, Capacity: capacity,
	})
	if err != nil {
		t.Fatalf("create lot: %v", err)
	}
	return lot
}

func (e *testEnv) spots(t *testing.T, lotID int) []domain.ParkingSpot {
	t.Helper()
	spots, err := e.store.Spots().FindByLotID(context.Background(), lotID)
	if err != nil {
		t.Fatalf("list spots: %v", err)
	}
	return spots
}

// assertConsistent checks that a spot is occupied exactly when one open
// reservation holds it.
func assertConsistent(t *testing.T, store repository.Store, lotID int) {
	t.Helper()
	ctx := context.Background()
	spots, err := store.Spots().FindByLotID(ctx, lotID)
	if err != nil {
		t.Fatalf("list spots: %v", err)
	}
	open, err := store.Reservations().FindOpenByLotID(ctx, lotID)
	if err != nil {
		t.Fatalf("list open reservations: %v", err)
	}
	holders := map[int]int{}
	for _, r := range open {
		holders[r.SpotID]++
	}
	for _, sp := range spots {
		n := holders[sp.ID]
		if n > 1 {
			t.Fatalf("spot %d held by %d open reservations", sp.ID, n)
		}
		if (sp.Status == domain.SpotOccupied) != (n == 1) {
			t.Fatalf("spot %d is %s with %d open reservations", sp.ID, sp.Status, n)
		}
	}
}

// corruptRateStore serves every lot with a zero hourly rate, the way a row
// edited behind the service's back would look.
type corruptRateStore struct {
	*memory.Store
}

func (s corruptRateStore) Lots() repository.ParkingLotRepository {
	return zeroRateLots{s.Store.Lots()}
}

func (s corruptRateStore) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx repository.Tx) error {
		return fn(zeroRateTx{tx})
	})
}

type zeroRateTx struct {
	repository.Tx
}

func (t zeroRateTx) Lots() repository.ParkingLotRepository { return zeroRateLots{t.Tx.Lots()} }

type zeroRateLots struct {
	repository.ParkingLotRepository
}

func (l zeroRateLots) FindByID(ctx context.Context, id int) (*domain.ParkingLot, error) {
	lot, err := l.ParkingLotRepository.FindByID(ctx, id)
	if lot != nil {
		lot.HourlyRate = 0
	}
	return lot, err
}
