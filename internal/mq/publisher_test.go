package mq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"parking_reservation/internal/domain"

	amqp "github.com/rabbitmq/amqp091-go"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type sent struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	mu       sync.Mutex
	declared []string
	notify   chan *amqp.Error
	failWith error
	closed   bool
	sent     chan sent
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{sent: make(chan sent, 16)}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, name+":"+kind)
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	err := f.failWith
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.sent <- sent{exchange: exchange, key: key, msg: msg}
	return nil
}

func (f *fakeChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notify = c
	return c
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func waitSent(t *testing.T, ch *fakeChannel) sent {
	t.Helper()
	select {
	case s := <-ch.sent:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("nothing published")
		return sent{}
	}
}

func startPublisher(t *testing.T, p *Publisher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func sampleEvent(id string) domain.ReservationEvent {
	return domain.ReservationEvent{
		ID:          id,
		Type:        domain.EventReservationClosed,
		Reservation: domain.Reservation{ID: 9, SpotID: 3},
		OccurredAt:  time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC),
	}
}

func TestPublishRoutesByEventType(t *testing.T) {
	ch := newFakeChannel()
	p, err := NewPublisher(ch, nil, "parking.events", testLogger)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	if len(ch.declared) != 1 || ch.declared[0] != "parking.events:topic" {
		t.Fatalf("unexpected declarations %v", ch.declared)
	}
	startPublisher(t, p)

	if err := p.Publish(context.Background(), sampleEvent("evt-1")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := waitSent(t, ch)
	if got.exchange != "parking.events" || got.key != "reservation.closed" {
		t.Fatalf("published to %s/%s", got.exchange, got.key)
	}
	if got.msg.DeliveryMode != amqp.Persistent || got.msg.ContentType != "application/json" || got.msg.MessageId != "evt-1" {
		t.Fatalf("unexpected publishing %+v", got.msg)
	}
	var evt domain.ReservationEvent
	if err := json.Unmarshal(got.msg.Body, &evt); err != nil || evt.Reservation.ID != 9 {
		t.Fatalf("body %s: %v", got.msg.Body, err)
	}
}

func TestPublisherReconnectsWhenChannelCloses(t *testing.T) {
	first, second := newFakeChannel(), newFakeChannel()
	connected := make(chan struct{})
	connect := func(context.Context) (Channel, error) {
		defer close(connected)
		return second, nil
	}
	p, err := NewPublisher(first, connect, "parking.events", testLogger)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	startPublisher(t, p)

	first.notify <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "broker restart"}
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not reconnect")
	}

	if err := p.Publish(context.Background(), sampleEvent("evt-2")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := waitSent(t, second); got.msg.MessageId != "evt-2" {
		t.Fatalf("unexpected message %+v", got.msg)
	}
	if !first.isClosed() {
		t.Fatal("lost channel not released")
	}
	if len(second.declared) != 1 {
		t.Fatalf("exchange not declared on the new channel: %v", second.declared)
	}
}

func TestPublishRetriesOnFreshChannel(t *testing.T) {
	first, second := newFakeChannel(), newFakeChannel()
	first.failWith = amqp.ErrClosed
	p, err := NewPublisher(first, func(context.Context) (Channel, error) { return second, nil }, "x", testLogger)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	startPublisher(t, p)

	if err := p.Publish(context.Background(), sampleEvent("evt-3")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := waitSent(t, second); got.msg.MessageId != "evt-3" {
		t.Fatalf("unexpected message %+v", got.msg)
	}
}

func TestRunFlushesQueueOnShutdown(t *testing.T) {
	ch := newFakeChannel()
	p, _ := NewPublisher(ch, nil, "x", testLogger)
	for _, id := range []string{"a", "b", "c"} {
		if err := p.Publish(context.Background(), sampleEvent(id)); err != nil {
			t.Fatalf("Publish %s: %v", id, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)

	if len(ch.sent) != 3 {
		t.Fatalf("expected 3 flushed events, got %d", len(ch.sent))
	}
	if !ch.isClosed() {
		t.Fatal("channel not closed after Run returned")
	}
	if err := p.Publish(context.Background(), sampleEvent("late")); !errors.Is(err, ErrPublisherClosed) {
		t.Fatalf("expected ErrPublisherClosed, got %v", err)
	}
}

func TestPublishQueueFull(t *testing.T) {
	p, _ := NewPublisher(newFakeChannel(), nil, "x", testLogger)
	for i := 0; i < queueSize; i++ {
		if err := p.Publish(context.Background(), sampleEvent("e")); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}
	if err := p.Publish(context.Background(), sampleEvent("overflow")); err == nil {
		t.Fatal("expected an error once the queue is full")
	}
}

func TestPublishAfterClose(t *testing.T) {
	ch := newFakeChannel()
	p, _ := NewPublisher(ch, nil, "x", testLogger)
	p.Close()
	if !ch.isClosed() {
		t.Fatal("channel not closed")
	}
	if err := p.Publish(context.Background(), domain.ReservationEvent{Type: "t"}); !errors.Is(err, ErrPublisherClosed) {
		t.Fatalf("expected ErrPublisherClosed, got %v", err)
	}
}
