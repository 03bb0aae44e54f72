// Package mq publishes reservation lifecycle events to RabbitMQ.
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/retry"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	queueSize      = 256
	publishTimeout = 5 * time.Second
	drainTimeout   = 5 * time.Second
)

var ErrPublisherClosed = errors.New("rabbitmq publisher closed")

// Channel is the slice of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// ConnectFunc opens a fresh channel after the broker drops the current one.
type ConnectFunc func(ctx context.Context) (Channel, error)

// Publisher sends each ReservationEvent to a durable topic exchange using the
// event type as routing key, e.g. reservation.closed. Publish only queues;
// Run does the network work so a slow or restarting broker never holds up a
// booking.
type Publisher struct {
	connect  ConnectFunc
	exchange string
	queue    chan domain.ReservationEvent
	logger   *slog.Logger
	closed   atomic.Bool

	mu   sync.Mutex
	ch   Channel
	lost chan *amqp.Error
}

// Dial connects with backoff, opens a channel and declares the exchange.
func Dial(ctx context.Context, url, exchange string, logger *slog.Logger) (*Publisher, error) {
	connect := func(ctx context.Context) (Channel, error) {
		return dialChannel(ctx, url, logger)
	}
	ch, err := connect(ctx)
	if err != nil {
		return nil, err
	}
	p, err := NewPublisher(ch, connect, exchange, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("rabbitmq connected", slog.String("exchange", exchange))
	return p, nil
}

// connChannel owns its connection so closing the channel releases both.
type connChannel struct {
	*amqp.Channel
	conn *amqp.Connection
}

func (c *connChannel) Close() error {
	_ = c.Channel.Close()
	return c.conn.Close()
}

func dialChannel(ctx context.Context, url string, logger *slog.Logger) (Channel, error) {
	cfg := &retry.Config{
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 1.5,
	}
	conn, err := retry.Do(ctx, cfg, logger, "rabbitmq_dial", func(ctx context.Context) (*amqp.Connection, error) {
		return amqp.Dial(url)
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &connChannel{Channel: ch, conn: conn}, nil
}

// NewPublisher declares the exchange on ch. connect may be nil, in which case
// a lost channel is not replaced.
func NewPublisher(ch Channel, connect ConnectFunc, exchange string, logger *slog.Logger) (*Publisher, error) {
	p := &Publisher{
		connect:  connect,
		exchange: exchange,
		queue:    make(chan domain.ReservationEvent, queueSize),
		logger:   logger.With(slog.String("component", "rabbitmq")),
	}
	if err := p.attach(ch); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) attach(ch Channel) error {
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.mu.Lock()
	p.ch = ch
	p.lost = ch.NotifyClose(make(chan *amqp.Error, 1))
	p.mu.Unlock()
	return nil
}

// Publish implements service.EventPublisher. The event is dropped with an
// error when the queue is full.
func (p *Publisher) Publish(_ context.Context, evt domain.ReservationEvent) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	select {
	case p.queue <- evt:
		return nil
	default:
		return fmt.Errorf("rabbitmq queue full, dropping %s %s", evt.Type, evt.ID)
	}
}

// Run sends queued events until ctx is cancelled, replacing the channel when
// the broker closes it. On the way out it flushes what is still queued and
// closes the publisher.
func (p *Publisher) Run(ctx context.Context) {
	defer p.Close()
	for {
		p.mu.Lock()
		lost := p.lost
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			p.drain()
			return
		case amqpErr := <-lost:
			reason := "closed"
			if amqpErr != nil {
				reason = amqpErr.Error()
			}
			p.logger.Warn("rabbitmq channel lost, reconnecting", slog.String("reason", reason))
			p.detach()
			if err := p.reconnect(ctx); err != nil {
				p.logger.Error("rabbitmq reconnect failed", slog.String("error", err.Error()))
			}
		case evt := <-p.queue:
			p.deliver(ctx, evt)
		}
	}
}

func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case evt := <-p.queue:
			p.deliver(ctx, evt)
		default:
			return
		}
		if ctx.Err() != nil {
			p.logger.Warn("rabbitmq drain timed out", slog.Int("dropped", len(p.queue)))
			return
		}
	}
}

// deliver makes one attempt on the current channel and one on a fresh one.
func (p *Publisher) deliver(ctx context.Context, evt domain.ReservationEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("marshal event", slog.String("type", evt.Type), slog.String("error", err.Error()))
		return
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    evt.ID,
		Type:         evt.Type,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    evt.OccurredAt,
	}

	for attempt := 1; attempt <= 2; attempt++ {
		if err = p.send(ctx, evt.Type, msg); err == nil {
			return
		}
		p.detach()
		if attempt == 1 {
			if rerr := p.reconnect(ctx); rerr != nil {
				err = rerr
				break
			}
		}
	}
	p.logger.Error("rabbitmq publish failed",
		slog.String("event_id", evt.ID),
		slog.String("type", evt.Type),
		slog.String("error", err.Error()),
	)
}

func (p *Publisher) send(ctx context.Context, key string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return errors.New("no open channel")
	}
	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return p.ch.PublishWithContext(publishCtx, p.exchange, key, false, false, msg)
}

func (p *Publisher) detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	p.ch, p.lost = nil, nil
}

func (p *Publisher) reconnect(ctx context.Context) error {
	if p.connect == nil {
		return errors.New("no reconnect configured")
	}
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	ch, err := p.connect(ctx)
	if err != nil {
		return err
	}
	if err := p.attach(ch); err != nil {
		return err
	}
	p.logger.Info("rabbitmq reconnected", slog.String("exchange", p.exchange))
	return nil
}

// Close stops accepting events and releases the channel. Events still queued
// are lost unless Run is the caller.
func (p *Publisher) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.detach()
}
