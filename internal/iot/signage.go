package iot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"parking_reservation/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
)

// Publisher is the part of the IoT data plane client signage needs.
type Publisher interface {
	Publish(ctx context.Context, params *iotdataplane.PublishInput, optFns ...func(*iotdataplane.Options)) (*iotdataplane.PublishOutput, error)
}

// SignagePayload is what the lot displays receive on
// <prefix>/<lot_id>/spots/<spot_id>.
type SignagePayload struct {
	SpotID    int               `json:"spot_id"`
	Status    domain.SpotStatus `json:"status"`
	Source    string            `json:"source"`
	ChangedAt time.Time         `json:"changed_at"`
}

// Signage mirrors spot status changes to the MQTT topics the lot displays
// subscribe to. Publishing happens on its own goroutine so a slow broker
// never holds up a booking.
type Signage struct {
	iotDataClient Publisher
	topicPrefix   string
	queue         chan domain.SpotStatusNotification
	logger        *slog.Logger
}

func NewSignage(client Publisher, topicPrefix string, logger *slog.Logger) *Signage {
	return &Signage{
		iotDataClient: client,
		topicPrefix:   strings.TrimSuffix(topicPrefix, "/"),
		queue:         make(chan domain.SpotStatusNotification, 256),
		logger:        logger.With(slog.String("component", "signage")),
	}
}

func (s *Signage) Topic(lotID, spotID int) string {
	return fmt.Sprintf("%s/%d/spots/%d", s.topicPrefix, lotID, spotID)
}

// SpotStatusChanged implements service.Notifier. Drops the update when the
// queue is full; the next reconcile or change resends the state.
func (s *Signage) SpotStatusChanged(_ context.Context, n domain.SpotStatusNotification) {
	select {
	case s.queue <- n:
	default:
		s.logger.Warn("signage queue full, dropping update", slog.Int("spot_id", n.SpotID))
	}
}

// Run drains the queue until ctx is cancelled.
func (s *Signage) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.queue:
			if err := s.publish(ctx, n); err != nil {
				s.logger.Error("signage publish failed",
					slog.Int("lot_id", n.LotID),
					slog.Int("spot_id", n.SpotID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (s *Signage) publish(ctx context.Context, n domain.SpotStatusNotification) error {
	payloadBytes, err := json.Marshal(SignagePayload{
		SpotID:    n.SpotID,
		Status:    n.Status,
		Source:    n.Source,
		ChangedAt: n.ChangedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal signage payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = s.iotDataClient.Publish(ctx, &iotdataplane.PublishInput{
		Topic:   aws.String(s.Topic(n.LotID, n.SpotID)),
		Qos:     1,
		Payload: payloadBytes,
	})
	if err != nil {
		return fmt.Errorf("publish MQTT: %w", err)
	}
	return nil
}
