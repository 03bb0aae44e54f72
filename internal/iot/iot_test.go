package iot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"parking_reservation/internal/config"
	"parking_reservation/internal/domain"

	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeReconciler struct {
	lots []int
	all  int
	err  error
}

func (f *fakeReconciler) Reconcile(ctx context.Context, lotID int) ([]domain.SpotCorrection, error) {
	f.lots = append(f.lots, lotID)
	return nil, f.err
}

func (f *fakeReconciler) ReconcileAll(ctx context.Context) ([]domain.SpotCorrection, error) {
	f.all++
	return nil, f.err
}

func TestHandleMessageDispatch(t *testing.T) {
	rec := &fakeReconciler{}
	c := NewSQSConsumer(nil, &config.Config{SQSAuditQueueURL: "q"}, rec, testLogger)

	if err := c.HandleMessage(context.Background(), `{"lot_id":7}`); err != nil {
		t.Fatalf("lot message: %v", err)
	}
	if err := c.HandleMessage(context.Background(), `{}`); err != nil {
		t.Fatalf("all-lots message: %v", err)
	}
	if len(rec.lots) != 1 || rec.lots[0] != 7 {
		t.Fatalf("expected Reconcile(7), got %v", rec.lots)
	}
	if rec.all != 1 {
		t.Fatalf("expected one ReconcileAll, got %d", rec.all)
	}
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	c := NewSQSConsumer(nil, &config.Config{}, &fakeReconciler{}, testLogger)
	for _, body := range []string{"not json", `{"lot_id":-3}`} {
		if err := c.HandleMessage(context.Background(), body); !errors.Is(err, errMalformed) {
			t.Fatalf("%q: expected errMalformed, got %v", body, err)
		}
	}
}

func TestHandleMessagePropagatesFailure(t *testing.T) {
	boom := errors.New("db down")
	c := NewSQSConsumer(nil, &config.Config{}, &fakeReconciler{err: boom}, testLogger)
	if err := c.HandleMessage(context.Background(), `{"lot_id":1}`); !errors.Is(err, boom) {
		t.Fatalf("expected store failure, got %v", err)
	}
}

type fakePublisher struct {
	inputs chan *iotdataplane.PublishInput
}

func (f *fakePublisher) Publish(ctx context.Context, in *iotdataplane.PublishInput, _ ...func(*iotdataplane.Options)) (*iotdataplane.PublishOutput, error) {
	f.inputs <- in
	return &iotdataplane.PublishOutput{}, nil
}

func TestSignagePublishesToSpotTopic(t *testing.T) {
	pub := &fakePublisher{inputs: make(chan *iotdataplane.PublishInput, 1)}
	s := NewSignage(pub, "parking/lots/", testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.SpotStatusChanged(ctx, domain.SpotStatusNotification{
		LotID: 3, SpotID: 12, Status: domain.SpotOccupied, Source: domain.SourceBooking,
		ChangedAt: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
	})

	select {
	case in := <-pub.inputs:
		if *in.Topic != "parking/lots/3/spots/12" {
			t.Fatalf("unexpected topic %q", *in.Topic)
		}
		if in.Qos != 1 {
			t.Fatalf("expected QoS 1, got %d", in.Qos)
		}
		var p SignagePayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if p.SpotID != 12 || p.Status != domain.SpotOccupied {
			t.Fatalf("unexpected payload %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nothing published")
	}
}
