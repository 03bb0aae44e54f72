package iot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"parking_reservation/internal/config"
	"parking_reservation/internal/domain"
	"parking_reservation/internal/service"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSAPI is the part of the SQS client the consumer uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Reconciler is satisfied by *service.Auditor.
type Reconciler interface {
	Reconcile(ctx context.Context, lotID int) ([]domain.SpotCorrection, error)
	ReconcileAll(ctx context.Context) ([]domain.SpotCorrection, error)
}

// ReconcileRequest is the message body on the audit queue. LotID 0 asks for
// every lot.
type ReconcileRequest struct {
	LotID int `json:"lot_id"`
}

// SQSConsumer long-polls the audit queue and runs the requested
// reconciliations. A message is deleted once handled; failures are left for
// redelivery after the visibility timeout.
type SQSConsumer struct {
	sqsClient  SQSAPI
	queueURL   string
	reconciler Reconciler
	logger     *slog.Logger
}

func NewSQSConsumer(client SQSAPI, cfg *config.Config, reconciler Reconciler, logger *slog.Logger) *SQSConsumer {
	return &SQSConsumer{
		sqsClient:  client,
		queueURL:   cfg.SQSAuditQueueURL,
		reconciler: reconciler,
		logger:     logger.With(slog.String("component", "sqs_consumer")),
	}
}

func (c *SQSConsumer) Start(ctx context.Context) {
	c.logger.Info("listening for reconcile requests", slog.String("queue", c.queueURL))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context cancelled, stopping")
			return
		default:
			receiveInput := &sqs.ReceiveMessageInput{
				QueueUrl:            &c.queueURL,
				MaxNumberOfMessages: 10,
				WaitTimeSeconds:     20,
				VisibilityTimeout:   60,
			}

			result, err := c.sqsClient.ReceiveMessage(ctx, receiveInput)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Error("receive failed", slog.String("error", err.Error()))
				select {
				case <-time.After(5 * time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}

			for _, message := range result.Messages {
				if message.Body == nil {
					c.logger.Warn("empty message body, deleting")
					c.deleteMessage(ctx, message.ReceiptHandle)
					continue
				}

				err := c.HandleMessage(ctx, *message.Body)
				switch {
				case err == nil, errors.Is(err, errMalformed), errors.Is(err, domain.ErrInvalidLot):
					// nothing a retry would change
					if err != nil {
						c.logger.Warn("dropping reconcile request", slog.String("error", err.Error()))
					}
					c.deleteMessage(ctx, message.ReceiptHandle)
				default:
					msgID := ""
					if message.MessageId != nil {
						msgID = *message.MessageId
					}
					c.logger.Error("reconcile request failed, will be redelivered",
						slog.String("message_id", msgID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

var errMalformed = errors.New("malformed reconcile request")

// HandleMessage decodes one queue body and runs the reconciliation it asks for.
func (c *SQSConsumer) HandleMessage(ctx context.Context, body string) error {
	var req ReconcileRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if req.LotID < 0 {
		return fmt.Errorf("%w: lot_id %d", errMalformed, req.LotID)
	}

	ctx = service.WithTrigger(ctx, "sqs")
	var (
		fixed []domain.SpotCorrection
		err   error
	)
	if req.LotID == 0 {
		fixed, err = c.reconciler.ReconcileAll(ctx)
	} else {
		fixed, err = c.reconciler.Reconcile(ctx, req.LotID)
	}
	if err != nil {
		return err
	}
	c.logger.Info("reconcile request handled", slog.Int("lot_id", req.LotID), slog.Int("corrections", len(fixed)))
	return nil
}

func (c *SQSConsumer) deleteMessage(ctx context.Context, receiptHandle *string) {
	if receiptHandle == nil {
		c.logger.Warn("missing receipt handle, cannot delete message")
		return
	}
	_, delErr := c.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.queueURL,
		ReceiptHandle: receiptHandle,
	})
	if delErr != nil {
		c.logger.Error("delete failed", slog.String("error", delErr.Error()))
	}
}
