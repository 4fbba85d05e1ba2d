package task

import (
	"context"
	"fmt"

	"github.com/zllovesuki/seatplan/spec"
	"github.com/zllovesuki/seatplan/spec/broker"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// EventProcessor applies a webhook event
type EventProcessor interface {
	Process(ctx context.Context, e *spec.Event) error
}

// WebhookOptions contains the dependencies of WebhookTask
type WebhookOptions struct {
	Processor EventProcessor
	Consumer  broker.Consumer
	Logger    *zap.Logger
}

// WebhookTask processes the webhook events queued by the API
type WebhookTask struct {
	WebhookOptions
}

// NewWebhookTask returns a task consuming webhook events
func NewWebhookTask(option WebhookOptions) (*WebhookTask, error) {
	if option.Processor == nil {
		return nil, fmt.Errorf("nil Processor is invalid")
	}
	if option.Consumer == nil {
		return nil, fmt.Errorf("nil Consumer is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &WebhookTask{
		WebhookOptions: option,
	}, nil
}

// handle retries a failed event once, then drops it
func (t *WebhookTask) handle(ctx context.Context, d *broker.Delivery) {
	logger := t.Logger.With(
		zap.String("EventID", d.Event.ID),
		zap.String("EventType", d.Event.Type),
	)

	if err := t.Processor.Process(ctx, d.Event); err != nil {
		requeue := !d.Redelivered
		logger.Error("Cannot process webhook event",
			zap.Bool("Requeue", requeue),
			zap.Error(err),
		)
		if err := d.Nack(requeue); err != nil {
			logger.Error("Cannot reject webhook event",
				zap.Error(err),
			)
		}
		return
	}

	if err := d.Ack(); err != nil {
		logger.Error("Cannot acknowledge webhook event",
			zap.Error(err),
		)
	}
}

func (t *WebhookTask) handleEvents(ctx context.Context, dChan <-chan *broker.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-dChan:
			if !ok {
				t.Logger.Warn("Webhook event channel closed")
				return
			}
			t.handle(ctx, d)
		}
	}
}

// HandleEvents starts consuming in the background until ctx is done
func (t *WebhookTask) HandleEvents(ctx context.Context) error {
	dChan, err := t.Consumer.ReceiveEvents(ctx)
	if err != nil {
		return extErrors.Wrap(err, "Cannot get webhook event channel")
	}
	go t.handleEvents(ctx, dChan)
	return nil
}
