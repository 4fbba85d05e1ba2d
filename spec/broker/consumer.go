package broker

import (
	"context"

	"github.com/zllovesuki/seatplan/spec"
)

// Consumer defines a consumer receiving events via message broker
type Consumer interface {
	Close()
	ReceiveEvents(ctx context.Context) (<-chan *Delivery, error)
}

// Delivery wraps an Event with its acknowledgement callbacks
type Delivery struct {
	Event *spec.Event
	// Redelivered is set when the event was handed out before and not acknowledged
	Redelivered bool
	Ack         func() error
	Nack        func(requeue bool) error
}
