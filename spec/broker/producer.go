package broker

import (
	"context"

	"github.com/zllovesuki/seatplan/spec"
)

// Producer defines a producer sending events via message broker
type Producer interface {
	Close()
	PublishEvent(ctx context.Context, e *spec.Event) error
}
