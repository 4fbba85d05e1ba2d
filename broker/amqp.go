package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zllovesuki/seatplan/spec"
	"github.com/zllovesuki/seatplan/spec/broker"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
)

var _ broker.Producer = &AMQPBroker{}
var _ broker.Consumer = &AMQPBroker{}

// AMQPBroker describes a message broker via RabbitMQ
type AMQPBroker struct {
	connection *amqp.Connection
	channel    *amqp.Channel
}

// NewAMQPBroker returns a Message Broker over RabbitMQ
func NewAMQPBroker(amqpURI string) (*AMQPBroker, error) {
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		amqpConn.Close()
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	b := &AMQPBroker{
		connection: amqpConn,
		channel:    amqpChan,
	}
	if err := b.setupWebhookExchange(); err != nil {
		b.Close()
		return nil, extErrors.Wrap(err, "Cannot declare exchange for webhook events")
	}

	return b, nil
}

func (a *AMQPBroker) setupWebhookExchange() error {
	return a.channel.ExchangeDeclare(
		spec.WebhookExchange, // name
		"direct",             // type
		true,                 // durable
		false,                // auto-deleted
		false,                // internal
		false,                // no-wait
		nil,                  // arguments
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPBroker) Close() {
	a.channel.Close()
	a.connection.Close()
}

func newPublishing(e *spec.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         e.Type,
		Timestamp:    time.Now(),
		Body:         body,
	}, nil
}

func decodeEvent(body []byte) (*spec.Event, error) {
	var e spec.Event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, err
	}
	if e.ID == "" || e.Type == "" {
		return nil, extErrors.New("event without id or type")
	}
	return &e, nil
}

// PublishEvent will send the event to the queue of its source
func (a *AMQPBroker) PublishEvent(ctx context.Context, e *spec.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := newPublishing(e)
	if err != nil {
		return extErrors.Wrap(err, "Cannot encode event into bytes")
	}
	if err := a.channel.Publish(
		spec.WebhookExchange,
		string(e.Source),
		false,
		false,
		msg,
	); err != nil {
		return extErrors.Wrap(err, "Cannot publish webhook event")
	}
	return nil
}

func (a *AMQPBroker) setupQueue(qName string) error {
	_, err := a.channel.QueueDeclare(
		qName,
		true,
		false,
		false,
		false,
		nil,
	)
	return err
}

func (a *AMQPBroker) bindAndGetMsgChan(qName, exchange, routingKey string) (<-chan amqp.Delivery, error) {
	if err := a.channel.QueueBind(
		qName,
		routingKey,
		exchange,
		false,
		nil,
	); err != nil {
		return nil, err
	}
	// one unacknowledged event at a time
	if err := a.channel.Qos(1, 0, false); err != nil {
		return nil, err
	}
	msgChan, err := a.channel.Consume(
		qName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	return msgChan, err
}

// ReceiveEvents will consume the webhook events until ctx is done. Malformed messages are dropped
func (a *AMQPBroker) ReceiveEvents(ctx context.Context) (<-chan *broker.Delivery, error) {
	if err := a.setupQueue(spec.WebhookQueue); err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup queue")
	}
	msgChan, err := a.bindAndGetMsgChan(spec.WebhookQueue, spec.WebhookExchange, string(spec.StripeSource))
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup consumer")
	}
	rChan := make(chan *broker.Delivery)
	go func() {
		defer close(rChan)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgChan:
				if !ok {
					return
				}
				e, err := decodeEvent(d.Body)
				if err != nil {
					d.Nack(false, false)
					continue
				}
				delivery := &broker.Delivery{
					Event:       e,
					Redelivered: d.Redelivered,
					Ack: func() error {
						return d.Ack(false)
					},
					Nack: func(requeue bool) error {
						return d.Nack(false, requeue)
					},
				}
				select {
				case rChan <- delivery:
				case <-ctx.Done():
					d.Nack(false, true)
					return
				}
			}
		}
	}()
	return rChan, nil
}
