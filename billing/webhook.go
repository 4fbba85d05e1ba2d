package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/zllovesuki/seatplan/organization"
	resp "github.com/zllovesuki/seatplan/response"
	"github.com/zllovesuki/seatplan/spec"
	"github.com/zllovesuki/seatplan/spec/broker"
	"github.com/zllovesuki/seatplan/subscription"

	"github.com/jonboulle/clockwork"
	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const webhookBodyLimit = 1024 * 1024

// WebhookOptions contains the configuration for WebhookHandler
type WebhookOptions struct {
	Secret string
	// Producer is optional. Without it events are processed while the provider waits
	Producer  broker.Producer
	Processor *Processor
	Clock     clockwork.Clock
	Logger    *zap.Logger
}

// WebhookHandler verifies payment provider webhooks and hands them to the Processor
type WebhookHandler struct {
	WebhookOptions
}

// NewWebhookHandler returns the handler of the payment provider webhook endpoint
func NewWebhookHandler(option WebhookOptions) (*WebhookHandler, error) {
	if option.Secret == "" {
		return nil, fmt.Errorf("empty Secret is invalid")
	}
	if option.Producer == nil && option.Processor == nil {
		return nil, fmt.Errorf("either Producer or Processor is required")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Clock == nil {
		option.Clock = clockwork.NewRealClock()
	}
	return &WebhookHandler{
		WebhookOptions: option,
	}, nil
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Cannot read request body"))
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.Secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		webhookRejected.Inc()
		h.Logger.Warn("Rejected webhook",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid signature"))
		return
	}

	e := &spec.Event{
		ID:         event.ID,
		Source:     spec.StripeSource,
		Type:       string(event.Type),
		Payload:    event.Data.Raw,
		ReceivedAt: h.Clock.Now(),
	}
	logger := h.Logger.With(
		zap.String("EventID", e.ID),
		zap.String("EventType", e.Type),
	)

	if h.Producer != nil {
		if err := h.Producer.PublishEvent(r.Context(), e); err != nil {
			webhookEvents.WithLabelValues(e.Type, resultFailed).Inc()
			logger.Error("Unable to publish webhook event",
				zap.Error(err),
			)
			resp.WriteError(w, r, resp.ErrUnexpected())
			return
		}
		webhookEvents.WithLabelValues(e.Type, resultQueued).Inc()
	} else if err := h.Processor.Process(r.Context(), e); err != nil {
		logger.Error("Unable to process webhook event",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, map[string]bool{"received": true})
}

// ProcessorOptions contains the dependencies of Processor
type ProcessorOptions struct {
	Organizations *organization.Manager
	Subscriptions *subscription.Manager
	Provider      PaymentProvider
	Logger        *zap.Logger
}

// Processor mirrors payment provider events into the database
type Processor struct {
	ProcessorOptions
}

// NewProcessor returns a Processor of webhook events
func NewProcessor(option ProcessorOptions) (*Processor, error) {
	if option.Organizations == nil {
		return nil, fmt.Errorf("nil Organizations is invalid")
	}
	if option.Subscriptions == nil {
		return nil, fmt.Errorf("nil Subscriptions is invalid")
	}
	if option.Provider == nil {
		return nil, fmt.Errorf("nil Provider is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Processor{
		ProcessorOptions: option,
	}, nil
}

type eventHandler func(ctx context.Context, logger *zap.Logger, payload json.RawMessage) error

func (p *Processor) handlers() map[string]eventHandler {
	return map[string]eventHandler{
		"checkout.session.completed":      p.checkoutCompleted,
		"customer.subscription.created":   p.subscriptionChanged,
		"customer.subscription.updated":   p.subscriptionChanged,
		"customer.subscription.deleted":   p.subscriptionDeleted,
		"subscription_schedule.created":   p.scheduleChanged,
		"subscription_schedule.updated":   p.scheduleChanged,
		"subscription_schedule.released":  p.scheduleEnded,
		"subscription_schedule.canceled":  p.scheduleEnded,
		"subscription_schedule.completed": p.scheduleEnded,
		"price.created":                   p.priceChanged,
		"price.updated":                   p.priceChanged,
		"product.created":                 p.productChanged,
		"product.updated":                 p.productChanged,
	}
}

// Process applies the event. Unknown event types are ignored
func (p *Processor) Process(ctx context.Context, e *spec.Event) error {
	logger := p.Logger.With(
		zap.String("EventID", e.ID),
		zap.String("EventType", e.Type),
	)

	handler, ok := p.handlers()[e.Type]
	if !ok || e.Source != spec.StripeSource {
		webhookEvents.WithLabelValues(e.Type, resultIgnored).Inc()
		logger.Debug("Ignoring webhook event")
		return nil
	}

	if err := handler(ctx, logger, e.Payload); err != nil {
		webhookEvents.WithLabelValues(e.Type, resultFailed).Inc()
		return extErrors.Wrapf(err, "Cannot process %s event", e.Type)
	}
	webhookEvents.WithLabelValues(e.Type, resultProcessed).Inc()
	return nil
}

// organizationFor finds the owner of a subscription, first by metadata then by customer
func (p *Processor) organizationFor(ctx context.Context, metadata map[string]string, customer *stripe.Customer) (*organization.Organization, error) {
	if id := metadata[subscription.OrganizationMetadataKey]; id != "" {
		org, err := p.Organizations.GetByID(ctx, id)
		if err != nil || org != nil {
			return org, err
		}
	}
	if customer == nil {
		return nil, nil
	}
	return p.Organizations.GetByStripeCustomerID(ctx, customer.ID)
}

func (p *Processor) checkoutCompleted(ctx context.Context, logger *zap.Logger, payload json.RawMessage) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return extErrors.Wrap(err, "Cannot decode checkout session")
	}
	if session.Mode != stripe.CheckoutSessionModeSubscription || session.Subscription == nil {
		logger.Debug("Checkout session without subscription")
		return nil
	}

	orgID := session.ClientReferenceID
	if orgID == "" {
		orgID = session.Metadata[subscription.OrganizationMetadataKey]
	}
	org, err := p.Organizations.GetByID(ctx, orgID)
	if err != nil {
		return err
	}
	if org == nil {
		logger.Warn("Checkout session for unknown organization",
			zap.String("OrganizationID", orgID),
		)
		return nil
	}

	if session.Customer != nil && session.Customer.ID != org.StripeCustomerID {
		if err := p.Organizations.SetStripeCustomerID(ctx, org.ID, session.Customer.ID); err != nil {
			return err
		}
	}

	sub, err := p.Provider.GetSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return err
	}
	sub.OrganizationID = org.ID
	if err := p.Subscriptions.UpsertSubscription(ctx, sub); err != nil {
		return err
	}
	logger.Info("Subscription created from checkout",
		zap.String("OrganizationID", org.ID),
		zap.String("SubscriptionID", sub.ID),
	)
	return nil
}

func (p *Processor) upsertSubscription(ctx context.Context, logger *zap.Logger, payload json.RawMessage) (*subscription.Subscription, error) {
	var s stripe.Subscription
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, extErrors.Wrap(err, "Cannot decode subscription")
	}
	org, err := p.organizationFor(ctx, s.Metadata, s.Customer)
	if err != nil {
		return nil, err
	}
	if org == nil {
		logger.Warn("Subscription for unknown organization",
			zap.String("SubscriptionID", s.ID),
		)
		return nil, nil
	}
	sub := subscription.FromStripeSubscription(&s, org.ID)
	if err := p.Subscriptions.UpsertSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (p *Processor) subscriptionChanged(ctx context.Context, logger *zap.Logger, payload json.RawMessage) error {
	_, err := p.upsertSubscription(ctx, logger, payload)
	return err
}

func (p *Processor) subscriptionDeleted(ctx context.Context, logger *zap.Logger, payload json.RawMessage) error {
	sub, err := p.upsertSubscription(ctx, logger, payload)
	if err != nil || sub == nil {
		return err
	}
	return p.Subscriptions.DeleteScheduleForSubscription(ctx, sub.ID)
}

func (p *Processor) scheduleChanged(ctx context.Context, logger *zap.Logger, payload json.RawMessage) error {
	var s stripe.SubscriptionSchedule
	if err := json.Unmarshal(payload, &s); err != nil {
		return extErrors.Wrap(err, "Cannot decode subscription schedule")
	}
	switch s.Status {
	case stripe.SubscriptionScheduleStatusReleased, stripe.SubscriptionScheduleStatusCanceled, stripe.SubscriptionScheduleStatusCompleted:
		return p.Subscriptions.DeleteSchedule(ctx, s.ID)
	}
	schedule := subscription.FromStripeSchedule(&s)
	if schedule == nil {
		logger.Debug("Subscription schedule without subscription",
			zap.String("ScheduleID", s.ID),
		)
		return nil
	}
	return p.Subscriptions.UpsertSchedule(ctx, schedule)
}

func (p *Processor) scheduleEnded(ctx context.Context, logger *zap.Logger, payload json.RawMessage) error {
	var s stripe.SubscriptionSchedule
	if err := json.Unmarshal(payload, &s); err != nil {
		return extErrors.Wrap(err, "Cannot decode subscription schedule")
	}
	return p.Subscriptions.DeleteSchedule(ctx, s.ID)
}

func (p *Processor) priceChanged(ctx context.Context, logger *zap.Logger, payload json.RawMessage) error {
	var s stripe.Price
	if err := json.Unmarshal(payload, &s); err != nil {
		return extErrors.Wrap(err, "Cannot decode price")
	}
	price := subscription.FromStripePrice(&s)
	if price == nil {
		return nil
	}
	return p.Subscriptions.UpsertPrice(ctx, price)
}

func (p *Processor) productChanged(ctx context.Context, logger *zap.Logger, payload json.RawMessage) error {
	var s stripe.Product
	if err := json.Unmarshal(payload, &s); err != nil {
		return extErrors.Wrap(err, "Cannot decode product")
	}
	product := subscription.FromStripeProduct(&s)
	if product == nil {
		return nil
	}
	return p.Subscriptions.UpsertProduct(ctx, product)
}
