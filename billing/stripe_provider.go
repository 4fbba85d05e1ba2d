package billing

import (
	"context"
	"fmt"

	"github.com/zllovesuki/seatplan/subscription"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/zap"
)

var _ PaymentProvider = &StripeProvider{}

// StripeProvider implements PaymentProvider using the Stripe API
type StripeProvider struct {
	client *client.API
	logger *zap.Logger
}

// NewStripeProvider returns a PaymentProvider backed by the Stripe client
func NewStripeProvider(c *client.API, logger *zap.Logger) (*StripeProvider, error) {
	if c == nil {
		return nil, fmt.Errorf("nil StripeClient is invalid")
	}
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &StripeProvider{
		client: c,
		logger: logger,
	}, nil
}

func (p *StripeProvider) stripeError(err error, msg string) error {
	p.logger.Error("Stripe returned error",
		zap.Error(err),
	)
	return extErrors.Wrap(err, msg)
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, organizationID, name, email string) (string, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Name:  stripe.String(name),
		Email: stripe.String(email),
	}
	params.AddMetadata(subscription.OrganizationMetadataKey, organizationID)

	c, err := p.client.Customers.New(params)
	if err != nil {
		return "", p.stripeError(err, "Cannot create a new Customer")
	}
	return c.ID, nil
}

func (p *StripeProvider) UpdateCustomerEmail(ctx context.Context, customerID, email string) error {
	params := &stripe.CustomerParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Email: stripe.String(email),
	}
	if _, err := p.client.Customers.Update(customerID, params); err != nil {
		return p.stripeError(err, "Cannot update Customer email")
	}
	return nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(req.CustomerID),
		ClientReferenceID: stripe.String(req.OrganizationID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(req.Quantity),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				subscription.OrganizationMetadataKey: req.OrganizationID,
			},
		},
	}
	session, err := p.client.CheckoutSessions.New(params)
	if err != nil {
		return "", p.stripeError(err, "Cannot create checkout session")
	}
	return session.URL, nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	session, err := p.client.BillingPortalSessions.New(params)
	if err != nil {
		return "", p.stripeError(err, "Cannot create customer portal session")
	}
	return session.URL, nil
}

func expandSubscription(params *stripe.SubscriptionParams) *stripe.SubscriptionParams {
	params.AddExpand("items.data.price.product")
	return params
}

func (p *StripeProvider) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*subscription.Subscription, error) {
	params := expandSubscription(&stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		CancelAtPeriodEnd: stripe.Bool(cancel),
	})
	sub, err := p.client.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, p.stripeError(err, "Cannot update cancel_at_period_end on Stripe")
	}
	if sub.CancelAtPeriodEnd != cancel {
		return nil, fmt.Errorf("Stripe did not update cancel_at_period_end")
	}
	return subscription.FromStripeSubscription(sub, ""), nil
}

func (p *StripeProvider) SwitchPrice(ctx context.Context, sub *subscription.Subscription, priceID string, quantity int64) (*subscription.Subscription, error) {
	items := make([]*stripe.SubscriptionItemsParams, 0, len(sub.Items))
	for _, item := range sub.Items {
		items = append(items, &stripe.SubscriptionItemsParams{
			ID:       stripe.String(item.ID),
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(quantity),
		})
	}
	params := expandSubscription(&stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Items:             items,
		ProrationBehavior: stripe.String("create_prorations"),
	})
	updated, err := p.client.Subscriptions.Update(sub.ID, params)
	if err != nil {
		return nil, p.stripeError(err, "Cannot switch subscription price on Stripe")
	}
	return subscription.FromStripeSubscription(updated, ""), nil
}

func (p *StripeProvider) ScheduleChange(ctx context.Context, sub *subscription.Subscription, priceID string, quantity int64) (*subscription.SubscriptionSchedule, error) {
	if len(sub.Items) == 0 {
		return nil, ErrNoSubscriptionItems
	}
	current := sub.Items[0]

	scheduleID := ""
	if sub.Schedule != nil {
		scheduleID = sub.Schedule.ID
	} else {
		created, err := p.client.SubscriptionSchedules.New(&stripe.SubscriptionScheduleParams{
			Params: stripe.Params{
				Context: ctx,
			},
			FromSubscription: stripe.String(sub.ID),
		})
		if err != nil {
			return nil, p.stripeError(err, "Cannot create subscription schedule on Stripe")
		}
		scheduleID = created.ID
	}

	params := &stripe.SubscriptionScheduleParams{
		Params: stripe.Params{
			Context: ctx,
		},
		EndBehavior: stripe.String("release"),
		Phases: []*stripe.SubscriptionSchedulePhaseParams{
			{
				Items: []*stripe.SubscriptionSchedulePhaseItemParams{
					{
						Price:    stripe.String(current.PriceID),
						Quantity: stripe.Int64(current.Quantity),
					},
				},
				StartDate: stripe.Int64(current.CurrentPeriodStart.Unix()),
				EndDate:   stripe.Int64(current.CurrentPeriodEnd.Unix()),
			},
			{
				Items: []*stripe.SubscriptionSchedulePhaseItemParams{
					{
						Price:    stripe.String(priceID),
						Quantity: stripe.Int64(quantity),
					},
				},
				Iterations: stripe.Int64(1),
			},
		},
	}
	schedule, err := p.client.SubscriptionSchedules.Update(scheduleID, params)
	if err != nil {
		return nil, p.stripeError(err, "Cannot schedule subscription change on Stripe")
	}
	converted := subscription.FromStripeSchedule(schedule)
	if converted == nil {
		return nil, fmt.Errorf("Stripe returned a schedule without subscription")
	}
	return converted, nil
}

func (p *StripeProvider) ReleaseSchedule(ctx context.Context, scheduleID string) error {
	params := &stripe.SubscriptionScheduleReleaseParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	if _, err := p.client.SubscriptionSchedules.Release(scheduleID, params); err != nil {
		return p.stripeError(err, "Cannot release subscription schedule on Stripe")
	}
	return nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*subscription.Subscription, error) {
	params := expandSubscription(&stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
	})
	sub, err := p.client.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, p.stripeError(err, "Cannot fetch subscription from Stripe")
	}
	return subscription.FromStripeSubscription(sub, ""), nil
}

func (p *StripeProvider) ListPricesByLookupKeys(ctx context.Context, lookupKeys []string) ([]*subscription.Price, error) {
	params := &stripe.PriceListParams{
		ListParams: stripe.ListParams{
			Context: ctx,
		},
		Active:     stripe.Bool(true),
		LookupKeys: stripe.StringSlice(lookupKeys),
	}
	params.AddExpand("data.product")

	prices := make([]*subscription.Price, 0, len(lookupKeys))
	iter := p.client.Prices.List(params)
	for iter.Next() {
		if price := subscription.FromStripePrice(iter.Price()); price != nil {
			prices = append(prices, price)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, p.stripeError(err, "Cannot list prices by lookup keys")
	}
	return prices, nil
}

func (p *StripeProvider) CreateProduct(ctx context.Context, plan subscription.Plan) (*subscription.Product, error) {
	params := &stripe.ProductParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Active:      stripe.Bool(!plan.Retired),
		Name:        stripe.String(plan.Name),
		Description: stripe.String(plan.Description),
	}
	for k, v := range plan.Metadata() {
		params.AddMetadata(k, v)
	}
	product, err := p.client.Products.New(params)
	if err != nil {
		return nil, p.stripeError(err, "Cannot create Plan as Product on Stripe")
	}
	return subscription.FromStripeProduct(product), nil
}

func (p *StripeProvider) UpdateProduct(ctx context.Context, productID string, plan subscription.Plan) (*subscription.Product, error) {
	params := &stripe.ProductParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Active: stripe.Bool(!plan.Retired),
	}
	for k, v := range plan.Metadata() {
		params.AddMetadata(k, v)
	}
	product, err := p.client.Products.Update(productID, params)
	if err != nil {
		return nil, p.stripeError(err, "Cannot synchronize Plan with Product on Stripe")
	}
	return subscription.FromStripeProduct(product), nil
}

func (p *StripeProvider) CreatePrice(ctx context.Context, productID string, currency string, price subscription.PlanPrice) (*subscription.Price, error) {
	params := &stripe.PriceParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Active:     stripe.Bool(true),
		Nickname:   stripe.String(price.LookupKey),
		Currency:   stripe.String(currency),
		UnitAmount: stripe.Int64(price.UnitAmount),
		Product:    stripe.String(productID),
		LookupKey:  stripe.String(price.LookupKey),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(price.Interval),
			IntervalCount: stripe.Int64(1),
			UsageType:     stripe.String("licensed"),
		},
	}
	created, err := p.client.Prices.New(params)
	if err != nil {
		return nil, p.stripeError(err, "Cannot create Price on Stripe")
	}
	return subscription.FromStripePrice(created), nil
}
