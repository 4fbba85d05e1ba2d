package billing

import (
	"context"

	"github.com/zllovesuki/seatplan/subscription"
)

// CheckoutRequest describes a hosted checkout for a new subscription
type CheckoutRequest struct {
	CustomerID     string
	OrganizationID string
	PriceID        string
	Quantity       int64
	SuccessURL     string
	CancelURL      string
}

// PaymentProvider abstracts the payment provider operations the billing page triggers.
// Returned subscriptions have no OrganizationID set.
type PaymentProvider interface {
	subscription.CatalogProvider

	// CreateCustomer registers the organization as a billing customer
	CreateCustomer(ctx context.Context, organizationID, name, email string) (customerID string, err error)
	UpdateCustomerEmail(ctx context.Context, customerID, email string) error
	// CreateCheckoutSession returns the URL of the hosted checkout page
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (url string, err error)
	// CreatePortalSession returns the URL of the hosted customer portal
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (url string, err error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*subscription.Subscription, error)
	// SwitchPrice changes the price of every item immediately, prorating the difference
	SwitchPrice(ctx context.Context, sub *subscription.Subscription, priceID string, quantity int64) (*subscription.Subscription, error)
	// ScheduleChange keeps the current price until the period ends, then moves to priceID
	ScheduleChange(ctx context.Context, sub *subscription.Subscription, priceID string, quantity int64) (*subscription.SubscriptionSchedule, error)
	ReleaseSchedule(ctx context.Context, scheduleID string) error
	GetSubscription(ctx context.Context, subscriptionID string) (*subscription.Subscription, error)
}
