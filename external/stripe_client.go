package external

import (
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/zap"
)

// StripeNetworkRetries is how many times a failed request is retried by the Stripe client.
// Retried requests carry the same idempotency key
const StripeNetworkRetries = 2

// NewStripeClient returns a Stripe API client using the secret key, logging through zap
func NewStripeClient(key string, logger *zap.Logger) *client.API {
	config := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(StripeNetworkRetries),
		LeveledLogger:     logger.Named("stripe").Sugar(),
	}
	sc := &client.API{}
	sc.Init(key, stripe.NewBackendsWithConfig(config))
	return sc
}
