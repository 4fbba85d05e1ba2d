package external

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewStripeClient(t *testing.T) {
	sc := NewStripeClient("sk_test_123", zaptest.NewLogger(t))
	require.NotNil(t, sc.Customers)
	require.NotNil(t, sc.CheckoutSessions)
	require.NotNil(t, sc.Subscriptions)
	require.NotNil(t, sc.SubscriptionSchedules)
	require.NotNil(t, sc.BillingPortalSessions)
}
