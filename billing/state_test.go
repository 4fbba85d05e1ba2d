package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/zllovesuki/seatplan/subscription"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testNow       = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	testPeriodEnd = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
)

func testPrice(lookupKey string, amount int64, seats string) *subscription.Price {
	return &subscription.Price{
		ID:         "price_" + lookupKey,
		LookupKey:  lookupKey,
		UnitAmount: amount,
		ProductID:  "prod_" + lookupKey,
		Product: &subscription.Product{
			ID:       "prod_" + lookupKey,
			Metadata: map[string]interface{}{subscription.MaxSeatsKey: seats},
		},
	}
}

func testSubscription(status subscription.Status, cancelAtPeriodEnd bool) *subscription.Subscription {
	price := testPrice("monthly_startup_plan", 2000, "10")
	return &subscription.Subscription{
		ID:                "sub_1",
		Status:            status,
		CancelAtPeriodEnd: cancelAtPeriodEnd,
		Items: []subscription.SubscriptionItem{
			{
				ID:               "si_1",
				PriceID:          price.ID,
				Price:            price,
				Quantity:         4,
				CurrentPeriodEnd: testPeriodEnd,
			},
		},
	}
}

func testSnapshot(sub *subscription.Subscription, members int) OrganizationSnapshot {
	return OrganizationSnapshot{
		Slug:         "acme",
		BillingEmail: "billing@acme.test",
		TrialEnd:     time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
		MemberCount:  members,
		Subscription: sub,
	}
}

func TestDeriveStateWithoutSubscription(t *testing.T) {
	org := testSnapshot(nil, 2)

	state, err := DeriveState(org, testNow)
	require.NoError(t, err)

	assert.True(t, state.IsOnFreeTrial)
	assert.Equal(t, TierHigh, state.CurrentTier)
	assert.Equal(t, IntervalMonthly, state.CurrentInterval)
	assert.Equal(t, 25, state.MaxSeats)
	assert.Equal(t, float64(85), state.CurrentMonthlyRatePerUser)
	assert.Equal(t, float64(170), state.ProjectedTotal)
	assert.Equal(t, StatusActive, state.SubscriptionStatus)
	assert.True(t, state.CurrentPeriodEnd.Equal(org.TrialEnd))
	assert.Equal(t, 2, state.CurrentSeats)
	assert.Equal(t, "acme", state.OrganizationSlug)
	assert.Equal(t, "billing@acme.test", state.BillingEmail)
	assert.Nil(t, state.PendingChange)
	assert.False(t, state.IsEnterprisePlan)
	assert.False(t, state.CancelOrModifySubscriptionModalProps.CanCancelSubscription)
}

func TestDeriveStateRateAndTotal(t *testing.T) {
	state, err := DeriveState(testSnapshot(testSubscription(subscription.StatusActive, false), 4), testNow)
	require.NoError(t, err)

	assert.Equal(t, float64(20), state.CurrentMonthlyRatePerUser)
	assert.Equal(t, float64(80), state.ProjectedTotal)
	assert.Equal(t, TierMid, state.CurrentTier)
	assert.Equal(t, IntervalMonthly, state.CurrentInterval)
	assert.Equal(t, 10, state.MaxSeats)
	assert.Equal(t, 4, state.CurrentSeats)
	assert.False(t, state.IsOnFreeTrial)
	assert.False(t, state.IsEnterprisePlan)
	assert.True(t, state.CurrentPeriodEnd.Equal(testPeriodEnd))
	assert.Equal(t, CancelOrModifySubscriptionModalProps{
		CanCancelSubscription: true,
		CurrentTier:           TierMid,
		CurrentTierInterval:   IntervalMonthly,
	}, state.CancelOrModifySubscriptionModalProps)
}

func TestDeriveStateUnevenAmount(t *testing.T) {
	sub := testSubscription(subscription.StatusActive, false)
	sub.Items[0].Price.UnitAmount = 1999

	state, err := DeriveState(testSnapshot(sub, 3), testNow)
	require.NoError(t, err)
	assert.Equal(t, float64(1999)/100, state.CurrentMonthlyRatePerUser)
	assert.Equal(t, float64(1999)/100*3, state.ProjectedTotal)
}

func TestDeriveStateStatus(t *testing.T) {
	tests := []struct {
		name              string
		status            subscription.Status
		cancelAtPeriodEnd bool
		now               time.Time
		want              SubscriptionStatus
		cancellable       bool
	}{
		{"active", subscription.StatusActive, false, testNow, StatusActive, true},
		{"trialing", subscription.StatusTrialing, false, testNow, StatusActive, true},
		{"past due", subscription.StatusPastDue, false, testNow, StatusInactive, true},
		{"provider paused", subscription.StatusPaused, false, testNow, StatusInactive, true},
		{"canceled", subscription.StatusCanceled, false, testNow, StatusInactive, false},
		{"unpaid", subscription.StatusUnpaid, false, testNow, StatusInactive, false},
		{"cancel pending before period end", subscription.StatusActive, true, testNow, StatusActive, false},
		{"cancel pending at period end", subscription.StatusActive, true, testPeriodEnd, StatusActive, false},
		{"cancel pending after period end", subscription.StatusActive, true, testPeriodEnd.Add(time.Second), StatusPaused, false},
		{"canceled after period end", subscription.StatusCanceled, true, testPeriodEnd.Add(time.Hour), StatusPaused, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := DeriveState(testSnapshot(testSubscription(tt.status, tt.cancelAtPeriodEnd), 1), tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, state.SubscriptionStatus)
			assert.Equal(t, tt.cancellable, state.CancelOrModifySubscriptionModalProps.CanCancelSubscription)
			assert.Equal(t, tt.cancelAtPeriodEnd, state.CancelAtPeriodEnd)
		})
	}
}

func TestDeriveStatePeriodEndIsMaximum(t *testing.T) {
	sub := testSubscription(subscription.StatusActive, false)
	later := testPeriodEnd.AddDate(0, 1, 0)
	sub.Items = append(sub.Items, subscription.SubscriptionItem{
		ID:               "si_2",
		PriceID:          sub.Items[0].PriceID,
		Price:            sub.Items[0].Price,
		CurrentPeriodEnd: later,
	})

	state, err := DeriveState(testSnapshot(sub, 1), testNow)
	require.NoError(t, err)
	assert.True(t, state.CurrentPeriodEnd.Equal(later))
}

func TestDeriveStatePendingChange(t *testing.T) {
	past := testPrice("annual_business_plan", 84000, "25")
	future := testPrice("annual_hobby_plan", 18000, "1")

	t.Run("future phase is reported", func(t *testing.T) {
		sub := testSubscription(subscription.StatusActive, false)
		sub.Schedule = &subscription.SubscriptionSchedule{
			ID: "sub_sched_1",
			Phases: []subscription.SubscriptionSchedulePhase{
				{StartDate: testNow.AddDate(0, -1, 0), PriceID: past.ID, Price: past},
				{StartDate: testPeriodEnd, PriceID: future.ID, Price: future},
			},
		}
		state, err := DeriveState(testSnapshot(sub, 1), testNow)
		require.NoError(t, err)
		require.NotNil(t, state.PendingChange)
		assert.Equal(t, TierLow, state.PendingChange.PendingTier)
		assert.Equal(t, IntervalAnnual, state.PendingChange.PendingInterval)
		assert.True(t, state.PendingChange.PendingChangeDate.Equal(testPeriodEnd))
	})

	t.Run("only started phase", func(t *testing.T) {
		sub := testSubscription(subscription.StatusActive, false)
		sub.Schedule = &subscription.SubscriptionSchedule{
			ID: "sub_sched_1",
			Phases: []subscription.SubscriptionSchedulePhase{
				{StartDate: testNow.AddDate(0, -1, 0), PriceID: past.ID, Price: past},
			},
		}
		state, err := DeriveState(testSnapshot(sub, 1), testNow)
		require.NoError(t, err)
		assert.Nil(t, state.PendingChange)
	})

	t.Run("phase starting exactly now is not pending", func(t *testing.T) {
		sub := testSubscription(subscription.StatusActive, false)
		sub.Schedule = &subscription.SubscriptionSchedule{
			Phases: []subscription.SubscriptionSchedulePhase{
				{StartDate: testNow, PriceID: future.ID, Price: future},
			},
		}
		state, err := DeriveState(testSnapshot(sub, 1), testNow)
		require.NoError(t, err)
		assert.Nil(t, state.PendingChange)
	})

	t.Run("unknown lookup key in phase", func(t *testing.T) {
		sub := testSubscription(subscription.StatusActive, false)
		bad := testPrice("monthly_enterprise_plan", 1, "1")
		sub.Schedule = &subscription.SubscriptionSchedule{
			Phases: []subscription.SubscriptionSchedulePhase{
				{StartDate: testPeriodEnd, PriceID: bad.ID, Price: bad},
			},
		}
		_, err := DeriveState(testSnapshot(sub, 1), testNow)
		var invalid *InvalidLookupKeyError
		require.True(t, errors.As(err, &invalid))
	})
}

func TestDeriveStateErrors(t *testing.T) {
	t.Run("invalid lookup key", func(t *testing.T) {
		sub := testSubscription(subscription.StatusActive, false)
		sub.Items[0].Price.LookupKey = "legacy_plan"
		_, err := DeriveState(testSnapshot(sub, 1), testNow)
		var invalid *InvalidLookupKeyError
		require.True(t, errors.As(err, &invalid))
		assert.Equal(t, "legacy_plan", invalid.Key)
	})

	t.Run("no items", func(t *testing.T) {
		sub := testSubscription(subscription.StatusActive, false)
		sub.Items = nil
		_, err := DeriveState(testSnapshot(sub, 1), testNow)
		require.ErrorIs(t, err, ErrNoSubscriptionItems)
	})

	t.Run("mixed prices", func(t *testing.T) {
		sub := testSubscription(subscription.StatusActive, false)
		other := testPrice("monthly_business_plan", 8500, "25")
		sub.Items = append(sub.Items, subscription.SubscriptionItem{ID: "si_2", PriceID: other.ID, Price: other})
		_, err := DeriveState(testSnapshot(sub, 1), testNow)
		require.ErrorIs(t, err, ErrMixedSubscriptionItems)
	})

	t.Run("price not loaded", func(t *testing.T) {
		sub := testSubscription(subscription.StatusActive, false)
		sub.Items[0].Price = nil
		_, err := DeriveState(testSnapshot(sub, 1), testNow)
		require.ErrorIs(t, err, ErrMissingPrice)
	})
}

func TestDeriveStateMaxSeatsFallback(t *testing.T) {
	sub := testSubscription(subscription.StatusActive, false)
	sub.Items[0].Price.Product.Metadata = map[string]interface{}{}

	state, err := DeriveState(testSnapshot(sub, 1), testNow)
	require.NoError(t, err)
	assert.Equal(t, DefaultSeatLimit, state.MaxSeats)

	sub.Items[0].Price.Product.Metadata[subscription.MaxSeatsKey] = float64(40)
	state, err = DeriveState(testSnapshot(sub, 1), testNow)
	require.NoError(t, err)
	assert.Equal(t, 40, state.MaxSeats)
}

func TestDeriveStateIsIdempotent(t *testing.T) {
	sub := testSubscription(subscription.StatusActive, false)
	future := testPrice("annual_hobby_plan", 18000, "1")
	sub.Schedule = &subscription.SubscriptionSchedule{
		Phases: []subscription.SubscriptionSchedulePhase{
			{StartDate: testPeriodEnd, PriceID: future.ID, Price: future},
		},
	}
	org := testSnapshot(sub, 5)

	first, err := DeriveState(org, testNow)
	require.NoError(t, err)
	second, err := DeriveState(org, testNow)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
