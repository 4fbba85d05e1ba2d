package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/zllovesuki/seatplan/db/dbtest"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestManager(t *testing.T) *Manager {
	m, err := NewManager(ManagerOptions{
		DB:     dbtest.New(t),
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return m
}

func testPrice(id, lookupKey string, amount int64, productID string) *Price {
	return &Price{
		ID:         id,
		LookupKey:  lookupKey,
		UnitAmount: amount,
		Currency:   "usd",
		Interval:   "month",
		ProductID:  productID,
		Active:     true,
		Product: &Product{
			ID:       productID,
			Name:     productID,
			Active:   true,
			Metadata: map[string]interface{}{MaxSeatsKey: "10"},
		},
	}
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(ManagerOptions{})
	require.Error(t, err)
}

func TestUpsertSubscriptionAndGetLatest(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	older := &Subscription{
		ID:             "sub_old",
		OrganizationID: "org_1",
		Status:         StatusCanceled,
		CreatedAt:      time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		Items: []SubscriptionItem{
			{ID: "si_old", PriceID: "price_1", Price: testPrice("price_1", "monthly_startup_plan", 3000, "prod_1"), Quantity: 1},
		},
	}
	require.NoError(t, m.UpsertSubscription(ctx, older))

	newer := &Subscription{
		ID:             "sub_new",
		OrganizationID: "org_1",
		Status:         StatusActive,
		CreatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Items: []SubscriptionItem{
			{
				ID:                 "si_new",
				PriceID:            "price_1",
				Price:              testPrice("price_1", "monthly_startup_plan", 3000, "prod_1"),
				Quantity:           3,
				CurrentPeriodStart: end.AddDate(0, -1, 0),
				CurrentPeriodEnd:   end,
			},
		},
	}
	require.NoError(t, m.UpsertSubscription(ctx, newer))

	latest, err := m.GetLatest(ctx, "org_1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, "sub_new", latest.ID)
	require.Len(t, latest.Items, 1)
	require.NotNil(t, latest.Items[0].Price)
	require.NotNil(t, latest.Items[0].Price.Product)
	require.Equal(t, "monthly_startup_plan", latest.Items[0].Price.LookupKey)
	require.Equal(t, "10", latest.Items[0].Price.Product.Metadata[MaxSeatsKey])
	require.True(t, latest.Items[0].CurrentPeriodEnd.Equal(end))
	require.Nil(t, latest.Schedule)

	// replacing items drops the stale ones
	newer.CancelAtPeriodEnd = true
	newer.Items = []SubscriptionItem{
		{ID: "si_replaced", PriceID: "price_1", Quantity: 4, CurrentPeriodEnd: end},
	}
	require.NoError(t, m.UpsertSubscription(ctx, newer))

	latest, err = m.GetLatest(ctx, "org_1")
	require.NoError(t, err)
	require.True(t, latest.CancelAtPeriodEnd)
	require.Len(t, latest.Items, 1)
	require.Equal(t, "si_replaced", latest.Items[0].ID)

	missing, err := m.GetLatest(ctx, "org_unknown")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestScheduleLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	require.NoError(t, m.UpsertPrice(ctx, testPrice("price_low", "monthly_hobby_plan", 1700, "prod_low")))
	require.NoError(t, m.UpsertSubscription(ctx, &Subscription{
		ID:             "sub_1",
		OrganizationID: "org_1",
		Status:         StatusActive,
		Items: []SubscriptionItem{
			{ID: "si_1", PriceID: "price_low", Quantity: 1},
		},
	}))

	now := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	sch := &SubscriptionSchedule{
		ID:             "sub_sched_1",
		SubscriptionID: "sub_1",
		Status:         "active",
		Phases: []SubscriptionSchedulePhase{
			{StartDate: now.AddDate(0, 1, 0), EndDate: now.AddDate(0, 2, 0), PriceID: "price_low", Quantity: 1},
			{StartDate: now.AddDate(0, -1, 0), EndDate: now.AddDate(0, 1, 0), PriceID: "price_low", Quantity: 1},
		},
	}
	require.NoError(t, m.UpsertSchedule(ctx, sch))
	// upserting twice must not duplicate phases
	require.NoError(t, m.UpsertSchedule(ctx, sch))

	sub, err := m.GetByID(ctx, "sub_1")
	require.NoError(t, err)
	require.NotNil(t, sub.Schedule)
	require.Len(t, sub.Schedule.Phases, 2)
	require.True(t, sub.Schedule.Phases[0].StartDate.Before(sub.Schedule.Phases[1].StartDate))
	require.NotNil(t, sub.Schedule.Phases[1].Price)
	require.Equal(t, "monthly_hobby_plan", sub.Schedule.Phases[1].Price.LookupKey)

	require.NoError(t, m.DeleteSchedule(ctx, "sub_sched_1"))

	sub, err = m.GetByID(ctx, "sub_1")
	require.NoError(t, err)
	require.Nil(t, sub.Schedule)
}

func TestGetPriceByLookupKeyAndListProducts(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	require.NoError(t, m.UpsertPrice(ctx, testPrice("price_1", "annual_business_plan", 84000, "prod_1")))
	inactive := testPrice("price_2", "annual_hobby_plan", 18000, "prod_2")
	inactive.Active = false
	inactive.Product.Active = false
	require.NoError(t, m.UpsertPrice(ctx, inactive))

	price, err := m.GetPriceByLookupKey(ctx, "annual_business_plan")
	require.NoError(t, err)
	require.NotNil(t, price)
	require.Equal(t, "price_1", price.ID)
	require.NotNil(t, price.Product)

	price, err = m.GetPriceByLookupKey(ctx, "annual_hobby_plan")
	require.NoError(t, err)
	require.Nil(t, price)

	products, err := m.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, "prod_1", products[0].ID)
}
