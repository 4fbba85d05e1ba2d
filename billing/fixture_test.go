package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/zllovesuki/seatplan/db/dbtest"
	"github.com/zllovesuki/seatplan/organization"
	"github.com/zllovesuki/seatplan/subscription"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	ownerID  = "user_owner"
	memberID = "user_member"
)

type fixture struct {
	orgs     *organization.Manager
	subs     *subscription.Manager
	provider *MockProvider
	clock    clockwork.FakeClock
	service  *Service
	org      *organization.Organization
}

// newFixture creates "acme" with an owner and a member, on trial, with the catalog synchronized
func newFixture(t *testing.T) *fixture {
	ctx := context.Background()
	conn := dbtest.New(t)
	logger := zaptest.NewLogger(t)

	orgs, err := organization.NewManager(organization.ManagerOptions{
		DB:     conn,
		Logger: logger,
	})
	require.NoError(t, err)
	subs, err := subscription.NewManager(subscription.ManagerOptions{
		DB:     conn,
		Logger: logger,
	})
	require.NoError(t, err)

	provider := NewMockProvider()
	plans, err := subscription.LoadPlansFromFile("../plans.json")
	require.NoError(t, err)
	require.NoError(t, subs.SyncCatalog(ctx, provider, plans))

	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC))
	service, err := NewService(Options{
		Organizations: orgs,
		Subscriptions: subs,
		Provider:      provider,
		Clock:         clock,
		Logger:        logger,
		SiteURL:       "https://app.test/",
	})
	require.NoError(t, err)

	org, err := orgs.Create(ctx, organization.CreateOptions{
		Name:         "Acme",
		OwnerID:      ownerID,
		BillingEmail: "billing@acme.test",
		Now:          clock.Now(),
	})
	require.NoError(t, err)
	_, err = orgs.AddMember(ctx, org.ID, memberID, organization.RoleMember)
	require.NoError(t, err)

	return &fixture{
		orgs:     orgs,
		subs:     subs,
		provider: provider,
		clock:    clock,
		service:  service,
		org:      org,
	}
}

// reload returns the organization as stored
func (f *fixture) reload(t *testing.T) *organization.Organization {
	org, err := f.orgs.GetByID(context.Background(), f.org.ID)
	require.NoError(t, err)
	require.NotNil(t, org)
	return org
}

// subscribe stores an active subscription on the lookup key, both locally and on the provider
func (f *fixture) subscribe(t *testing.T, lookupKey string) *subscription.Subscription {
	ctx := context.Background()
	price, err := f.subs.GetPriceByLookupKey(ctx, lookupKey)
	require.NoError(t, err)
	require.NotNil(t, price)

	customerID, err := f.provider.CreateCustomer(ctx, f.org.ID, f.org.Name, f.org.BillingEmail)
	require.NoError(t, err)
	require.NoError(t, f.orgs.SetStripeCustomerID(ctx, f.org.ID, customerID))

	sub := &subscription.Subscription{
		ID:             "sub_acme",
		OrganizationID: f.org.ID,
		CustomerID:     customerID,
		Status:         subscription.StatusActive,
		CreatedAt:      f.clock.Now(),
		Items: []subscription.SubscriptionItem{
			{
				ID:                 "si_acme",
				PriceID:            price.ID,
				Quantity:           2,
				CurrentPeriodStart: f.clock.Now().AddDate(0, 0, -10),
				CurrentPeriodEnd:   f.clock.Now().AddDate(0, 0, 20),
			},
		},
	}
	f.provider.Subscriptions[sub.ID] = clone(sub)
	require.NoError(t, f.subs.UpsertSubscription(ctx, sub))
	return sub
}

type envelope struct {
	Error    bool            `json:"error"`
	Messages []string        `json:"messages"`
	Result   json.RawMessage `json:"result"`
}

// do calls the billing router as userID, the way RequireMembership would
func (f *fixture) do(t *testing.T, userID, method, path string, form url.Values) (int, envelope) {
	ctx := context.Background()
	org := f.reload(t)
	m, err := f.orgs.GetMembership(ctx, org.ID, userID)
	require.NoError(t, err)
	require.NotNil(t, m)

	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req = req.WithContext(organization.NewContext(req.Context(), org, m))

	rec := httptest.NewRecorder()
	f.service.Router().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec.Code, env
}

func (f *fixture) intent(t *testing.T, userID string, values ...string) (int, envelope) {
	form := url.Values{}
	for i := 0; i+1 < len(values); i += 2 {
		form.Set(values[i], values[i+1])
	}
	return f.do(t, userID, http.MethodPost, "/", form)
}

func decodeState(t *testing.T, env envelope) State {
	var state State
	require.NoError(t, json.Unmarshal(env.Result, &state))
	return state
}
