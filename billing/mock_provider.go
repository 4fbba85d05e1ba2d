package billing

import (
	"context"
	"fmt"
	"sync"

	"github.com/zllovesuki/seatplan/subscription"
)

var _ PaymentProvider = &MockProvider{}

// MockProvider is a test double that records calls and returns configurable results
type MockProvider struct {
	mu sync.Mutex

	// Customers maps organizationID -> customerID
	Customers map[string]string
	// Emails maps customerID -> billing email
	Emails map[string]string
	// Subscriptions are returned by GetSubscription and mutated by the update calls
	Subscriptions map[string]*subscription.Subscription
	// Checkouts collects every checkout request
	Checkouts []CheckoutRequest
	// Released collects released schedule IDs
	Released []string
	// Prices and Products back the catalog operations, keyed by lookup key and ID
	Prices   map[string]*subscription.Price
	Products map[string]*subscription.Product

	// Err is returned by every call when set
	Err error

	seq int
}

// NewMockProvider creates a MockProvider ready for use
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Customers:     make(map[string]string),
		Emails:        make(map[string]string),
		Subscriptions: make(map[string]*subscription.Subscription),
		Prices:        make(map[string]*subscription.Price),
		Products:      make(map[string]*subscription.Product),
	}
}

func (m *MockProvider) next(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s_mock_%d", prefix, m.seq)
}

func (m *MockProvider) CreateCustomer(_ context.Context, organizationID, _, email string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	id := m.next("cus")
	m.Customers[organizationID] = id
	m.Emails[id] = email
	return id, nil
}

func (m *MockProvider) UpdateCustomerEmail(_ context.Context, customerID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Emails[customerID] = email
	return nil
}

func (m *MockProvider) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Checkouts = append(m.Checkouts, req)
	return "https://checkout.test/" + m.next("cs"), nil
}

func (m *MockProvider) CreatePortalSession(_ context.Context, customerID, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	return "https://portal.test/" + customerID, nil
}

func (m *MockProvider) find(id string) (*subscription.Subscription, error) {
	sub, ok := m.Subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", id)
	}
	return sub, nil
}

func clone(sub *subscription.Subscription) *subscription.Subscription {
	c := *sub
	c.OrganizationID = ""
	c.Schedule = nil
	c.Items = append([]subscription.SubscriptionItem(nil), sub.Items...)
	return &c
}

func (m *MockProvider) SetCancelAtPeriodEnd(_ context.Context, subscriptionID string, cancel bool) (*subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	sub, err := m.find(subscriptionID)
	if err != nil {
		return nil, err
	}
	sub.CancelAtPeriodEnd = cancel
	return clone(sub), nil
}

func (m *MockProvider) SwitchPrice(_ context.Context, current *subscription.Subscription, priceID string, quantity int64) (*subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	sub, err := m.find(current.ID)
	if err != nil {
		return nil, err
	}
	for i := range sub.Items {
		sub.Items[i].PriceID = priceID
		sub.Items[i].Price = nil
		sub.Items[i].Quantity = quantity
	}
	return clone(sub), nil
}

func (m *MockProvider) ScheduleChange(_ context.Context, current *subscription.Subscription, priceID string, quantity int64) (*subscription.SubscriptionSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if len(current.Items) == 0 {
		return nil, ErrNoSubscriptionItems
	}
	item := current.Items[0]
	id := m.next("sub_sched")
	if current.Schedule != nil {
		id = current.Schedule.ID
	}
	return &subscription.SubscriptionSchedule{
		ID:             id,
		SubscriptionID: current.ID,
		Status:         "active",
		Phases: []subscription.SubscriptionSchedulePhase{
			{
				StartDate: item.CurrentPeriodStart,
				EndDate:   item.CurrentPeriodEnd,
				PriceID:   item.PriceID,
				Quantity:  item.Quantity,
			},
			{
				StartDate: item.CurrentPeriodEnd,
				PriceID:   priceID,
				Quantity:  quantity,
			},
		},
	}, nil
}

func (m *MockProvider) ReleaseSchedule(_ context.Context, scheduleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Released = append(m.Released, scheduleID)
	return nil
}

func (m *MockProvider) GetSubscription(_ context.Context, subscriptionID string) (*subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	sub, err := m.find(subscriptionID)
	if err != nil {
		return nil, err
	}
	return clone(sub), nil
}

func (m *MockProvider) ListPricesByLookupKeys(_ context.Context, lookupKeys []string) ([]*subscription.Price, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	prices := make([]*subscription.Price, 0, len(lookupKeys))
	for _, key := range lookupKeys {
		if p, ok := m.Prices[key]; ok {
			c := *p
			c.Product = m.Products[p.ProductID]
			prices = append(prices, &c)
		}
	}
	return prices, nil
}

func (m *MockProvider) CreateProduct(_ context.Context, plan subscription.Plan) (*subscription.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	p := &subscription.Product{
		ID:       m.next("prod"),
		Name:     plan.Name,
		Active:   !plan.Retired,
		Metadata: metadataFromPlan(plan),
	}
	m.Products[p.ID] = p
	return p, nil
}

func (m *MockProvider) UpdateProduct(_ context.Context, productID string, plan subscription.Plan) (*subscription.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	p, ok := m.Products[productID]
	if !ok {
		return nil, fmt.Errorf("product %s not found", productID)
	}
	p.Active = !plan.Retired
	p.Metadata = metadataFromPlan(plan)
	return p, nil
}

func (m *MockProvider) CreatePrice(_ context.Context, productID string, currency string, price subscription.PlanPrice) (*subscription.Price, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	p := &subscription.Price{
		ID:         m.next("price"),
		LookupKey:  price.LookupKey,
		UnitAmount: price.UnitAmount,
		Currency:   currency,
		Interval:   price.Interval,
		ProductID:  productID,
		Active:     true,
	}
	m.Prices[p.LookupKey] = p
	return p, nil
}

func metadataFromPlan(plan subscription.Plan) map[string]interface{} {
	md := make(map[string]interface{})
	for k, v := range plan.Metadata() {
		md[k] = v
	}
	return md
}
