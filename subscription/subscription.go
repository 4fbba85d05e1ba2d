package subscription

import (
	"time"

	"github.com/zllovesuki/seatplan/spec"
)

// Product corresponds to Stripe's Product. Metadata carries the seat capacity under MaxSeatsKey
type Product struct {
	ID        string        `json:"id" gorm:"primaryKey"`
	Name      string        `json:"name"`
	Active    bool          `json:"active"`
	Metadata  spec.Metadata `json:"metadata"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Price corresponds to Stripe's Price. LookupKey ties the price to a tier and interval
type Price struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	LookupKey  string    `json:"lookupKey" gorm:"index"`
	UnitAmount int64     `json:"unitAmount"` // in minor currency units (cents)
	Currency   string    `json:"currency"`
	Interval   string    `json:"interval"` // month or year
	ProductID  string    `json:"productId" gorm:"index"`
	Product    *Product  `json:"product,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Subscription corresponds to Stripe's Subscription. Only the most recently created
// subscription of an organization is considered current
type Subscription struct {
	ID                string                `json:"id" gorm:"primaryKey"`
	OrganizationID    string                `json:"organizationId" gorm:"index"`
	CustomerID        string                `json:"customerId" gorm:"index"`
	Status            Status                `json:"status"`
	CancelAtPeriodEnd bool                  `json:"cancelAtPeriodEnd"`
	CreatedAt         time.Time             `json:"createdAt"` // Stripe's created timestamp, not insertion time
	UpdatedAt         time.Time             `json:"updatedAt"`
	Items             []SubscriptionItem    `json:"items"`
	Schedule          *SubscriptionSchedule `json:"schedule,omitempty"`
}

// SubscriptionItem corresponds to Stripe's Subscription Item
type SubscriptionItem struct {
	ID                 string    `json:"id" gorm:"primaryKey"`
	SubscriptionID     string    `json:"subscriptionId" gorm:"index"`
	PriceID            string    `json:"priceId" gorm:"index"`
	Price              *Price    `json:"price,omitempty"`
	Quantity           int64     `json:"quantity"`
	CurrentPeriodStart time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time `json:"currentPeriodEnd"`
}

// SubscriptionSchedule corresponds to Stripe's Subscription Schedule, a queued plan change
type SubscriptionSchedule struct {
	ID             string                      `json:"id" gorm:"primaryKey"`
	SubscriptionID string                      `json:"subscriptionId" gorm:"uniqueIndex"`
	Status         string                      `json:"status"`
	Phases         []SubscriptionSchedulePhase `json:"phases" gorm:"foreignKey:ScheduleID"`
	CreatedAt      time.Time                   `json:"createdAt"`
	UpdatedAt      time.Time                   `json:"updatedAt"`
}

// SubscriptionSchedulePhase is one step of a schedule
type SubscriptionSchedulePhase struct {
	ID         uint      `json:"-" gorm:"primaryKey"`
	ScheduleID string    `json:"scheduleId" gorm:"index"`
	StartDate  time.Time `json:"startDate"`
	EndDate    time.Time `json:"endDate"`
	PriceID    string    `json:"priceId"`
	Price      *Price    `json:"price,omitempty"`
	Quantity   int64     `json:"quantity"`
}
