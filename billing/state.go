package billing

import (
	"errors"
	"time"

	"github.com/zllovesuki/seatplan/subscription"
)

// SubscriptionStatus is the three-way status shown on the billing page
type SubscriptionStatus string

// Defining the billing page statuses
const (
	StatusActive   SubscriptionStatus = "active"
	StatusInactive SubscriptionStatus = "inactive"
	StatusPaused   SubscriptionStatus = "paused"
)

// Errors returned by DeriveState for records that break the single-price invariant
var (
	ErrNoSubscriptionItems    = errors.New("subscription has no items")
	ErrMixedSubscriptionItems = errors.New("subscription items reference different prices")
	ErrMissingPrice           = errors.New("price of subscription item or schedule phase is not loaded")
)

var cancellableStatuses = map[subscription.Status]bool{
	subscription.StatusActive:   true,
	subscription.StatusTrialing: true,
	subscription.StatusPastDue:  true,
	subscription.StatusPaused:   true,
}

// OrganizationSnapshot is the already-fetched data the billing page is derived from.
// Subscription is the most recently created one, nil if the organization never subscribed.
// Its schedule phases must be sorted by start date.
type OrganizationSnapshot struct {
	Slug         string
	BillingEmail string
	TrialEnd     time.Time
	MemberCount  int
	Subscription *subscription.Subscription
}

// CancelOrModifySubscriptionModalProps feeds the "modify plan" dialog
type CancelOrModifySubscriptionModalProps struct {
	CanCancelSubscription bool     `json:"canCancelSubscription"`
	CurrentTier           Tier     `json:"currentTier"`
	CurrentTierInterval   Interval `json:"currentTierInterval"`
}

// PendingChange is a plan change already scheduled with the payment provider
type PendingChange struct {
	PendingChangeDate time.Time `json:"pendingChangeDate"`
	PendingInterval   Interval  `json:"pendingInterval"`
	PendingTier       Tier      `json:"pendingTier"`
}

// State is everything the billing page displays
type State struct {
	BillingEmail                         string                               `json:"billingEmail"`
	CancelAtPeriodEnd                    bool                                 `json:"cancelAtPeriodEnd"`
	CancelOrModifySubscriptionModalProps CancelOrModifySubscriptionModalProps `json:"cancelOrModifySubscriptionModalProps"`
	CurrentInterval                      Interval                             `json:"currentInterval"`
	CurrentMonthlyRatePerUser            float64                              `json:"currentMonthlyRatePerUser"`
	CurrentPeriodEnd                     time.Time                            `json:"currentPeriodEnd"`
	CurrentSeats                         int                                  `json:"currentSeats"`
	CurrentTier                          Tier                                 `json:"currentTier"`
	IsEnterprisePlan                     bool                                 `json:"isEnterprisePlan"`
	IsOnFreeTrial                        bool                                 `json:"isOnFreeTrial"`
	MaxSeats                             int                                  `json:"maxSeats"`
	OrganizationSlug                     string                               `json:"organizationSlug"`
	PendingChange                        *PendingChange                       `json:"pendingChange,omitempty"`
	ProjectedTotal                       float64                              `json:"projectedTotal"`
	SubscriptionStatus                   SubscriptionStatus                   `json:"subscriptionStatus"`
}

// DeriveState computes the billing page state. It performs no I/O and reads no clock
// other than now.
func DeriveState(org OrganizationSnapshot, now time.Time) (State, error) {
	sub := org.Subscription
	if sub == nil {
		return trialState(org), nil
	}

	if len(sub.Items) == 0 {
		return State{}, ErrNoSubscriptionItems
	}
	item := sub.Items[0]
	currentPeriodEnd := item.CurrentPeriodEnd
	for _, other := range sub.Items[1:] {
		if other.PriceID != item.PriceID {
			return State{}, ErrMixedSubscriptionItems
		}
		if other.CurrentPeriodEnd.After(currentPeriodEnd) {
			currentPeriodEnd = other.CurrentPeriodEnd
		}
	}
	if item.Price == nil {
		return State{}, ErrMissingPrice
	}

	tier, interval, err := ParseLookupKey(item.Price.LookupKey)
	if err != nil {
		return State{}, err
	}

	rate := centsToUnit(item.Price.UnitAmount)
	status := classifyStatus(sub, currentPeriodEnd, now)

	pending, err := pendingChange(sub.Schedule, now)
	if err != nil {
		return State{}, err
	}

	return State{
		BillingEmail:      org.BillingEmail,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CancelOrModifySubscriptionModalProps: CancelOrModifySubscriptionModalProps{
			CanCancelSubscription: !sub.CancelAtPeriodEnd && cancellableStatuses[sub.Status],
			CurrentTier:           tier,
			CurrentTierInterval:   interval,
		},
		CurrentInterval:           interval,
		CurrentMonthlyRatePerUser: rate,
		CurrentPeriodEnd:          currentPeriodEnd,
		CurrentSeats:              org.MemberCount,
		CurrentTier:               tier,
		IsEnterprisePlan:          false,
		IsOnFreeTrial:             false,
		MaxSeats:                  ProductSeatLimit(item.Price.Product),
		OrganizationSlug:          org.Slug,
		PendingChange:             pending,
		ProjectedTotal:            rate * float64(org.MemberCount),
		SubscriptionStatus:        status,
	}, nil
}

func trialState(org OrganizationSnapshot) State {
	return State{
		BillingEmail:      org.BillingEmail,
		CancelAtPeriodEnd: false,
		CancelOrModifySubscriptionModalProps: CancelOrModifySubscriptionModalProps{
			CanCancelSubscription: false,
			CurrentTier:           trialTier,
			CurrentTierInterval:   trialInterval,
		},
		CurrentInterval:           trialInterval,
		CurrentMonthlyRatePerUser: TrialRatePerUser,
		CurrentPeriodEnd:          org.TrialEnd,
		CurrentSeats:              org.MemberCount,
		CurrentTier:               trialTier,
		IsEnterprisePlan:          false,
		IsOnFreeTrial:             true,
		MaxSeats:                  TrialSeatLimit,
		OrganizationSlug:          org.Slug,
		ProjectedTotal:            TrialRatePerUser * float64(org.MemberCount),
		SubscriptionStatus:        StatusActive,
	}
}

// centsToUnit is plain float division, amounts that are not a multiple of 100 are not rounded
func centsToUnit(amount int64) float64 {
	return float64(amount) / 100
}

func classifyStatus(sub *subscription.Subscription, currentPeriodEnd, now time.Time) SubscriptionStatus {
	if sub.CancelAtPeriodEnd && now.After(currentPeriodEnd) {
		return StatusPaused
	}
	switch sub.Status {
	case subscription.StatusActive, subscription.StatusTrialing:
		return StatusActive
	}
	return StatusInactive
}

// pendingChange reports the first phase starting after now. Phases are not sorted here.
func pendingChange(schedule *subscription.SubscriptionSchedule, now time.Time) (*PendingChange, error) {
	if schedule == nil {
		return nil, nil
	}
	for _, phase := range schedule.Phases {
		if !phase.StartDate.After(now) {
			continue
		}
		if phase.Price == nil {
			return nil, ErrMissingPrice
		}
		tier, interval, err := ParseLookupKey(phase.Price.LookupKey)
		if err != nil {
			return nil, err
		}
		return &PendingChange{
			PendingChangeDate: phase.StartDate,
			PendingInterval:   interval,
			PendingTier:       tier,
		}, nil
	}
	return nil, nil
}
