package billing

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/zllovesuki/seatplan/subscription"
)

// DefaultSeatLimit is used when a product has no usable seat capacity, so a
// misconfigured product never grants more than a single seat
const DefaultSeatLimit = 1

// The free trial behaves like the highest tier
const (
	TrialSeatLimit      = 25
	TrialRatePerUser    = 85
	trialTier           = TierHigh
	trialInterval       = IntervalMonthly
	maxSeatsMetadataKey = subscription.MaxSeatsKey
)

// ParseSeatLimit reads a seat capacity stored as a numeric string or a number,
// falling back to DefaultSeatLimit
func ParseSeatLimit(v interface{}) int {
	switch n := v.(type) {
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return DefaultSeatLimit
		}
		return parsed
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return DefaultSeatLimit
		}
		return int(n)
	case json.Number:
		parsed, err := n.Int64()
		if err != nil {
			return DefaultSeatLimit
		}
		return int(parsed)
	default:
		return DefaultSeatLimit
	}
}

// ProductSeatLimit returns the seat capacity of the product
func ProductSeatLimit(p *subscription.Product) int {
	if p == nil {
		return DefaultSeatLimit
	}
	return ParseSeatLimit(p.Metadata[maxSeatsMetadataKey])
}

// PlanLimits holds the seat capacity of each tier
type PlanLimits struct {
	Low  int `json:"low"`
	Mid  int `json:"mid"`
	High int `json:"high"`
}

// CreateSubscriptionModal is what the plan picker needs to disable plans that are too small
type CreateSubscriptionModal struct {
	CurrentSeats int        `json:"currentSeats"`
	PlanLimits   PlanLimits `json:"planLimits"`
}

// NewCreateSubscriptionModal assigns the seat limits of the products to tiers by sorting
// them ascending. Products carry no tier of their own, so this relies on the catalog
// having exactly three products with distinct capacities. Missing tiers get 0 seats.
func NewCreateSubscriptionModal(currentSeats int, products []subscription.Product) CreateSubscriptionModal {
	limits := make([]int, 0, len(products))
	for i := range products {
		limits = append(limits, ProductSeatLimit(&products[i]))
	}
	sort.Ints(limits)

	at := func(i int) int {
		if i < len(limits) {
			return limits[i]
		}
		return 0
	}

	return CreateSubscriptionModal{
		CurrentSeats: currentSeats,
		PlanLimits: PlanLimits{
			Low:  at(0),
			Mid:  at(1),
			High: at(2),
		},
	}
}

// Limit returns the seat capacity of the tier
func (p PlanLimits) Limit(t Tier) int {
	switch t {
	case TierLow:
		return p.Low
	case TierMid:
		return p.Mid
	case TierHigh:
		return p.High
	}
	return 0
}
