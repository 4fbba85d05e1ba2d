package billing

import (
	"fmt"
	"sort"
)

// Tier is one of the three subscription levels
type Tier string

// Interval is the billing cadence of a price
type Interval string

// Defining tiers and intervals of the catalog
const (
	TierLow  Tier = "low"
	TierMid  Tier = "mid"
	TierHigh Tier = "high"

	IntervalMonthly Interval = "monthly"
	IntervalAnnual  Interval = "annual"
)

// lookupKeys must match the lookup keys configured on the payment provider verbatim
var lookupKeys = map[Tier]map[Interval]string{
	TierLow: {
		IntervalMonthly: "monthly_hobby_plan",
		IntervalAnnual:  "annual_hobby_plan",
	},
	TierMid: {
		IntervalMonthly: "monthly_startup_plan",
		IntervalAnnual:  "annual_startup_plan",
	},
	TierHigh: {
		IntervalMonthly: "monthly_business_plan",
		IntervalAnnual:  "annual_business_plan",
	},
}

// Tiers are ordered from the smallest plan to the largest
var Tiers = []Tier{TierLow, TierMid, TierHigh}

// InvalidLookupKeyError is returned when a lookup key is not part of the catalog
type InvalidLookupKeyError struct {
	Key string
}

func (e *InvalidLookupKeyError) Error() string {
	return fmt.Sprintf("invalid lookup key: %s", e.Key)
}

// ParseLookupKey returns the tier and interval identified by the lookup key
func ParseLookupKey(key string) (Tier, Interval, error) {
	for tier, intervals := range lookupKeys {
		for interval, k := range intervals {
			if k == key {
				return tier, interval, nil
			}
		}
	}
	return "", "", &InvalidLookupKeyError{Key: key}
}

// LookupKey returns the lookup key for the tier and interval
func LookupKey(tier Tier, interval Interval) (string, bool) {
	key, ok := lookupKeys[tier][interval]
	return key, ok
}

// LookupKeys returns every lookup key of the catalog, sorted
func LookupKeys() []string {
	keys := make([]string, 0, 6)
	for _, intervals := range lookupKeys {
		for _, k := range intervals {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Rank orders tiers so upgrades and downgrades can be told apart
func (t Tier) Rank() int {
	for i, tier := range Tiers {
		if tier == t {
			return i
		}
	}
	return -1
}
