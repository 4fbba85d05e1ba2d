package subscription

import (
	"time"

	"github.com/zllovesuki/seatplan/spec"

	"github.com/stripe/stripe-go/v82"
)

// OrganizationMetadataKey is set on checkout sessions and subscriptions to find the owning organization
const OrganizationMetadataKey = "organization_id"

func unix(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

// FromStripeProduct converts a Stripe Product
func FromStripeProduct(p *stripe.Product) *Product {
	if p == nil || p.ID == "" {
		return nil
	}
	return &Product{
		ID:       p.ID,
		Name:     p.Name,
		Active:   p.Active,
		Metadata: spec.FromStrings(p.Metadata),
	}
}

// FromStripePrice converts a Stripe Price. Product is only set when it was expanded
func FromStripePrice(p *stripe.Price) *Price {
	if p == nil || p.ID == "" {
		return nil
	}
	price := &Price{
		ID:         p.ID,
		LookupKey:  p.LookupKey,
		UnitAmount: p.UnitAmount,
		Currency:   string(p.Currency),
		Active:     p.Active,
	}
	if p.Recurring != nil {
		price.Interval = string(p.Recurring.Interval)
	}
	if p.Product != nil {
		price.ProductID = p.Product.ID
		// an unexpanded product only carries the ID
		if p.Product.Name != "" {
			price.Product = FromStripeProduct(p.Product)
		}
	}
	return price
}

// FromStripeSubscription converts a Stripe Subscription with its items
func FromStripeSubscription(s *stripe.Subscription, organizationID string) *Subscription {
	sub := &Subscription{
		ID:                s.ID,
		OrganizationID:    organizationID,
		Status:            Status(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CreatedAt:         unix(s.Created),
		Items:             make([]SubscriptionItem, 0, 1),
	}
	if s.Customer != nil {
		sub.CustomerID = s.Customer.ID
	}
	if s.Items != nil {
		for _, item := range s.Items.Data {
			converted := SubscriptionItem{
				ID:                 item.ID,
				SubscriptionID:     s.ID,
				Quantity:           item.Quantity,
				CurrentPeriodStart: unix(item.CurrentPeriodStart),
				CurrentPeriodEnd:   unix(item.CurrentPeriodEnd),
			}
			if price := FromStripePrice(item.Price); price != nil {
				converted.PriceID = price.ID
				converted.Price = price
			}
			sub.Items = append(sub.Items, converted)
		}
	}
	return sub
}

// FromStripeSchedule converts a Stripe Subscription Schedule. It returns nil when the
// schedule is not attached to a subscription yet
func FromStripeSchedule(s *stripe.SubscriptionSchedule) *SubscriptionSchedule {
	if s == nil || s.Subscription == nil || s.Subscription.ID == "" {
		return nil
	}
	sch := &SubscriptionSchedule{
		ID:             s.ID,
		SubscriptionID: s.Subscription.ID,
		Status:         string(s.Status),
		Phases:         make([]SubscriptionSchedulePhase, 0, len(s.Phases)),
	}
	for _, phase := range s.Phases {
		converted := SubscriptionSchedulePhase{
			ScheduleID: s.ID,
			StartDate:  unix(phase.StartDate),
			EndDate:    unix(phase.EndDate),
		}
		if len(phase.Items) > 0 && phase.Items[0].Price != nil {
			converted.PriceID = phase.Items[0].Price.ID
			converted.Quantity = phase.Items[0].Quantity
		}
		sch.Phases = append(sch.Phases, converted)
	}
	return sch
}
