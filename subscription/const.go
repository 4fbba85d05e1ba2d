package subscription

// Status mirrors Stripe's subscription status
type Status string

// Defining the statuses reported by Stripe
const (
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
	StatusPaused            Status = "paused"
)

// MaxSeatsKey is the Product metadata key holding the seat capacity
const MaxSeatsKey = "max_seats"
