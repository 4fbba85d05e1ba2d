package spec

import "time"

// Define constants shared by the API and the task runner
const (
	WebhookExchange string = "billing_webhooks"
	WebhookQueue    string = "billing_webhooks_task"

	InviteLifetime time.Duration = time.Hour * 48
	TrialLifetime  time.Duration = time.Hour * 24 * 14
)

// EventSource identifies who produced an Event
type EventSource string

const (
	StripeSource EventSource = "stripe"
)
