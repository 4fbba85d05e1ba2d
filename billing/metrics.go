package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook results
const (
	resultProcessed = "processed"
	resultIgnored   = "ignored"
	resultFailed    = "failed"
	resultQueued    = "queued"
	resultRejected  = "rejected"
)

var webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "seatplan",
	Subsystem: "billing",
	Name:      "webhook_events_total",
	Help:      "Number of payment provider webhook events by type and result",
}, []string{"type", "result"})

var webhookRejected = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "seatplan",
	Subsystem: "billing",
	Name:      "webhook_rejected_total",
	Help:      "Number of webhook requests with a missing or invalid signature",
})

var billingIntents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "seatplan",
	Subsystem: "billing",
	Name:      "intents_total",
	Help:      "Number of billing page intents by intent and result",
}, []string{"intent", "result"})
