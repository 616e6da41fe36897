package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offerledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "offerledger_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "route"})

	// outcome: free_return_visit / already_paid / charged / insufficient_credits / in_progress
	PageUnlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offerledger_page_unlocks_total",
		Help: "Page access decisions by outcome",
	}, []string{"outcome"})

	CreditsCharged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offerledger_credits_charged_hundredths_total",
		Help: "Credits debited for page unlocks, in hundredths of a credit",
	})

	CreditsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offerledger_credits_granted_hundredths_total",
		Help: "Credits granted from completed checkouts, in hundredths of a credit",
	})

	// result: credited / already_credited / race_lost / failed
	Attributions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offerledger_attributions_total",
		Help: "Revenue attribution attempts by result",
	}, []string{"result"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offerledger_webhook_events_total",
		Help: "Processor webhook events by type and outcome",
	}, []string{"type", "outcome"})

	SignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offerledger_webhook_signature_failures_total",
		Help: "Webhook deliveries whose signature could not be verified",
	})

	// outcome: paid / onboarding_required / denied / failed / unavailable / settled_paid / settled_failed
	Payouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offerledger_payouts_total",
		Help: "Payout attempts by outcome",
	}, []string{"outcome"})

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offerledger_outbox_published_total",
		Help: "Outbox messages handed to Kafka by result",
	}, []string{"result"})
)
