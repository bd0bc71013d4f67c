// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Gate results.
const (
	GateAllowed  = "allowed"
	GateDenied   = "denied"
	GateDegraded = "degraded"
	GateDemo     = "demo"
)

// Recorder captures metric events for the application.
type Recorder interface {
	// Session gate metrics
	IncGateDecision(result string)
	ObserveGateDuration(duration time.Duration)

	// Usage recorder metrics
	IncUsageRecorded(billingType string)
	AddMinutesCharged(billingType string, minutes int)
	IncUsageFailed()

	// Account cache metrics
	IncAccountCacheHit()
	IncAccountCacheMiss()

	// Billing metrics
	IncCheckoutCreated(kind string)
	IncWebhookEvent(eventType, status string) // status: "applied", "duplicate", "ignored", "failed"
	AddSubscriptionsExpired(n int)
}
