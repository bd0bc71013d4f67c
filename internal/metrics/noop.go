package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncGateDecision(string)            {}
func (n *NoopRecorder) ObserveGateDuration(time.Duration) {}
func (n *NoopRecorder) IncUsageRecorded(string)           {}
func (n *NoopRecorder) AddMinutesCharged(string, int)     {}
func (n *NoopRecorder) IncUsageFailed()                   {}
func (n *NoopRecorder) IncAccountCacheHit()               {}
func (n *NoopRecorder) IncAccountCacheMiss()              {}
func (n *NoopRecorder) IncCheckoutCreated(string)         {}
func (n *NoopRecorder) IncWebhookEvent(string, string)    {}
func (n *NoopRecorder) AddSubscriptionsExpired(int)       {}
