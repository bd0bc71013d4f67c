package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	GateDecisions        map[string]uint64
	GateDurationCount    uint64
	UsageRecorded        map[string]uint64
	MinutesCharged       map[string]uint64
	UsageFailed          uint64
	AccountCacheHits     uint64
	AccountCacheMisses   uint64
	CheckoutsCreated     map[string]uint64
	WebhookEvents        map[string]uint64 // keyed by "type/status"
	SubscriptionsExpired uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu       sync.Mutex
	labelled map[string]map[string]uint64

	gateDurationCount    uint64
	usageFailed          uint64
	accountCacheHits     uint64
	accountCacheMisses   uint64
	subscriptionsExpired uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{labelled: make(map[string]map[string]uint64)}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		GateDecisions:        m.copyOf("gate"),
		GateDurationCount:    atomic.LoadUint64(&m.gateDurationCount),
		UsageRecorded:        m.copyOf("usage"),
		MinutesCharged:       m.copyOf("minutes"),
		UsageFailed:          atomic.LoadUint64(&m.usageFailed),
		AccountCacheHits:     atomic.LoadUint64(&m.accountCacheHits),
		AccountCacheMisses:   atomic.LoadUint64(&m.accountCacheMisses),
		CheckoutsCreated:     m.copyOf("checkout"),
		WebhookEvents:        m.copyOf("webhook"),
		SubscriptionsExpired: atomic.LoadUint64(&m.subscriptionsExpired),
	}
}

func (m *InMemoryRecorder) IncGateDecision(result string) { m.add("gate", result, 1) }

func (m *InMemoryRecorder) ObserveGateDuration(time.Duration) {
	atomic.AddUint64(&m.gateDurationCount, 1)
}

func (m *InMemoryRecorder) IncUsageRecorded(billingType string) { m.add("usage", billingType, 1) }

func (m *InMemoryRecorder) AddMinutesCharged(billingType string, minutes int) {
	if minutes > 0 {
		m.add("minutes", billingType, uint64(minutes))
	}
}

func (m *InMemoryRecorder) IncUsageFailed()      { atomic.AddUint64(&m.usageFailed, 1) }
func (m *InMemoryRecorder) IncAccountCacheHit()  { atomic.AddUint64(&m.accountCacheHits, 1) }
func (m *InMemoryRecorder) IncAccountCacheMiss() { atomic.AddUint64(&m.accountCacheMisses, 1) }

func (m *InMemoryRecorder) IncCheckoutCreated(kind string) { m.add("checkout", kind, 1) }

func (m *InMemoryRecorder) IncWebhookEvent(eventType, status string) {
	m.add("webhook", eventType+"/"+status, 1)
}

func (m *InMemoryRecorder) AddSubscriptionsExpired(n int) {
	if n > 0 {
		atomic.AddUint64(&m.subscriptionsExpired, uint64(n))
	}
}

func (m *InMemoryRecorder) add(family, label string, n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.labelled[family]
	if !ok {
		f = make(map[string]uint64)
		m.labelled[family] = f
	}
	f[label] += n
}

// copyOf must be called with mu held.
func (m *InMemoryRecorder) copyOf(family string) map[string]uint64 {
	out := make(map[string]uint64, len(m.labelled[family]))
	for k, v := range m.labelled[family] {
		out[k] = v
	}
	return out
}
