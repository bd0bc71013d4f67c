package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exports metrics through a Prometheus registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	gateDecisions        *prometheus.CounterVec
	gateDuration         prometheus.Histogram
	usageRecorded        *prometheus.CounterVec
	minutesCharged       *prometheus.CounterVec
	usageFailed          prometheus.Counter
	accountCache         *prometheus.CounterVec
	checkoutsCreated     *prometheus.CounterVec
	webhookEvents        *prometheus.CounterVec
	subscriptionsExpired prometheus.Counter
}

// NewPrometheus registers the application collectors on a fresh registry.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		gateDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicecredits_gate_decisions_total",
				Help: "Session gate decisions by result",
			},
			[]string{"result"},
		),
		gateDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voicecredits_gate_duration_seconds",
				Help:    "Duration of session gate checks",
				Buckets: prometheus.DefBuckets,
			},
		),
		usageRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicecredits_usage_recorded_total",
				Help: "Completed sessions recorded by billing type",
			},
			[]string{"billing_type"},
		),
		minutesCharged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicecredits_minutes_charged_total",
				Help: "Minutes charged by billing type",
			},
			[]string{"billing_type"},
		),
		usageFailed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voicecredits_usage_failed_total",
				Help: "Usage reports that could not be persisted",
			},
		),
		accountCache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicecredits_account_cache_total",
				Help: "Account cache lookups by result",
			},
			[]string{"result"},
		),
		checkoutsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicecredits_checkouts_created_total",
				Help: "Checkout sessions created by kind",
			},
			[]string{"kind"},
		),
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicecredits_webhook_events_total",
				Help: "Billing provider events by type and outcome",
			},
			[]string{"type", "status"},
		),
		subscriptionsExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voicecredits_subscriptions_expired_total",
				Help: "Subscriptions dropped by the lapsed subscription sweep",
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry returns the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusRecorder) IncGateDecision(result string) {
	p.gateDecisions.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) ObserveGateDuration(d time.Duration) {
	p.gateDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncUsageRecorded(billingType string) {
	p.usageRecorded.WithLabelValues(billingType).Inc()
}

func (p *PrometheusRecorder) AddMinutesCharged(billingType string, minutes int) {
	if minutes > 0 {
		p.minutesCharged.WithLabelValues(billingType).Add(float64(minutes))
	}
}

func (p *PrometheusRecorder) IncUsageFailed() { p.usageFailed.Inc() }

func (p *PrometheusRecorder) IncAccountCacheHit() { p.accountCache.WithLabelValues("hit").Inc() }

func (p *PrometheusRecorder) IncAccountCacheMiss() { p.accountCache.WithLabelValues("miss").Inc() }

func (p *PrometheusRecorder) IncCheckoutCreated(kind string) {
	p.checkoutsCreated.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) IncWebhookEvent(eventType, status string) {
	p.webhookEvents.WithLabelValues(eventType, status).Inc()
}

func (p *PrometheusRecorder) AddSubscriptionsExpired(n int) {
	if n > 0 {
		p.subscriptionsExpired.Add(float64(n))
	}
}
