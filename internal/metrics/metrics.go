// Package metrics exposes Prometheus collectors for message delivery.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notifier"

// Outcome labels for sends_total.
const (
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomeNoSender = "no_sender"
)

// Collector holds the delivery metrics.
type Collector struct {
	sends               *prometheus.CounterVec   // channel, outcome
	attempts            *prometheus.CounterVec   // channel
	sendDuration        *prometheus.HistogramVec // channel
	translationFailures *prometheus.CounterVec   // kind
	inFlight            prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "sends_total",
			Help:      "Messages processed, by channel and final outcome",
		}, []string{"channel", "outcome"}),

		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Send attempts including retries",
		}, []string{"channel"}),

		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "send_duration_seconds",
			Help:      "Time from first attempt to final outcome",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"channel"}),

		translationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "translator",
			Name:      "translation_failures_total",
			Help:      "Content translation failures, by kind (recoverable, fatal, no_content)",
		}, []string{"kind"}),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "in_flight",
			Help:      "Messages currently being delivered",
		}),
	}

	if reg != nil {
		for _, col := range []prometheus.Collector{c.sends, c.attempts, c.sendDuration, c.translationFailures, c.inFlight} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// Attempt counts one send attempt.
func (c *Collector) Attempt(channel string) {
	if c == nil {
		return
	}
	c.attempts.WithLabelValues(channel).Inc()
}

// Outcome records the final result of a message and how long it took.
func (c *Collector) Outcome(channel, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.sends.WithLabelValues(channel, outcome).Inc()
	c.sendDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// TranslationFailure counts a translation failure of the given kind.
func (c *Collector) TranslationFailure(kind string) {
	if c == nil {
		return
	}
	c.translationFailures.WithLabelValues(kind).Inc()
}

// Begin marks a message as in flight and returns the matching end call.
func (c *Collector) Begin() func() {
	if c == nil {
		return func() {}
	}
	c.inFlight.Inc()
	return c.inFlight.Dec
}

// Handler serves the metrics of g along with a /health probe.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}
