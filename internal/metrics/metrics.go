// Package metrics exposes Prometheus collectors for the assistant.
package metrics

import (
	"errors"
	"time"

	"github.com/normanking/cortexassist/internal/bus"
	"github.com/normanking/cortexassist/internal/gateway"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cortexassist"

// Metrics holds every collector registered by New.
type Metrics struct {
	GatewayRequests *prometheus.CounterVec
	GatewayLatency  *prometheus.HistogramVec

	RoundTrips        *prometheus.CounterVec
	RoundTripDuration *prometheus.HistogramVec

	Utterances         prometheus.Counter
	InterruptedSpeech  prometheus.Counter
	Speaking           prometheus.Gauge
	Transcripts        prometheus.Counter
	ReminderRefreshes  *prometheus.CounterVec
	RemindersCached    prometheus.Gauge
	BusyRejections     prometheus.Counter
	ConversationLength prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GatewayRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Total number of backend requests",
			},
			[]string{"op", "result"},
		),
		GatewayLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_request_duration_seconds",
				Help:      "Backend request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		RoundTrips: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "round_trips_total",
				Help:      "Command round-trips by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		RoundTripDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "round_trip_duration_seconds",
				Help:      "Time from submission to reply",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		Utterances: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Utterances started",
		}),
		InterruptedSpeech: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_interrupted_total",
			Help:      "Utterances cancelled before they finished",
		}),
		Speaking: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speaking",
			Help:      "1 while an utterance is playing",
		}),
		Transcripts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_total",
			Help:      "Final voice transcripts received",
		}),
		ReminderRefreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminder_refreshes_total",
				Help:      "Reminder reconciliations by result",
			},
			[]string{"result"},
		),
		RemindersCached: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reminders_cached",
			Help:      "Reminders in the local cache",
		}),
		BusyRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "busy_rejections_total",
			Help:      "Submissions refused while a request was in flight",
		}),
		ConversationLength: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_entries_total",
			Help:      "Chat entries appended",
		}),
	}
}

// ObserveRequest is a gateway.Observer.
func (m *Metrics) ObserveRequest(op string, elapsed time.Duration, err error) {
	result := "success"
	switch {
	case errors.Is(err, gateway.ErrServerRejected):
		result = "rejected"
	case err != nil:
		result = "network_failure"
	}
	m.GatewayRequests.WithLabelValues(op, result).Inc()
	m.GatewayLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Subscribe feeds the collectors from bus events.
func (m *Metrics) Subscribe(b *bus.EventBus) {
	b.Subscribe(bus.EventTypeRoundTrip, func(e bus.Event) {
		kind, _ := e.Data["kind"].(string)
		outcome, _ := e.Data["outcome"].(string)
		m.RoundTrips.WithLabelValues(kind, outcome).Inc()
		if d, ok := e.Data["duration"].(time.Duration); ok {
			m.RoundTripDuration.WithLabelValues(kind).Observe(d.Seconds())
		}
	})

	b.Subscribe(bus.EventTypeSpeakingStarted, func(bus.Event) {
		m.Utterances.Inc()
		m.Speaking.Set(1)
	})
	b.Subscribe(bus.EventTypeSpeakingStopped, func(e bus.Event) {
		m.Speaking.Set(0)
		if interrupted, _ := e.Data["interrupted"].(bool); interrupted {
			m.InterruptedSpeech.Inc()
		}
	})

	b.Subscribe(bus.EventTypeTranscript, func(bus.Event) { m.Transcripts.Inc() })
	b.Subscribe(bus.EventTypeBusy, func(bus.Event) { m.BusyRejections.Inc() })
	b.Subscribe(bus.EventTypeMessageAppended, func(bus.Event) { m.ConversationLength.Inc() })

	b.Subscribe(bus.EventTypeRemindersChanged, func(e bus.Event) {
		if list, ok := e.Data["reminders"].([]gateway.Reminder); ok {
			m.RemindersCached.Set(float64(len(list)))
		}
		if e.Data["source"] != "refresh" {
			return
		}
		result := "success"
		if ok, _ := e.Data["ok"].(bool); !ok {
			result = "failure"
		}
		m.ReminderRefreshes.WithLabelValues(result).Inc()
	})
}
