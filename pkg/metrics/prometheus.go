package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus is a Recorder backed by prometheus collectors.
type Prometheus struct {
	entriesFlushed prometheus.Counter
	eventsFlushed  *prometheus.CounterVec
	overflows      prometheus.Counter
	timeouts       prometheus.Counter
	flushDuration  *prometheus.HistogramVec
}

// NewPrometheus builds a Recorder and registers its collectors on reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		entriesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telemetry",
			Name:      "log_entries_flushed_total",
			Help:      "Log entries handed to a log transport.",
		}),
		eventsFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemetry",
			Name:      "events_flushed_total",
			Help:      "Events handed to the event transport, by topic.",
		}, []string{"topic"}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telemetry",
			Name:      "event_overflow_total",
			Help:      "Event emissions rejected by the deadline admission check.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telemetry",
			Name:      "request_timeouts_total",
			Help:      "Requests that hit their deadline before completing.",
		}),
		flushDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "telemetry",
			Name:      "flush_duration_seconds",
			Help:      "Time spent waiting on a transport during flush.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component"}),
	}

	collectors := []prometheus.Collector{
		p.entriesFlushed, p.eventsFlushed, p.overflows, p.timeouts, p.flushDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) EntriesFlushed(count int) {
	p.entriesFlushed.Add(float64(count))
}

func (p *Prometheus) EventsFlushed(topic string, count int) {
	p.eventsFlushed.WithLabelValues(topic).Add(float64(count))
}

func (p *Prometheus) EventOverflow() {
	p.overflows.Inc()
}

func (p *Prometheus) FlushDuration(component string, seconds float64) {
	p.flushDuration.WithLabelValues(component).Observe(seconds)
}

func (p *Prometheus) RequestTimeout() {
	p.timeouts.Inc()
}
