package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "protoq"

// Skip reasons.
const (
	ReasonType      = "type"
	ReasonPredicate = "predicate"
)

// Metrics holds the Prometheus collectors for stream queries.
type Metrics struct {
	RecordsDecoded prometheus.Counter
	RecordsYielded prometheus.Counter
	RecordsSkipped *prometheus.CounterVec
	Synthesis      *prometheus.CounterVec
	ScanDuration   prometheus.Histogram
	DecodeErrors   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_decoded_total",
			Help:      "Records decoded from streams.",
		}),
		RecordsYielded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_yielded_total",
			Help:      "Records that passed type restriction and predicate.",
		}),
		RecordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Records skipped, by reason.",
		}, []string{"reason"}),
		Synthesis: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_total",
			Help:      "Reduced hierarchy lookups, by result (hit or miss).",
		}, []string{"result"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of stream scans.",
			Buckets:   prometheus.DefBuckets,
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Scans aborted by a stream decode error.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RecordsDecoded,
			m.RecordsYielded,
			m.RecordsSkipped,
			m.Synthesis,
			m.ScanDuration,
			m.DecodeErrors,
		)
	}
	return m
}

// ObserveSynthesis counts one reduced hierarchy lookup.
func (m *Metrics) ObserveSynthesis(cached bool) {
	result := "miss"
	if cached {
		result = "hit"
	}
	m.Synthesis.WithLabelValues(result).Inc()
}

// ObserveScan records the counters of one finished scan.
func (m *Metrics) ObserveScan(decoded, typeSkipped, filtered, yielded int64, elapsed time.Duration, failed bool) {
	m.RecordsDecoded.Add(float64(decoded))
	m.RecordsYielded.Add(float64(yielded))
	m.RecordsSkipped.WithLabelValues(ReasonType).Add(float64(typeSkipped))
	m.RecordsSkipped.WithLabelValues(ReasonPredicate).Add(float64(filtered))
	m.ScanDuration.Observe(elapsed.Seconds())
	if failed {
		m.DecodeErrors.Inc()
	}
}
