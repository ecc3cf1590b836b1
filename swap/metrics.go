package swap

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives engine counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	CandidatesEvaluated(algorithm Algorithm, evaluated, accepted int)
	SwapApplied(algorithm Algorithm)
	TurnCompleted(algorithm Algorithm, swaps int, seconds float64)
	BatchTimedOut(algorithm Algorithm)
	RunFinished(status Status)
}

// NopMetrics discards everything
type NopMetrics struct{}

var _ Metrics = NopMetrics{}

func (NopMetrics) CandidatesEvaluated(Algorithm, int, int) {}
func (NopMetrics) SwapApplied(Algorithm)                   {}
func (NopMetrics) TurnCompleted(Algorithm, int, float64)   {}
func (NopMetrics) BatchTimedOut(Algorithm)                 {}
func (NopMetrics) RunFinished(Status)                      {}

// PrometheusMetrics implements Metrics backed by Prometheus.
type PrometheusMetrics struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	evaluated     *prometheus.CounterVec
	accepted      *prometheus.CounterVec
	swaps         *prometheus.CounterVec
	turns         *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	swapsPerTurn  *prometheus.HistogramVec
	batchTimeouts *prometheus.CounterVec
	runs          *prometheus.CounterVec
}

var _ Metrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a collector. A nil registerer uses
// prometheus.DefaultRegisterer; an empty namespace uses "parcelswap".
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "parcelswap"
	}
	return &PrometheusMetrics{reg: reg, namespace: namespace}
}

func (p *PrometheusMetrics) ensureRegistered() {
	p.once.Do(func() {
		p.evaluated = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "candidates_evaluated_total",
			Help:      "Candidate swaps evaluated by algorithm.",
		}, []string{"algorithm"})
		p.accepted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "candidates_accepted_total",
			Help:      "Candidate swaps that passed feasibility by algorithm.",
		}, []string{"algorithm"})
		p.swaps = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "swaps_applied_total",
			Help:      "Swaps applied by algorithm.",
		}, []string{"algorithm"})
		p.turns = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Completed turns by algorithm.",
		}, []string{"algorithm"})
		p.turnDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a turn by algorithm.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"algorithm"})
		p.swapsPerTurn = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "swaps_per_turn",
			Help:      "Swaps applied per turn by algorithm.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}, []string{"algorithm"})
		p.batchTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "batch_timeouts_total",
			Help:      "Parallel evaluation batches cut short by their deadline.",
		}, []string{"algorithm"})
		p.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Finished runs by terminal status.",
		}, []string{"status"})

		p.reg.MustRegister(p.evaluated, p.accepted, p.swaps, p.turns,
			p.turnDuration, p.swapsPerTurn, p.batchTimeouts, p.runs)
	})
}

func (p *PrometheusMetrics) CandidatesEvaluated(algorithm Algorithm, evaluated, accepted int) {
	p.ensureRegistered()
	p.evaluated.WithLabelValues(string(algorithm)).Add(float64(evaluated))
	p.accepted.WithLabelValues(string(algorithm)).Add(float64(accepted))
}

func (p *PrometheusMetrics) SwapApplied(algorithm Algorithm) {
	p.ensureRegistered()
	p.swaps.WithLabelValues(string(algorithm)).Inc()
}

func (p *PrometheusMetrics) TurnCompleted(algorithm Algorithm, swaps int, seconds float64) {
	p.ensureRegistered()
	p.turns.WithLabelValues(string(algorithm)).Inc()
	p.turnDuration.WithLabelValues(string(algorithm)).Observe(seconds)
	p.swapsPerTurn.WithLabelValues(string(algorithm)).Observe(float64(swaps))
}

func (p *PrometheusMetrics) BatchTimedOut(algorithm Algorithm) {
	p.ensureRegistered()
	p.batchTimeouts.WithLabelValues(string(algorithm)).Inc()
}

func (p *PrometheusMetrics) RunFinished(status Status) {
	p.ensureRegistered()
	p.runs.WithLabelValues(string(status)).Inc()
}
