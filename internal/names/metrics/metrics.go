package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Transitions         *prometheus.CounterVec
	Failures            *prometheus.CounterVec
	InvariantViolations prometheus.Counter
	DepositsReserved    prometheus.Counter
	DepositsReturned    prometheus.Counter
	DepositsSlashed     prometheus.Counter
	NamedAccounts       prometheus.Gauge
}

// New registers on the default registry. Call it once per process.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dattas_names_transitions_total",
			Help: "Successful registry transitions by event",
		}, []string{"event"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dattas_names_failures_total",
			Help: "Failed registry operations by operation and error code",
		}, []string{"operation", "code"}),
		InvariantViolations: factory.NewCounter(prometheus.CounterOpts{
			Name: "dattas_names_invariant_violations_total",
			Help: "Unreserve calls that could not return the full recorded deposit",
		}),
		DepositsReserved: factory.NewCounter(prometheus.CounterOpts{
			Name: "dattas_names_deposits_reserved_total",
			Help: "Total balance reserved for new names",
		}),
		DepositsReturned: factory.NewCounter(prometheus.CounterOpts{
			Name: "dattas_names_deposits_returned_total",
			Help: "Total balance unreserved by clear_name",
		}),
		DepositsSlashed: factory.NewCounter(prometheus.CounterOpts{
			Name: "dattas_names_deposits_slashed_total",
			Help: "Total balance slashed by kill_name",
		}),
		NamedAccounts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dattas_names_named_accounts_delta",
			Help: "Names created minus names removed since process start",
		}),
	}
}

func (m *Metrics) IncTransition(event string) {
	m.Transitions.WithLabelValues(event).Inc()
}

func (m *Metrics) IncFailure(operation, code string) {
	m.Failures.WithLabelValues(operation, code).Inc()
}

func (m *Metrics) IncInvariantViolation() {
	m.InvariantViolations.Inc()
}

func (m *Metrics) AddReserved(amount uint64) {
	m.DepositsReserved.Add(float64(amount))
}

func (m *Metrics) AddReturned(amount uint64) {
	m.DepositsReturned.Add(float64(amount))
}

func (m *Metrics) AddSlashed(amount uint64) {
	m.DepositsSlashed.Add(float64(amount))
}

func (m *Metrics) NameCreated() { m.NamedAccounts.Inc() }

func (m *Metrics) NameRemoved() { m.NamedAccounts.Dec() }
