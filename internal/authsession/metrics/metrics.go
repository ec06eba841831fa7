package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the authorization session module.
// Tracks session lifecycle counts and critical path durations.
type Metrics struct {
	SessionsInitiated  *prometheus.CounterVec
	Decisions          *prometheus.CounterVec
	Redemptions        *prometheus.CounterVec
	SlowDowns          prometheus.Counter
	SessionsSwept      prometheus.Counter
	InitiateDuration   prometheus.Histogram
	RedemptionDuration prometheus.Histogram
}

// New creates a new Metrics instance with all session module metrics registered.
func New() *Metrics {
	return &Metrics{
		SessionsInitiated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mirpass_auth_sessions_initiated_total",
			Help: "Total number of authorization sessions initiated, by flow",
		}, []string{"flow"}),
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mirpass_auth_decisions_total",
			Help: "Total number of user decisions recorded, by outcome",
		}, []string{"decision"}),
		Redemptions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mirpass_auth_redemptions_total",
			Help: "Total number of code redemption attempts, by flow and result",
		}, []string{"flow", "result"}),
		SlowDowns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mirpass_auth_slow_downs_total",
			Help: "Total number of device polls rejected for polling too fast",
		}),
		SessionsSwept: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mirpass_auth_sessions_swept_total",
			Help: "Total number of expired sessions removed by the sweeper",
		}),
		InitiateDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mirpass_auth_initiate_duration_seconds",
			Help:    "Duration of session initiation (client resolution plus store write)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		RedemptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mirpass_auth_redemption_duration_seconds",
			Help:    "Duration of code redemption (the token endpoint critical path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementInitiated records a session initiation for the given flow.
func (m *Metrics) IncrementInitiated(flow string) {
	m.SessionsInitiated.WithLabelValues(flow).Inc()
}

// IncrementDecision records a recorded user decision ("authorized" or "denied").
func (m *Metrics) IncrementDecision(decision string) {
	m.Decisions.WithLabelValues(decision).Inc()
}

// IncrementRedemption records a redemption attempt outcome.
func (m *Metrics) IncrementRedemption(flow, result string) {
	m.Redemptions.WithLabelValues(flow, result).Inc()
}

// IncrementSlowDown records a device poll that arrived before the interval.
func (m *Metrics) IncrementSlowDown() {
	m.SlowDowns.Inc()
}

// AddSwept records how many sessions a sweep pass removed.
func (m *Metrics) AddSwept(n int) {
	m.SessionsSwept.Add(float64(n))
}

// ObserveInitiate records the duration of a session initiation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveInitiate(start time.Time) {
	m.InitiateDuration.Observe(time.Since(start).Seconds())
}

// ObserveRedemption records the duration of a redemption attempt.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveRedemption(start time.Time) {
	m.RedemptionDuration.Observe(time.Since(start).Seconds())
}
