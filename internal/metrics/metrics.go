package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Auth groups the service's collectors. A nil *Auth records nothing.
type Auth struct {
	loginAttempts   *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	gateRejections  *prometheus.CounterVec
	sweeperDeleted  *prometheus.CounterVec
	sweeperRuns     *prometheus.CounterVec
	sweeperDuration prometheus.Histogram
}

func New(reg prometheus.Registerer) *Auth {
	f := promauto.With(reg)
	return &Auth{
		loginAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_login_attempts_total", Help: "Login attempts by result",
		}, []string{"result"}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_refresh_total", Help: "Refresh token rotations by result",
		}, []string{"result"}),
		gateRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_gate_rejections_total", Help: "Requests rejected by the authorization gate",
		}, []string{"reason"}),
		sweeperDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_sweeper_deleted_total", Help: "Expired tokens deleted by the sweeper",
		}, []string{"kind"}),
		sweeperRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_sweeper_runs_total", Help: "Sweeper runs by result",
		}, []string{"result"}),
		sweeperDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "auth_sweeper_duration_seconds", Help: "Sweeper run duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Auth) Login(result string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(result).Inc()
}

func (m *Auth) Refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Auth) GateRejected(reason string) {
	if m == nil {
		return
	}
	m.gateRejections.WithLabelValues(reason).Inc()
}

func (m *Auth) SweepDeleted(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweeperDeleted.WithLabelValues(kind).Add(float64(n))
}

func (m *Auth) SweepRun(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.sweeperRuns.WithLabelValues(result).Inc()
	m.sweeperDuration.Observe(took.Seconds())
}

// Handler serves the metrics of g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
