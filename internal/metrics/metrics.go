package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	jobsCreated    *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	jobsRejected   prometheus.Counter
	inFlight       prometheus.Gauge
	workerDuration prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		jobsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loggenie_jobs_created_total",
			Help: "Decryption jobs accepted, by source.",
		}, []string{"source"}),
		jobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loggenie_jobs_finished_total",
			Help: "Decryption jobs that reached a terminal status.",
		}, []string{"status"}),
		jobsRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "loggenie_jobs_rejected_total",
			Help: "Decryption requests rejected because the queue was full.",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "loggenie_jobs_in_flight",
			Help: "Worker processes currently running.",
		}),
		// 100ms .. ~27min
		workerDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "loggenie_worker_duration_seconds",
			Help:    "Wall time of worker invocations.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15),
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loggenie_http_requests_total",
			Help: "HTTP requests by status code, method and route.",
		}, []string{"code", "method", "route"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loggenie_http_request_duration_seconds",
			Help:    "HTTP request latency by status code, method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"code", "method", "route"}),
	}
}

func (m *Metrics) JobCreated(source string) { m.jobsCreated.WithLabelValues(source).Inc() }
func (m *Metrics) JobFinished(status string) { m.jobsFinished.WithLabelValues(status).Inc() }
func (m *Metrics) JobRejected() { m.jobsRejected.Inc() }
func (m *Metrics) WorkerStarted() { m.inFlight.Inc() }

func (m *Metrics) WorkerDone(d time.Duration) {
	m.inFlight.Dec()
	m.workerDuration.Observe(d.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

// Middleware records every request under its matched ServeMux pattern, so
// ids in paths do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		code := strconv.Itoa(rec.status)
		m.httpRequests.WithLabelValues(code, r.Method, route).Inc()
		m.httpLatency.WithLabelValues(code, r.Method, route).Observe(time.Since(start).Seconds())
	})
}
