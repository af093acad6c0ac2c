package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rewards_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rewards_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	eligibilityChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_layer",
			Subsystem: "evolution",
			Name:      "eligibility_checks_total",
			Help:      "Eligibility evaluations by outcome.",
		},
		[]string{"eligible"},
	)

	evolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_layer",
			Subsystem: "evolution",
			Name:      "evolutions_total",
			Help:      "Successful evolutions by drawn rarity tier.",
		},
		[]string{"rarity"},
	)

	evolutionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_layer",
			Subsystem: "evolution",
			Name:      "rejections_total",
			Help:      "Evolution attempts that did not produce a record, by reason.",
		},
		[]string{"reason"},
	)

	claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_layer",
			Subsystem: "claims",
			Name:      "attempts_total",
			Help:      "Claim attempts by result.",
		},
		[]string{"result"},
	)

	claimedAmount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rewards_layer",
			Subsystem: "claims",
			Name:      "amount_total",
			Help:      "Sum of all successfully claimed earnings.",
		},
	)

	claimRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rewards_layer",
			Subsystem: "claims",
			Name:      "cas_retries_total",
			Help:      "Claim baseline compare-and-swap retries.",
		},
	)

	statsSourceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_layer",
			Subsystem: "stats",
			Name:      "source_failures_total",
			Help:      "Stats collaborator failures by source.",
		},
		[]string{"source"},
	)

	statsDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rewards_layer",
			Subsystem: "stats",
			Name:      "collect_duration_seconds",
			Help:      "Duration of a full stats collection.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_layer",
			Subsystem: "notify",
			Name:      "events_total",
			Help:      "Outbound notifications by kind and result.",
		},
		[]string{"kind", "result"},
	)

	registryReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_layer",
			Subsystem: "registry",
			Name:      "reloads_total",
			Help:      "Catalog reloads by outcome.",
		},
		[]string{"success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		eligibilityChecks,
		evolutions,
		evolutionRejections,
		claims,
		claimedAmount,
		claimRetries,
		statsSourceFailures,
		statsDuration,
		notifications,
		registryReloads,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// pathFor maps a request to a low-cardinality label; nil uses canonicalPath.
func InstrumentHandler(next http.Handler, pathFor func(*http.Request) string) http.Handler {
	if pathFor == nil {
		pathFor = func(r *http.Request) string { return canonicalPath(r.URL.Path) }
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := pathFor(r)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordEligibilityCheck counts one evaluation.
func RecordEligibilityCheck(eligible bool) {
	eligibilityChecks.WithLabelValues(strconv.FormatBool(eligible)).Inc()
}

// RecordEvolution counts a created evolution record.
func RecordEvolution(rarity string) {
	if rarity == "" {
		rarity = "unspecified"
	}
	evolutions.WithLabelValues(rarity).Inc()
}

// RecordEvolutionRejected counts an evolution attempt that was refused.
func RecordEvolutionRejected(reason string) {
	evolutionRejections.WithLabelValues(reason).Inc()
}

// RecordClaim counts a claim attempt; amount is only added for successes.
func RecordClaim(result string, amount float64) {
	claims.WithLabelValues(result).Inc()
	if result == "success" && amount > 0 {
		claimedAmount.Add(amount)
	}
}

// RecordClaimRetry counts a lost compare-and-swap that was retried.
func RecordClaimRetry() {
	claimRetries.Inc()
}

// RecordStatsSourceFailure counts a failed stats collaborator call.
func RecordStatsSourceFailure(source string) {
	statsSourceFailures.WithLabelValues(source).Inc()
}

// RecordStatsCollection observes the wall time of a stats fan-out.
func RecordStatsCollection(duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	statsDuration.Observe(duration.Seconds())
}

// RecordNotification counts an outbound notification.
func RecordNotification(kind, result string) {
	notifications.WithLabelValues(kind, result).Inc()
}

// RecordRegistryReload counts a catalog reload attempt.
func RecordRegistryReload(success bool) {
	registryReloads.WithLabelValues(strconv.FormatBool(success)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "positions" {
		if len(parts) == 3 {
			return "/v1/positions/:position"
		}
		return "/v1/positions/:position/" + parts[3]
	}
	return "/" + parts[0]
}
