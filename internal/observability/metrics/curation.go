package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "topeq",
		Name:      "submissions_scored_total",
		Help:      "Submissions scored, by scoring method.",
	}, []string{"method"})

	advisoryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "topeq",
		Name:      "advisory_failures_total",
		Help:      "Advisory scorer calls that returned no usable scores.",
	})

	promotions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "topeq",
		Name:      "promotions_total",
		Help:      "Submissions promoted into the ranked set.",
	})

	certificates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "topeq",
		Name:      "certificates_exported_total",
		Help:      "Certificates written by the exporter, by tier.",
	}, []string{"tier"})

	ledgerSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "topeq",
		Name:      "ledger_submissions_total",
		Help:      "Signed certificate transactions sent to the ledger, by outcome.",
	}, []string{"outcome"})

	reconcileIssues = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "topeq",
		Name:      "reconcile_issues",
		Help:      "Issues found by the most recent reconcile run, by severity.",
	}, []string{"severity"})

	queueJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "topeq",
		Name:      "queue_jobs_total",
		Help:      "Jobs handled by the single-writer worker, by kind and outcome.",
	}, []string{"kind", "outcome"})
)

// MethodLabel drops the model suffix from a review method so label cardinality stays bounded.
func MethodLabel(method string) string {
	if idx := strings.Index(method, " ("); idx > 0 {
		return method[:idx]
	}
	if method == "" {
		return "unknown"
	}
	return method
}

// ObserveScore counts one scored submission.
func ObserveScore(method string) {
	scored.WithLabelValues(MethodLabel(method)).Inc()
}

// ObserveAdvisoryFailure counts an advisory call that fell back to heuristic-only.
func ObserveAdvisoryFailure() {
	advisoryFailures.Inc()
}

// ObservePromotion counts one promotion.
func ObservePromotion() {
	promotions.Inc()
}

// ObserveExport counts exported certificates for a tier.
func ObserveExport(tier string, count int) {
	certificates.WithLabelValues(tier).Add(float64(count))
}

// ObserveLedgerSubmission counts a ledger transaction outcome.
func ObserveLedgerSubmission(ok bool) {
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	ledgerSubmissions.WithLabelValues(outcome).Inc()
}

// SetReconcileIssues replaces the per-severity issue gauges.
func SetReconcileIssues(bySeverity map[string]int) {
	reconcileIssues.Reset()
	for severity, count := range bySeverity {
		reconcileIssues.WithLabelValues(severity).Set(float64(count))
	}
}

// ObserveJob counts a queue job outcome.
func ObserveJob(kind, outcome string) {
	queueJobs.WithLabelValues(kind, outcome).Inc()
}
