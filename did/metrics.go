package did

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics represents the submission metrics
type Metrics struct {
	// Submissions counts finished submissions by outcome
	Submissions *prometheus.CounterVec
	// InclusionSeconds observes the time from submission to inclusion
	InclusionSeconds prometheus.Histogram
	// CatalogBuilds counts type catalog constructions
	CatalogBuilds prometheus.Counter
}

const (
	outcomeIncluded = "included"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

// GetPrometheusMetrics returns the submission metrics registered with reg.
func GetPrometheusMetrics(reg prometheus.Registerer, namespace string, labelsWithValues ...string) (*Metrics, error) {
	constLabels := prometheus.Labels{}
	for i := 0; i+1 < len(labelsWithValues); i += 2 {
		constLabels[labelsWithValues[i]] = labelsWithValues[i+1]
	}

	m := newMetrics(namespace, constLabels)

	for _, c := range []prometheus.Collector{m.Submissions, m.InclusionSeconds, m.CatalogBuilds} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// NilMetrics will return the non operational metrics
func NilMetrics() *Metrics {
	return newMetrics("", nil)
}

func newMetrics(namespace string, constLabels prometheus.Labels) *Metrics {
	return &Metrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "did",
			Name:        "submissions_total",
			Help:        "Number of finished extrinsic submissions by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		InclusionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "did",
			Name:        "inclusion_seconds",
			Help:        "Time from submission to block inclusion.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 8),
		}),
		CatalogBuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "did",
			Name:        "catalog_builds_total",
			Help:        "Number of type catalogs built from runtime metadata.",
			ConstLabels: constLabels,
		}),
	}
}
