package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "analysis_duration_seconds",
		Help:    "Histogram of analysis execution times",
		Buckets: prometheus.DefBuckets,
	}, []string{"analysis"})

	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analyses_total",
		Help: "The total number of analyses run",
	}, []string{"analysis"})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_errors_total",
		Help: "Total number of validation errors",
	}, []string{"operation", "error_type"})

	RankingCells = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ranking_cells_total",
		Help: "Total number of (layer, position) ranking cells computed",
	})

	SequenceLengthHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sequence_length_tokens",
		Help:    "Distribution of analyzed sequence lengths",
		Buckets: []float64{8, 16, 32, 64, 128, 256, 512, 1024, 2048},
	})

	// ===== Factorization Metrics =====

	NMFIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nmf_iterations",
		Help:    "Number of multiplicative-update iterations per NMF fit",
		Buckets: []float64{10, 25, 50, 100, 200, 300, 400, 500},
	})

	NMFDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "nmf_fit_duration_seconds",
		Help: "Duration of NMF fits",
	})

	NMFComponentCap = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nmf_component_cap_total",
		Help: "Count of fits where n_components was capped to the position count",
	})

	NMFReconstructionError = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nmf_reconstruction_error",
		Help:    "Relative Frobenius reconstruction error at end of fit",
		Buckets: []float64{0, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	// ===== Export Metrics =====

	ExportedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exported_records_total",
		Help: "Total number of Arrow records exported",
	}, []string{"sink"})
)

// RecordAnalysis observes one completed analysis run.
func RecordAnalysis(name string, duration time.Duration) {
	AnalysesTotal.WithLabelValues(name).Inc()
	AnalysisDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordValidationError counts a rejected request by operation and error type.
func RecordValidationError(operation, errorType string) {
	ValidationErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordNMFFit observes one completed factorization.
func RecordNMFFit(iterations int, relErr float64, capped bool, duration time.Duration) {
	NMFIterations.Observe(float64(iterations))
	NMFDuration.Observe(duration.Seconds())
	NMFReconstructionError.Observe(relErr)
	if capped {
		NMFComponentCap.Inc()
	}
}

// RecordRankingCells counts computed ranking matrix cells.
func RecordRankingCells(n int) {
	RankingCells.Add(float64(n))
}

// RecordExport counts records exported to a sink ("ipc" or "flight").
func RecordExport(sink string, n int) {
	ExportedRecords.WithLabelValues(sink).Add(float64(n))
}
