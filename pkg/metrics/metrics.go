// Package metrics exposes the pipeline counters. Skipped lines are the main
// signal that the report's column layout has drifted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExtractionTier = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "focus_extraction_tier_total",
		Help: "Documents whose final text came from each extraction tier.",
	}, []string{"tier"})

	TierRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "focus_extraction_rejections_total",
		Help: "Extraction tier results rejected, by reason.",
	}, []string{"tier", "reason"})

	LinesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "focus_lines_skipped_total",
		Help: "Indicator lines dropped because the value count did not match the year columns.",
	})

	Records = promauto.NewCounter(prometheus.CounterOpts{
		Name: "focus_records_total",
		Help: "Indicator records emitted.",
	})

	Documents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "focus_documents_total",
		Help: "Processed documents by outcome.",
	}, []string{"status"})

	DocumentSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "focus_document_duration_seconds",
		Help:    "Time spent extracting and parsing one document.",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
	}, []string{"tier"})
)

// Document outcomes.
const (
	StatusParsed    = "parsed"
	StatusNoHeader  = "no_header"
	StatusFailed    = "failed"
	StatusNoRecords = "no_records"
)
