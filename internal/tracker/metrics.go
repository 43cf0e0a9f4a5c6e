package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesAlignedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dvo_frames_aligned_total",
			Help: "Total number of frames run through Align",
		},
		[]string{"status"},
	)

	alignDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dvo_align_duration_seconds",
			Help:    "Wall-clock duration of one Align call",
			Buckets: prometheus.DefBuckets,
		},
	)

	levelIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dvo_level_iterations",
			Help:    "Gauss-Newton iterations spent per pyramid level",
			Buckets: []float64{1, 2, 3, 5, 8, 12, 16, 20, 30, 50},
		},
		[]string{"level"},
	)

	finalError = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dvo_final_photometric_error",
			Help:    "Mean squared photometric error at the finest aligned level",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		},
	)
)
