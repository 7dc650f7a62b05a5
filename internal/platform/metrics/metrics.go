// Package metrics expone contadores Prometheus del subsistema de consistencia.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LockAcquireTotal por resultado: acquired, refreshed, conflict.
	LockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tnr",
			Subsystem: "locks",
			Name:      "acquire_total",
			Help:      "Edit lock acquisition attempts by result",
		},
		[]string{"result"},
	)

	LockReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tnr",
			Subsystem: "locks",
			Name:      "reaped_total",
			Help:      "Expired edit locks removed by the reaper",
		},
	)

	FieldEditsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tnr",
			Subsystem: "edits",
			Name:      "fields_total",
			Help:      "Field edits written, by entity type",
		},
		[]string{"entity_type"},
	)

	MergeResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tnr",
			Subsystem: "merges",
			Name:      "resolutions_total",
			Help:      "Candidate pair resolutions by decision and result",
		},
		[]string{"decision", "result"},
	)

	CandidatePairsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tnr",
			Subsystem: "merges",
			Name:      "candidates_submitted_total",
			Help:      "Candidate pairs received from the matcher feed, by outcome",
		},
		[]string{"outcome"},
	)

	MatchProbability = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tnr",
			Subsystem: "scoring",
			Name:      "match_probability",
			Help:      "Match probability of scored candidate pairs",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.65, 0.8, 0.9, 0.95, 0.99},
		},
		[]string{"entity_type"},
	)

	OwnershipTransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tnr",
			Subsystem: "ownership",
			Name:      "transfers_total",
			Help:      "Cat ownership/caretaker transfers by relationship type",
		},
		[]string{"relationship_type"},
	)
)
