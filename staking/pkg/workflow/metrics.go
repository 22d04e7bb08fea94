package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StakeTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "givstream_stake_transitions_total",
			Help: "Total number of stake workflow state transitions",
		},
		[]string{"from", "to"},
	)

	StakeSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "givstream_stake_submissions_total",
			Help: "Total number of stake workflow transaction submissions by outcome",
		},
		[]string{"step", "outcome"}, // outcome: "confirmed", "reverted", "rejected", "error", "skipped"
	)
)
