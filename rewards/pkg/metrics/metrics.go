package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SettlementTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pledge_rewards_settlement_total",
			Help: "Total number of settlement attempts by outcome",
		},
		[]string{"outcome"},
	)

	SettlementDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pledge_rewards_settlement_duration_seconds",
			Help:    "Duration of settlement attempts",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
	)

	BackfillPairsConsidered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pledge_rewards_backfill_pairs_considered_total",
			Help: "Total number of (commitment, milestone) pairs examined by the backfill driver",
		},
	)

	BackfillDistributionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pledge_rewards_backfill_distributions_created_total",
			Help: "Total number of distributions created by the backfill driver",
		},
	)

	BackfillErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pledge_rewards_backfill_errors_total",
			Help: "Total number of per-pair errors skipped by the backfill driver",
		},
	)
)
