package main

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gitea.kood.tech/petrkubec/match-round/backend/matching"
)

var (
	// roundsTotal counts round runs by outcome: ok, dry_run,
	// insufficient_pool, persistence_failure or error.
	roundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "match_round_runs_total",
			Help: "Total number of matching round runs",
		},
		[]string{"outcome"},
	)

	roundDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "match_round_duration_seconds",
			Help:    "Duration of matching round runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	pairingsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "match_round_pairings_total",
			Help: "Total number of pairings persisted",
		},
	)

	leftoverGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "match_round_leftover",
			Help: "Eligible candidates left unpaired by the latest run",
		},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "match_round_notifications_total",
			Help: "Notification attempts by channel, kind and result",
		},
		[]string{"channel", "kind", "result"},
	)
)

func roundOutcome(res *matching.Result, err error) string {
	switch {
	case errors.Is(err, matching.ErrInsufficientPool):
		return "insufficient_pool"
	case errors.Is(err, matching.ErrPersistence):
		return "persistence_failure"
	case err != nil:
		return "error"
	case res.DryRun:
		return "dry_run"
	}
	return "ok"
}

func observeRound(res *matching.Result, err error, took time.Duration) {
	roundsTotal.WithLabelValues(roundOutcome(res, err)).Inc()
	roundDuration.Observe(took.Seconds())
	if err != nil || res.DryRun {
		return
	}
	pairingsTotal.Add(float64(len(res.Matches)))
	leftoverGauge.Set(float64(res.Leftover))
}
