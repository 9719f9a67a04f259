package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels for deploys_total.
const (
	ResultSuccess      = "success"
	ResultLookupFailed = "lookup_failed"
	ResultStopTimeout  = "stop_timeout"
	ResultSpawnFailed  = "spawn_failed"
	ResultInvalid      = "invalid"
	ResultCanceled     = "canceled"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	deploys = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "redeployr",
			Subsystem: "deploy",
			Name:      "total",
			Help:      "Number of restart attempts by outcome.",
		}, []string{"port", "result"},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "redeployr",
			Subsystem: "deploy",
			Name:      "stops_total",
			Help:      "Number of previous processes terminated.",
		}, []string{"port", "signal"},
	)
	stopWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "redeployr",
			Subsystem: "deploy",
			Name:      "stop_wait_seconds",
			Help:      "Time between the termination signal and the port being observed free.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"port"},
	)
	spawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "redeployr",
			Subsystem: "deploy",
			Name:      "spawns_total",
			Help:      "Number of successful detached launches.",
		}, []string{"port"},
	)
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "redeployr",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "result"},
	)
	lastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "redeployr",
			Subsystem: "deploy",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful restart per port.",
		}, []string{"port"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{deploys, stops, stopWait, spawns, stageDuration, lastSuccess}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncDeploy(port int, result string) {
	if regOK.Load() {
		deploys.WithLabelValues(strconv.Itoa(port), result).Inc()
	}
}

func IncStop(port int, signal string) {
	if regOK.Load() {
		stops.WithLabelValues(strconv.Itoa(port), signal).Inc()
	}
}

func ObserveStopWait(port int, seconds float64) {
	if regOK.Load() {
		stopWait.WithLabelValues(strconv.Itoa(port)).Observe(seconds)
	}
}

func IncSpawn(port int, startedUnix float64) {
	if regOK.Load() {
		p := strconv.Itoa(port)
		spawns.WithLabelValues(p).Inc()
		lastSuccess.WithLabelValues(p).Set(startedUnix)
	}
}

func ObserveStage(stage, result string, seconds float64) {
	if regOK.Load() {
		stageDuration.WithLabelValues(stage, result).Observe(seconds)
	}
}
