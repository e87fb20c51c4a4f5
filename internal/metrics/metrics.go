package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	channelCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctiharness",
			Subsystem: "channel",
			Name:      "commands_total",
			Help:      "Control channel commands by result.",
		}, []string{"result"},
	)
	stateWaits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctiharness",
			Subsystem: "target",
			Name:      "state_waits_total",
			Help:      "Completed state waits by core, expected state and outcome.",
		}, []string{"core", "state", "result"},
	)
	stateWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ctiharness",
			Subsystem: "target",
			Name:      "state_wait_seconds",
			Help:      "Time spent waiting for a core to reach a state.",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10},
		}, []string{"core", "state"},
	)
	scenarioRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctiharness",
			Subsystem: "scenario",
			Name:      "runs_total",
			Help:      "Scenario executions by letter and result.",
		}, []string{"scenario", "result"},
	)
	scenarioSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ctiharness",
			Subsystem: "scenario",
			Name:      "duration_seconds",
			Help:      "Scenario wall time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scenario"},
	)
	serverStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ctiharness",
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Debug server processes spawned.",
		},
	)
	serverStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctiharness",
			Subsystem: "server",
			Name:      "stops_total",
			Help:      "Debug server stops by mode (graceful or kill).",
		}, []string{"mode"},
	)
	serverUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ctiharness",
			Subsystem: "server",
			Name:      "up",
			Help:      "1 while the supervised debug server is running.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{channelCommands, stateWaits, stateWaitSeconds, scenarioRuns, scenarioSeconds, serverStarts, serverStops, serverUp}
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

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// WriteTextfile dumps the default gatherer in text exposition format, suitable for a
// node_exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncChannelCommand(result string) {
	if regOK.Load() {
		channelCommands.WithLabelValues(result).Inc()
	}
}

func ObserveStateWait(core, state, result string, seconds float64) {
	if regOK.Load() {
		stateWaits.WithLabelValues(core, state, result).Inc()
		stateWaitSeconds.WithLabelValues(core, state).Observe(seconds)
	}
}

func ObserveScenario(letter, result string, seconds float64) {
	if regOK.Load() {
		scenarioRuns.WithLabelValues(letter, result).Inc()
		scenarioSeconds.WithLabelValues(letter).Observe(seconds)
	}
}

func IncServerStart() {
	if regOK.Load() {
		serverStarts.Inc()
		serverUp.Set(1)
	}
}

func IncServerStop(mode string) {
	if regOK.Load() {
		serverStops.WithLabelValues(mode).Inc()
		serverUp.Set(0)
	}
}
