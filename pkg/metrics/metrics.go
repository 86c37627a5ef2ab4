// Package metrics counts run activity in a private prometheus registry.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricPrefix prefixes every metric name.
const MetricPrefix = "jitterlens_"

// Metrics is safe for concurrent use. A nil *Metrics discards everything.
type Metrics struct {
	registry      *prometheus.Registry
	spawns        *prometheus.CounterVec
	spawnFailures *prometheus.CounterVec
	malformedRows prometheus.Counter
	moduleState   *prometheus.GaugeVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		spawns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "load_spawns_total",
			Help: "Number of load processes started, per NUMA node",
		}, []string{"node"}),
		spawnFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "spawn_failures_total",
			Help: "Number of failed process spawns by module and failure kind",
		}, []string{"module", "kind"}),
		malformedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "malformed_rows_total",
			Help: "Number of sampler output rows that could not be parsed",
		}),
		moduleState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricPrefix + "module_state",
			Help: "Current lifecycle state of each module as its ordinal",
		}, []string{"module"}),
	}
	m.registry.MustRegister(m.spawns, m.spawnFailures, m.malformedRows, m.moduleState)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// LoadSpawned counts a load process start on node.
func (m *Metrics) LoadSpawned(node int) {
	if m == nil {
		return
	}
	m.spawns.WithLabelValues(strconv.Itoa(node)).Inc()
}

// SpawnFailed counts a failed spawn by module and failure kind.
func (m *Metrics) SpawnFailed(module, kind string) {
	if m == nil {
		return
	}
	m.spawnFailures.WithLabelValues(module, kind).Inc()
}

// MalformedRow counts a sampler row that could not be parsed.
func (m *Metrics) MalformedRow() {
	if m == nil {
		return
	}
	m.malformedRows.Inc()
}

// ModuleState records the lifecycle state ordinal of module.
func (m *Metrics) ModuleState(module string, state int) {
	if m == nil {
		return
	}
	m.moduleState.WithLabelValues(module).Set(float64(state))
}

// WriteFile dumps the registry in the text exposition format.
func (m *Metrics) WriteFile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
