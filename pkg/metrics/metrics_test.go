package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.LoadSpawned(0)
	m.LoadSpawned(0)
	m.LoadSpawned(1)
	m.SpawnFailed("hackbench", "resource_exhausted")
	m.MalformedRow()
	m.ModuleState("cyclictest", 5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.spawns.WithLabelValues("0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.spawns.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.spawnFailures.WithLabelValues("hackbench", "resource_exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.malformedRows))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.moduleState.WithLabelValues("cyclictest")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.LoadSpawned(0)
	m.SpawnFailed("x", "y")
	m.MalformedRow()
	m.ModuleState("x", 1)
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.WriteFile(filepath.Join(t.TempDir(), "never.prom")))
}

func TestWriteFile(t *testing.T) {
	m := New()
	m.LoadSpawned(3)
	path := filepath.Join(t.TempDir(), "run.prom")
	require.NoError(t, m.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `jitterlens_load_spawns_total{node="3"} 1`), string(data))
}
