package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = Schema{
	Module: "sampler",
	Options: []Option{
		{Name: "interval", Description: "Base interval", Default: "100", Unit: "us", Kind: KindInt},
		{Name: "breaktrace", Description: "Break when latency exceeds", Unit: "us", Kind: KindInt},
		{Name: "cpulist", Description: "CPUs to measure", Kind: KindCPUList},
		{Name: "label", Description: "Free text", Default: "x", Kind: KindString},
	},
}

func TestParseDefaults(t *testing.T) {
	v := testSchema.Defaults()
	assert.Equal(t, "sampler", v.Module())
	n, ok := v.Int("interval")
	assert.True(t, ok)
	assert.Equal(t, 100, n)
	assert.False(t, v.IsSet("interval"))

	_, ok = v.Int("breaktrace")
	assert.False(t, ok, "breaktrace has no default")
	assert.Equal(t, 7, v.IntOr("breaktrace", 7))
	assert.Nil(t, v.CPUs("cpulist"))
	assert.Equal(t, "x", v.String("label"))
}

func TestParseOverrides(t *testing.T) {
	v, err := testSchema.Parse(map[string]string{"interval": " 250 ", "cpulist": "0-2", "breaktrace": "40"})
	require.NoError(t, err)
	assert.Equal(t, 250, v.IntOr("interval", 0))
	assert.True(t, v.IsSet("interval"))
	assert.Equal(t, []int{0, 1, 2}, v.CPUs("cpulist"))
	assert.Equal(t, 40, v.IntOr("breaktrace", 0))
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown":  {"nope": "1"},
		"notInt":   {"interval": "fast"},
		"negative": {"interval": "-5"},
		"badList":  {"cpulist": "a-b"},
	}
	for name, raw := range cases {
		if _, err := testSchema.Parse(raw); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestWithOverridesCopy(t *testing.T) {
	v := testSchema.Defaults()
	w := v.With("cpulist", "3")
	assert.Equal(t, []int{3}, w.CPUs("cpulist"))
	assert.True(t, w.IsSet("cpulist"))
	assert.Nil(t, v.CPUs("cpulist"), "original must stay untouched")
	assert.Equal(t, w, w.With("unknown", "1").With("cpulist", "3"))
}

func TestLoadFileYAML(t *testing.T) {
	content := `
duration: 90s
reportdir: /tmp/run
logging: true
loads:
  cpulist: 2-3
measurement:
  cpulist: 0-1
modules:
  hackbench:
    jobspercore: 3
  cyclictest:
    interval: 200
    breaktrace: ~
`
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	d, err := f.RunDuration()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
	assert.Equal(t, "/tmp/run", f.ReportDir)
	assert.True(t, f.Logging)
	assert.Equal(t, "2-3", f.Loads.CPUList)
	assert.Equal(t, map[string]string{"jobspercore": "3"}, f.ModuleOptions("hackbench"))
	assert.Equal(t, map[string]string{"interval": "200", "breaktrace": ""}, f.ModuleOptions("cyclictest"))
	assert.Nil(t, f.ModuleOptions("missing"))
}

func TestFileValidate(t *testing.T) {
	assert.Error(t, (&File{Duration: "soon"}).Validate())
	assert.Error(t, (&File{Duration: "-1s"}).Validate())
	assert.Error(t, (&File{Loads: SectionConfig{CPUList: "x"}}).Validate())
	assert.NoError(t, (&File{}).Validate())
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
