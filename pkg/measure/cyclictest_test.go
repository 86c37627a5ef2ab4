package measure

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/srodi/jitterlens/pkg/config"
	"github.com/srodi/jitterlens/pkg/events"
	"github.com/srodi/jitterlens/pkg/metrics"
	"github.com/srodi/jitterlens/pkg/proc"
	"github.com/srodi/jitterlens/pkg/types"
)

// fakeSampler writes output to the capture file when started and exits on
// the first signal unless stubborn.
type fakeSampler struct {
	output   string
	stubborn bool
	err      error

	spec proc.Spec
	proc *fakeProc
}

func (s *fakeSampler) Spawn(spec proc.Spec) (proc.Process, error) {
	if s.err != nil {
		return nil, s.err
	}
	if _, err := spec.Stdout.WriteString(s.output); err != nil {
		return nil, err
	}
	s.spec = spec
	s.proc = &fakeProc{pid: 4242, stubborn: s.stubborn}
	return s.proc, nil
}

type fakeProc struct {
	pid      int
	stubborn bool

	mu      sync.Mutex
	exited  bool
	signals []os.Signal
}

func (p *fakeProc) Pid() int { return p.pid }

func (p *fakeProc) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

func (p *fakeProc) Signal(sig os.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, sig)
	if !p.stubborn || sig == unix.SIGKILL {
		p.exited = true
	}
	return nil
}

func (p *fakeProc) Wait(time.Duration) bool { return p.Exited() }

func (p *fakeProc) ExitCode() int { return 0 }

func stubCores(t *testing.T, online, affinity []int) {
	t.Helper()
	origOnline, origAff, origModels := onlineCPUs, affinityCPUs, cpuModels
	onlineCPUs = func() ([]int, error) { return online, nil }
	affinityCPUs = func() ([]int, error) {
		if affinity == nil {
			return nil, errors.New("unsupported")
		}
		return affinity, nil
	}
	cpuModels = func(context.Context) (map[int]string, error) {
		return map[int]string{0: "Test CPU", 1: "Test CPU", 2: "Test CPU", 3: "Test CPU"}, nil
	}
	t.Cleanup(func() { onlineCPUs, affinityCPUs, cpuModels = origOnline, origAff, origModels })
}

func stubPath(t *testing.T) {
	t.Helper()
	orig := proc.LookPath
	proc.LookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	t.Cleanup(func() { proc.LookPath = orig })
}

func stubMounts(t *testing.T, mounts string) (written *[]string) {
	t.Helper()
	origRead, origWrite := mountReadFile, traceWrite
	var paths []string
	mountReadFile = func(string) ([]byte, error) { return []byte(mounts), nil }
	traceWrite = func(path string, _ []byte, _ os.FileMode) error {
		paths = append(paths, path)
		return nil
	}
	t.Cleanup(func() { mountReadFile, traceWrite = origRead, origWrite })
	return &paths
}

func opts(t *testing.T, raw map[string]string) *config.Values {
	t.Helper()
	v, err := Schema.Parse(raw)
	require.NoError(t, err)
	return v
}

func runEngine(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.Setup(ctx))
	require.NoError(t, e.Build(ctx))
	require.NoError(t, e.Prepare(ctx))
	require.NoError(t, e.Task(ctx))
	require.NoError(t, e.Cleanup(ctx))
}

func TestCommandLineAllCores(t *testing.T) {
	stubCores(t, []int{0, 1, 2, 3}, nil)
	stubPath(t)
	e := New(Config{Options: opts(t, nil), ReportDir: t.TempDir(), Spawner: &fakeSampler{}})
	ctx := context.Background()
	require.NoError(t, e.Setup(ctx))
	require.NoError(t, e.Prepare(ctx))
	t.Cleanup(func() { _ = e.Cleanup(ctx) })

	assert.Equal(t, "cyclictest -i100 -qmu -h2000 -p95 -t -a", e.CommandLine())
	assert.Equal(t, []int{0, 1, 2, 3}, e.Cores())
}

func TestCommandLineSparseWithBreaktrace(t *testing.T) {
	stubCores(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, []int{0, 1, 2, 3, 4, 5})
	stubPath(t)
	e := New(Config{
		Options:   opts(t, map[string]string{"cpulist": "2-7", "breaktrace": "150", "threads": "2", "priority": "80", "buckets": "500"}),
		ReportDir: t.TempDir(),
		Spawner:   &fakeSampler{},
	})
	ctx := context.Background()
	require.NoError(t, e.Setup(ctx))
	require.NoError(t, e.Prepare(ctx))
	t.Cleanup(func() { _ = e.Cleanup(ctx) })

	assert.Equal(t, []int{2, 3, 4, 5}, e.Cores())
	assert.Equal(t, "cyclictest -i100 -qmu -h500 -p80 -t4 -a2-5 -t2 -b150 --tracemark", e.CommandLine())
}

func TestSetupWithoutCoresFails(t *testing.T) {
	stubCores(t, []int{0, 1}, []int{2, 3})
	e := New(Config{Options: opts(t, nil)})
	err := e.Setup(context.Background())
	assert.ErrorIs(t, err, types.ErrConfigurationInsufficient)
}

func TestRowsAccumulatePerCoreAndSystem(t *testing.T) {
	stubCores(t, []int{1, 2}, nil)
	stubPath(t)
	sp := &fakeSampler{output: "# /dev/cpu_dma_latency set to 0us\n0 5 3\n1 2 7\n# Max Latencies: 00001 00001\n"}
	e := New(Config{Options: opts(t, nil), ReportDir: t.TempDir(), Spawner: sp})
	runEngine(t, e)

	c1, ok := e.Summary(1)
	require.True(t, ok)
	c2, _ := e.Summary(2)
	sys := e.SystemSummary()

	assert.Equal(t, uint64(7), c1.Samples)
	assert.Equal(t, uint64(10), c2.Samples)
	assert.Equal(t, uint64(17), sys.Samples)
	assert.Equal(t, 0, sys.Min)
	assert.Equal(t, 1, sys.Max)
	assert.InDelta(t, 9.0/17.0, sys.Mean, 1e-9)
	assert.InDelta(t, 2.0/7.0, c1.Mean, 1e-9)
	assert.InDelta(t, 7.0/10.0, c2.Mean, 1e-9)
	assert.Equal(t, 0, c1.Mode)
	assert.Equal(t, 1, c2.Mode)
}

func TestMalformedRowsAreSkipped(t *testing.T) {
	stubCores(t, []int{0, 1}, nil)
	stubPath(t)
	m := metrics.New()
	sp := &fakeSampler{output: "\n0 1 1\nT: 0 ( 1234) P:95\n3 x 1\n4 1\n5 2 2\n"}
	e := New(Config{Options: opts(t, nil), ReportDir: t.TempDir(), Spawner: sp, Metrics: m})
	runEngine(t, e)

	sys := e.SystemSummary()
	assert.Equal(t, uint64(6), sys.Samples)
	assert.Equal(t, 5, sys.Max)
	assert.Equal(t, 2, e.result.rows)
	assert.Len(t, e.result.malformed, 3)
}

func TestBreakValueProducesAbortReport(t *testing.T) {
	stubCores(t, []int{0}, nil)
	stubPath(t)
	written := stubMounts(t, "proc /proc proc rw 0 0\ndebugfs /sys/kernel/debug debugfs rw 0 0\n")
	bus := events.NewBus()
	sub := bus.Subscribe()
	sp := &fakeSampler{output: "0 3\n1 1\n# Break thread: 1234\n# Break value: 42\n"}
	e := New(Config{
		Options:   opts(t, map[string]string{"breaktrace": "30"}),
		ReportDir: t.TempDir(),
		Spawner:   sp,
		Bus:       bus,
	})
	runEngine(t, e)

	assert.Equal(t, []string{filepath.Join("/sys/kernel/debug", "tracing", "trace")}, *written)

	n, err := e.Report()
	require.NoError(t, err)
	abort := n.Child("abort_report")
	require.NotNil(t, abort)
	reason, _ := abort.Attr("reason")
	assert.Equal(t, "breaktrace", reason)
	bt := abort.Child("breaktrace")
	require.NotNil(t, bt)
	measured, _ := bt.Attr("measured_latency")
	threshold, _ := bt.Attr("latency_threshold")
	assert.Equal(t, "42", measured)
	assert.Equal(t, "30", threshold)

	require.Len(t, sub, 1)
	ev := <-sub
	assert.Equal(t, events.SamplerAborted, ev.Type)
	assert.Equal(t, 42, ev.Data.Latency)
}

func TestNoAbortReportWithoutBreak(t *testing.T) {
	stubCores(t, []int{0}, nil)
	stubPath(t)
	e := New(Config{Options: opts(t, nil), ReportDir: t.TempDir(), Spawner: &fakeSampler{output: "0 1\n"}})
	runEngine(t, e)

	n, err := e.Report()
	require.NoError(t, err)
	assert.Nil(t, n.Child("abort_report"))
}

func TestTraceNotClearedWithoutBreaktrace(t *testing.T) {
	stubCores(t, []int{0}, nil)
	stubPath(t)
	written := stubMounts(t, "debugfs /sys/kernel/debug debugfs rw 0 0\n")
	e := New(Config{Options: opts(t, nil), ReportDir: t.TempDir(), Spawner: &fakeSampler{}})
	runEngine(t, e)
	assert.Empty(t, *written)
}

func TestTraceNotClearedWithoutDebugfs(t *testing.T) {
	written := stubMounts(t, "proc /proc proc rw 0 0\n")
	cleared, err := clearTrace()
	require.NoError(t, err)
	assert.False(t, cleared)
	assert.Empty(t, *written)
}

func TestCleanupEscalatesToSIGKILL(t *testing.T) {
	stubCores(t, []int{0}, nil)
	stubPath(t)
	origPoll, origRetries := stopPoll, stopRetries
	stopPoll, stopRetries = time.Millisecond, 3
	t.Cleanup(func() { stopPoll, stopRetries = origPoll, origRetries })

	sp := &fakeSampler{output: "0 4\n", stubborn: true}
	e := New(Config{Options: opts(t, nil), ReportDir: t.TempDir(), Spawner: sp})
	ctx := context.Background()
	require.NoError(t, e.Setup(ctx))
	require.NoError(t, e.Prepare(ctx))
	require.NoError(t, e.Task(ctx))
	assert.True(t, e.IsAlive())
	require.NoError(t, e.Cleanup(ctx))

	assert.Equal(t, []os.Signal{unix.SIGINT, unix.SIGINT, unix.SIGINT, unix.SIGKILL}, sp.proc.signals)
	assert.False(t, e.IsAlive())
	assert.Equal(t, uint64(4), e.SystemSummary().Samples)
}

func TestTaskStartsOnce(t *testing.T) {
	stubCores(t, []int{0}, nil)
	stubPath(t)
	sp := &fakeSampler{}
	e := New(Config{Options: opts(t, nil), ReportDir: t.TempDir(), Spawner: sp})
	ctx := context.Background()
	require.NoError(t, e.Setup(ctx))
	require.NoError(t, e.Prepare(ctx))
	require.NoError(t, e.Task(ctx))
	first := sp.proc
	require.NoError(t, e.Task(ctx))
	assert.Same(t, first, sp.proc)
	require.NoError(t, e.Cleanup(ctx))
}

func TestSpawnFailurePropagates(t *testing.T) {
	stubCores(t, []int{0}, nil)
	stubPath(t)
	sp := &fakeSampler{err: proc.ClassifySpawnError(Name, unix.ENOMEM)}
	e := New(Config{Options: opts(t, nil), ReportDir: t.TempDir(), Spawner: sp})
	ctx := context.Background()
	require.NoError(t, e.Setup(ctx))
	require.NoError(t, e.Prepare(ctx))
	assert.ErrorIs(t, e.Task(ctx), types.ErrResourceExhausted)
	assert.False(t, e.IsAlive())
	require.NoError(t, e.Cleanup(ctx))
}

func TestReportFragment(t *testing.T) {
	stubCores(t, []int{0, 1}, nil)
	stubPath(t)
	sp := &fakeSampler{output: "0 0 0\n1 2 0\n2 2 0\n"}
	e := New(Config{Options: opts(t, nil), ReportDir: t.TempDir(), Spawner: sp})
	runEngine(t, e)

	n, err := e.Report()
	require.NoError(t, err)
	line, _ := n.Attr("command_line")
	assert.True(t, strings.HasPrefix(line, "cyclictest "))

	require.Equal(t, "system", n.Children[0].Name)
	desc, _ := n.Children[0].Attr("description")
	assert.Equal(t, "(2 cores) Test CPU", desc)

	cores := n.ChildrenNamed("core")
	require.Len(t, cores, 2)
	id, _ := cores[0].Attr("id")
	prio, _ := cores[0].Attr("priority")
	assert.Equal(t, "0", id)
	assert.Equal(t, "95", prio)

	stats0 := cores[0].Child("statistics")
	require.NotNil(t, stats0)
	assert.Equal(t, "4", stats0.Child("samples").Text)
	assert.Equal(t, "1.5", stats0.Child("median").Text)
	hist := cores[0].Child("histogram")
	require.NotNil(t, hist)
	nb, _ := hist.Attr("nbuckets")
	assert.Equal(t, "3", nb)
	assert.Len(t, hist.Children, 2, "empty buckets are not reported")

	// A core without samples only reports its sample count.
	assert.Len(t, cores[1].Child("statistics").Children, 1)
	assert.Nil(t, cores[1].Child("histogram"))
}

func TestOutputCapturedUnderReportDir(t *testing.T) {
	stubCores(t, []int{0}, nil)
	stubPath(t)
	dir := t.TempDir()
	sp := &fakeSampler{output: "0 1\n"}
	e := New(Config{Options: opts(t, nil), ReportDir: dir, Spawner: sp})
	runEngine(t, e)

	data, err := os.ReadFile(filepath.Join(dir, "logs", "cyclictest.stdout"))
	require.NoError(t, err)
	assert.Equal(t, "0 1\n", string(data))
}
