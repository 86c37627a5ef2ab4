// Package measure drives the latency sampler and reduces its histograms.
package measure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/srodi/jitterlens/pkg/config"
	"github.com/srodi/jitterlens/pkg/cpulist"
	"github.com/srodi/jitterlens/pkg/events"
	"github.com/srodi/jitterlens/pkg/metrics"
	"github.com/srodi/jitterlens/pkg/proc"
	"github.com/srodi/jitterlens/pkg/report"
	"github.com/srodi/jitterlens/pkg/stats"
	"github.com/srodi/jitterlens/pkg/topology"
	"github.com/srodi/jitterlens/pkg/types"
)

// Name identifies the cyclictest module in options and reports.
const Name = "cyclictest"

// Schema lists the options cyclictest accepts.
var Schema = config.Schema{
	Module: Name,
	Options: []config.Option{
		{Name: "interval", Description: "Base interval of the measurement threads", Default: "100", Unit: "us", Kind: config.KindInt},
		{Name: "buckets", Description: "Histogram width", Default: "2000", Kind: config.KindInt},
		{Name: "priority", Description: "Scheduling priority of the measurement threads", Default: "95", Kind: config.KindInt},
		{Name: "breaktrace", Description: "Stop and snapshot the trace buffer once latency exceeds this value", Unit: "us", Kind: config.KindInt},
		{Name: "threads", Description: "Number of measurement threads", Kind: config.KindInt},
		{Name: "cpulist", Description: "CPUs to measure", Kind: config.KindCPUList},
	},
}

var (
	onlineCPUs   = topology.OnlineCPUs
	affinityCPUs = topology.AffinityCPUs
	cpuModels    = topology.CPUModels

	// stopPoll and stopRetries bound how long cleanup waits after SIGINT
	// before escalating to SIGKILL.
	stopPoll    = 2 * time.Second
	stopRetries = 5
)

// Config carries everything an Engine needs from the run.
type Config struct {
	Options   *config.Values
	ReportDir string
	Spawner   proc.Spawner
	Bus       *events.Bus
	Metrics   *metrics.Metrics
}

// Engine runs one cyclictest process across every monitored core.
type Engine struct {
	cfg    Config
	logger *log.Entry

	cores  []int
	sparse bool
	models map[int]string

	cmd     []string
	output  *os.File
	null    *os.File
	process proc.Process
	started bool

	result    *parseResult
	summaries []stats.Summary
	system    stats.Summary
}

// New creates an engine. Options default to the schema defaults and the
// spawner to real processes.
func New(cfg Config) *Engine {
	if cfg.Options == nil {
		cfg.Options = Schema.Defaults()
	}
	if cfg.Spawner == nil {
		cfg.Spawner = proc.Exec
	}
	return &Engine{cfg: cfg, logger: log.WithField("module", Name)}
}

// Name implements module.Workload.
func (e *Engine) Name() string { return Name }

// Cores returns the monitored cores in column order.
func (e *Engine) Cores() []int { return e.cores }

// Setup picks the monitored cores: the allow-list or every online CPU,
// restricted to this process's affinity mask.
func (e *Engine) Setup(ctx context.Context) error {
	if allow := e.cfg.Options.CPUs("cpulist"); allow != nil {
		e.cores, e.sparse = allow, true
	} else {
		online, err := onlineCPUs()
		if err != nil {
			return fmt.Errorf("%s: %w", Name, err)
		}
		e.cores = online
	}

	if mask, err := affinityCPUs(); err != nil {
		e.logger.WithError(err).Debug("affinity mask unavailable, measuring all selected cores")
	} else {
		e.cores = cpulist.Intersect(e.cores, mask)
	}
	if len(e.cores) == 0 {
		return fmt.Errorf("%w: %s has no cores to measure", types.ErrConfigurationInsufficient, Name)
	}

	models, err := cpuModels(ctx)
	if err != nil {
		e.logger.WithError(err).Debug("cpu model names unavailable")
	}
	e.models = models

	if e.sparse {
		e.logger.Debugf("system using %d cpu cores", len(e.cores))
	} else {
		e.logger.Debugf("system has %d cpu cores", len(e.cores))
	}
	return nil
}

// Build checks that the sampler is installed.
func (e *Engine) Build(context.Context) error {
	if !proc.Available(Name) {
		return fmt.Errorf("%w: %s not found in PATH", types.ErrSpawnFailed, Name)
	}
	return nil
}

// Prepare builds the command line and opens the output capture file.
func (e *Engine) Prepare(context.Context) error {
	e.cmd = e.command()

	out, err := proc.OpenLog(e.cfg.ReportDir, Name+".stdout")
	if err != nil {
		return err
	}
	null, err := proc.OpenNull()
	if err != nil {
		return errors.Join(err, out.Close())
	}
	e.output, e.null = out, null
	return nil
}

func (e *Engine) command() []string {
	opts := e.cfg.Options
	cmd := []string{Name}
	if v, ok := opts.Int("interval"); ok {
		cmd = append(cmd, "-i"+strconv.Itoa(v))
	}
	cmd = append(cmd,
		"-qmu",
		"-h"+strconv.Itoa(opts.IntOr("buckets", 2000)),
		"-p"+strconv.Itoa(opts.IntOr("priority", 95)),
	)
	if e.sparse {
		cmd = append(cmd, "-t"+strconv.Itoa(len(e.cores)), "-a"+cpulist.Collapse(e.cores))
	} else {
		cmd = append(cmd, "-t", "-a")
	}
	if v, ok := opts.Int("threads"); ok && v > 0 {
		cmd = append(cmd, "-t"+strconv.Itoa(v))
	}
	if v, ok := e.breaktrace(); ok {
		cmd = append(cmd, "-b"+strconv.Itoa(v), "--tracemark")
	}
	return cmd
}

func (e *Engine) breaktrace() (int, bool) {
	v, ok := e.cfg.Options.Int("breaktrace")
	return v, ok && v > 0
}

// CommandLine returns the sampler invocation.
func (e *Engine) CommandLine() string {
	return strings.Join(e.cmd, " ")
}

// Task starts the sampler once; later ticks do nothing.
func (e *Engine) Task(context.Context) error {
	if e.started {
		return nil
	}
	if _, ok := e.breaktrace(); ok {
		cleared, err := clearTrace()
		switch {
		case err != nil:
			e.logger.WithError(err).Warn("could not clear trace buffer")
		case cleared:
			e.logger.Debug("trace buffer cleared")
		}
	}

	e.logger.WithField("cmd", e.CommandLine()).Debug("starting")
	p, err := e.cfg.Spawner.Spawn(proc.Spec{Args: e.cmd, Stdin: e.null, Stdout: e.output, Stderr: e.null})
	if err != nil {
		kind := "spawn_failed"
		if errors.Is(err, types.ErrResourceExhausted) {
			kind = "resource_exhausted"
		}
		e.cfg.Metrics.SpawnFailed(Name, kind)
		return err
	}
	e.process, e.started = p, true
	return nil
}

// IsAlive reports whether the sampler process is still running.
func (e *Engine) IsAlive() bool {
	return e.started && !e.process.Exited()
}

// Cleanup interrupts the sampler, waits a bounded time for it to exit, then
// parses and reduces everything it wrote.
func (e *Engine) Cleanup(context.Context) error {
	var errs []error
	if e.started {
		errs = append(errs, e.stop())
		if err := e.collect(); err != nil {
			errs = append(errs, err)
		}
		e.started = false
	}
	for _, f := range []*os.File{e.output, e.null} {
		if f != nil {
			errs = append(errs, f.Close())
		}
	}
	e.output, e.null = nil, nil
	return errors.Join(errs...)
}

func (e *Engine) stop() error {
	p := e.process
	for i := 0; i < stopRetries && !p.Exited(); i++ {
		e.logger.Debug("sending SIGINT")
		if err := p.Signal(unix.SIGINT); err != nil {
			return err
		}
		p.Wait(stopPoll)
	}
	if p.Exited() {
		return nil
	}
	e.logger.Warn("sampler ignored SIGINT, killing it")
	if err := p.Signal(unix.SIGKILL); err != nil {
		return err
	}
	p.Wait(-1)
	return nil
}

func (e *Engine) collect() error {
	if e.output == nil {
		return nil
	}
	if _, err := e.output.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding %s output: %w", Name, err)
	}
	res, err := parseHistogram(e.output, len(e.cores))
	e.reduce(res)
	return err
}

// reduce computes every summary once from the final histograms.
func (e *Engine) reduce(res *parseResult) {
	for _, line := range res.malformed {
		e.logger.WithField("line", line).Debug("unexpected output")
		e.cfg.Metrics.MalformedRow()
	}
	if res.broke {
		e.logger.WithField("latency", res.breakVal).Warn("sampler stopped on breaktrace")
		e.cfg.Bus.Publish(events.NewSamplerAborted(Name, res.breakVal))
	}
	e.result = res
	e.summaries = make([]stats.Summary, len(res.cores))
	for i, h := range res.cores {
		e.summaries[i] = h.Reduce()
	}
	e.system = res.system.Reduce()
}

// Summary returns the reduced statistics for a monitored core.
func (e *Engine) Summary(core int) (stats.Summary, bool) {
	for i, c := range e.cores {
		if c == core && i < len(e.summaries) {
			return e.summaries[i], true
		}
	}
	return stats.Summary{}, false
}

// SystemSummary returns the statistics of all cores combined.
func (e *Engine) SystemSummary() stats.Summary {
	return e.system
}

// Report renders the command line, an abort report when the sampler stopped
// itself, the system aggregate and one node per core.
func (e *Engine) Report() (*report.Node, error) {
	n := report.NewNode(Name).SetAttr("command_line", e.CommandLine())
	res := e.result
	if res == nil {
		res = &parseResult{system: stats.New()}
	}

	if res.broke {
		threshold, _ := e.breaktrace()
		n.NewChild("abort_report").SetAttr("reason", "breaktrace").
			NewChild("breaktrace").
			SetIntAttr("latency_threshold", threshold).
			SetIntAttr("measured_latency", res.breakVal)
	}

	sys := n.NewChild("system").SetAttr("description", e.systemDescription())
	e.fill(sys, e.system, res.system, res.rows)

	priority := strconv.Itoa(e.cfg.Options.IntOr("priority", 95))
	for i, core := range e.cores {
		c := n.NewChild("core").SetIntAttr("id", core).SetAttr("priority", priority)
		var s stats.Summary
		h := stats.New()
		if i < len(e.summaries) {
			s, h = e.summaries[i], res.cores[i]
		}
		e.fill(c, s, h, res.rows)
	}
	return n, nil
}

func (e *Engine) fill(n *report.Node, s stats.Summary, h *stats.Histogram, rows int) {
	n.AddChild(s.Fragment())
	if s.Samples > 0 {
		n.AddChild(h.Fragment(rows))
	}
}

func (e *Engine) systemDescription() string {
	model := "unknown"
	if len(e.cores) > 0 {
		if m, ok := e.models[e.cores[0]]; ok {
			model = m
		} else if m, ok := e.models[0]; ok {
			model = m
		}
	}
	return fmt.Sprintf("(%d cores) %s", len(e.cores), model)
}
