// Package load places CPU and memory contention on every usable NUMA node.
package load

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/srodi/jitterlens/pkg/config"
	"github.com/srodi/jitterlens/pkg/cpulist"
	"github.com/srodi/jitterlens/pkg/events"
	"github.com/srodi/jitterlens/pkg/metrics"
	"github.com/srodi/jitterlens/pkg/proc"
	"github.com/srodi/jitterlens/pkg/report"
	"github.com/srodi/jitterlens/pkg/topology"
	"github.com/srodi/jitterlens/pkg/types"
)

const (
	// Name identifies the hackbench module in options and reports.
	Name = "hackbench"

	// MinMemoryRatio is the GiB of RAM per CPU below which no load is placed.
	MinMemoryRatio = 0.75

	binderNumactl = "numactl"
	binderTaskset = "taskset"
)

// Schema lists the options hackbench accepts.
var Schema = config.Schema{
	Module: Name,
	Options: []config.Option{
		{Name: "jobspercore", Description: "Number of working threads per CPU core", Default: "5", Kind: config.KindInt},
		{Name: "loops", Description: "Number of messages each sender/receiver pair sends", Default: "1000", Kind: config.KindInt},
		{Name: "datasize", Description: "Size of each message", Default: "1000", Unit: "bytes", Kind: config.KindInt},
		{Name: "cpulist", Description: "CPUs the load may run on", Kind: config.KindCPUList},
	},
}

var (
	// virtualMemory allows tests to fake the machine's memory size.
	virtualMemory = mem.VirtualMemoryWithContext
	// killGrace is how long cleanup waits after SIGKILL before reaping.
	killGrace = 2 * time.Second
)

// Config carries everything a Launcher needs from the run.
type Config struct {
	Options   *config.Values
	Topology  *topology.Topology
	ReportDir string
	Logging   bool
	Spawner   proc.Spawner
	Bus       *events.Bus
	Metrics   *metrics.Metrics
}

// Launcher keeps one hackbench process alive per usable node.
type Launcher struct {
	cfg    Config
	logger *log.Entry

	multiplier int
	jobs       int
	allow      []int
	nodes      *topology.Topology
	binder     string
	args       []string

	null   *os.File
	stdout *os.File
	stderr *os.File

	commands map[int][]string
	tasks    map[int]proc.Process
	loads    map[int]*types.NodeLoad
	started  bool
}

// New creates a launcher. Options default to the schema defaults and the
// spawner to real processes.
func New(cfg Config) *Launcher {
	if cfg.Options == nil {
		cfg.Options = Schema.Defaults()
	}
	if cfg.Spawner == nil {
		cfg.Spawner = proc.Exec
	}
	return &Launcher{
		cfg:    cfg,
		logger: log.WithField("module", Name),
	}
}

// Name implements module.Workload.
func (l *Launcher) Name() string { return Name }

// Setup derives the multiplier, the usable nodes, the job count and the
// pinning strategy.
func (l *Launcher) Setup(ctx context.Context) error {
	if l.cfg.Topology == nil {
		return fmt.Errorf("%s: no topology", Name)
	}
	mult, err := l.deriveMultiplier(ctx)
	if err != nil {
		return err
	}
	l.multiplier = mult

	l.allow = l.cfg.Options.CPUs("cpulist")
	l.nodes = l.cfg.Topology.Filter(l.allow)
	for _, id := range l.cfg.Topology.NodeIDs() {
		if len(l.nodes.CPUs(id)) == 0 {
			l.logger.WithField("node", id).Debug("node has no available cpus, removing")
		}
	}
	if len(l.nodes.Nodes) == 0 {
		l.logger.WithError(fmt.Errorf("%w: no usable cpus in %q", types.ErrConfigurationInsufficient, cpulist.Collapse(l.allow))).Warn("no load will run")
		l.multiplier = 0
	}

	l.jobs = 3 * l.nodes.Largest()
	l.args = []string{
		Name, "-P",
		"-g", strconv.Itoa(l.jobs),
		"-l", l.cfg.Options.String("loops"),
		"-s", l.cfg.Options.String("datasize"),
	}

	l.binder = ""
	if len(l.nodes.Nodes) > 1 {
		l.logger.WithField("nodes", len(l.nodes.Nodes)).Info("running with multiple nodes")
		if len(l.allow) == 0 && proc.Available(binderNumactl) {
			l.binder = binderNumactl
			l.logger.Info("using numactl for thread affinity")
		} else {
			l.binder = binderTaskset
		}
	} else if len(l.allow) > 0 {
		l.binder = binderTaskset
	}
	return nil
}

// deriveMultiplier returns the explicit jobspercore when given, otherwise the
// default when memory per core reaches MinMemoryRatio and zero below it.
func (l *Launcher) deriveMultiplier(ctx context.Context) (int, error) {
	vm, err := virtualMemory(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: reading memory size: %w", Name, err)
	}
	ncpu := l.cfg.Topology.NumCPUs()
	if ncpu == 0 {
		return 0, fmt.Errorf("%s: topology has no cpus", Name)
	}
	ratio := float64(vm.Total) / (1 << 30) / float64(ncpu)
	low := ratio < MinMemoryRatio

	if l.cfg.Options.IsSet("jobspercore") {
		if low {
			l.logger.WithField("ratio", ratio).Warn("low memory system, keeping explicit jobspercore")
		}
		return l.cfg.Options.IntOr("jobspercore", 0), nil
	}
	if low {
		l.logger.WithError(fmt.Errorf("%w: %.3f GB/core", types.ErrConfigurationInsufficient, ratio)).
			Warn("low memory system, no load will run")
		return 0, nil
	}
	return l.cfg.Options.IntOr("jobspercore", 0), nil
}

// Build resolves the hackbench binary. A launcher that places no load is
// ready without it.
func (l *Launcher) Build(context.Context) error {
	if l.idle() {
		return nil
	}
	for _, bin := range []string{Name, l.binder} {
		if bin != "" && !proc.Available(bin) {
			return fmt.Errorf("%w: %s not found in PATH", types.ErrSpawnFailed, bin)
		}
	}
	return nil
}

func (l *Launcher) idle() bool {
	return l.multiplier == 0 || l.nodes == nil || len(l.nodes.Nodes) == 0
}

// Prepare opens the output descriptors and builds each node's command line.
func (l *Launcher) Prepare(context.Context) error {
	l.tasks = make(map[int]proc.Process)
	l.loads = make(map[int]*types.NodeLoad)
	l.commands = make(map[int][]string)
	if l.idle() {
		return nil
	}

	null, err := proc.OpenNull()
	if err != nil {
		return err
	}
	l.null, l.stdout, l.stderr = null, null, null
	if l.cfg.Logging {
		if l.stdout, err = proc.OpenLog(l.cfg.ReportDir, Name+".stdout"); err != nil {
			return errors.Join(err, l.closeFiles())
		}
		if l.stderr, err = proc.OpenLog(l.cfg.ReportDir, Name+".stderr"); err != nil {
			return errors.Join(err, l.closeFiles())
		}
	}

	for _, n := range l.nodes.Nodes {
		l.commands[n.ID] = l.command(n)
		l.loads[n.ID] = &types.NodeLoad{Node: n.ID, CPUs: n.CPUs, Binder: l.binder}
	}
	l.logger.WithField("jobs", l.jobs).Debug("starting loop")
	return nil
}

func (l *Launcher) command(n topology.Node) []string {
	switch l.binder {
	case binderNumactl:
		return append([]string{binderNumactl, "--cpunodebind", strconv.Itoa(n.ID)}, l.args...)
	case binderTaskset:
		return append([]string{binderTaskset, "-c", cpulist.Join(n.CPUs)}, l.args...)
	default:
		return append([]string(nil), l.args...)
	}
}

// Task launches one process per node on the first tick and relaunches exited
// ones on every later tick.
func (l *Launcher) Task(ctx context.Context) error {
	if l.idle() || ctx.Err() != nil {
		return nil
	}
	if !l.started {
		l.started = true
		for _, id := range l.nodes.NodeIDs() {
			if err := l.start(id, false); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range l.nodes.NodeIDs() {
		p := l.tasks[id]
		if p != nil && !p.Exited() {
			l.sampleRSS(id, p)
			continue
		}
		if p != nil {
			l.logger.WithFields(log.Fields{"node": id, "exit_code": p.ExitCode()}).Debug("respawning")
		}
		if err := l.start(id, p != nil); err != nil {
			return err
		}
	}
	return nil
}

func (l *Launcher) start(node int, respawn bool) error {
	args := l.commands[node]
	logger := l.logger.WithField("node", node)
	logger.WithField("args", strings.Join(args, " ")).Debug("starting")

	p, err := l.cfg.Spawner.Spawn(proc.Spec{Args: args, Stdin: l.null, Stdout: l.stdout, Stderr: l.stderr})
	if err != nil {
		delete(l.tasks, node)
		if errors.Is(err, types.ErrResourceExhausted) || errors.Is(err, unix.ENOMEM) {
			l.cfg.Metrics.SpawnFailed(Name, "resource_exhausted")
			logger.WithError(err).Error("out-of-memory trying to launch hackbench")
			if !errors.Is(err, types.ErrResourceExhausted) {
				err = fmt.Errorf("%w: %w", types.ErrResourceExhausted, err)
			}
			return err
		}
		l.cfg.Metrics.SpawnFailed(Name, "spawn_failed")
		logger.WithError(err).Error("hackbench failed to start")
		if !errors.Is(err, types.ErrSpawnFailed) {
			err = fmt.Errorf("%w: node %d: %w", types.ErrSpawnFailed, node, err)
		}
		return err
	}

	l.tasks[node] = p
	nl := l.loads[node]
	nl.Spawns++
	nl.LastPID = p.Pid()
	l.sampleRSS(node, p)
	l.cfg.Metrics.LoadSpawned(node)
	l.cfg.Bus.Publish(events.NewLoadSpawned(Name, node, p.Pid(), respawn))
	return nil
}

func (l *Launcher) sampleRSS(node int, p proc.Process) {
	if rss, err := proc.RSSBytes(p.Pid()); err == nil {
		l.loads[node].RSSBytes = rss
	}
}

// IsAlive is always true: hackbench runs are short and respawned each tick.
func (l *Launcher) IsAlive() bool { return true }

// Cleanup kills every live process, reaps all of them and closes the shared
// descriptors.
func (l *Launcher) Cleanup(context.Context) error {
	var errs []error
	for _, id := range l.nodeIDs() {
		p, ok := l.tasks[id]
		if !ok {
			continue
		}
		if !p.Exited() {
			l.logger.WithFields(log.Fields{"node": id, "comm": proc.Comm(p.Pid())}).Info("cleaning up hackbench")
			if err := p.Signal(unix.SIGKILL); err != nil {
				errs = append(errs, err)
			}
			if !p.Wait(killGrace) {
				p.Wait(-1)
			}
		}
		delete(l.tasks, id)
	}
	errs = append(errs, l.closeFiles())
	return errors.Join(errs...)
}

func (l *Launcher) nodeIDs() []int {
	if l.nodes == nil {
		return nil
	}
	return l.nodes.NodeIDs()
}

func (l *Launcher) closeFiles() error {
	var errs []error
	seen := map[*os.File]bool{}
	for _, f := range []*os.File{l.stdout, l.stderr, l.null} {
		if f == nil || seen[f] {
			continue
		}
		seen[f] = true
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.null, l.stdout, l.stderr = nil, nil, nil
	return errors.Join(errs...)
}

// Loads returns each usable node's placement and activity.
func (l *Launcher) Loads() []types.NodeLoad {
	var out []types.NodeLoad
	for _, id := range l.nodeIDs() {
		if nl, ok := l.loads[id]; ok {
			out = append(out, *nl)
		}
	}
	return out
}

// Report describes the placement and how often each node's load ran.
func (l *Launcher) Report() (*report.Node, error) {
	n := report.NewNode(Name).
		SetAttr("command_line", strings.Join(l.args, " ")).
		SetIntAttr("jobs", l.jobs).
		SetIntAttr("multiplier", l.multiplier)
	for _, nl := range l.Loads() {
		c := n.NewChild("node").
			SetIntAttr("id", nl.Node).
			SetAttr("cpus", cpulist.Collapse(nl.CPUs))
		if nl.Binder != "" {
			c.SetAttr("binder", nl.Binder)
		}
		c.SetAttr("spawns", strconv.FormatUint(nl.Spawns, 10)).
			SetAttr("rss_bytes", strconv.FormatUint(nl.RSSBytes, 10))
	}
	return n, nil
}
