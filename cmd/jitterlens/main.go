package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/srodi/jitterlens/pkg/config"
	"github.com/srodi/jitterlens/pkg/cpulist"
	"github.com/srodi/jitterlens/pkg/events"
	"github.com/srodi/jitterlens/pkg/load"
	"github.com/srodi/jitterlens/pkg/measure"
	"github.com/srodi/jitterlens/pkg/metrics"
	"github.com/srodi/jitterlens/pkg/module"
	"github.com/srodi/jitterlens/pkg/report"
	"github.com/srodi/jitterlens/pkg/sysinfo"
	"github.com/srodi/jitterlens/pkg/topology"
	"github.com/srodi/jitterlens/pkg/types"
	"github.com/srodi/jitterlens/pkg/ui"
)

const defaultDuration = time.Minute

type runConfig struct {
	duration           time.Duration
	reportDir          string
	logging            bool
	loadsCPUList       string
	measurementCPUList string
	metricsFile        string
	interval           time.Duration
	noLoad             bool
	options            map[string]map[string]string
}

func parseConfig(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("jitterlens", flag.ContinueOnError)
	configFile := fs.StringP("config", "c", "", "YAML run file")
	duration := fs.DurationP("duration", "d", defaultDuration, "how long to measure (e.g. 90s, 2h)")
	reportDir := fs.StringP("reportdir", "D", "", "directory for the report, logs and metrics (default ./jitterlens-<timestamp>)")
	logging := fs.BoolP("logging", "L", false, "capture load output under <reportdir>/logs")
	loadsCPUList := fs.String("loads-cpulist", "", "CPUs the loads may run on (e.g. 0-3,8)")
	measurementCPUList := fs.String("measurement-cpulist", "", "CPUs to measure")
	metricsFile := fs.String("metrics-file", "", "write prometheus metrics in text format to this file")
	interval := fs.Duration("tick", types.DefaultTickInterval, "interval between module task ticks")
	noLoad := fs.Bool("no-load", false, "measure without running any load")
	moduleOpts := fs.StringArrayP("option", "o", nil, "module option as module.name=value (repeatable)")
	verbose := fs.BoolP("verbose", "v", false, "log informational messages")
	debug := fs.Bool("debug", false, "log debug messages")
	if err := fs.Parse(args); err != nil {
		return runConfig{}, err
	}

	setupLogging(*verbose, *debug)

	cfg := runConfig{
		duration:           *duration,
		reportDir:          *reportDir,
		logging:            *logging,
		loadsCPUList:       *loadsCPUList,
		measurementCPUList: *measurementCPUList,
		metricsFile:        *metricsFile,
		interval:           *interval,
		noLoad:             *noLoad,
		options:            map[string]map[string]string{},
	}

	if *configFile != "" {
		file, err := config.LoadFile(*configFile)
		if err != nil {
			return runConfig{}, err
		}
		if err := file.Validate(); err != nil {
			return runConfig{}, fmt.Errorf("%s: %w", *configFile, err)
		}
		applyFile(&cfg, file, fs)
	}

	for _, raw := range *moduleOpts {
		mod, kv, ok := strings.Cut(raw, ".")
		name, val, ok2 := strings.Cut(kv, "=")
		if !ok || !ok2 || mod == "" || name == "" {
			return runConfig{}, fmt.Errorf("invalid --option %q, want module.name=value", raw)
		}
		if cfg.options[mod] == nil {
			cfg.options[mod] = map[string]string{}
		}
		cfg.options[mod][name] = val
	}

	if cfg.reportDir == "" {
		cfg.reportDir = "jitterlens-" + time.Now().Format("20060102-150405")
	}
	return cfg, nil
}

// applyFile fills every setting the command line did not set explicitly.
func applyFile(cfg *runConfig, file *config.File, fs *flag.FlagSet) {
	if d, _ := file.RunDuration(); d > 0 && !fs.Changed("duration") {
		cfg.duration = d
	}
	if file.ReportDir != "" && !fs.Changed("reportdir") {
		cfg.reportDir = file.ReportDir
	}
	if file.Logging && !fs.Changed("logging") {
		cfg.logging = true
	}
	if file.Loads.CPUList != "" && !fs.Changed("loads-cpulist") {
		cfg.loadsCPUList = file.Loads.CPUList
	}
	if file.Measurement.CPUList != "" && !fs.Changed("measurement-cpulist") {
		cfg.measurementCPUList = file.Measurement.CPUList
	}
	for _, mod := range []string{load.Name, measure.Name} {
		if opts := file.ModuleOptions(mod); opts != nil {
			cfg.options[mod] = opts
		}
	}
}

func setupLogging(verbose, debug bool) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	switch {
	case debug:
		log.SetLevel(log.DebugLevel)
	case verbose:
		log.SetLevel(log.InfoLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}
}

// moduleValues validates a module's options; a group cpulist applies unless
// the module sets its own.
func moduleValues(schema config.Schema, raw map[string]string, groupCPUList string) (*config.Values, error) {
	opts := make(map[string]string, len(raw)+1)
	for k, v := range raw {
		opts[k] = v
	}
	if _, ok := opts["cpulist"]; !ok && groupCPUList != "" {
		opts["cpulist"] = groupCPUList
	}
	return schema.Parse(opts)
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, types.ErrResourceExhausted) {
			fmt.Fprintln(os.Stderr, "out-of-memory trying to launch a load, exiting")
		} else {
			fmt.Fprintf(os.Stderr, "jitterlens: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg runConfig) error {
	topo, err := topology.Discover()
	if err != nil {
		return fmt.Errorf("discovering topology: %w", err)
	}
	log.WithFields(log.Fields{"topology": topo.String(), "cpus": cpulist.Collapse(topo.AllCPUs())}).Info("discovered topology")

	if err := os.MkdirAll(cfg.reportDir, 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}

	bus := events.NewBus()
	defer bus.Close()
	mt := metrics.New()
	runner := module.NewRunner()
	runner.Interval = cfg.interval

	if !cfg.noLoad {
		opts, err := moduleValues(load.Schema, cfg.options[load.Name], cfg.loadsCPUList)
		if err != nil {
			return err
		}
		hb := load.New(load.Config{
			Options:   opts,
			Topology:  topo,
			ReportDir: cfg.reportDir,
			Logging:   cfg.logging,
			Bus:       bus,
			Metrics:   mt,
		})
		runner.Add(module.New(hb, types.KindLoad, module.WithBus(bus), module.WithMetrics(mt)))
	}

	opts, err := moduleValues(measure.Schema, cfg.options[measure.Name], cfg.measurementCPUList)
	if err != nil {
		return err
	}
	ct := measure.New(measure.Config{Options: opts, ReportDir: cfg.reportDir, Bus: bus, Metrics: mt})
	runner.Add(module.New(ct, types.KindMeasurement, module.WithBus(bus), module.WithMetrics(mt)))

	for mod := range cfg.options {
		if mod != load.Name && mod != measure.Name {
			log.WithField("module", mod).Warn("options given for unknown module, ignoring")
		}
	}

	names := make([]string, 0, len(runner.Modules()))
	for _, m := range runner.Modules() {
		names = append(names, m.Name())
	}
	tracker := ui.NewTracker(names...)
	go tracker.Consume(bus.Subscribe())

	started := time.Now()
	stopView := startLiveView(ctx, tracker, started, cfg.duration)
	runErr := runner.Run(ctx, cfg.duration)
	stopView()
	elapsed := time.Since(started)

	b := report.NewBuilder("jitterlens").
		SetAttr("start", started.Format(time.RFC3339)).
		SetAttr("duration", elapsed.Truncate(time.Millisecond).String()).
		SetAttr("topology", topo.String()).
		SetAttr("cpus", cpulist.Collapse(topo.AllCPUs()))
	b.Add(sysinfo.Report(context.WithoutCancel(ctx)))
	repErr := runner.Report(b)

	path := filepath.Join(cfg.reportDir, "summary.xml")
	if err := b.WriteFile(path); err != nil {
		return errors.Join(runErr, repErr, err)
	}
	fmt.Printf("report written to %s\n", path)

	if cfg.metricsFile != "" {
		if err := mt.WriteFile(cfg.metricsFile); err != nil {
			log.WithError(err).Warn("metrics not written")
		}
	}
	return errors.Join(runErr, repErr)
}
