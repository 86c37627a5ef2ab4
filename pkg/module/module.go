// Package module drives workloads through their lifecycle and orchestrates a
// run of load and measurement modules.
package module

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/srodi/jitterlens/pkg/events"
	"github.com/srodi/jitterlens/pkg/metrics"
	"github.com/srodi/jitterlens/pkg/report"
	"github.com/srodi/jitterlens/pkg/types"
)

// Workload is the capability set every load or measurement implements.
type Workload interface {
	Name() string
	// Setup validates configuration and computes placement. It must not
	// start processes.
	Setup(ctx context.Context) error
	// Build resolves binaries and anything else needed to run.
	Build(ctx context.Context) error
	// Prepare runs once right before the first task tick.
	Prepare(ctx context.Context) error
	// Task runs once per tick and must never block on a subprocess.
	Task(ctx context.Context) error
	IsAlive() bool
	// Cleanup signals, waits for and reaps every owned process, then closes
	// descriptors.
	Cleanup(ctx context.Context) error
	Report() (*report.Node, error)
}

// Module enforces the lifecycle around a Workload.
type Module struct {
	workload Workload
	kind     types.Kind
	logger   *log.Entry
	bus      *events.Bus
	metrics  *metrics.Metrics

	mu      sync.Mutex
	state   State
	setupOK bool
	ready   bool
	aborted atomic.Bool
}

// Option configures a Module.
type Option func(*Module)

// WithBus publishes lifecycle events on bus.
func WithBus(bus *events.Bus) Option {
	return func(m *Module) { m.bus = bus }
}

// WithMetrics records the module state gauge.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Module) { m.metrics = mt }
}

// New wraps w in the CREATED state.
func New(w Workload, kind types.Kind, opts ...Option) *Module {
	m := &Module{
		workload: w,
		kind:     kind,
		logger:   log.WithField("module", w.Name()),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics.ModuleState(w.Name(), int(Created))
	return m
}

// Name returns the workload name.
func (m *Module) Name() string { return m.workload.Name() }

// Kind reports whether the module is a load or a measurement.
func (m *Module) Kind() types.Kind { return m.kind }

// State returns the current lifecycle state.
func (m *Module) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsReady reports whether build completed successfully.
func (m *Module) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// IsAlive delegates to the workload.
func (m *Module) IsAlive() bool {
	return m.workload.IsAlive()
}

// Abort requests the module to stop. Before READY this moves it to ABORTED;
// afterwards it only refuses further prepare and task calls.
func (m *Module) Abort() {
	if m.aborted.Swap(true) {
		return
	}
	m.logger.Debug("abort requested")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Created {
		m.setState(Aborted)
	}
}

// Aborted reports whether Abort was called.
func (m *Module) Aborted() bool {
	return m.aborted.Load()
}

// setState must be called with mu held.
func (m *Module) setState(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.logger.WithFields(log.Fields{"from": from, "to": to}).Debug("state change")
	m.bus.Publish(events.NewStateChanged(m.Name(), from.String(), to.String()))
	m.metrics.ModuleState(m.Name(), int(to))
}

// enter checks the abort flag and the expected state, then moves to next.
func (m *Module) enter(phase string, want, next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.aborted.Load() {
		if m.state.preReady() {
			m.setState(Aborted)
		}
		return fmt.Errorf("%s %s: %w", phase, m.Name(), types.ErrAborted)
	}
	if m.state != want {
		return fmt.Errorf("%s %s in state %s: %w", phase, m.Name(), m.state, types.ErrInvalidTransition)
	}
	m.setState(next)
	return nil
}

// afterPreReady moves an aborted pre-READY module to ABORTED once the
// workload call it was executing returned.
func (m *Module) afterPreReady(phase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.aborted.Load() {
		m.setState(Aborted)
		return fmt.Errorf("%s %s: %w", phase, m.Name(), types.ErrAborted)
	}
	return nil
}

// Setup runs the workload's setup phase. It may only run once.
func (m *Module) Setup(ctx context.Context) error {
	if err := m.enter("setup", Created, SettingUp); err != nil {
		return err
	}
	if err := m.workload.Setup(ctx); err != nil {
		return fmt.Errorf("setup %s: %w", m.Name(), err)
	}
	if err := m.afterPreReady("setup"); err != nil {
		return err
	}
	m.mu.Lock()
	m.setupOK = true
	m.mu.Unlock()
	return nil
}

// Build runs the workload's build phase and marks the module ready on
// success.
func (m *Module) Build(ctx context.Context) error {
	m.mu.Lock()
	setupOK := m.setupOK
	m.mu.Unlock()
	if !setupOK && !m.aborted.Load() {
		return fmt.Errorf("build %s before setup completed: %w", m.Name(), types.ErrInvalidTransition)
	}
	if err := m.enter("build", SettingUp, Building); err != nil {
		return err
	}
	if err := m.workload.Build(ctx); err != nil {
		return fmt.Errorf("build %s: %w", m.Name(), err)
	}
	if err := m.afterPreReady("build"); err != nil {
		return err
	}

	m.mu.Lock()
	m.ready = true
	m.setState(Ready)
	m.mu.Unlock()
	m.bus.Publish(events.NewModuleReady(m.Name()))
	m.logger.Info("ready")
	return nil
}

func (m *Module) requireReady(phase string) error {
	if !m.IsReady() {
		return fmt.Errorf("%s %s: %w", phase, m.Name(), types.ErrNotReady)
	}
	return nil
}

// Prepare runs the workload's prepare phase and enters RUNNING.
func (m *Module) Prepare(ctx context.Context) error {
	if err := m.requireReady("prepare"); err != nil {
		return err
	}
	if err := m.enter("prepare", Ready, Preparing); err != nil {
		return err
	}
	if err := m.workload.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare %s: %w", m.Name(), err)
	}
	m.mu.Lock()
	m.setState(Running)
	m.mu.Unlock()
	return nil
}

// Tick runs one task iteration.
func (m *Module) Tick(ctx context.Context) error {
	if err := m.requireReady("task"); err != nil {
		return err
	}
	if m.aborted.Load() {
		return fmt.Errorf("task %s: %w", m.Name(), types.ErrAborted)
	}
	if st := m.State(); st != Running {
		return fmt.Errorf("task %s in state %s: %w", m.Name(), st, types.ErrInvalidTransition)
	}
	return m.workload.Task(ctx)
}

// Stop leaves RUNNING. Calling it in any other state is a no-op.
func (m *Module) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Ready, Preparing, Running:
		m.setState(Stopping)
	}
}

// Cleanup releases everything the workload owns. A module whose build never
// completed has nothing to release.
func (m *Module) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	if !m.ready {
		if m.state != Aborted {
			m.setState(Done)
		}
		m.mu.Unlock()
		return nil
	}
	if m.state == Done || m.state == CleaningUp {
		m.mu.Unlock()
		return nil
	}
	m.setState(CleaningUp)
	m.mu.Unlock()

	err := m.workload.Cleanup(ctx)

	m.mu.Lock()
	m.setState(Done)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("cleanup %s: %w", m.Name(), err)
	}
	return nil
}

// Report returns the workload's fragment. It is only available once cleanup
// finished; modules that never became ready contribute nothing.
func (m *Module) Report() (*report.Node, error) {
	m.mu.Lock()
	state, ready := m.state, m.ready
	m.mu.Unlock()
	if state != Done && state != Aborted {
		return nil, fmt.Errorf("report %s in state %s: %w", m.Name(), state, types.ErrInvalidTransition)
	}
	if !ready {
		return nil, nil
	}
	return m.workload.Report()
}
