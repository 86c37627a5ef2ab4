package module

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/srodi/jitterlens/pkg/report"
	"github.com/srodi/jitterlens/pkg/types"
)

// errMeasurementEnded stops the tick loops when a measurement process exited
// on its own.
var errMeasurementEnded = errors.New("measurement ended")

// Runner orchestrates a set of modules through one evaluation run.
type Runner struct {
	// Interval between task ticks; DefaultTickInterval when zero.
	Interval time.Duration

	modules []*Module
	logger  *log.Entry
}

// NewRunner creates an empty runner.
func NewRunner() *Runner {
	return &Runner{
		Interval: types.DefaultTickInterval,
		logger:   log.WithField("component", "runner"),
	}
}

// Add registers a module. Report fragments follow registration order.
func (r *Runner) Add(m *Module) {
	r.modules = append(r.modules, m)
}

// Modules returns the registered modules in registration order.
func (r *Runner) Modules() []*Module {
	return r.modules
}

func (r *Runner) byKind(kind types.Kind) []*Module {
	var out []*Module
	for _, m := range r.modules {
		if m.Kind() == kind {
			out = append(out, m)
		}
	}
	return out
}

// Run sets up and builds every module concurrently, ticks loads then
// measurements until duration elapses (or ctx is cancelled, or a
// measurement ends), and finally stops and cleans up measurements before
// loads. A non-positive duration runs until ctx is cancelled.
//
// Resource exhaustion and fatal task errors are returned after cleanup.
func (r *Runner) Run(ctx context.Context, duration time.Duration) error {
	if err := r.setupAndBuild(ctx); err != nil {
		r.abortAll()
		return errors.Join(err, r.cleanup(ctx))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if duration > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, duration)
		defer cancelTimeout()
	}

	g, gctx := errgroup.WithContext(runCtx)
	runErr := r.start(gctx, g, r.byKind(types.KindLoad))
	if runErr == nil {
		runErr = r.start(gctx, g, r.byKind(types.KindMeasurement))
	}
	if runErr != nil {
		cancel()
	} else {
		r.logger.WithField("duration", duration).Info("run started")
	}
	if err := g.Wait(); runErr == nil {
		runErr = err
	}

	switch {
	case runErr == nil:
		if ctx.Err() != nil {
			r.logger.Warn("run interrupted")
		}
	case errors.Is(runErr, errMeasurementEnded):
		r.logger.Warn("measurement ended before the configured duration")
		runErr = nil
	case errors.Is(runErr, types.ErrResourceExhausted):
		r.logger.WithError(runErr).Error("out-of-memory, terminating run")
	default:
		r.logger.WithError(runErr).Error("run failed")
	}
	return errors.Join(runErr, r.cleanup(ctx))
}

func (r *Runner) setupAndBuild(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range r.modules {
		g.Go(func() error {
			if err := m.Setup(gctx); err != nil {
				return err
			}
			return m.Build(gctx)
		})
	}
	return g.Wait()
}

// start prepares each module and launches its tick loop.
func (r *Runner) start(ctx context.Context, g *errgroup.Group, modules []*Module) error {
	for _, m := range modules {
		if err := m.Prepare(ctx); err != nil {
			return err
		}
		g.Go(func() error { return r.loop(ctx, m) })
	}
	return nil
}

func (r *Runner) loop(ctx context.Context, m *Module) error {
	ticker := time.NewTicker(r.interval())
	defer ticker.Stop()
	for {
		if err := m.Tick(ctx); err != nil {
			return fmt.Errorf("%s task: %w", m.Name(), err)
		}
		if m.Kind() == types.KindMeasurement && !m.IsAlive() {
			m.logger.Warn("measurement process no longer running")
			return errMeasurementEnded
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runner) interval() time.Duration {
	if r.Interval <= 0 {
		return types.DefaultTickInterval
	}
	return r.Interval
}

func (r *Runner) abortAll() {
	for _, m := range r.modules {
		m.Abort()
	}
}

// cleanup stops measurements before loads. Bounded waits inside workload
// cleanups must finish even when ctx is already cancelled.
func (r *Runner) cleanup(ctx context.Context) error {
	cctx := context.WithoutCancel(ctx)
	var errs []error
	for _, kind := range []types.Kind{types.KindMeasurement, types.KindLoad} {
		for _, m := range r.byKind(kind) {
			m.Stop()
			if err := m.Cleanup(cctx); err != nil {
				m.logger.WithError(err).Error("cleanup failed")
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Report adds every module's fragment to b in registration order.
func (r *Runner) Report(b *report.Builder) error {
	var errs []error
	for _, m := range r.modules {
		frag, err := m.Report()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		b.Add(frag)
	}
	return errors.Join(errs...)
}
