// Package proc spawns and supervises the external processes a module owns.
package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/srodi/jitterlens/pkg/types"
)

// LookPath allows tests to pretend helper binaries are (not) installed.
var LookPath = defaultLookPath

var defaultLookPath = exec.LookPath

// Spec describes a process to start. Nil descriptors are connected to the
// null device.
type Spec struct {
	Args   []string
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

// String returns the command line.
func (s Spec) String() string {
	return strings.Join(s.Args, " ")
}

// Process is a handle to a child exclusively owned by the module that
// spawned it.
type Process interface {
	Pid() int
	// Exited polls without blocking.
	Exited() bool
	// Signal delivers sig unless the process already exited.
	Signal(sig os.Signal) error
	// Wait blocks until the process exits or timeout elapses and reports
	// whether it exited. A negative timeout waits indefinitely.
	Wait(timeout time.Duration) bool
	// ExitCode is -1 until the process exited.
	ExitCode() int
}

// Spawner starts processes.
type Spawner interface {
	Spawn(spec Spec) (Process, error)
}

// SpawnFunc adapts a function to Spawner.
type SpawnFunc func(spec Spec) (Process, error)

// Spawn calls f.
func (f SpawnFunc) Spawn(spec Spec) (Process, error) {
	return f(spec)
}

// Exec spawns real OS processes.
var Exec Spawner = SpawnFunc(Start)

// Handle is a Process backed by os/exec. A waiter goroutine reaps the child
// as soon as it exits.
type Handle struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exitCode int
}

// Start launches spec and begins reaping it in the background.
func Start(spec Spec) (Process, error) {
	if len(spec.Args) == 0 {
		return nil, fmt.Errorf("%w: empty command", types.ErrSpawnFailed)
	}
	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	if spec.Stdin != nil {
		cmd.Stdin = spec.Stdin
	}
	if spec.Stdout != nil {
		cmd.Stdout = spec.Stdout
	}
	if spec.Stderr != nil {
		cmd.Stderr = spec.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, ClassifySpawnError(spec.Args[0], err)
	}

	h := &Handle{cmd: cmd, done: make(chan struct{}), exitCode: -1}
	go func() {
		_ = cmd.Wait()
		h.mu.Lock()
		if cmd.ProcessState != nil {
			h.exitCode = cmd.ProcessState.ExitCode()
		}
		h.mu.Unlock()
		close(h.done)
	}()
	return h, nil
}

// ClassifySpawnError wraps a start failure as ErrResourceExhausted when the
// kernel ran out of memory and as ErrSpawnFailed otherwise.
func ClassifySpawnError(name string, err error) error {
	if errors.Is(err, unix.ENOMEM) {
		return fmt.Errorf("%w: starting %s: %w", types.ErrResourceExhausted, name, err)
	}
	return fmt.Errorf("%w: starting %s: %w", types.ErrSpawnFailed, name, err)
}

// Pid returns the child's process ID.
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// Exited reports whether the child has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Signal delivers sig to a live child.
func (h *Handle) Signal(sig os.Signal) error {
	if h.Exited() {
		return nil
	}
	if err := h.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signalling pid %d: %w", h.Pid(), err)
	}
	return nil
}

// Wait waits up to timeout for the child to be reaped.
func (h *Handle) Wait(timeout time.Duration) bool {
	if timeout < 0 {
		<-h.done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return true
	case <-timer.C:
		return false
	}
}

// ExitCode returns the exit status once the child exited, else -1.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Available reports whether a helper binary is on PATH.
func Available(name string) bool {
	_, err := LookPath(name)
	return err == nil
}

// OpenNull opens the null device for reading and writing.
func OpenNull() (*os.File, error) {
	f, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", os.DevNull, err)
	}
	return f, nil
}

// OpenLog creates (truncating) dir/logs/name for a child's output.
func OpenLog(dir, name string) (*os.File, error) {
	logdir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logdir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logdir, name), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log %s: %w", name, err)
	}
	return f, nil
}
