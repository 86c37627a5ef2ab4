package types

import (
	"errors"
	"time"
)

// DefaultTickInterval is how often a running module's task is invoked.
const DefaultTickInterval = time.Second

// Error taxonomy shared by every workload.
var (
	// ErrConfigurationInsufficient marks a setup that cannot place any load
	// (e.g. too little memory per core). Callers degrade to no-load.
	ErrConfigurationInsufficient = errors.New("configuration insufficient")
	// ErrResourceExhausted marks a process spawn that failed for lack of
	// memory. The whole run terminates cleanly.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrSpawnFailed marks any other process spawn failure. Fatal.
	ErrSpawnFailed = errors.New("spawn failed")
	// ErrNotReady is returned when prepare or task is invoked before build
	// succeeded.
	ErrNotReady = errors.New("module not ready")
	// ErrInvalidTransition is returned when a phase is invoked out of order.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrAborted is returned by phases refused because the module was aborted.
	ErrAborted = errors.New("module aborted")
)

// Kind groups modules by role.
type Kind string

// Module kinds.
const (
	KindLoad        Kind = "load"
	KindMeasurement Kind = "measurement"
)

// NodeLoad reports one NUMA node's load placement and activity.
type NodeLoad struct {
	Node     int
	CPUs     []int
	Binder   string
	Spawns   uint64
	LastPID  int
	RSSBytes uint64
}
