// Package events carries notifications between independently running modules.
package events

import "time"

// Type names an event.
type Type string

const (
	// StateChanged is emitted on every lifecycle transition.
	StateChanged Type = "state_changed"
	// ModuleReady is emitted once build succeeds.
	ModuleReady Type = "module_ready"
	// LoadSpawned is emitted when a load process is (re)started on a node.
	LoadSpawned Type = "load_spawned"
	// SamplerAborted is emitted when the sampler stopped itself on a breach.
	SamplerAborted Type = "sampler_aborted"
)

// Event is a single notification.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      Data      `json:"data,omitempty"`
}

// Data holds event-specific fields.
type Data struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Node    int    `json:"node,omitempty"`
	PID     int    `json:"pid,omitempty"`
	Respawn bool   `json:"respawn,omitempty"`
	Latency int    `json:"latency,omitempty"`
}

// NewStateChanged creates a lifecycle transition event.
func NewStateChanged(module, from, to string) Event {
	return Event{
		Type:      StateChanged,
		Timestamp: time.Now(),
		Module:    module,
		Data:      Data{From: from, To: to},
	}
}

// NewModuleReady creates a readiness event.
func NewModuleReady(module string) Event {
	return Event{Type: ModuleReady, Timestamp: time.Now(), Module: module}
}

// NewLoadSpawned creates a spawn event for a node's load process.
func NewLoadSpawned(module string, node, pid int, respawn bool) Event {
	return Event{
		Type:      LoadSpawned,
		Timestamp: time.Now(),
		Module:    module,
		Data:      Data{Node: node, PID: pid, Respawn: respawn},
	}
}

// NewSamplerAborted records the latency that made the sampler stop.
func NewSamplerAborted(module string, latency int) Event {
	return Event{
		Type:      SamplerAborted,
		Timestamp: time.Now(),
		Module:    module,
		Data:      Data{Latency: latency},
	}
}
