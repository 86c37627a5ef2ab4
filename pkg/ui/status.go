package ui

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/srodi/jitterlens/pkg/events"
)

// Tracker folds bus events into the live status view.
type Tracker struct {
	mu           sync.Mutex
	order        []string
	states       map[string]string
	spawns       map[int]uint64
	respawns     uint64
	breakLatency int
}

// NewTracker lists modules in the order they should be displayed.
func NewTracker(modules ...string) *Tracker {
	t := &Tracker{
		order:  modules,
		states: make(map[string]string, len(modules)),
		spawns: make(map[int]uint64),
	}
	for _, m := range modules {
		t.states[m] = "CREATED"
	}
	return t
}

// Observe applies one event.
func (t *Tracker) Observe(ev events.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch ev.Type {
	case events.StateChanged:
		t.states[ev.Module] = ev.Data.To
	case events.LoadSpawned:
		t.spawns[ev.Data.Node]++
		if ev.Data.Respawn {
			t.respawns++
		}
	case events.SamplerAborted:
		t.breakLatency = ev.Data.Latency
	}
}

// Consume observes events until ch is closed.
func (t *Tracker) Consume(ch <-chan events.Event) {
	for ev := range ch {
		t.Observe(ev)
	}
}

// Render draws the banner followed by the run's progress.
func (t *Tracker) Render(started time.Time, duration time.Duration) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var buf bytes.Buffer
	buf.WriteString(Banner())
	fmt.Fprintf(&buf, "jitterlens (press Ctrl+C to stop early)\n")
	elapsed := time.Since(started).Truncate(time.Second)
	if duration > 0 {
		fmt.Fprintf(&buf, "Updated: %s | Elapsed: %v of %v\n\n", time.Now().Format(time.RFC3339), elapsed, duration)
	} else {
		fmt.Fprintf(&buf, "Updated: %s | Elapsed: %v\n\n", time.Now().Format(time.RFC3339), elapsed)
	}

	if t.breakLatency > 0 {
		fmt.Fprintf(&buf, "[!] Sampler stopped on breaktrace: %d us\n\n", t.breakLatency)
	}

	fmt.Fprintln(&buf, "[Modules]")
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tSTATE")
	for _, m := range t.order {
		fmt.Fprintf(tw, "%s\t%s\n", m, t.states[m])
	}
	tw.Flush()

	fmt.Fprintf(&buf, "\n[Load spawns per node]\n")
	if len(t.spawns) == 0 {
		fmt.Fprintln(&buf, "No load processes started yet")
	} else {
		nodes := make([]int, 0, len(t.spawns))
		for n := range t.spawns {
			nodes = append(nodes, n)
		}
		sort.Ints(nodes)
		tw = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NODE\tSPAWNS")
		for _, n := range nodes {
			fmt.Fprintf(tw, "%d\t%d\n", n, t.spawns[n])
		}
		tw.Flush()
		fmt.Fprintf(&buf, "Respawns: %d\n", t.respawns)
	}
	return buf.String()
}
