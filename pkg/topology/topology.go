// Package topology enumerates NUMA nodes and the online CPUs that belong to
// each of them.
package topology

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/srodi/jitterlens/pkg/cpulist"
)

// sysRoot and sysReadFile let tests point discovery at a fake sysfs tree.
var (
	sysRoot     = "/sys/devices/system"
	sysReadFile = os.ReadFile
	procMeminfo = "/proc/meminfo"
)

// Node is a NUMA locality domain.
type Node struct {
	ID       int
	CPUs     []int
	MemTotal uint64
}

// Topology is the ordered set of nodes. A CPU appears under at most one node.
type Topology struct {
	Nodes []Node
}

// New builds a topology from explicit nodes, dropping CPUs already claimed by
// an earlier node.
func New(nodes ...Node) *Topology {
	t := &Topology{}
	claimed := make(map[int]struct{})
	for _, n := range nodes {
		cpus := make([]int, 0, len(n.CPUs))
		for _, cpu := range n.CPUs {
			if _, dup := claimed[cpu]; dup {
				continue
			}
			claimed[cpu] = struct{}{}
			cpus = append(cpus, cpu)
		}
		sort.Ints(cpus)
		t.Nodes = append(t.Nodes, Node{ID: n.ID, CPUs: cpus, MemTotal: n.MemTotal})
	}
	sort.Slice(t.Nodes, func(i, j int) bool { return t.Nodes[i].ID < t.Nodes[j].ID })
	return t
}

// Discover reads the node layout from sysfs. Systems without
// /sys/devices/system/node get a single synthetic node 0 holding every
// possible CPU.
func Discover() (*Topology, error) {
	online, err := OnlineCPUs()
	if err != nil {
		return nil, err
	}

	dirs, err := filepath.Glob(filepath.Join(sysRoot, "node", "node[0-9]*"))
	if err != nil {
		return nil, fmt.Errorf("listing numa nodes: %w", err)
	}
	if len(dirs) == 0 {
		return discoverFlat(online)
	}

	nodes := make([]Node, 0, len(dirs))
	for _, dir := range dirs {
		id, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(dir), "node"))
		if err != nil {
			continue
		}
		raw, err := readLine(filepath.Join(dir, "cpulist"))
		if err != nil {
			return nil, fmt.Errorf("reading cpulist for node %d: %w", id, err)
		}
		cpus, err := cpulist.Expand(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing cpulist for node %d: %w", id, err)
		}
		memTotal, _ := nodeMemTotal(filepath.Join(dir, "meminfo"))
		nodes = append(nodes, Node{
			ID:       id,
			CPUs:     cpulist.Intersect(cpus, online),
			MemTotal: memTotal,
		})
	}
	return New(nodes...), nil
}

func discoverFlat(online []int) (*Topology, error) {
	raw, err := readLine(filepath.Join(sysRoot, "cpu", "possible"))
	if err != nil {
		return nil, fmt.Errorf("reading possible cpus: %w", err)
	}
	cpus, err := cpulist.Expand(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing possible cpus: %w", err)
	}
	memTotal, _ := TotalMemoryBytes()
	return New(Node{ID: 0, CPUs: cpulist.Intersect(cpus, online), MemTotal: memTotal}), nil
}

// NodeIDs returns the node IDs in ascending order.
func (t *Topology) NodeIDs() []int {
	ids := make([]int, len(t.Nodes))
	for i, n := range t.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Node looks up a node by ID.
func (t *Topology) Node(id int) (Node, bool) {
	for _, n := range t.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// CPUs returns the CPU members of a node, or nil for an unknown node.
func (t *Topology) CPUs(id int) []int {
	n, ok := t.Node(id)
	if !ok {
		return nil
	}
	return append([]int(nil), n.CPUs...)
}

// AllCPUs returns every CPU of every node, sorted.
func (t *Topology) AllCPUs() []int {
	var cpus []int
	for _, n := range t.Nodes {
		cpus = append(cpus, n.CPUs...)
	}
	sort.Ints(cpus)
	return cpus
}

// NumCPUs counts CPUs across all nodes.
func (t *Topology) NumCPUs() int {
	total := 0
	for _, n := range t.Nodes {
		total += len(n.CPUs)
	}
	return total
}

// Largest returns the CPU count of the biggest node.
func (t *Topology) Largest() int {
	biggest := 0
	for _, n := range t.Nodes {
		if len(n.CPUs) > biggest {
			biggest = len(n.CPUs)
		}
	}
	return biggest
}

// Filter restricts every node to the allowed CPUs and prunes nodes left
// empty. A nil allow list keeps every CPU.
func (t *Topology) Filter(allow []int) *Topology {
	out := &Topology{Nodes: make([]Node, 0, len(t.Nodes))}
	for _, n := range t.Nodes {
		cpus := append([]int(nil), n.CPUs...)
		if allow != nil {
			cpus = cpulist.Intersect(n.CPUs, allow)
		}
		if len(cpus) == 0 {
			continue
		}
		out.Nodes = append(out.Nodes, Node{ID: n.ID, CPUs: cpus, MemTotal: n.MemTotal})
	}
	return out
}

// String summarizes the topology for logs and the report root.
func (t *Topology) String() string {
	if len(t.Nodes) == 0 {
		return "0 node system"
	}
	return fmt.Sprintf("%d node system (%d cores per node)", len(t.Nodes), len(t.Nodes[0].CPUs))
}

// OnlineCPUs lists CPUs the kernel reports online. Kernels without per-CPU
// online files (probed via cpu1) treat every present CPU as online, and cpu0
// is online when it has no online file.
func OnlineCPUs() ([]int, error) {
	dirs, err := filepath.Glob(filepath.Join(sysRoot, "cpu", "cpu[0-9]*"))
	if err != nil {
		return nil, fmt.Errorf("listing cpus: %w", err)
	}
	_, probeErr := sysReadFile(filepath.Join(sysRoot, "cpu", "cpu1", "online"))
	hasOnlineFiles := probeErr == nil

	cpus := make([]int, 0, len(dirs))
	for _, dir := range dirs {
		id, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(dir), "cpu"))
		if err != nil {
			continue
		}
		if !hasOnlineFiles {
			cpus = append(cpus, id)
			continue
		}
		state, err := readLine(filepath.Join(dir, "online"))
		if err != nil {
			if id == 0 {
				cpus = append(cpus, id)
			}
			continue
		}
		if state == "1" {
			cpus = append(cpus, id)
		}
	}
	sort.Ints(cpus)
	return cpus, nil
}

// TotalMemoryBytes returns the total system memory in bytes.
func TotalMemoryBytes() (uint64, error) {
	data, err := sysReadFile(procMeminfo)
	if err != nil {
		return 0, err
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == "MemTotal:" {
			return parseKB(fields[1:])
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("MemTotal not found in %s", procMeminfo)
}

// nodeMemTotal parses a per-node meminfo ("Node 0 MemTotal:  16318192 kB").
func nodeMemTotal(path string) (uint64, error) {
	data, err := sysReadFile(path)
	if err != nil {
		return 0, err
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 4 && fields[2] == "MemTotal:" {
			return parseKB(fields[3:])
		}
	}
	return 0, fmt.Errorf("MemTotal not found in %s", path)
}

func parseKB(fields []string) (uint64, error) {
	val, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, err
	}
	if len(fields) > 1 && fields[1] == "kB" {
		val *= 1024
	}
	return val, nil
}

func readLine(path string) (string, error) {
	data, err := sysReadFile(path)
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line), nil
}
