// Package sysinfo describes the kernel, host and services of the measured
// system.
package sysinfo

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
	log "github.com/sirupsen/logrus"

	"github.com/srodi/jitterlens/pkg/report"
	"github.com/srodi/jitterlens/pkg/topology"
)

var (
	clocksourceDir = "/sys/devices/system/clocksource/clocksource0"
	procModules    = "/proc/modules"
	readFile       = os.ReadFile
	hostInfo       = host.InfoWithContext
	cpuModels      = topology.CPUModels
)

// Module is one loaded kernel module.
type Module struct {
	Name     string
	Size     string
	NumUsers string
	UsedBy   []string
	State    string
}

// ClockSources returns the current clocksource and every available one.
func ClockSources() (string, []string, error) {
	cur, err := readFile(filepath.Join(clocksourceDir, "current_clocksource"))
	if err != nil {
		return "", nil, fmt.Errorf("reading current clocksource: %w", err)
	}
	avail, err := readFile(filepath.Join(clocksourceDir, "available_clocksource"))
	if err != nil {
		return "", nil, fmt.Errorf("reading available clocksources: %w", err)
	}
	return strings.TrimSpace(string(cur)), strings.Fields(string(avail)), nil
}

// Modules parses /proc/modules.
func Modules() ([]Module, error) {
	data, err := readFile(procModules)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", procModules, err)
	}
	var mods []Module
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		if len(f) < 5 {
			continue
		}
		m := Module{Name: f[0], Size: f[1], NumUsers: f[2], State: f[4]}
		if f[3] != "-" {
			for _, ub := range strings.Split(f[3], ",") {
				if ub != "" {
					m.UsedBy = append(m.UsedBy, ub)
				}
			}
		}
		mods = append(mods, m)
	}
	return mods, sc.Err()
}

// Report builds the <SystemInfo> fragment holding the kernel and services
// descriptions.
func Report(ctx context.Context) *report.Node {
	n := report.NewNode("SystemInfo")
	n.AddChild(Kernel(ctx))
	n.AddChild(ServicesReport(ctx))
	return n
}

// Kernel builds the <Kernel> fragment. Sources that cannot be read are
// logged and left out.
func Kernel(ctx context.Context) *report.Node {
	logger := log.WithField("module", "sysinfo")
	n := report.NewNode("Kernel")

	if cur, avail, err := ClockSources(); err != nil {
		logger.WithError(err).Warn("clocksource unavailable")
	} else {
		cs := n.NewChild("ClockSource")
		for _, src := range avail {
			s := cs.NewTextChild("source", src)
			if src == cur {
				s.SetAttr("current", "1")
			}
		}
	}

	if mods, err := Modules(); err != nil {
		logger.WithError(err).Warn("kernel modules unavailable")
	} else {
		mn := n.NewChild("Modules")
		for _, m := range mods {
			c := mn.NewChild("Module").
				SetAttr("name", m.Name).
				SetAttr("size", m.Size).
				SetAttr("state", m.State).
				SetAttr("numusers", m.NumUsers)
			if len(m.UsedBy) > 0 {
				ub := c.NewChild("usedby")
				for _, name := range m.UsedBy {
					ub.NewTextChild("module", name)
				}
			}
		}
	}

	if h := hostNode(ctx); h != nil {
		n.AddChild(h)
	} else {
		logger.Warn("host information unavailable")
	}
	return n
}

func hostNode(ctx context.Context) *report.Node {
	info, err := hostInfo(ctx)
	if err != nil {
		log.WithError(err).Debug("reading host info")
		return nil
	}
	n := report.NewNode("Host").
		SetAttr("hostname", info.Hostname).
		SetAttr("kernel", info.KernelVersion).
		SetAttr("arch", info.KernelArch).
		SetAttr("platform", strings.TrimSpace(info.Platform+" "+info.PlatformVersion))
	if models, err := cpuModels(ctx); err == nil {
		if m, ok := models[0]; ok {
			n.SetAttr("cpu_model", m)
		}
	}
	return n
}
