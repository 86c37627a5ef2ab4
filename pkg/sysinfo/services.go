package sysinfo

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/srodi/jitterlens/pkg/proc"
	"github.com/srodi/jitterlens/pkg/report"
)

const (
	// InitSystemd is reported when PID 1 is systemd.
	InitSystemd = "systemd"
	// InitSysV is reported when PID 1 is a classic init.
	InitSysV = "sysvinit"
	// InitContainer covers any other PID 1; no services are listed.
	InitContainer = "container"
)

var (
	// runCommand executes a helper binary and returns its combined output.
	// A nil env inherits the caller's environment.
	runCommand = execCommand
	initDirs   = []string{"/etc/init.d", "/etc/rc.d/init.d"}
	statFile   = os.Stat

	// init.d entries that are not services.
	sysvReject = []string{
		"functions", "halt", "killall", "single", "linuxconf", "kudzu",
		"skeleton", "README", "*.dpkg-dist", "*.dpkg-old", "rc", "rcS",
		"reboot", "bootclean.sh",
	}
	statusCase = regexp.MustCompile(`(^|\W)status\)`)
)

func execCommand(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	path, err := proc.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = env
	return cmd.CombinedOutput()
}

// Services detects the init system and returns the state of every service it
// knows. Inside a container no services are listed.
func Services(ctx context.Context) (string, map[string]string, error) {
	out, err := runCommand(ctx, nil, "ps", "-ocomm=", "1")
	if err != nil {
		return "", nil, fmt.Errorf("detecting init system: %w", err)
	}
	switch strings.TrimSpace(string(out)) {
	case "systemd":
		svcs, err := systemdServices(ctx)
		return InitSystemd, svcs, err
	case "init":
		svcs, err := sysvServices(ctx)
		return InitSysV, svcs, err
	default:
		return InitContainer, map[string]string{}, nil
	}
}

func systemdServices(ctx context.Context) (map[string]string, error) {
	out, err := runCommand(ctx, nil, "systemctl", "list-unit-files", "-t", "service", "--no-legend")
	if err != nil {
		return nil, fmt.Errorf("listing systemd unit files: %w", err)
	}
	svcs := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		if len(f) < 2 {
			continue
		}
		name, _, _ := strings.Cut(f[0], ".")
		svcs[name] = f[1]
	}
	return svcs, sc.Err()
}

func sysvServices(ctx context.Context) (map[string]string, error) {
	dir := ""
	for _, d := range initDirs {
		if fi, err := statFile(d); err == nil && fi.IsDir() {
			dir = d
			break
		}
	}
	if dir == "" {
		return nil, fmt.Errorf("no init.d directory in %s", strings.Join(initDirs, ", "))
	}

	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return nil, err
	}
	env := []string{
		"LANG=" + os.Getenv("LANG"),
		"PATH=" + os.Getenv("PATH"),
		"TERM=" + os.Getenv("TERM"),
	}
	svcs := make(map[string]string)
	for _, script := range entries {
		name := filepath.Base(script)
		if rejected(name) || !executable(script) {
			continue
		}
		data, err := readFile(script)
		if err != nil || !statusCase.Match(data) {
			svcs[name] = "unknown"
			continue
		}
		out, err := runCommand(ctx, env, script, "status")
		if err == nil && len(bytes.TrimSpace(out)) > 0 {
			svcs[name] = "running"
		} else {
			svcs[name] = "not running"
		}
	}
	return svcs, nil
}

func rejected(name string) bool {
	for _, pat := range sysvReject {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}

func executable(path string) bool {
	fi, err := statFile(path)
	return err == nil && fi.Mode().IsRegular() && fi.Mode().Perm()&0o111 != 0
}

// ServicesReport builds the <Services init=...> fragment, one <Service>
// per service sorted by name. It returns nil when detection fails.
func ServicesReport(ctx context.Context) *report.Node {
	initSys, svcs, err := Services(ctx)
	if err != nil {
		log.WithField("module", "sysinfo").WithError(err).Warn("services unavailable")
		return nil
	}
	names := make([]string, 0, len(svcs))
	for name := range svcs {
		names = append(names, name)
	}
	sort.Strings(names)

	n := report.NewNode("Services").SetAttr("init", initSys)
	for _, name := range names {
		n.NewTextChild("Service", name).SetAttr("state", svcs[name])
	}
	return n
}
