// Package config declares per-module option schemas and loads run files.
package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/srodi/jitterlens/pkg/cpulist"
)

// Kind is the value type an option accepts.
type Kind int

// Option kinds.
const (
	KindInt Kind = iota
	KindString
	KindCPUList
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindCPUList:
		return "cpulist"
	default:
		return "unknown"
	}
}

// Option describes one recognized module option. An empty Default means the
// option is unset unless provided.
type Option struct {
	Name        string
	Description string
	Default     string
	Unit        string
	Kind        Kind
}

// Schema is the option set a module accepts.
type Schema struct {
	Module  string
	Options []Option
}

// Lookup finds an option by name.
func (s Schema) Lookup(name string) (Option, bool) {
	for _, opt := range s.Options {
		if opt.Name == name {
			return opt, true
		}
	}
	return Option{}, false
}

// Parse validates raw values against the schema and fills in defaults.
// Unknown option names and values that do not parse as their kind are
// rejected.
func (s Schema) Parse(raw map[string]string) (*Values, error) {
	v := &Values{
		module: s.Module,
		vals:   make(map[string]string, len(s.Options)),
		set:    make(map[string]bool, len(raw)),
	}
	for _, opt := range s.Options {
		v.vals[opt.Name] = opt.Default
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		opt, ok := s.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%s: unknown option %q", s.Module, name)
		}
		val := strings.TrimSpace(raw[name])
		if err := check(opt, val); err != nil {
			return nil, fmt.Errorf("%s: %w", s.Module, err)
		}
		v.vals[name] = val
		v.set[name] = val != ""
	}
	for _, opt := range s.Options {
		if err := check(opt, v.vals[opt.Name]); err != nil {
			return nil, fmt.Errorf("%s: default: %w", s.Module, err)
		}
	}
	return v, nil
}

// Defaults returns the schema's values with nothing overridden.
func (s Schema) Defaults() *Values {
	v, err := s.Parse(nil)
	if err != nil {
		panic(err)
	}
	return v
}

func check(opt Option, val string) error {
	if val == "" {
		return nil
	}
	switch opt.Kind {
	case KindInt:
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("option %q expects an integer, got %q", opt.Name, val)
		}
		if n < 0 {
			return fmt.Errorf("option %q must be non-negative, got %d", opt.Name, n)
		}
	case KindCPUList:
		if _, err := cpulist.Expand(val); err != nil {
			return fmt.Errorf("option %q: %w", opt.Name, err)
		}
	}
	return nil
}

// Values holds a module's validated options.
type Values struct {
	module string
	vals   map[string]string
	set    map[string]bool
}

// Module names the schema the values were parsed against.
func (v *Values) Module() string {
	return v.module
}

// IsSet reports whether the option was explicitly provided.
func (v *Values) IsSet(name string) bool {
	return v.set[name]
}

// String returns the raw value, "" when unset.
func (v *Values) String(name string) string {
	return v.vals[name]
}

// Int returns an integer option and whether it has a value.
func (v *Values) Int(name string) (int, bool) {
	raw := v.vals[name]
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IntOr returns an integer option or fallback when it has no value.
func (v *Values) IntOr(name string, fallback int) int {
	if n, ok := v.Int(name); ok {
		return n
	}
	return fallback
}

// CPUs returns a cpulist option expanded, nil when unset.
func (v *Values) CPUs(name string) []int {
	cpus, err := cpulist.Expand(v.vals[name])
	if err != nil || len(cpus) == 0 {
		return nil
	}
	return cpus
}

// With returns a copy with name overridden; unknown names are ignored.
func (v *Values) With(name, val string) *Values {
	out := &Values{module: v.module, vals: make(map[string]string, len(v.vals)), set: make(map[string]bool, len(v.set))}
	for k, x := range v.vals {
		out.vals[k] = x
	}
	for k, x := range v.set {
		out.set[k] = x
	}
	if _, known := v.vals[name]; known {
		out.vals[name] = val
		out.set[name] = val != ""
	}
	return out
}
