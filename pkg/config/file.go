package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the YAML run file.
type File struct {
	Duration    string                    `yaml:"duration"`
	ReportDir   string                    `yaml:"reportdir"`
	Logging     bool                      `yaml:"logging"`
	Loads       SectionConfig             `yaml:"loads"`
	Measurement SectionConfig             `yaml:"measurement"`
	Modules     map[string]map[string]any `yaml:"modules"`
}

// SectionConfig carries settings shared by every module of a group.
type SectionConfig struct {
	CPUList string `yaml:"cpulist"`
}

// LoadFile reads and parses a run file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &f, nil
}

// Validate checks the fields that do not belong to a module schema.
func (f *File) Validate() error {
	if _, err := f.RunDuration(); err != nil {
		return err
	}
	for name, raw := range map[string]string{"loads.cpulist": f.Loads.CPUList, "measurement.cpulist": f.Measurement.CPUList} {
		if err := check(Option{Name: name, Kind: KindCPUList}, raw); err != nil {
			return err
		}
	}
	return nil
}

// RunDuration parses Duration; zero when unset.
func (f *File) RunDuration() (time.Duration, error) {
	if f.Duration == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(f.Duration)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be non-negative")
	}
	return d, nil
}

// ModuleOptions returns the raw option map for one module as strings.
func (f *File) ModuleOptions(module string) map[string]string {
	raw := f.Modules[module]
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			out[k] = ""
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}
