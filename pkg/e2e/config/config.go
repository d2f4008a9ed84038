// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the declarative test configuration and the secrets
// file of an E2E run.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sigs.k8s.io/yaml"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MDE_E2E_"

var (
	ErrReadConfig    = errors.New("reading config file")
	ErrParseConfig   = errors.New("parsing config file")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the test configuration file.
type Config struct {
	// BaseDir anchors every relative path. It defaults to the directory of
	// the config file.
	BaseDir string `json:"base_dir,omitempty"`

	Distros   DistrosConfig   `json:"distros"`
	Vagrant   VagrantConfig   `json:"vagrant"`
	Test      TestSettings    `json:"test"`
	Reporting ReportingConfig `json:"reporting"`
	Logging   LoggingConfig   `json:"logging"`
}

// DistrosConfig narrows the distro matrix by distro name.
type DistrosConfig struct {
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// VagrantConfig describes how VMs are provisioned and how many may run.
type VagrantConfig struct {
	// ConcurrentVMs caps the number of VMs alive at once.
	ConcurrentVMs int `json:"concurrent_vms"`
	// CPUsTotal and MemoryTotalMB are host budgets; zero means unbounded.
	CPUsTotal     uint        `json:"cpus_total,omitempty"`
	MemoryTotalMB uint        `json:"memory_total_mb,omitempty"`
	PerVM         PerVMConfig `json:"per_vm"`

	Provider      string   `json:"provider"`
	Dir           string   `json:"dir"`
	ScriptsDir    string   `json:"scripts_dir"`
	Transport     string   `json:"transport"`
	LibvirtURI    string   `json:"libvirt_uri,omitempty"`
	CommandPrefix []string `json:"command_prefix,omitempty"`
	BuildBoxes    bool     `json:"build_boxes"`
}

// PerVMConfig is the size of every test VM.
type PerVMConfig struct {
	CPUs       uint `json:"cpus"`
	MemoryMB   uint `json:"memory_mb"`
	DiskSizeGB uint `json:"disk_size_gb"`
}

// TestSettings tunes the per-VM test flow.
type TestSettings struct {
	PreserveOnFailure     bool     `json:"preserve_on_failure"`
	VMTimeoutMinutes      int      `json:"vm_timeout_minutes"`
	HealthAttempts        int      `json:"health_attempts"`
	HealthIntervalSeconds int      `json:"health_interval_seconds"`
	OffboardingFile       string   `json:"offboarding_file,omitempty"`
	LogFiles              []string `json:"log_files,omitempty"`
}

// ReportingConfig controls the artifacts written after a run.
type ReportingConfig struct {
	OutputDir string `json:"output_dir"`
	Workbook  bool   `json:"workbook"`
	Metrics   bool   `json:"metrics"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Development bool   `json:"development"`
	Level       string `json:"level"`
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Vagrant: VagrantConfig{
			ConcurrentVMs: 1,
			PerVM: PerVMConfig{
				CPUs:       2,
				MemoryMB:   4096,
				DiskSizeGB: 20,
			},
			Provider:   "libvirt",
			Dir:        "vagrant",
			ScriptsDir: "scripts",
			Transport:  "vagrant",
			LibvirtURI: "qemu:///system",
			BuildBoxes: true,
		},
		Test: TestSettings{
			VMTimeoutMinutes:      15,
			HealthAttempts:        3,
			HealthIntervalSeconds: 10,
		},
		Reporting: ReportingConfig{
			OutputDir: "results",
			Workbook:  true,
			Metrics:   true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults, applies
// environment overrides and validates the result. An empty path yields the
// defaults plus overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrReadConfig, path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrParseConfig, path, err)
		}
		if cfg.BaseDir == "" {
			cfg.BaseDir = filepath.Dir(path)
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	if val := os.Getenv(EnvPrefix + "CONCURRENT_VMS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Vagrant.ConcurrentVMs = n
		}
	}
	if val := os.Getenv(EnvPrefix + "OUTPUT_DIR"); val != "" {
		c.Reporting.OutputDir = val
	}
	if val := os.Getenv(EnvPrefix + "PRESERVE_ON_FAILURE"); val != "" {
		c.Test.PreserveOnFailure = parseBool(val)
	}
	if val := os.Getenv(EnvPrefix + "TRANSPORT"); val != "" {
		c.Vagrant.Transport = val
	}
	if val := os.Getenv(EnvPrefix + "LIBVIRT_URI"); val != "" {
		c.Vagrant.LibvirtURI = val
	}
	if val := os.Getenv(EnvPrefix + "DEV_MODE"); val != "" {
		c.Logging.Development = parseBool(val)
	}
	if val := os.Getenv(EnvPrefix + "LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
}

func parseBool(val string) bool {
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes"
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Vagrant.ConcurrentVMs < 1 {
		errs = append(errs, errors.New("vagrant.concurrent_vms must be at least 1"))
	}
	if c.Vagrant.PerVM.CPUs == 0 {
		errs = append(errs, errors.New("vagrant.per_vm.cpus must be positive"))
	}
	if c.Vagrant.PerVM.MemoryMB == 0 {
		errs = append(errs, errors.New("vagrant.per_vm.memory_mb must be positive"))
	}
	if c.Vagrant.PerVM.DiskSizeGB == 0 {
		errs = append(errs, errors.New("vagrant.per_vm.disk_size_gb must be positive"))
	}
	if c.Vagrant.CPUsTotal != 0 && c.Vagrant.CPUsTotal < c.Vagrant.PerVM.CPUs {
		errs = append(errs, fmt.Errorf("vagrant.cpus_total (%d) is below vagrant.per_vm.cpus (%d)",
			c.Vagrant.CPUsTotal, c.Vagrant.PerVM.CPUs))
	}
	if c.Vagrant.MemoryTotalMB != 0 && c.Vagrant.MemoryTotalMB < c.Vagrant.PerVM.MemoryMB {
		errs = append(errs, fmt.Errorf("vagrant.memory_total_mb (%d) is below vagrant.per_vm.memory_mb (%d)",
			c.Vagrant.MemoryTotalMB, c.Vagrant.PerVM.MemoryMB))
	}
	if c.Vagrant.Dir == "" {
		errs = append(errs, errors.New("vagrant.dir cannot be empty"))
	}
	switch c.Vagrant.Transport {
	case "vagrant", "ssh":
	default:
		errs = append(errs, fmt.Errorf("vagrant.transport must be \"vagrant\" or \"ssh\", got %q", c.Vagrant.Transport))
	}
	if c.Test.VMTimeoutMinutes <= 0 {
		errs = append(errs, errors.New("test.vm_timeout_minutes must be positive"))
	}
	if c.Test.HealthAttempts < 1 {
		errs = append(errs, errors.New("test.health_attempts must be at least 1"))
	}
	if c.Test.HealthIntervalSeconds < 0 {
		errs = append(errs, errors.New("test.health_interval_seconds cannot be negative"))
	}
	if c.Reporting.OutputDir == "" {
		errs = append(errs, errors.New("reporting.output_dir cannot be empty"))
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	return errors.Join(errs...)
}

// ResolvePath anchors a relative path at BaseDir.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

// VMTimeout is the wall-clock budget of one VM.
func (c *Config) VMTimeout() time.Duration {
	return time.Duration(c.Test.VMTimeoutMinutes) * time.Minute
}

// HealthInterval is the wait between failed health attempts.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Test.HealthIntervalSeconds) * time.Second
}

// SlogLevel returns the parsed log level, or info when invalid.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
