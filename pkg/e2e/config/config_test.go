//go:build unit

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

package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := config.LoadConfig("")
		require.NoError(t, err)

		assert.Equal(t, 1, cfg.Vagrant.ConcurrentVMs)
		assert.Equal(t, uint(2), cfg.Vagrant.PerVM.CPUs)
		assert.Equal(t, uint(4096), cfg.Vagrant.PerVM.MemoryMB)
		assert.Equal(t, "results", cfg.Reporting.OutputDir)
		assert.Equal(t, 15*time.Minute, cfg.VMTimeout())
		assert.Equal(t, 10*time.Second, cfg.HealthInterval())
		assert.Equal(t, 3, cfg.Test.HealthAttempts)
		assert.False(t, cfg.Test.PreserveOnFailure)
	})

	t.Run("FileOverridesDefaults", func(t *testing.T) {
		dir := t.TempDir()
		p := writeFile(t, dir, "test_config.yaml", `
distros:
  include: [ubuntu, debian]
  exclude: [sles]
vagrant:
  concurrent_vms: 4
  cpus_total: 8
  per_vm:
    cpus: 2
    memory_mb: 2048
    disk_size_gb: 40
test:
  preserve_on_failure: true
reporting:
  output_dir: out
`)
		cfg, err := config.LoadConfig(p)
		require.NoError(t, err)

		assert.Equal(t, []string{"ubuntu", "debian"}, cfg.Distros.Include)
		assert.Equal(t, []string{"sles"}, cfg.Distros.Exclude)
		assert.Equal(t, 4, cfg.Vagrant.ConcurrentVMs)
		assert.Equal(t, uint(8), cfg.Vagrant.CPUsTotal)
		assert.Equal(t, uint(2048), cfg.Vagrant.PerVM.MemoryMB)
		assert.Equal(t, uint(40), cfg.Vagrant.PerVM.DiskSizeGB)
		assert.True(t, cfg.Test.PreserveOnFailure)
		// Untouched keys keep their defaults.
		assert.Equal(t, 15, cfg.Test.VMTimeoutMinutes)
		assert.Equal(t, "libvirt", cfg.Vagrant.Provider)

		assert.Equal(t, dir, cfg.BaseDir)
		assert.Equal(t, filepath.Join(dir, "out"), cfg.ResolvePath(cfg.Reporting.OutputDir))
		assert.Equal(t, "/abs", cfg.ResolvePath("/abs"))
	})

	t.Run("EnvironmentOverrides", func(t *testing.T) {
		t.Setenv("MDE_E2E_CONCURRENT_VMS", "3")
		t.Setenv("MDE_E2E_PRESERVE_ON_FAILURE", "yes")
		t.Setenv("MDE_E2E_LOG_LEVEL", "debug")
		t.Setenv("MDE_E2E_TRANSPORT", "ssh")

		cfg, err := config.LoadConfig("")
		require.NoError(t, err)

		assert.Equal(t, 3, cfg.Vagrant.ConcurrentVMs)
		assert.True(t, cfg.Test.PreserveOnFailure)
		assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
		assert.Equal(t, "ssh", cfg.Vagrant.Transport)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := config.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, config.ErrReadConfig)
	})

	t.Run("MalformedFile", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "bad.yaml", "vagrant: [\n")
		_, err := config.LoadConfig(p)
		assert.ErrorIs(t, err, config.ErrParseConfig)
	})

	t.Run("InvalidValues", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "invalid.yaml", `
vagrant:
  concurrent_vms: 0
  transport: telnet
test:
  health_attempts: 0
`)
		_, err := config.LoadConfig(p)
		require.ErrorIs(t, err, config.ErrInvalidConfig)
		assert.Contains(t, err.Error(), "concurrent_vms")
		assert.Contains(t, err.Error(), "transport")
		assert.Contains(t, err.Error(), "health_attempts")
	})
}

func TestValidate(t *testing.T) {
	cfg := config.NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Vagrant.CPUsTotal = 1
	cfg.Logging.Level = "loud"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cpus_total")
	assert.Contains(t, err.Error(), "logging.level")
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestParseSecrets(t *testing.T) {
	in := `
# comment
ONBOARDING_FILE=mdatp_onboard.json
MANAGED_CONFIG_FILE = "mdatp_managed.json"
OFFBOARDING_FILE='off.json'
NOT_A_PAIR
EMPTY=
URL=https://example.com/?a=b
`
	s, err := config.ParseSecrets(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, config.Secrets{
		"ONBOARDING_FILE":     "mdatp_onboard.json",
		"MANAGED_CONFIG_FILE": "mdatp_managed.json",
		"OFFBOARDING_FILE":    "off.json",
		"EMPTY":               "",
		"URL":                 "https://example.com/?a=b",
	}, s)
	assert.Equal(t, "off.json", s.OffboardingFile())
	assert.Equal(t, config.DefaultOffboardingFile, config.Secrets{}.OffboardingFile())
}

func TestLoadSecrets(t *testing.T) {
	t.Run("NotFound", func(t *testing.T) {
		_, err := config.LoadSecrets(filepath.Join(t.TempDir(), ".env"))
		assert.ErrorIs(t, err, config.ErrSecretsNotFound)
	})

	t.Run("Success", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), ".env", "A=1\nB=2\n")
		s, err := config.LoadSecrets(p)
		require.NoError(t, err)
		assert.Equal(t, "1", s["A"])
		assert.Equal(t, "2", s["B"])
	})
}

func TestSecretsValidateFiles(t *testing.T) {
	t.Run("AllPresent", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "on.json", "{}")
		writeFile(t, dir, "managed.json", "{}")
		writeFile(t, dir, config.DefaultOffboardingFile, "{}")

		s := config.Secrets{
			config.KeyOnboardingFile:    "on.json",
			config.KeyManagedConfigFile: "managed.json",
		}
		warnings, err := s.ValidateFiles(dir, "")
		require.NoError(t, err)
		assert.Empty(t, warnings)
	})

	t.Run("MissingKeyAndFile", func(t *testing.T) {
		dir := t.TempDir()
		s := config.Secrets{config.KeyOnboardingFile: "on.json"}

		warnings, err := s.ValidateFiles(dir, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrMissingSecret)
		assert.ErrorIs(t, err, config.ErrSecretFileNotFound)
		assert.Len(t, warnings, 1)
	})

	t.Run("ResolvedOffboardingFile", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "on.json", "{}")
		writeFile(t, dir, "managed.json", "{}")
		writeFile(t, dir, config.DefaultOffboardingFile, "{}")

		s := config.Secrets{
			config.KeyOnboardingFile:    "on.json",
			config.KeyManagedConfigFile: "managed.json",
		}
		warnings, err := s.ValidateFiles(dir, "custom_offboard.json")
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "custom_offboard.json")

		writeFile(t, dir, "custom_offboard.json", "{}")
		warnings, err = s.ValidateFiles(dir, "custom_offboard.json")
		require.NoError(t, err)
		assert.Empty(t, warnings)
	})
}
