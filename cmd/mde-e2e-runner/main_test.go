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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/distro"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/reporting"
)

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// writeWorkspace lays out a config, a secrets file and the credential files
// it names.
func writeWorkspace(t *testing.T) (configPath, secretsPath string) {
	t.Helper()
	dir := t.TempDir()

	configPath = filepath.Join(dir, "config.yaml")
	secretsPath = filepath.Join(dir, ".env")
	config := "distros:\n  exclude: [sles]\nreporting:\n  output_dir: " + filepath.Join(dir, "results") + "\n"
	secrets := "# test credentials\nONBOARDING_FILE=onboard.py\nMANAGED_CONFIG_FILE=\"managed.json\"\n"

	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o600))
	require.NoError(t, os.WriteFile(secretsPath, []byte(secrets), 0o600))
	for _, name := range []string{"onboard.py", "managed.json", "mdatp_offboard.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0o600))
	}
	return configPath, secretsPath
}

func TestExecute_NoSelection(t *testing.T) {
	code, stdout, _ := run(t)

	assert.Equal(t, exitError, code)
	assert.Contains(t, stdout, "--distro")
}

func TestExecute_MissingConfig(t *testing.T) {
	code, _, stderr := run(t, "--all", "--config", filepath.Join(t.TempDir(), "missing.yaml"))

	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "Error:")
}

func TestExecute_DryRun(t *testing.T) {
	configPath, secretsPath := writeWorkspace(t)

	t.Run("single release", func(t *testing.T) {
		code, stdout, _ := run(t, "--distro", "ubuntu:22.04", "--dry-run",
			"--config", configPath, "--secrets", secretsPath)

		assert.Equal(t, exitSuccess, code)
		assert.Contains(t, stdout, "Selected 1 distro(s)")
		assert.Contains(t, stdout, "ubuntu 22.04")
	})

	t.Run("distro list", func(t *testing.T) {
		code, stdout, _ := run(t, "--distros", "debian, ubuntu", "--dry-run",
			"--config", configPath, "--secrets", secretsPath)

		assert.Equal(t, exitSuccess, code)
		assert.Contains(t, stdout, "debian")
		assert.Contains(t, stdout, "ubuntu")
		assert.NotContains(t, stdout, "rocky")
	})

	t.Run("unknown distro selects nothing", func(t *testing.T) {
		code, _, _ := run(t, "--distro", "gentoo", "--dry-run",
			"--config", configPath, "--secrets", secretsPath)

		assert.Equal(t, exitError, code)
	})

	t.Run("invalid budget override", func(t *testing.T) {
		code, _, stderr := run(t, "--all", "--dry-run", "--cpus", "1",
			"--config", configPath, "--secrets", secretsPath)

		assert.Equal(t, exitError, code)
		assert.Contains(t, stderr, "cpus_total")
	})
}

func TestExecute_MissingSecretFiles(t *testing.T) {
	configPath, secretsPath := writeWorkspace(t)
	require.NoError(t, os.Remove(filepath.Join(filepath.Dir(configPath), "onboard.py")))

	code, _, stderr := run(t, "--all", "--dry-run", "--config", configPath, "--secrets", secretsPath)

	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "ONBOARDING_FILE")
}

func TestMatrixCommand(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		code, stdout, _ := run(t, "matrix")

		assert.Equal(t, exitSuccess, code)
		assert.Contains(t, stdout, "DISTRO")
		assert.Contains(t, stdout, "generic/ubuntu2204")
	})

	t.Run("json", func(t *testing.T) {
		code, stdout, _ := run(t, "matrix", "--format", "json")
		require.Equal(t, exitSuccess, code)

		var entries []distro.Entry
		require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
		assert.Equal(t, distro.NewProvider().TestMatrix(true), entries)
	})

	t.Run("unknown format", func(t *testing.T) {
		code, _, _ := run(t, "matrix", "--format", "yaml")
		assert.Equal(t, exitError, code)
	})
}

func TestHealthCommand(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		code, stdout, _ := run(t, "health", "--command",
			`echo '{"healthy": true, "licensed": true, "definitionsStatus": {"$type": "upToDate"}}'`)

		assert.Equal(t, exitSuccess, code)
		assert.Contains(t, stdout, `"daemon_running": true`)
		assert.Contains(t, stdout, `"onboarded": true`)
	})

	t.Run("not onboarded", func(t *testing.T) {
		code, stdout, _ := run(t, "health", "--command",
			`echo '{"healthy": true, "licensed": false, "definitionsStatus": {"$type": "upToDate"}}'`)

		assert.Equal(t, exitError, code)
		assert.Contains(t, stdout, `"onboarded": false`)
	})

	t.Run("query fails", func(t *testing.T) {
		code, stdout, _ := run(t, "health", "--command", "exit 3")

		assert.Equal(t, exitError, code)
		assert.Empty(t, stdout)
	})
}

func TestReportCommand(t *testing.T) {
	dir := t.TempDir()
	agg := reporting.NewAggregator(dir, logr.Discard())
	agg.Workbook = false
	agg.Add(reporting.TestResult{Distro: "ubuntu", Version: "22.04", InstallPassed: true, OnboardingPassed: true, UninstallPassed: true, DurationSeconds: 120})
	agg.Add(reporting.TestResult{Distro: "rocky", Version: "9", FailureReason: "Failed to start VM"})
	artifacts, err := agg.SaveAll("")
	require.NoError(t, err)

	code, stdout, _ := run(t, "report", "--no-color", "--results", artifacts.JSON)
	assert.Equal(t, exitError, code)
	assert.Contains(t, stdout, "ubuntu")
	assert.Contains(t, stdout, "Total: 2  Passed: 1  Failed: 1")

	code, stdout, _ = run(t, "report", "--markdown", "--results", artifacts.JSON)
	assert.Equal(t, exitError, code)
	assert.Contains(t, stdout, "| rocky |")

	code, _, _ = run(t, "report", "--results", filepath.Join(dir, "missing.json"))
	assert.Equal(t, exitError, code)
}

func TestReportCommand_AllPassed(t *testing.T) {
	agg := reporting.NewAggregator(t.TempDir(), logr.Discard())
	agg.Workbook = false
	agg.Add(reporting.TestResult{Distro: "debian", Version: "12", InstallPassed: true, OnboardingPassed: true, UninstallPassed: true, DurationSeconds: 95})
	artifacts, err := agg.SaveAll("")
	require.NoError(t, err)

	for _, mode := range [][]string{{"--markdown"}, {"--no-color"}} {
		args := append([]string{"report", "--results", artifacts.JSON}, mode...)
		code, stdout, _ := run(t, args...)
		assert.Equal(t, exitSuccess, code, mode)
		assert.Contains(t, stdout, "debian")
	}
}
