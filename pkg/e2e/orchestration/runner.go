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

// Package orchestration runs the E2E test flow across a distro matrix: it
// loads configuration and secrets, selects distros, drives one VM per distro
// with bounded concurrency and aggregates the results.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"

	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/config"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/distro"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/health"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/lifecycle"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/metrics"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/reporting"
)

var (
	ErrConfig      = errors.New("loading configuration")
	ErrSecrets     = errors.New("loading secrets")
	ErrSecretFiles = errors.New("validating secret files")
)

// VMController drives one VM through its test lifecycle. A controller is
// used for exactly one test.
type VMController interface {
	Setup(ctx context.Context, cfg lifecycle.TestConfig, secrets map[string]string) bool
	CheckHealth(ctx context.Context) (*health.Status, map[string]any)
	RestartService(ctx context.Context) bool
	Offboard(ctx context.Context, file string) bool
	Uninstall(ctx context.Context) bool
	CollectLogs(ctx context.Context, paths []string) map[string]string
	Teardown(ctx context.Context) bool
}

// ControllerFactory returns a fresh controller for every test.
type ControllerFactory func() VMController

// BoxEnsurer builds missing VM images and drops entries it could not build.
type BoxEnsurer interface {
	EnsureAvailable(ctx context.Context, entries []distro.Entry) []distro.Entry
}

// Runner is the test orchestrator. Results are only appended from the
// goroutine calling RunTests.
type Runner struct {
	ConfigPath  string
	SecretsPath string

	Config  *config.Config
	Secrets config.Secrets

	Matrix        *distro.Provider
	NewController ControllerFactory
	// Boxes and Metrics are optional.
	Boxes   BoxEnsurer
	Metrics *metrics.Recorder
	Results *reporting.Aggregator
	Clock   clock.Clock
	Log     logr.Logger
}

// NewRunner returns a Runner with the default configuration and no secrets.
func NewRunner(configPath, secretsPath string, newController ControllerFactory, log logr.Logger) *Runner {
	cfg := config.NewDefaultConfig()
	return &Runner{
		ConfigPath:    configPath,
		SecretsPath:   secretsPath,
		Config:        cfg,
		Secrets:       config.Secrets{},
		Matrix:        distro.NewProvider(),
		NewController: newController,
		Results:       reporting.NewAggregator(cfg.Reporting.OutputDir, log),
		Clock:         clock.RealClock{},
		Log:           log,
	}
}

// LoadConfig reads the configuration file.
func (r *Runner) LoadConfig() error {
	cfg, err := config.LoadConfig(r.ConfigPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	r.Config = cfg
	r.Results.OutputDir = cfg.Reporting.OutputDir
	r.Results.Workbook = cfg.Reporting.Workbook
	return nil
}

// LoadSecrets reads the secrets file.
func (r *Runner) LoadSecrets() error {
	s, err := config.LoadSecrets(r.SecretsPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSecrets, err)
	}
	r.Secrets = s
	return nil
}

// ValidateSecretFiles checks that the credential files named in the secrets
// exist next to the test configuration.
func (r *Runner) ValidateSecretFiles() error {
	warnings, err := r.Secrets.ValidateFiles(r.baseDir(), r.offboardingFile())
	for _, w := range warnings {
		r.Log.Info(w)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSecretFiles, err)
	}
	return nil
}

func (r *Runner) baseDir() string {
	if r.Config != nil && r.Config.BaseDir != "" {
		return r.Config.BaseDir
	}
	return filepath.Dir(r.SecretsPath)
}

// DiscoverDistros returns the curated matrix without paid distributions.
func (r *Runner) DiscoverDistros() []distro.Entry {
	return r.Matrix.TestMatrix(true)
}

func (r *Runner) applyConfigFilters(entries []distro.Entry) []distro.Entry {
	include := sets.New(r.Config.Distros.Include...)
	exclude := sets.New(r.Config.Distros.Exclude...)

	out := make([]distro.Entry, 0, len(entries))
	for _, e := range entries {
		if include.Len() > 0 && !include.Has(e.Distro) {
			continue
		}
		if exclude.Has(e.Distro) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// FilterDistros applies the configured include list, then the exclude list,
// then the optional filter: "distro:version", a family name or a distro
// name.
func (r *Runner) FilterDistros(entries []distro.Entry, filter string) []distro.Entry {
	out := r.applyConfigFilters(entries)
	if filter == "" {
		return out
	}

	var keep func(distro.Entry) bool
	if d, v, ok := strings.Cut(filter, ":"); ok {
		keep = func(e distro.Entry) bool { return e.Distro == d && e.Version == v }
	} else if distro.IsFamily(filter) {
		keep = func(e distro.Entry) bool { return e.Family == distro.Family(filter) }
	} else {
		keep = func(e distro.Entry) bool { return e.Distro == filter }
	}

	filtered := out[:0]
	for _, e := range out {
		if keep(e) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// SelectDistros keeps entries whose distro is named, then applies the
// configured include and exclude lists.
func (r *Runner) SelectDistros(entries []distro.Entry, names []string) []distro.Entry {
	want := sets.New[string]()
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			want.Insert(n)
		}
	}

	selected := make([]distro.Entry, 0, len(entries))
	for _, e := range entries {
		if want.Has(e.Distro) {
			selected = append(selected, e)
		}
	}
	return r.applyConfigFilters(selected)
}

// EnsureBoxes builds missing images when a BoxEnsurer is set.
func (r *Runner) EnsureBoxes(ctx context.Context, entries []distro.Entry) []distro.Entry {
	if r.Boxes == nil {
		return entries
	}
	return r.Boxes.EnsureAvailable(ctx, entries)
}

// TestConfig sizes a VM for entry.
func (r *Runner) TestConfig(e distro.Entry) lifecycle.TestConfig {
	return lifecycle.TestConfig{
		Entry:    e,
		CPUs:     r.Config.Vagrant.PerVM.CPUs,
		MemoryMB: r.Config.Vagrant.PerVM.MemoryMB,
		DiskGB:   r.Config.Vagrant.PerVM.DiskSizeGB,
	}
}

// SaveResults writes every artifact to the configured output directory.
func (r *Runner) SaveResults() (reporting.Artifacts, error) {
	artifacts, err := r.Results.SaveAll(r.Config.Reporting.OutputDir)
	if r.Metrics == nil || !r.Config.Reporting.Metrics {
		return artifacts, err
	}
	p, mErr := r.Metrics.WriteTextfile(r.Config.Reporting.OutputDir)
	artifacts.Metrics = p
	return artifacts, errors.Join(err, mErr)
}

// PrintSummary writes the markdown summary to w.
func (r *Runner) PrintSummary(w io.Writer) {
	fmt.Fprintln(w, r.Results.SummaryMarkdown())
}

// ExitCode is 1 when any test failed to install, 0 otherwise. Onboarding and
// uninstall failures are reported but do not fail the run.
func (r *Runner) ExitCode() int {
	for _, res := range r.Results.Results() {
		if !res.InstallPassed {
			return 1
		}
	}
	return 0
}

func (r *Runner) clock() clock.Clock {
	if r.Clock == nil {
		return clock.RealClock{}
	}
	return r.Clock
}
