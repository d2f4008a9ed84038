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

package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/config"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/distro"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/health"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/lifecycle"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/reporting"
)

// Failure reasons. Timeout reasons always start with "Timeout".
const (
	ReasonSetupFailed     = "Failed to start VM"
	reasonSetupTimeout    = "Timeout: VM setup took longer than %d minutes"
	reasonHealthTimeout   = "Timeout: health check exceeded %d min limit"
	reasonCancelled       = "Cancelled: %v"
	reasonException       = "Exception: %v"
	reasonUnhealthy       = "Health check failed after %d attempts"
	ReasonNotOnboarded    = "Agent not onboarded"
	ReasonOffboardFailed  = "Offboarding failed"
	ReasonUninstallFailed = "Uninstall failed"
)

// EffectiveConcurrency bounds requested by the configured VM ceiling, the
// CPU and memory budgets and the number of tests. A requested value <= 0
// means the configured ceiling. The result is at least 1.
func (r *Runner) EffectiveConcurrency(requested, tests int) int {
	v := r.Config.Vagrant
	n := v.ConcurrentVMs
	if requested > 0 {
		n = min(n, requested)
	}
	if v.CPUsTotal > 0 && v.PerVM.CPUs > 0 {
		n = min(n, int(v.CPUsTotal/v.PerVM.CPUs))
	}
	if v.MemoryTotalMB > 0 && v.PerVM.MemoryMB > 0 {
		n = min(n, int(v.MemoryTotalMB/v.PerVM.MemoryMB))
	}
	if tests > 0 {
		n = min(n, tests)
	}
	return max(n, 1)
}

// RunTests runs one test per entry, sequentially when the effective
// concurrency is 1 and on a bounded worker pool otherwise. Results are added
// to the aggregator as they arrive and returned in completion order. A
// failing VM never stops the others.
func (r *Runner) RunTests(ctx context.Context, entries []distro.Entry, maxConcurrency int) []reporting.TestResult {
	n := r.EffectiveConcurrency(maxConcurrency, len(entries))
	r.Log.Info("running tests", "distros", len(entries), "concurrency", n)

	results := make([]reporting.TestResult, 0, len(entries))
	collect := func(res reporting.TestResult) {
		results = append(results, res)
		r.Results.Add(res)
		r.Metrics.ObserveResult(res)
		r.Log.Info("test finished", "distro", res.Distro, "version", res.Version, "status", res.Status())
	}

	if n == 1 {
		for _, e := range entries {
			collect(r.RunTest(ctx, r.TestConfig(e)))
		}
		return results
	}

	ch := make(chan reporting.TestResult)
	g := new(errgroup.Group)
	g.SetLimit(n)
	go func() {
		for _, e := range entries {
			cfg := r.TestConfig(e)
			g.Go(func() error {
				ch <- r.RunTest(ctx, cfg)
				return nil
			})
		}
		_ = g.Wait()
		close(ch)
	}()

	for res := range ch {
		collect(res)
	}
	return results
}

// RunTest drives one VM: setup, health verification with restarts,
// offboarding and uninstall. It never panics and always returns a result;
// the VM is torn down afterwards unless it failed and preserve-on-failure is
// set.
func (r *Runner) RunTest(ctx context.Context, cfg lifecycle.TestConfig) (result reporting.TestResult) {
	clk := r.clock()
	start := clk.Now()
	log := r.Log.WithValues("distro", cfg.Distro, "version", cfg.Version, "vm", cfg.VMName())

	result = reporting.TestResult{
		Distro:    cfg.Distro,
		Version:   cfg.Version,
		Timestamp: start.Format(time.RFC3339),
	}

	if err := ctx.Err(); err != nil {
		result.FailureReason = fmt.Sprintf(reasonCancelled, err)
		return result
	}

	ctrl := r.NewController()
	r.Metrics.VMStarted()

	// Registered first so it runs after the recovery below has settled the
	// result.
	defer r.teardown(ctx, ctrl, &result, log)
	defer func() {
		if p := recover(); p != nil {
			log.Error(fmt.Errorf("%v", p), "test aborted")
			result = reporting.TestResult{
				Distro:        cfg.Distro,
				Version:       cfg.Version,
				Timestamp:     result.Timestamp,
				FailureReason: fmt.Sprintf(reasonException, p),
			}
		}
		result.DurationSeconds = max(clk.Since(start).Seconds(), 0)
	}()

	budget := r.Config.VMTimeout()
	minutes := r.Config.Test.VMTimeoutMinutes
	timedOut := func() bool { return clk.Since(start) > budget }

	log.Info("starting test")
	if !ctrl.Setup(ctx, cfg, r.Secrets) {
		result.FailureReason = ReasonSetupFailed
		return result
	}
	if timedOut() {
		result.FailureReason = fmt.Sprintf(reasonSetupTimeout, minutes)
		return result
	}

	attempts := r.Config.Test.HealthAttempts
	var status *health.Status
	for attempt := 1; attempt <= attempts; attempt++ {
		if timedOut() {
			result.FailureReason = fmt.Sprintf(reasonHealthTimeout, minutes)
			return result
		}
		if err := ctx.Err(); err != nil {
			result.FailureReason = fmt.Sprintf(reasonCancelled, err)
			return result
		}

		status, _ = ctrl.CheckHealth(ctx)
		if status.IsHealthy() {
			break
		}
		log.Info("agent not healthy", "attempt", attempt, "maxAttempts", attempts)

		if attempt < attempts {
			ctrl.RestartService(ctx)
			r.Metrics.ServiceRestarted()
			clk.Sleep(r.Config.HealthInterval())
		}
	}

	result.InstallPassed = status != nil
	result.OnboardingPassed = status != nil && status.Onboarded

	offboarded := false
	if result.InstallPassed {
		offboarded = ctrl.Offboard(ctx, r.offboardingFile())
		if offboarded {
			result.UninstallPassed = ctrl.Uninstall(ctx)
		}
	}

	switch {
	case !result.InstallPassed:
		result.FailureReason = fmt.Sprintf(reasonUnhealthy, attempts)
	case !result.OnboardingPassed:
		result.FailureReason = ReasonNotOnboarded
	case !offboarded:
		result.FailureReason = ReasonOffboardFailed
	case !result.UninstallPassed:
		result.FailureReason = ReasonUninstallFailed
	}

	if result.FailureReason != "" {
		if logs := ctrl.CollectLogs(ctx, r.logFiles()); len(logs) > 0 {
			result.Logs = logs
		}
	}
	return result
}

func (r *Runner) teardown(ctx context.Context, ctrl VMController, result *reporting.TestResult, log logr.Logger) {
	defer r.Metrics.VMStopped()
	defer func() {
		if p := recover(); p != nil {
			log.Error(fmt.Errorf("%v", p), "teardown aborted")
		}
	}()

	if r.Config.Test.PreserveOnFailure && !result.Passed() {
		log.Info("preserving failed VM for inspection")
		return
	}
	if !ctrl.Teardown(ctx) {
		log.Info("VM may still be running")
	}
}

func (r *Runner) offboardingFile() string {
	if v := r.Secrets[config.KeyOffboardingFile]; v != "" {
		return v
	}
	if r.Config.Test.OffboardingFile != "" {
		return r.Config.Test.OffboardingFile
	}
	return config.DefaultOffboardingFile
}

func (r *Runner) logFiles() []string {
	if len(r.Config.Test.LogFiles) > 0 {
		return r.Config.Test.LogFiles
	}
	return lifecycle.DefaultLogFiles
}
