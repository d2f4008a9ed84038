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

package reporting

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
)

// Artifact file names under the output directory.
const (
	SummaryFile  = "summary.md"
	JSONFile     = "results.json"
	WorkbookFile = "results.xlsx"
	FailuresDir  = "failures"

	failureLogTimeLayout = "20060102_150405"
)

var ErrWriteArtifact = errors.New("writing artifact")

// Artifacts are the paths written by SaveAll.
type Artifacts struct {
	Summary     string
	JSON        string
	Workbook    string
	FailuresDir string
	FailureLogs []string
	// Metrics is filled by callers that export a metrics textfile.
	Metrics string
}

// Aggregator collects results and owns the output directory. It is not safe
// for concurrent use; a single goroutine appends results.
type Aggregator struct {
	OutputDir string
	RunID     string
	// Workbook enables results.xlsx in SaveAll.
	Workbook bool
	Clock    clock.PassiveClock
	Log      logr.Logger

	results []TestResult
}

// NewAggregator returns an Aggregator writing to outputDir.
func NewAggregator(outputDir string, log logr.Logger) *Aggregator {
	return &Aggregator{
		OutputDir: outputDir,
		Workbook:  true,
		Clock:     clock.RealClock{},
		Log:       log,
	}
}

// Add appends a result.
func (a *Aggregator) Add(r TestResult) {
	a.results = append(a.results, r)
}

// Len returns the number of results.
func (a *Aggregator) Len() int {
	return len(a.results)
}

// Results returns a copy of the results sorted by (distro, version).
func (a *Aggregator) Results() []TestResult {
	out := slices.Clone(a.results)
	SortResults(out)
	return out
}

// Summary counts the results.
func (a *Aggregator) Summary() Summary {
	return summarize(a.results)
}

func (a *Aggregator) now() time.Time {
	if a.Clock == nil {
		return time.Now()
	}
	return a.Clock.Now()
}

func escapeMarkdown(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

func icon(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

// SummaryMarkdown renders the summary document.
func (a *Aggregator) SummaryMarkdown() string {
	if len(a.results) == 0 {
		return "# E2E Test Results\n\nNo results to report.\n"
	}

	s := a.Summary()
	lines := []string{
		"# E2E Test Results\n",
		fmt.Sprintf("Generated: %s\n", a.now().Format(time.RFC3339)),
		fmt.Sprintf("Total Tests: %d\n", s.Total),
		fmt.Sprintf("Passed: %d\n", s.Passed),
		fmt.Sprintf("Failed: %d\n", s.Failed),
		"",
		"## Summary",
		"",
		"| Distro | Version | Install | Onboard | Uninstall | Duration | Status |",
		"|--------|---------|---------|---------|-----------|----------|--------|",
	}

	results := a.Results()
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("| %s | %s | %s | %s | %s | %.1fs | %s |",
			r.Distro, r.Version,
			icon(r.InstallPassed), icon(r.OnboardingPassed), icon(r.UninstallPassed),
			r.DurationSeconds, escapeMarkdown(r.Status())))
	}

	var failures []TestResult
	for _, r := range results {
		if !r.InstallPassed || !r.OnboardingPassed {
			failures = append(failures, r)
		}
	}
	if len(failures) > 0 {
		lines = append(lines, "", "## Failures", "")
		for _, r := range failures {
			lines = append(lines, fmt.Sprintf("### %s %s", r.Distro, r.Version))
			if r.FailureReason != "" {
				lines = append(lines, fmt.Sprintf("\n**Reason:** %s\n", escapeMarkdown(r.FailureReason)))
			}
			if r.Timestamp != "" {
				lines = append(lines, fmt.Sprintf("**Time:** %s\n", r.Timestamp))
			}
			lines = append(lines, "**Log Files:** See `failures/` directory\n", "")
		}
	}

	lines = append(lines, "\n")
	return strings.Join(lines, "\n")
}

func (a *Aggregator) ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrWriteArtifact, dir, err)
	}
	return nil
}

func (a *Aggregator) writeFile(name string, data []byte) (string, error) {
	if err := a.ensureDir(a.OutputDir); err != nil {
		return "", err
	}
	p := filepath.Join(a.OutputDir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrWriteArtifact, p, err)
	}
	return p, nil
}

// SaveSummary writes summary.md.
func (a *Aggregator) SaveSummary() (string, error) {
	return a.writeFile(SummaryFile, []byte(a.SummaryMarkdown()))
}

var unsafeFileChars = strings.NewReplacer(".", "_", " ", "_", "/", "_", string(filepath.Separator), "_")

// SaveFailureLogs writes the failure log of r under failures/ and returns its
// path. Nothing is written for a result without a failure.
func (a *Aggregator) SaveFailureLogs(r TestResult) (string, error) {
	if r.FailureReason == "" && r.InstallPassed {
		return "", nil
	}

	dir := filepath.Join(a.OutputDir, FailuresDir)
	if err := a.ensureDir(dir); err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s_%s-%s.log",
		unsafeFileChars.Replace(r.Distro),
		unsafeFileChars.Replace(r.Version),
		a.now().Format(failureLogTimeLayout))

	reason := r.FailureReason
	if reason == "" {
		reason = unknownReason
	}

	lines := []string{
		"Test Failure Log",
		"================",
		"",
		"Distro: " + r.Distro,
		"Version: " + r.Version,
		"Timestamp: " + r.Timestamp,
		fmt.Sprintf("Duration: %.1fs", r.DurationSeconds),
		"",
		"Failure Reason:",
		"---------------",
		reason,
		"",
	}
	if len(r.Logs) > 0 {
		lines = append(lines, "Captured Logs:", "==============", "")
		for _, k := range slices.Sorted(maps.Keys(r.Logs)) {
			lines = append(lines, "### "+k, "```", r.Logs[k], "```", "")
		}
	}

	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrWriteArtifact, p, err)
	}
	return p, nil
}

// SaveAll writes failure logs first, then the summary, the JSON document
// and, when enabled, the workbook. An empty baseDir keeps OutputDir.
func (a *Aggregator) SaveAll(baseDir string) (Artifacts, error) {
	if baseDir != "" {
		a.OutputDir = baseDir
	}
	out := Artifacts{FailuresDir: filepath.Join(a.OutputDir, FailuresDir)}

	if err := a.ensureDir(a.OutputDir); err != nil {
		return out, err
	}

	var errs []error
	for _, r := range a.results {
		p, err := a.SaveFailureLogs(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if p != "" {
			out.FailureLogs = append(out.FailureLogs, p)
		}
	}

	var err error
	if out.Summary, err = a.SaveSummary(); err != nil {
		errs = append(errs, err)
	}
	if out.JSON, err = a.SaveJSONResults(); err != nil {
		errs = append(errs, err)
	}
	if a.Workbook {
		if out.Workbook, err = a.SaveWorkbook(); err != nil {
			errs = append(errs, err)
		}
	}

	a.Log.Info("saved results", "dir", a.OutputDir, "failureLogs", len(out.FailureLogs))
	return out, errors.Join(errs...)
}
