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

// Package reporting collects per-distro test outcomes and renders them as
// markdown, JSON, a workbook and failure logs.
package reporting

import (
	"cmp"
	"slices"
)

// Status labels rendered in the summary table.
const (
	StatusPassed           = "PASSED"
	StatusOnboardingFailed = "ONBOARDING FAILED"
	StatusUninstallFailed  = "UNINSTALL FAILED"
	statusFailedPrefix     = "FAILED: "
	unknownReason          = "Unknown"
)

// TestResult is the outcome of one distro test. It is not mutated once added
// to an Aggregator.
type TestResult struct {
	Distro           string
	Version          string
	InstallPassed    bool
	OnboardingPassed bool
	UninstallPassed  bool
	DurationSeconds  float64
	// FailureReason is set iff one of the three steps failed.
	FailureReason string
	// Timestamp is the RFC 3339 start time of the test.
	Timestamp string
	// Logs maps a log file base name to its content.
	Logs map[string]string
}

// Passed reports whether every step succeeded.
func (r TestResult) Passed() bool {
	return r.InstallPassed && r.OnboardingPassed && r.UninstallPassed
}

// Status is the label of the result, by priority: install, onboarding,
// uninstall.
func (r TestResult) Status() string {
	switch {
	case !r.InstallPassed:
		reason := r.FailureReason
		if reason == "" {
			reason = unknownReason
		}
		return statusFailedPrefix + reason
	case !r.OnboardingPassed:
		return StatusOnboardingFailed
	case !r.UninstallPassed:
		return StatusUninstallFailed
	default:
		return StatusPassed
	}
}

// Summary counts results. Passed counts successful installs.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

func summarize(results []TestResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.InstallPassed {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	return s
}

// SortResults orders results by (distro, version).
func SortResults(results []TestResult) {
	slices.SortStableFunc(results, func(a, b TestResult) int {
		return cmp.Or(cmp.Compare(a.Distro, b.Distro), cmp.Compare(a.Version, b.Version))
	})
}
