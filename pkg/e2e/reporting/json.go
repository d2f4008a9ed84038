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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

var ErrReadResults = errors.New("reading results document")

// Document is the results.json artifact.
type Document struct {
	Generated string         `json:"generated"`
	RunID     string         `json:"run_id,omitempty"`
	Summary   Summary        `json:"summary"`
	Results   []ResultRecord `json:"results"`
}

// ResultRecord is one result in the JSON document. Logs are not embedded;
// HasLogs points readers at the failures directory.
type ResultRecord struct {
	Distro           string  `json:"distro"`
	Version          string  `json:"version"`
	InstallPassed    bool    `json:"install_passed"`
	OnboardingPassed bool    `json:"onboarding_passed"`
	UninstallPassed  bool    `json:"uninstall_passed"`
	DurationSeconds  float64 `json:"duration_seconds"`
	FailureReason    *string `json:"failure_reason"`
	Timestamp        *string `json:"timestamp"`
	HasLogs          bool    `json:"has_logs"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func newRecord(r TestResult) ResultRecord {
	return ResultRecord{
		Distro:           r.Distro,
		Version:          r.Version,
		InstallPassed:    r.InstallPassed,
		OnboardingPassed: r.OnboardingPassed,
		UninstallPassed:  r.UninstallPassed,
		DurationSeconds:  r.DurationSeconds,
		FailureReason:    optional(r.FailureReason),
		Timestamp:        optional(r.Timestamp),
		HasLogs:          len(r.Logs) > 0,
	}
}

// Document builds the JSON document of the current results.
func (a *Aggregator) Document() Document {
	results := a.Results()
	doc := Document{
		Generated: a.now().Format(time.RFC3339),
		RunID:     a.RunID,
		Summary:   summarize(results),
		Results:   make([]ResultRecord, 0, len(results)),
	}
	for _, r := range results {
		doc.Results = append(doc.Results, newRecord(r))
	}
	return doc
}

// SaveJSONResults writes results.json.
func (a *Aggregator) SaveJSONResults() (string, error) {
	data, err := json.MarshalIndent(a.Document(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encoding %s: %w", ErrWriteArtifact, JSONFile, err)
	}
	return a.writeFile(JSONFile, data)
}

// LoadJSONResults reads a results document written by SaveJSONResults.
func LoadJSONResults(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrReadResults, path, err)
	}
	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrReadResults, path, err)
	}
	return doc, nil
}

// TestResults converts the records back into results. Captured logs are not
// part of the document and come back empty.
func (d *Document) TestResults() []TestResult {
	out := make([]TestResult, 0, len(d.Results))
	for _, rec := range d.Results {
		out = append(out, TestResult{
			Distro:           rec.Distro,
			Version:          rec.Version,
			InstallPassed:    rec.InstallPassed,
			OnboardingPassed: rec.OnboardingPassed,
			UninstallPassed:  rec.UninstallPassed,
			DurationSeconds:  rec.DurationSeconds,
			FailureReason:    deref(rec.FailureReason),
			Timestamp:        deref(rec.Timestamp),
		})
	}
	return out
}
