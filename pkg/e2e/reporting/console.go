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
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Palette holds the console colors. It is passed explicitly so that tests and
// --no-color never touch package globals.
type Palette struct {
	Pass   *color.Color
	Fail   *color.Color
	Warn   *color.Color
	Header *color.Color
}

// NewPalette returns a palette, colored when enabled.
func NewPalette(enabled bool) Palette {
	p := Palette{
		Pass:   color.New(color.FgGreen),
		Fail:   color.New(color.FgRed),
		Warn:   color.New(color.FgYellow),
		Header: color.New(color.Bold),
	}
	for _, c := range []*color.Color{p.Pass, p.Fail, p.Warn, p.Header} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p Palette) forResult(r TestResult) *color.Color {
	switch {
	case !r.InstallPassed:
		return p.Fail
	case r.Passed():
		return p.Pass
	default:
		return p.Warn
	}
}

// PrintConsoleSummary prints one colored line per result followed by the
// totals.
func (a *Aggregator) PrintConsoleSummary(w io.Writer, p Palette) {
	if a.Len() == 0 {
		p.Warn.Fprintln(w, "No results to report.")
		return
	}

	p.Header.Fprintln(w, "E2E Test Results")
	for _, r := range a.Results() {
		p.forResult(r).Fprintf(w, "  %-14s %-8s %7.1fs  %s\n",
			r.Distro, r.Version, r.DurationSeconds, r.Status())
	}

	s := a.Summary()
	line := fmt.Sprintf("Total: %d  Passed: %d  Failed: %d", s.Total, s.Passed, s.Failed)
	if s.Failed > 0 {
		p.Fail.Fprintln(w, line)
		return
	}
	p.Pass.Fprintln(w, line)
}
