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

package vagrant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/alexandremahdhaoui/mde-e2e/internal/util/ssh"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/distro"
	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"
)

const (
	// LocalBoxPrefix marks boxes converted from cloud images on this host.
	LocalBoxPrefix = "local/"

	DefaultConvertScript = "convert_cloud_image.sh"
	BuildTimeout         = 30 * time.Minute
)

var (
	ErrNotLocalBox           = errors.New("not a local box")
	ErrConvertScriptNotFound = errors.New("convert script not found")
	ErrBoxBuildFailed        = errors.New("box build failed")
)

// "name (provider, version[, arch])"
var boxListLine = regexp.MustCompile(`^(\S+)\s+\(`)

var localBoxName = regexp.MustCompile(`^(debian|fedora|ubuntu)(\d+)$`)

// ParseBoxList returns the box names in "vagrant box list" output.
func ParseBoxList(out string) sets.Set[string] {
	boxes := sets.New[string]()
	for _, line := range strings.Split(out, "\n") {
		if m := boxListLine.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			boxes.Insert(m[1])
		}
	}
	return boxes
}

// IsLocalBox reports whether box is built on this host.
func IsLocalBox(box string) bool {
	return strings.HasPrefix(box, LocalBoxPrefix)
}

// ParseLocalBoxName splits "local/fedora40" into ("fedora", "40").
func ParseLocalBoxName(box string) (distroName, version string, ok bool) {
	if !IsLocalBox(box) {
		return "", "", false
	}
	m := localBoxName.FindStringSubmatch(strings.TrimPrefix(box, LocalBoxPrefix))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// BoxBuilder converts official cloud images into local boxes.
type BoxBuilder struct {
	Vagrant    *Client
	ScriptsDir string
	Script     string
	Timeout    time.Duration
	// Runner executes the conversion script. It runs on the local host.
	Runner ssh.Runner
	// OnBuild, when set, observes every build attempt.
	OnBuild func(box string, err error)
	Log     logr.Logger
}

// NewBoxBuilder returns a BoxBuilder using the default script in scriptsDir.
func NewBoxBuilder(vagrant *Client, scriptsDir string, log logr.Logger) *BoxBuilder {
	return &BoxBuilder{
		Vagrant:    vagrant,
		ScriptsDir: scriptsDir,
		Script:     DefaultConvertScript,
		Timeout:    BuildTimeout,
		Runner:     ssh.LocalRunner{},
		Log:        log,
	}
}

// InstalledBoxes lists the boxes vagrant knows about.
func (b *BoxBuilder) InstalledBoxes(ctx context.Context) (sets.Set[string], error) {
	out, err := b.Vagrant.BoxList(ctx)
	if err != nil {
		return sets.New[string](), err
	}
	return ParseBoxList(out), nil
}

// Build converts the cloud image behind a local box name.
func (b *BoxBuilder) Build(ctx context.Context, box string) error {
	d, v, ok := ParseLocalBoxName(box)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLocalBox, box)
	}

	script := filepath.Join(b.ScriptsDir, b.Script)
	if _, err := os.Stat(script); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConvertScriptNotFound, script, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	b.Log.Info("building local box from cloud image", "box", box)
	cmd := fmt.Sprintf("cd %q && %q %q %q", b.ScriptsDir, script, d, v)
	res, err := b.Runner.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBoxBuildFailed, box, err)
	}
	if !res.Success() {
		return fmt.Errorf("%w: %s: exit code %d: %s", ErrBoxBuildFailed, box, res.ExitCode, tail(res.Stderr, 512))
	}
	return nil
}

// EnsureAvailable builds every missing local box the entries need and
// returns the entries whose box is usable. Entries whose box failed to build
// are dropped. Listing failures are treated as "nothing installed".
func (b *BoxBuilder) EnsureAvailable(ctx context.Context, entries []distro.Entry) []distro.Entry {
	installed, err := b.InstalledBoxes(ctx)
	if err != nil {
		b.Log.Error(err, "listing installed boxes")
	}

	missing := sets.New[string]()
	for _, e := range entries {
		if IsLocalBox(e.ImageReference) && !installed.Has(e.ImageReference) {
			missing.Insert(e.ImageReference)
		}
	}
	if missing.Len() == 0 {
		return entries
	}

	b.Log.Info("building missing local boxes", "count", missing.Len())
	failed := sets.New[string]()
	for _, box := range sets.List(missing) {
		err := b.Build(ctx, box)
		if b.OnBuild != nil {
			b.OnBuild(box, err)
		}
		if err != nil {
			b.Log.Error(err, "skipping distros using box", "box", box)
			failed.Insert(box)
			continue
		}
		b.Log.Info("built local box", "box", box)
	}

	out := make([]distro.Entry, 0, len(entries))
	for _, e := range entries {
		if failed.Has(e.ImageReference) {
			continue
		}
		out = append(out, e)
	}
	return out
}
