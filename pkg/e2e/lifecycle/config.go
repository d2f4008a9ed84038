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

package lifecycle

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/distro"
)

// DefaultProvider is the vagrant provider the Vagrantfile targets.
const DefaultProvider = "libvirt"

// TestConfig is everything needed to provision one VM.
type TestConfig struct {
	distro.Entry

	CPUs     uint
	MemoryMB uint
	DiskGB   uint
}

// VMName returns the machine name the Vagrantfile defines for the pair,
// e.g. "mde-ubuntu-2204".
func VMName(distroName, version string) string {
	return fmt.Sprintf("mde-%s-%s", distroName, strings.ReplaceAll(version, ".", ""))
}

// VMName returns the machine name of this configuration.
func (c TestConfig) VMName() string {
	return VMName(c.Distro, c.Version)
}

// Env returns the variables the Vagrantfile reads to define the machine.
func (c TestConfig) Env(provider string) map[string]string {
	if provider == "" {
		provider = DefaultProvider
	}
	return map[string]string{
		"TEST_DISTRO":              c.Distro,
		"TEST_VERSION":             c.Version,
		"TEST_SCALED_VERSION":      c.ScaledVersion,
		"TEST_VAGRANT_BOX":         c.ImageReference,
		"TEST_CPUS":                strconv.FormatUint(uint64(c.CPUs), 10),
		"TEST_MEMORY":              strconv.FormatUint(uint64(c.MemoryMB), 10),
		"TEST_DISK_SIZE":           strconv.FormatUint(uint64(c.DiskGB), 10),
		"VAGRANT_DEFAULT_PROVIDER": provider,
	}
}
