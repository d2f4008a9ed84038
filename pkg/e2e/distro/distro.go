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

// Package distro provides the curated matrix of Linux distributions the
// agent is tested against, together with the package family and the VM
// image each one boots from.
//
// The matrix is maintained by hand. Every entry is both a supported platform
// for the agent and an image known to boot with the libvirt provider.
package distro

import (
	"fmt"
	"slices"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Family is the package family a distribution installs the agent from.
type Family string

const (
	FamilyDebian     Family = "debian"
	FamilyFedora     Family = "fedora"
	FamilyMariner    Family = "mariner"
	FamilyAzureLinux Family = "azurelinux"
	FamilySLES       Family = "sles"
)

// Families lists every known package family.
var Families = []Family{FamilyDebian, FamilyFedora, FamilySLES, FamilyMariner, FamilyAzureLinux}

// Entry is one testable (distro, version) pair.
type Entry struct {
	Distro         string `json:"distro"`
	Version        string `json:"version"`
	ScaledVersion  string `json:"scaled_version"`
	Family         Family `json:"family"`
	ImageReference string `json:"image_reference"`
}

// Key returns the "distro:version" form used by CLI filters and logs.
func (e Entry) Key() string {
	return e.Distro + ":" + e.Version
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s", e.Distro, e.Version)
}

// familyOf maps a distro name onto its package family. It also covers
// distros with no curated entry so callers can resolve them.
var familyOf = map[string]Family{
	"ubuntu":              FamilyDebian,
	"debian":              FamilyDebian,
	"rhel":                FamilyFedora,
	"centos":              FamilyFedora,
	"rocky":               FamilyFedora,
	"almalinux":           FamilyFedora,
	"ol":                  FamilyFedora,
	"fedora":              FamilyFedora,
	"amzn":                FamilyFedora,
	"mariner":             FamilyMariner,
	"azurelinux":          FamilyAzureLinux,
	"sles":                FamilySLES,
	"sle-hpc":             FamilySLES,
	"sles_sap":            FamilySLES,
	"opensuse-leap":       FamilySLES,
	"opensuse-tumbleweed": FamilySLES,
}

// paidDistros need a subscription and are skipped when asked to.
var paidDistros = sets.New("rhel")

type release struct {
	version string
	scaled  string
	image   string
}

// curated is keyed by distro.
//
// Fedora installs from the RHEL 8 compatible repo, hence the scaled version.
// Boxes under local/ are converted from official cloud images by the box
// builder because the public boxes fail DHCP under libvirt.
var curated = map[string][]release{
	"ubuntu": {
		{"18.04", "18.04", "generic/ubuntu1804"},
		{"20.04", "20.04", "generic/ubuntu2004"},
		{"22.04", "22.04", "generic/ubuntu2204"},
		{"24.04", "24.04", "cloud-image/ubuntu-24.04"},
		{"25.04", "25.04", "alvistack/ubuntu-25.04"},
		{"25.10", "25.10", "alvistack/ubuntu-25.10"},
	},
	"debian": {
		{"12", "12", "local/debian12"},
		{"11", "11", "local/debian11"},
		{"10", "10", "local/debian10"},
	},
	"centos": {
		{"9", "9", "generic/centos9s"},
	},
	"rocky": {
		{"8", "8", "generic/rocky8"},
		{"9", "9", "generic/rocky9"},
	},
	"almalinux": {
		{"8", "8", "generic/alma8"},
		{"9", "9", "generic/alma9"},
	},
	"fedora": {
		{"39", "8", "generic/fedora39"},
		{"40", "8", "local/fedora40"},
		{"41", "8", "local/fedora41"},
		{"42", "8", "alvistack/fedora-42"},
		{"43", "8", "local/fedora43"},
	},
	"ol": {
		{"8", "8", "generic/oracle8"},
		{"9", "9", "generic/oracle9"},
	},
	"amzn": {
		{"2", "2", "crystax/amazon2"},
		{"2023", "2023", "crystax/amazon2023"},
	},
}

// Provider serves lookups against the curated matrix. The zero value is not
// usable; call NewProvider.
type Provider struct {
	releases map[string][]release
}

// NewProvider returns a Provider over the curated matrix.
func NewProvider() *Provider {
	return &Provider{releases: curated}
}

// TestMatrix returns every curated entry sorted by (distro, version). When
// excludePaid is set, distros that need a subscription are left out.
func (p *Provider) TestMatrix(excludePaid bool) []Entry {
	out := make([]Entry, 0)
	for d, releases := range p.releases {
		if excludePaid && paidDistros.Has(d) {
			continue
		}
		for _, r := range releases {
			out = append(out, Entry{
				Distro:         d,
				Version:        r.version,
				ScaledVersion:  r.scaled,
				Family:         FamilyOf(d),
				ImageReference: r.image,
			})
		}
	}
	SortEntries(out)
	return out
}

// Versions returns the curated versions of every distro, in table order.
func (p *Provider) Versions() map[string][]string {
	out := make(map[string][]string, len(p.releases))
	for d, releases := range p.releases {
		for _, r := range releases {
			out[d] = append(out[d], r.version)
		}
	}
	return out
}

// ScaledVersion returns the version the agent's package repository uses for
// the pair. Unregistered pairs fall back to the version itself.
func (p *Provider) ScaledVersion(distro, version string) string {
	if r, ok := p.lookup(distro, version); ok {
		return r.scaled
	}
	return version
}

// ImageReference returns the VM image for the pair. Unregistered pairs fall
// back to "generic/<distro><version>".
func (p *Provider) ImageReference(distro, version string) string {
	if r, ok := p.lookup(distro, version); ok {
		return r.image
	}
	return fmt.Sprintf("generic/%s%s", distro, version)
}

// Entry resolves a pair into a full Entry, synthesizing defaults for pairs
// that are not curated.
func (p *Provider) Entry(distro, version string) Entry {
	return Entry{
		Distro:         distro,
		Version:        version,
		ScaledVersion:  p.ScaledVersion(distro, version),
		Family:         FamilyOf(distro),
		ImageReference: p.ImageReference(distro, version),
	}
}

func (p *Provider) lookup(distro, version string) (release, bool) {
	for _, r := range p.releases[distro] {
		if r.version == version {
			return r, true
		}
	}
	return release{}, false
}

// FamilyOf returns the package family of a distro. Unknown distros are their
// own family.
func FamilyOf(distro string) Family {
	if f, ok := familyOf[distro]; ok {
		return f
	}
	return Family(distro)
}

// IsFamily reports whether name is one of the known package families.
func IsFamily(name string) bool {
	return slices.Contains(Families, Family(name))
}

// SortEntries orders entries by (distro, version).
func SortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := strings.Compare(a.Distro, b.Distro); c != 0 {
			return c
		}
		return strings.Compare(a.Version, b.Version)
	})
}
