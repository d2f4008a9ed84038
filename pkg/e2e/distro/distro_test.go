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

package distro_test

import (
	"testing"

	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/distro"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_TestMatrix(t *testing.T) {
	p := distro.NewProvider()

	t.Run("excludes paid distros", func(t *testing.T) {
		matrix := p.TestMatrix(true)
		require.NotEmpty(t, matrix)
		for _, e := range matrix {
			assert.NotEqual(t, "rhel", e.Distro)
		}
	})

	t.Run("curated matrix needs no subscription", func(t *testing.T) {
		assert.Equal(t, p.TestMatrix(true), p.TestMatrix(false))
	})

	t.Run("sorted by distro then version", func(t *testing.T) {
		matrix := p.TestMatrix(false)
		for i := 1; i < len(matrix); i++ {
			prev, cur := matrix[i-1], matrix[i]
			if prev.Distro == cur.Distro {
				assert.Less(t, prev.Version, cur.Version)
			} else {
				assert.Less(t, prev.Distro, cur.Distro)
			}
		}
	})

	t.Run("lookups agree with matrix", func(t *testing.T) {
		for _, e := range p.TestMatrix(false) {
			assert.Equal(t, e.ScaledVersion, p.ScaledVersion(e.Distro, e.Version), e.Key())
			assert.Equal(t, e.ImageReference, p.ImageReference(e.Distro, e.Version), e.Key())
			assert.Equal(t, distro.FamilyOf(e.Distro), e.Family, e.Key())
		}
	})
}

func TestProvider_Lookups(t *testing.T) {
	p := distro.NewProvider()

	tests := []struct {
		name    string
		distro  string
		version string
		scaled  string
		image   string
	}{
		{"curated ubuntu", "ubuntu", "22.04", "22.04", "generic/ubuntu2204"},
		{"fedora scales to 8", "fedora", "41", "8", "local/fedora41"},
		{"local debian box", "debian", "12", "12", "local/debian12"},
		{"unknown version", "ubuntu", "16.04", "16.04", "generic/ubuntu16.04"},
		{"unknown distro", "gentoo", "1", "1", "generic/gentoo1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.scaled, p.ScaledVersion(tt.distro, tt.version))
			assert.Equal(t, tt.image, p.ImageReference(tt.distro, tt.version))
		})
	}
}

func TestProvider_Entry(t *testing.T) {
	e := distro.NewProvider().Entry("sles", "15")
	assert.Equal(t, distro.Entry{
		Distro:         "sles",
		Version:        "15",
		ScaledVersion:  "15",
		Family:         distro.FamilySLES,
		ImageReference: "generic/sles15",
	}, e)
	assert.Equal(t, "sles:15", e.Key())
}

func TestProvider_Versions(t *testing.T) {
	v := distro.NewProvider().Versions()
	assert.Equal(t, []string{"12", "11", "10"}, v["debian"])
	assert.Contains(t, v["ubuntu"], "24.04")
}

func TestFamilyOf(t *testing.T) {
	assert.Equal(t, distro.FamilyDebian, distro.FamilyOf("ubuntu"))
	assert.Equal(t, distro.FamilySLES, distro.FamilyOf("opensuse-leap"))
	assert.Equal(t, distro.FamilyMariner, distro.FamilyOf("mariner"))
	assert.Equal(t, distro.Family("plan9"), distro.FamilyOf("plan9"))
}

func TestIsFamily(t *testing.T) {
	for _, f := range []string{"debian", "fedora", "sles", "mariner", "azurelinux"} {
		assert.True(t, distro.IsFamily(f), f)
	}
	assert.False(t, distro.IsFamily("ubuntu"))
	assert.False(t, distro.IsFamily(""))
}
