/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package vmm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vagrantDomainXML = `<domain type='kvm'>
  <name>vagrant_mde-ubuntu-2204</name>
  <uuid>6b1e8d2c-6a53-4e8e-9a7e-3f6d1d2a4c11</uuid>
  <memory unit='KiB'>4194304</memory>
  <vcpu placement='static'>2</vcpu>
  <os><type arch='x86_64' machine='pc-q35-8.2'>hvm</type></os>
  <devices>
    <interface type='network'>
      <mac address='52:54:00:aa:bb:cc'/>
      <source network='vagrant-libvirt'/>
      <model type='virtio'/>
    </interface>
    <interface type='network'>
      <mac address='52:54:00:dd:ee:ff'/>
      <source network='default'/>
    </interface>
  </devices>
</domain>`

func TestParseDomainXML(t *testing.T) {
	info, err := ParseDomainXML(vagrantDomainXML)
	require.NoError(t, err)

	assert.Equal(t, "vagrant_mde-ubuntu-2204", info.Name)
	assert.Equal(t, "6b1e8d2c-6a53-4e8e-9a7e-3f6d1d2a4c11", info.UUID)
	assert.Equal(t, uint(4096), info.MemoryMB)
	assert.Equal(t, uint(2), info.VCPUs)
	assert.Equal(t, []string{"52:54:00:aa:bb:cc", "52:54:00:dd:ee:ff"}, info.MACs)
	assert.Equal(t, []string{"vagrant-libvirt", "default"}, info.Networks)
	assert.Contains(t, info.String(), "memory=4096MiB")
}

func TestParseDomainXML_Invalid(t *testing.T) {
	_, err := ParseDomainXML("<domain")
	require.Error(t, err)
	assert.ErrorIs(t, err, errParseDomainXML)
}

func TestToMiB(t *testing.T) {
	tests := []struct {
		value    uint
		unit     string
		expected uint
	}{
		{2097152, "KiB", 2048},
		{2097152, "", 2048},
		{2048, "MiB", 2048},
		{2, "GiB", 2048},
		{2147483648, "bytes", 2048},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, toMiB(tt.value, tt.unit), "%d %s", tt.value, tt.unit)
	}
}

func TestDomainName(t *testing.T) {
	assert.Equal(t, "vagrant_mde-debian-12", DomainName("/srv/mde/tests/e2e/vagrant", "mde-debian-12"))
	assert.Equal(t, "vagrant_mde-debian-12", DomainName("/srv/mde/tests/e2e/vagrant/", "mde-debian-12"))
}
