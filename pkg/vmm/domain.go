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
	"fmt"
	"path/filepath"
	"strings"

	"libvirt.org/go/libvirtxml"
)

// DomainInfo is what the harness reports about a libvirt domain when a VM
// misbehaves.
type DomainInfo struct {
	Name     string   `json:"name"`
	UUID     string   `json:"uuid,omitempty"`
	State    string   `json:"state,omitempty"`
	MemoryMB uint     `json:"memory_mb"`
	VCPUs    uint     `json:"vcpus"`
	MACs     []string `json:"macs,omitempty"`
	Networks []string `json:"networks,omitempty"`
	IPs      []string `json:"ips,omitempty"`
}

func (d DomainInfo) String() string {
	return fmt.Sprintf("domain=%s state=%s memory=%dMiB vcpus=%d macs=%s networks=%s ips=%s",
		d.Name, d.State, d.MemoryMB, d.VCPUs,
		strings.Join(d.MACs, ","), strings.Join(d.Networks, ","), strings.Join(d.IPs, ","))
}

// ParseDomainXML extracts the static part of DomainInfo from a domain
// definition.
func ParseDomainXML(xml string) (DomainInfo, error) {
	var domain libvirtxml.Domain
	if err := domain.Unmarshal(xml); err != nil {
		return DomainInfo{}, fmt.Errorf("%w: %w", errParseDomainXML, err)
	}

	info := DomainInfo{
		Name: domain.Name,
		UUID: domain.UUID,
	}
	if domain.Memory != nil {
		info.MemoryMB = toMiB(domain.Memory.Value, domain.Memory.Unit)
	}
	if domain.VCPU != nil {
		info.VCPUs = domain.VCPU.Value
	}
	if domain.Devices != nil {
		for _, iface := range domain.Devices.Interfaces {
			if iface.MAC != nil && iface.MAC.Address != "" {
				info.MACs = append(info.MACs, iface.MAC.Address)
			}
			if iface.Source != nil && iface.Source.Network != nil {
				info.Networks = append(info.Networks, iface.Source.Network.Network)
			}
		}
	}
	return info, nil
}

// toMiB converts a libvirt memory value. libvirt defaults to KiB.
func toMiB(value uint, unit string) uint {
	switch strings.ToLower(unit) {
	case "b", "bytes":
		return value / (1024 * 1024)
	case "", "k", "kib":
		return value / 1024
	case "kb":
		return value * 1000 / (1024 * 1024)
	case "m", "mib":
		return value
	case "mb":
		return value * 1000 * 1000 / (1024 * 1024)
	case "g", "gib":
		return value * 1024
	case "gb":
		return value * 1000 * 1000 * 1000 / (1024 * 1024)
	default:
		return value / 1024
	}
}

// DomainName returns the name vagrant-libvirt gives the domain of machine
// when the Vagrantfile lives in vagrantDir: "<dir basename>_<machine>".
func DomainName(vagrantDir, machine string) string {
	return filepath.Base(filepath.Clean(vagrantDir)) + "_" + machine
}
