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

// Package vmm inspects the libvirt domains backing the test VMs. It never
// mutates a domain: provisioning and teardown go through vagrant.
package vmm

import (
	"errors"
	"fmt"
	"strings"

	"libvirt.org/go/libvirt"
)

// DefaultURI is the system libvirt daemon vagrant-libvirt talks to.
const DefaultURI = "qemu:///system"

var (
	ErrDomainNotFound = errors.New("domain not found")

	errLibvirtNotInitialized = errors.New("libvirt connection not initialized")
	errParseDomainXML        = errors.New("parsing domain XML")
	errGetDomainXML          = errors.New("getting domain XML")
	errGetDomainState        = errors.New("getting domain state")
)

// VMM is a read-only libvirt connection.
type VMM struct {
	conn *libvirt.Connect
	uri  string
}

// NewVMM connects to uri, or DefaultURI when empty.
func NewVMM(uri string) (*VMM, error) {
	if uri == "" {
		uri = DefaultURI
	}
	conn, err := libvirt.NewConnect(uri)
	if err != nil {
		return nil, fmt.Errorf("connecting to libvirt at %s: %w", uri, err)
	}
	return &VMM{conn: conn, uri: uri}, nil
}

// Close closes the libvirt connection.
func (v *VMM) Close() error {
	if v.conn == nil {
		return nil
	}
	_, err := v.conn.Close()
	v.conn = nil
	return err
}

// DomainExists reports whether libvirt knows a domain called name.
func (v *VMM) DomainExists(name string) (bool, error) {
	if v.conn == nil {
		return false, errLibvirtNotInitialized
	}
	dom, err := v.conn.LookupDomainByName(name)
	if err != nil {
		var lerr libvirt.Error
		if errors.As(err, &lerr) && lerr.Code == libvirt.ERR_NO_DOMAIN {
			return false, nil
		}
		return false, err
	}
	_ = dom.Free()
	return true, nil
}

// Inspect returns the definition, state and leased IPv4 addresses of the
// domain called name.
func (v *VMM) Inspect(name string) (DomainInfo, error) {
	if v.conn == nil {
		return DomainInfo{}, errLibvirtNotInitialized
	}

	dom, err := v.conn.LookupDomainByName(name)
	if err != nil {
		return DomainInfo{}, fmt.Errorf("%w: %s: %w", ErrDomainNotFound, name, err)
	}
	defer func() { _ = dom.Free() }()

	xml, err := dom.GetXMLDesc(0)
	if err != nil {
		return DomainInfo{}, fmt.Errorf("%w: %s: %w", errGetDomainXML, name, err)
	}
	info, err := ParseDomainXML(xml)
	if err != nil {
		return DomainInfo{}, err
	}

	state, _, err := dom.GetState()
	if err != nil {
		return info, fmt.Errorf("%w: %s: %w", errGetDomainState, name, err)
	}
	info.State = stateName(state)

	// Leases only exist once the guest got DHCP; absence is not an error.
	ifaces, err := dom.ListAllInterfaceAddresses(libvirt.DOMAIN_INTERFACE_ADDRESSES_SRC_LEASE)
	if err == nil {
		for _, iface := range ifaces {
			for _, addr := range iface.Addrs {
				if int(addr.Type) == int(libvirt.IP_ADDR_TYPE_IPV4) {
					info.IPs = append(info.IPs, strings.Split(addr.Addr, "/")[0])
				}
			}
		}
	}

	return info, nil
}

func stateName(s libvirt.DomainState) string {
	switch s {
	case libvirt.DOMAIN_RUNNING:
		return "running"
	case libvirt.DOMAIN_BLOCKED:
		return "blocked"
	case libvirt.DOMAIN_PAUSED:
		return "paused"
	case libvirt.DOMAIN_SHUTDOWN:
		return "shutting-down"
	case libvirt.DOMAIN_SHUTOFF:
		return "shutoff"
	case libvirt.DOMAIN_CRASHED:
		return "crashed"
	case libvirt.DOMAIN_PMSUSPENDED:
		return "suspended"
	default:
		return "unknown"
	}
}
