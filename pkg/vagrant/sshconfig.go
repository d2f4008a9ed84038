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
	"bufio"
	"fmt"
	"strings"
)

// SSHConfig is the subset of "vagrant ssh-config" needed to dial a machine.
type SSHConfig struct {
	Host         string
	HostName     string
	User         string
	Port         string
	IdentityFile string
}

// ParseSSHConfig reads the first Host block of "vagrant ssh-config" output.
func ParseSSHConfig(out string) (SSHConfig, error) {
	var cfg SSHConfig
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		value := strings.Trim(strings.Join(fields[1:], " "), `"`)

		switch strings.ToLower(fields[0]) {
		case "host":
			if cfg.Host != "" {
				return cfg.validate()
			}
			cfg.Host = value
		case "hostname":
			cfg.HostName = value
		case "user":
			cfg.User = value
		case "port":
			cfg.Port = value
		case "identityfile":
			if cfg.IdentityFile == "" {
				cfg.IdentityFile = value
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return SSHConfig{}, err
	}
	return cfg.validate()
}

func (c SSHConfig) validate() (SSHConfig, error) {
	if c.HostName == "" {
		return SSHConfig{}, fmt.Errorf("%w: missing HostName", ErrNoSSHConfig)
	}
	if c.Port == "" {
		c.Port = "22"
	}
	if c.User == "" {
		c.User = "vagrant"
	}
	return c, nil
}
