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

package health

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Status is the typed view of the agent's health document.
type Status struct {
	DaemonRunning      bool    `json:"daemon_running"`
	RealTimeProtection bool    `json:"real_time_protection"`
	Onboarded          bool    `json:"onboarded"`
	DefinitionsUpdated bool    `json:"definitions_updated"`
	EngineVersion      *string `json:"engine_version,omitempty"`
	DefinitionsVersion *string `json:"definitions_version,omitempty"`
	ProductExpiration  *string `json:"product_expiration,omitempty"`
	Licenses           any     `json:"licenses,omitempty"`

	// Raw is the full document as reported by the agent.
	Raw map[string]any `json:"-"`
}

// IsHealthy reports whether the daemon runs, the device is onboarded and
// definitions are up to date. Real-time protection is not required.
func (s *Status) IsHealthy() bool {
	if s == nil {
		return false
	}
	return s.DaemonRunning && s.Onboarded && s.DefinitionsUpdated
}

// definitionsUpToDate is the $type the agent reports for current definitions.
const definitionsUpToDate = "upToDate"

// document mirrors the fields of "mdatp health --output json" that are read.
type document struct {
	Healthy                   bool              `json:"healthy"`
	Licensed                  bool              `json:"licensed"`
	RealTimeProtectionEnabled flag              `json:"realTimeProtectionEnabled"`
	DefinitionsStatus         definitionsStatus `json:"definitionsStatus"`
	EngineVersion             *string           `json:"engineVersion"`
	DefinitionsVersion        *string           `json:"definitionsVersion"`
	ProductExpiration         *string           `json:"productExpiration"`
	Licenses                  any               `json:"licenses"`
}

// flag is a boolean the agent reports either bare or wrapped as
// {"value": bool}, depending on its version.
type flag bool

func (f *flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = false
		return nil
	}

	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flag(b)
		return nil
	}

	var wrapped struct {
		Value bool `json:"value"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return fmt.Errorf("expected bool or {\"value\": bool}, got %s", data)
	}
	*f = flag(wrapped.Value)
	return nil
}

// definitionsStatus only keeps the discriminator. Anything that is not an
// object decodes to an empty status.
type definitionsStatus struct {
	Type string
}

func (d *definitionsStatus) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		*d = definitionsStatus{}
		return nil
	}
	t, _ := obj["$type"].(string)
	*d = definitionsStatus{Type: t}
	return nil
}

// Parse decodes a health document. It fails with a MalformedResponse
// ProbeError when data is not a JSON object of the expected shape.
func Parse(data []byte) (*Status, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, newProbeError(KindMalformedResponse, err)
	}
	if raw == nil {
		return nil, newProbeError(KindMalformedResponse, fmt.Errorf("empty document"))
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, newProbeError(KindMalformedResponse, err)
	}

	return &Status{
		DaemonRunning:      doc.Healthy,
		RealTimeProtection: bool(doc.RealTimeProtectionEnabled),
		Onboarded:          doc.Licensed,
		DefinitionsUpdated: doc.DefinitionsStatus.Type == definitionsUpToDate,
		EngineVersion:      doc.EngineVersion,
		DefinitionsVersion: doc.DefinitionsVersion,
		ProductExpiration:  doc.ProductExpiration,
		Licenses:           doc.Licenses,
		Raw:                raw,
	}, nil
}
