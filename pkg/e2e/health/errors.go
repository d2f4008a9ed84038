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
	"errors"
	"fmt"
)

// FailureKind classifies why a probe produced no status.
type FailureKind int

const (
	KindUnknown FailureKind = iota
	// KindTimeout means the query did not answer within the probe timeout.
	KindTimeout
	// KindMalformedResponse means the query answered with something that
	// is not a health document.
	KindMalformedResponse
	// KindCommandNotFound means the agent CLI is not installed.
	KindCommandNotFound
	// KindNonZeroExit means the query failed without usable output.
	KindNonZeroExit
	// KindTransport means the command channel to the target failed.
	KindTransport
)

func (k FailureKind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindMalformedResponse:
		return "MalformedResponse"
	case KindCommandNotFound:
		return "CommandNotFound"
	case KindNonZeroExit:
		return "NonZeroExit"
	case KindTransport:
		return "Transport"
	default:
		return "Unknown"
	}
}

// Transient reports whether retrying the probe later may succeed. A missing
// agent CLI will not appear on its own.
func (k FailureKind) Transient() bool {
	return k != KindCommandNotFound
}

// ErrProbe is matched by every ProbeError through errors.Is.
var ErrProbe = errors.New("health probe failed")

// ProbeError is returned by Prober.GetStatus and Parse.
type ProbeError struct {
	Kind FailureKind
	Err  error
}

func newProbeError(kind FailureKind, err error) *ProbeError {
	return &ProbeError{Kind: kind, Err: err}
}

func (e *ProbeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrProbe, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", ErrProbe, e.Kind, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

func (e *ProbeError) Is(target error) bool {
	return target == ErrProbe
}

// KindOf extracts the FailureKind from err, or KindUnknown.
func KindOf(err error) FailureKind {
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
