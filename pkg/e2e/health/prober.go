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

// Package health queries the endpoint-security agent for its health and maps
// the answer onto a typed Status.
package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexandremahdhaoui/mde-e2e/internal/util/ssh"
	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
)

const (
	// DefaultCommand is the agent's structured health query.
	DefaultCommand = "mdatp health --output json"
	// DefaultTimeout bounds a single health query.
	DefaultTimeout = 10 * time.Second

	DefaultMaxAttempts = 30
	DefaultInterval    = 5 * time.Second
)

// Prober runs the health query through a Runner.
type Prober struct {
	Runner  ssh.Runner
	Command string
	Timeout time.Duration
	// Strict treats any non-zero exit as a failure even when the command
	// printed a document.
	Strict bool
	Clock  clock.Clock
	Log    logr.Logger
}

// NewProber returns a Prober with default command, timeout and a real clock.
func NewProber(runner ssh.Runner, log logr.Logger) *Prober {
	return &Prober{
		Runner:  runner,
		Command: DefaultCommand,
		Timeout: DefaultTimeout,
		Clock:   clock.RealClock{},
		Log:     log,
	}
}

// GetStatus runs the query once. Failures are *ProbeError.
func (p *Prober) GetStatus(ctx context.Context) (*Status, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	res, err := p.Runner.Run(ctx, p.command())
	switch {
	case errors.Is(err, ssh.ErrTimeout):
		return nil, newProbeError(KindTimeout, err)
	case errors.Is(err, ssh.ErrCommandNotFound):
		return nil, newProbeError(KindCommandNotFound, err)
	case err != nil:
		return nil, newProbeError(KindTransport, err)
	}

	if res.ExitCode == ssh.ExitCodeCommandNotFound {
		return nil, newProbeError(KindCommandNotFound, fmt.Errorf("%q: %s", p.command(), strings.TrimSpace(res.Stderr)))
	}

	out := strings.TrimSpace(res.Stdout)
	if res.ExitCode != 0 && (out == "" || p.Strict) {
		return nil, newProbeError(KindNonZeroExit,
			fmt.Errorf("exit code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)))
	}
	if out == "" {
		return nil, newProbeError(KindMalformedResponse, fmt.Errorf("empty output"))
	}
	if res.ExitCode != 0 {
		p.Log.V(1).Info("health query exited non-zero, parsing output anyway", "exitCode", res.ExitCode)
	}

	return Parse([]byte(out))
}

// WaitForHealthy probes up to maxAttempts times, sleeping interval between
// attempts, and stops at the first healthy status. It returns the latest
// status observed, which may be unhealthy, or nil when no probe succeeded.
// A cancelled ctx stops polling early.
func (p *Prober) WaitForHealthy(ctx context.Context, maxAttempts int, interval time.Duration) *Status {
	var last *Status
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			p.Log.Info("health polling cancelled", "attempt", attempt)
			return last
		}

		status, err := p.GetStatus(ctx)
		switch {
		case err != nil:
			p.Log.V(1).Info("health probe failed", "attempt", attempt,
				"kind", KindOf(err).String(), "transient", KindOf(err).Transient(), "err", err.Error())
		case status.IsHealthy():
			return status
		default:
			last = status
			p.Log.V(1).Info("agent not healthy yet", "attempt", attempt,
				"daemonRunning", status.DaemonRunning,
				"onboarded", status.Onboarded,
				"definitionsUpdated", status.DefinitionsUpdated)
		}

		if attempt < maxAttempts {
			p.clock().Sleep(interval)
		}
	}
	return last
}

func (p *Prober) command() string {
	if p.Command == "" {
		return DefaultCommand
	}
	return p.Command
}

func (p *Prober) clock() clock.Clock {
	if p.Clock == nil {
		return clock.RealClock{}
	}
	return p.Clock
}

func (p *Prober) timeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}
