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

// Package execcontext carries the environment and command prefix applied to
// every subprocess the test harness spawns.
package execcontext

import (
	"fmt"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
)

// Context is an immutable set of environment variables plus an optional
// command prefix (e.g. ["sudo", "-E"]).
type Context interface {
	Envs() map[string]string
	PrependCmd() []string
}

func New(envs map[string]string, prependCmd []string) Context {
	return &context{
		prependCmd: slices.Clone(prependCmd),
		envs:       maps.Clone(envs),
	}
}

// Empty returns a Context with no environment and no prefix.
func Empty() Context {
	return New(nil, nil)
}

// WithEnvs returns a copy of ctx whose environment is extended by envs.
// Keys in envs win over keys already in ctx.
func WithEnvs(ctx Context, envs map[string]string) Context {
	merged := ctx.Envs()
	maps.Copy(merged, envs)
	return New(merged, ctx.PrependCmd())
}

type context struct {
	envs       map[string]string
	prependCmd []string
}

// Envs implements Context.
func (c *context) Envs() map[string]string {
	out := make(map[string]string, len(c.envs))
	maps.Copy(out, c.envs)
	return out
}

// PrependCmd implements Context.
func (c *context) PrependCmd() []string {
	out := make([]string, len(c.prependCmd))
	copy(out, c.prependCmd)
	return out
}

// ApplyToCmd sets the context environment on cmd and prefixes its argv.
// A cmd without an explicit environment inherits the current process
// environment first, so PATH and HOME survive.
func ApplyToCmd(ctx Context, cmd *exec.Cmd) {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	envs := ctx.Envs()
	for _, k := range slices.Sorted(maps.Keys(envs)) {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, envs[k]))
	}

	prependCmd := ctx.PrependCmd()
	if len(prependCmd) < 1 {
		return
	}

	tmpCmd := exec.Command(prependCmd[0], prependCmd[1:]...)
	cmd.Path = tmpCmd.Path
	cmd.Err = tmpCmd.Err
	cmd.Args = append(tmpCmd.Args, cmd.Args...)
}

// FormatCmd renders the context and cmd as a single shell command line, e.g.
// for execution over SSH. Env keys are emitted in sorted order.
func FormatCmd(ctx Context, cmd ...string) string {
	var b strings.Builder

	envs := ctx.Envs()
	for _, k := range slices.Sorted(maps.Keys(envs)) {
		fmt.Fprintf(&b, "%s=%q ", k, envs[k])
	}

	for _, s := range ctx.PrependCmd() {
		safelyAppendToCmd(&b, s)
	}

	for _, s := range cmd {
		safelyAppendToCmd(&b, s)
	}

	return strings.TrimSpace(b.String())
}

var unquotable = map[string]struct{}{
	"&&": {},
	"||": {},
	";":  {},
	"|":  {},
	"&":  {},
}

func safelyAppendToCmd(b *strings.Builder, s string) {
	if _, ok := unquotable[s]; ok {
		fmt.Fprintf(b, "%s ", s)
		return
	}
	fmt.Fprintf(b, "%q ", s)
}
