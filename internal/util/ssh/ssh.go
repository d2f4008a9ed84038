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

// Package ssh provides the one-shot command channel used to run commands on
// a test VM or on the local host.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"time"

	"github.com/alexandremahdhaoui/mde-e2e/pkg/execcontext"
)

// ExitCodeCommandNotFound is the shell's exit status for an unknown command.
const ExitCodeCommandNotFound = 127

// waitDelay bounds how long a killed command may hold its output pipes.
const waitDelay = 2 * time.Second

var (
	// ErrTimeout is returned when the command did not finish before the
	// context deadline.
	ErrTimeout = errors.New("command timed out")
	// ErrCommandNotFound is returned when the executable cannot be resolved.
	ErrCommandNotFound = errors.New("command not found")
	// ErrTransport is returned when the channel itself failed and the
	// command may not have run.
	ErrTransport = errors.New("command transport failed")
)

// MissingExecutable reports whether err means the executable at path could
// not be found, either on PATH or at an absolute location. A missing working
// directory is not a missing executable.
func MissingExecutable(err error, path string) bool {
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}
	var pathErr *fs.PathError
	return errors.As(err, &pathErr) && pathErr.Path == path && errors.Is(err, fs.ErrNotExist)
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the command exited with status 0.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes a single shell command. A non-zero exit status is reported
// through Result.ExitCode with a nil error; the error is reserved for
// timeouts, missing executables and transport failures.
type Runner interface {
	Run(ctx context.Context, cmd string) (Result, error)
}

// LocalRunner runs commands on the local host through "sh -c".
type LocalRunner struct {
	ExecContext execcontext.Context
}

// Run implements Runner.
func (l LocalRunner) Run(ctx context.Context, cmd string) (Result, error) {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	c.WaitDelay = waitDelay
	if l.ExecContext != nil {
		execcontext.ApplyToCmd(l.ExecContext, c)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%w: %q: %w", ErrTimeout, cmd, ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	case MissingExecutable(err, c.Path):
		return res, fmt.Errorf("%w: %w", ErrCommandNotFound, err)
	default:
		return res, fmt.Errorf("%w: %w", ErrTransport, err)
	}
}
