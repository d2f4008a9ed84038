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

// Package vagrant wraps the Vagrant CLI used to provision, reach and destroy
// the per-distro test VMs, and builds the local boxes some distros boot from.
package vagrant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/alexandremahdhaoui/mde-e2e/internal/util/ssh"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/execcontext"
	"github.com/go-logr/logr"
)

const (
	DefaultBinary = "vagrant"

	UpTimeout        = time.Hour
	DestroyTimeout   = 300 * time.Second
	SSHConfigTimeout = 30 * time.Second
	BoxListTimeout   = 30 * time.Second
)

var (
	// ErrCommandFailed is returned when vagrant exits non-zero.
	ErrCommandFailed = errors.New("vagrant command failed")
	// ErrNoSSHConfig is returned when "vagrant ssh-config" yields no host.
	ErrNoSSHConfig = errors.New("no ssh config for machine")
)

// Client runs vagrant subcommands inside a project directory. Every command
// of one Client carries the same execution context, which is how the
// Vagrantfile learns which machine to define.
type Client struct {
	Binary      string
	Dir         string
	ExecContext execcontext.Context
	// Stream receives the live output of long-running commands such as up.
	Stream io.Writer
	Log    logr.Logger
}

// NewClient returns a Client for the project in dir.
func NewClient(dir string, log logr.Logger) *Client {
	return &Client{
		Binary:      DefaultBinary,
		Dir:         dir,
		ExecContext: execcontext.Empty(),
		Log:         log,
	}
}

// WithEnv returns a copy of c whose commands additionally carry envs.
func (c *Client) WithEnv(envs map[string]string) *Client {
	out := *c
	out.ExecContext = execcontext.WithEnvs(c.execContext(), envs)
	return &out
}

// Up provisions and boots the named machine.
func (c *Client) Up(ctx context.Context, name string) error {
	c.Log.Info("vagrant up", "vm", name)
	res, err := c.run(ctx, UpTimeout, c.Stream, "up", name)
	return c.check(res, err, "up", name)
}

// Destroy force-destroys the named machine. Destroying a machine that does
// not exist succeeds.
func (c *Client) Destroy(ctx context.Context, name string) error {
	c.Log.Info("vagrant destroy", "vm", name)
	res, err := c.run(ctx, DestroyTimeout, nil, "destroy", "-f", name)
	return c.check(res, err, "destroy", name)
}

// SSHConfig returns the raw "vagrant ssh-config" output for the machine.
func (c *Client) SSHConfig(ctx context.Context, name string) (string, error) {
	res, err := c.run(ctx, SSHConfigTimeout, nil, "ssh-config", name)
	if err := c.check(res, err, "ssh-config", name); err != nil {
		return res.Stdout, err
	}
	return res.Stdout, nil
}

// SSH runs cmd on the machine through "vagrant ssh -c". The remote exit
// status is reported through the Result.
func (c *Client) SSH(ctx context.Context, name, cmd string) (ssh.Result, error) {
	return c.run(ctx, 0, nil, "ssh", name, "-c", cmd)
}

// BoxList returns the raw "vagrant box list" output.
func (c *Client) BoxList(ctx context.Context) (string, error) {
	res, err := c.run(ctx, BoxListTimeout, nil, "box", "list")
	if err := c.check(res, err, "box list", ""); err != nil {
		return "", err
	}
	return res.Stdout, nil
}

func (c *Client) check(res ssh.Result, err error, op, name string) error {
	if err != nil {
		return fmt.Errorf("vagrant %s %s: %w", op, name, err)
	}
	if !res.Success() {
		return fmt.Errorf("%w: vagrant %s %s: exit code %d: %s",
			ErrCommandFailed, op, name, res.ExitCode, tail(res.Stderr, 512))
	}
	return nil
}

// run executes vagrant with args. A zero timeout relies on ctx alone.
func (c *Client) run(
	ctx context.Context,
	timeout time.Duration,
	stream io.Writer,
	args ...string,
) (ssh.Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.binary(), args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = 5 * time.Second
	execcontext.ApplyToCmd(c.execContext(), cmd)

	var stdout, stderr bytes.Buffer
	if stream != nil {
		cmd.Stdout = io.MultiWriter(&stdout, stream)
		cmd.Stderr = io.MultiWriter(&stderr, stream)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	c.Log.V(1).Info("running vagrant", "args", args, "dir", c.Dir)
	err := cmd.Run()
	res := ssh.Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctx.Err() != nil {
		return res, fmt.Errorf("%w: vagrant %s: %w", ssh.ErrTimeout, strings.Join(args, " "), ctx.Err())
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	case ssh.MissingExecutable(err, cmd.Path):
		return res, fmt.Errorf("%w: %w", ssh.ErrCommandNotFound, err)
	default:
		return res, fmt.Errorf("%w: %w", ssh.ErrTransport, err)
	}
}

func (c *Client) binary() string {
	if c.Binary == "" {
		return DefaultBinary
	}
	return c.Binary
}

func (c *Client) execContext() execcontext.Context {
	if c.ExecContext == nil {
		return execcontext.Empty()
	}
	return c.ExecContext
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// Shell runs a command on a named machine. *Client implements it.
type Shell interface {
	SSH(ctx context.Context, name, cmd string) (ssh.Result, error)
}

// SSHRunner runs commands on one machine through "vagrant ssh".
type SSHRunner struct {
	Client Shell
	Name   string
}

var (
	_ ssh.Runner = SSHRunner{}
	_ Shell      = (*Client)(nil)
)

// Run implements ssh.Runner.
func (r SSHRunner) Run(ctx context.Context, cmd string) (ssh.Result, error) {
	return r.Client.SSH(ctx, r.Name, cmd)
}
