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

package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

const dialTimeout = 10 * time.Second

// Client implements the Runner interface for real SSH connections.
type Client struct {
	Host       string
	User       string
	PrivateKey []byte
	Port       string
}

var _ Runner = (*Client)(nil)

// NewClient creates a new SSH client.
func NewClient(host, user, privateKeyPath, port string) (*Client, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}

	return &Client{
			Host:       host,
			User:       user,
			PrivateKey: key,
			Port:       port,
		},
		nil
}

func (c *Client) config() (*ssh.ClientConfig, error) {
	signer, err := ssh.ParsePrivateKey(c.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}

	return &ssh.ClientConfig{
		User: c.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // throwaway test VMs
		Timeout:         dialTimeout,
	}, nil
}

// Run implements Runner. The session is torn down when ctx is done.
func (c *Client) Run(ctx context.Context, cmd string) (Result, error) {
	config, err := c.config()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	addr := net.JoinHostPort(c.Host, c.Port)
	dialer := net.Dialer{Timeout: dialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Result{}, c.wrapErr(ctx, fmt.Errorf("unable to connect to %s: %w", addr, err))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if err != nil {
		_ = netConn.Close()
		return Result{}, c.wrapErr(ctx, fmt.Errorf("ssh handshake with %s: %w", addr, err))
	}
	conn := ssh.NewClient(sshConn, chans, reqs)
	defer runFuncAndLogErr(conn.Close)

	session, err := conn.NewSession()
	if err != nil {
		return Result{}, c.wrapErr(ctx, fmt.Errorf("unable to create SSH session: %w", err))
	}
	defer runFuncAndLogErr(session.Close)

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = conn.Close()
		<-done
		return Result{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()},
			fmt.Errorf("%w: %q: %w", ErrTimeout, cmd, ctx.Err())
	case err = <-done:
	}

	res := Result{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	default:
		return res, fmt.Errorf("%w: remote command failed: %w", ErrTransport, err)
	}
}

// AwaitServer polls until the SSH server accepts a handshake or timeout
// elapses.
func (c *Client) AwaitServer(ctx context.Context, timeout, interval time.Duration) error {
	config, err := c.config()
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(c.Host, c.Port)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		conn, err := ssh.Dial("tcp", addr, config)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		slog.Debug("ssh server not ready", "addr", addr, "err", err.Error())

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for SSH server at %s", ErrTimeout, addr)
		case <-tick.C:
		}
	}
}

func (c *Client) wrapErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

func runFuncAndLogErr(f func() error) {
	if err := f(); err != nil {
		slog.Debug("error closing ssh session or connection", "err", err.Error())
	}
}
