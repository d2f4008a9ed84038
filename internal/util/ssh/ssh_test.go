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

//go:build unit

package ssh_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexandremahdhaoui/mde-e2e/internal/util/ssh"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/execcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewClient_Success verifies NewClient() reads the private key file.
func TestNewClient_Success(t *testing.T) {
	tempDir := t.TempDir()
	keyPath := filepath.Join(tempDir, "private_key")
	err := os.WriteFile(keyPath, []byte("not-a-real-key"), 0o600)
	require.NoError(t, err)

	client, err := ssh.NewClient("192.168.121.10", "vagrant", keyPath, "22")
	require.NoError(t, err)
	require.NotNil(t, client)

	assert.Equal(t, "192.168.121.10", client.Host)
	assert.Equal(t, "vagrant", client.User)
	assert.Equal(t, "22", client.Port)
	assert.Equal(t, []byte("not-a-real-key"), client.PrivateKey)
}

// TestNewClient_FileNotFound verifies NewClient() fails on a missing key.
func TestNewClient_FileNotFound(t *testing.T) {
	client, err := ssh.NewClient("test-host", "test-user", "/nonexistent/path/id_rsa", "22")

	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "unable to read private key")
}

// TestClient_Run_InvalidKey verifies a bad key is a transport error and no
// connection is attempted.
func TestClient_Run_InvalidKey(t *testing.T) {
	client := &ssh.Client{Host: "127.0.0.1", User: "vagrant", PrivateKey: []byte("garbage"), Port: "1"}

	_, err := client.Run(context.Background(), "true")
	require.Error(t, err)
	assert.ErrorIs(t, err, ssh.ErrTransport)
	assert.Contains(t, err.Error(), "unable to parse private key")
}

func TestLocalRunner_Run(t *testing.T) {
	runner := ssh.LocalRunner{}

	tests := []struct {
		name     string
		cmd      string
		stdout   string
		exitCode int
	}{
		{name: "success", cmd: "echo hello", stdout: "hello\n"},
		{name: "non-zero exit is not an error", cmd: "echo partial; exit 3", stdout: "partial\n", exitCode: 3},
		{name: "unknown command", cmd: "mde-e2e-definitely-missing-binary", exitCode: ssh.ExitCodeCommandNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := runner.Run(context.Background(), tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.stdout, res.Stdout)
			assert.Equal(t, tt.exitCode, res.ExitCode)
			assert.Equal(t, tt.exitCode == 0, res.Success())
		})
	}
}

func TestLocalRunner_Run_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := ssh.LocalRunner{}.Run(ctx, "sleep 5")
	require.Error(t, err)
	assert.ErrorIs(t, err, ssh.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalRunner_Run_ExecContext(t *testing.T) {
	runner := ssh.LocalRunner{ExecContext: execcontext.New(map[string]string{"TEST_DISTRO": "debian"}, nil)}

	res, err := runner.Run(context.Background(), `printf %s "$TEST_DISTRO"`)
	require.NoError(t, err)
	assert.Equal(t, "debian", res.Stdout)
}

func TestLocalRunner_Run_MissingPrefix(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "no-such-sudo")
	runner := ssh.LocalRunner{ExecContext: execcontext.New(nil, []string{prefix})}

	_, err := runner.Run(context.Background(), "true")
	require.Error(t, err)
	assert.ErrorIs(t, err, ssh.ErrCommandNotFound)
	assert.NotErrorIs(t, err, ssh.ErrTransport)
}
