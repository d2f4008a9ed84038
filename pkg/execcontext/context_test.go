//go:build unit

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

package execcontext_test

import (
	"os/exec"
	"testing"

	"github.com/alexandremahdhaoui/mde-e2e/pkg/execcontext"
	"github.com/stretchr/testify/assert"
)

func TestNew_CopiesInputs(t *testing.T) {
	envs := map[string]string{"A": "1"}
	prefix := []string{"sudo"}
	ctx := execcontext.New(envs, prefix)

	envs["A"] = "2"
	prefix[0] = "doas"

	assert.Equal(t, map[string]string{"A": "1"}, ctx.Envs())
	assert.Equal(t, []string{"sudo"}, ctx.PrependCmd())
}

func TestWithEnvs(t *testing.T) {
	base := execcontext.New(map[string]string{"A": "1", "B": "1"}, []string{"sudo"})
	ctx := execcontext.WithEnvs(base, map[string]string{"B": "2", "C": "3"})

	assert.Equal(t, map[string]string{"A": "1", "B": "2", "C": "3"}, ctx.Envs())
	assert.Equal(t, []string{"sudo"}, ctx.PrependCmd())
	assert.Equal(t, map[string]string{"A": "1", "B": "1"}, base.Envs())
}

func TestApplyToCmd(t *testing.T) {
	t.Setenv("MDE_E2E_INHERITED", "yes")

	t.Run("inherits process env and appends context env", func(t *testing.T) {
		cmd := exec.Command("true")
		execcontext.ApplyToCmd(execcontext.New(map[string]string{"TEST_DISTRO": "ubuntu"}, nil), cmd)

		assert.Contains(t, cmd.Env, "MDE_E2E_INHERITED=yes")
		assert.Contains(t, cmd.Env, "TEST_DISTRO=ubuntu")
		assert.Equal(t, []string{"true"}, cmd.Args)
	})

	t.Run("prefixes args", func(t *testing.T) {
		cmd := exec.Command("true", "x")
		execcontext.ApplyToCmd(execcontext.New(nil, []string{"env", "-i"}), cmd)

		assert.Equal(t, []string{"env", "-i", "true", "x"}, cmd.Args)
	})
}

func TestFormatCmd(t *testing.T) {
	tests := []struct {
		name     string
		ctx      execcontext.Context
		cmd      []string
		expected string
	}{
		{
			name:     "plain",
			ctx:      execcontext.Empty(),
			cmd:      []string{"mdatp", "health"},
			expected: `"mdatp" "health"`,
		},
		{
			name:     "env sorted and prefix",
			ctx:      execcontext.New(map[string]string{"B": "2", "A": "1"}, []string{"sudo"}),
			cmd:      []string{"ls"},
			expected: `A="1" B="2" "sudo" "ls"`,
		},
		{
			name:     "operators stay bare",
			ctx:      execcontext.Empty(),
			cmd:      []string{"cat", "f", "||", "echo", "missing"},
			expected: `"cat" "f" || "echo" "missing"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, execcontext.FormatCmd(tt.ctx, tt.cmd...))
		})
	}
}
