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

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alexandremahdhaoui/mde-e2e/internal/util/gracefulshutdown"
)

// Name is the binary name.
const Name = "mde-e2e-runner"

// Exit codes
const (
	exitSuccess = 0 // every selected distro installed
	exitError   = 1 // configuration error, no distros or an install failure
)

func main() {
	gs := gracefulshutdown.New(Name)
	wg := gs.WaitGroup()

	wg.Add(1)
	gs.Ready()

	code := execute(gs.Context(), os.Args[1:], os.Stdout, os.Stderr)
	wg.Done()

	gs.Shutdown(code)
}

// execute runs the command tree and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)

	cmd := a.rootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	return a.exitCode
}
