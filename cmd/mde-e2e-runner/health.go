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
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexandremahdhaoui/mde-e2e/internal/util/ssh"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/health"
)

// healthCommand probes the agent installed on the local host.
func (a *app) healthCommand() *cobra.Command {
	var (
		attempts int
		interval time.Duration
		command  string
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the health of the agent installed on this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := health.NewProber(ssh.LocalRunner{}, a.log.WithName("health"))
			p.Command = command

			var status *health.Status
			if attempts > 1 {
				status = p.WaitForHealthy(cmd.Context(), attempts, interval)
			} else {
				var err error
				if status, err = p.GetStatus(cmd.Context()); err != nil {
					a.log.Error(err, "health probe failed", "kind", health.KindOf(err).String())
				}
			}

			if status == nil {
				a.exitCode = exitError
				return nil
			}

			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(status); err != nil {
				return err
			}

			if !status.IsHealthy() {
				a.exitCode = exitError
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&attempts, "wait", 1, "Probe up to this many times until the agent is healthy")
	cmd.Flags().DurationVar(&interval, "interval", health.DefaultInterval, "Delay between probes")
	cmd.Flags().StringVar(&command, "command", health.DefaultCommand, "Health query command")
	return cmd
}
