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
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/distro"
)

func (a *app) matrixCommand() *cobra.Command {
	var (
		format      string
		includePaid bool
	)

	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Print the curated distro matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries := distro.NewProvider().TestMatrix(!includePaid)

			switch format {
			case "json":
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			case "text":
				w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DISTRO\tVERSION\tFAMILY\tIMAGE")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Distro, e.Version, e.Family, e.ImageReference)
				}
				return w.Flush()
			default:
				return fmt.Errorf("unknown format %q: expected text or json", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	cmd.Flags().BoolVar(&includePaid, "include-paid", false, "Include distros that need a subscription")
	return cmd
}
