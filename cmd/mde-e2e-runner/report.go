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
	"github.com/spf13/cobra"

	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/reporting"
)

// reportCommand re-renders the summary of a previous run from results.json.
func (a *app) reportCommand() *cobra.Command {
	var (
		path     string
		markdown bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the summary of a previous run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := reporting.LoadJSONResults(path)
			if err != nil {
				return err
			}

			agg := reporting.NewAggregator("", a.log)
			agg.RunID = doc.RunID
			for _, r := range doc.TestResults() {
				agg.Add(r)
			}

			if agg.Summary().Failed > 0 {
				a.exitCode = exitError
			}

			if markdown {
				_, err = a.stdout.Write([]byte(agg.SummaryMarkdown() + "\n"))
				return err
			}
			agg.PrintConsoleSummary(a.stdout, reporting.NewPalette(!a.noColor))
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "results", "results/"+reporting.JSONFile, "Path to a results.json document")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "Print the markdown summary instead of the console table")
	return cmd
}
