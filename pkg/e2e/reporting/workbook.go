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

package reporting

import (
	"fmt"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

// WorkbookSheet is the sheet holding one row per result.
const WorkbookSheet = "Results"

var workbookHeader = []any{
	"Distro", "Version", "Install", "Onboard", "Uninstall",
	"Duration (s)", "Status", "Failure Reason", "Timestamp",
}

// SaveWorkbook writes results.xlsx.
func (a *Aggregator) SaveWorkbook() (string, error) {
	if err := a.ensureDir(a.OutputDir); err != nil {
		return "", err
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			a.Log.Error(err, "closing workbook")
		}
	}()

	if err := f.SetSheetName("Sheet1", WorkbookSheet); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrWriteArtifact, WorkbookFile, err)
	}
	if err := f.SetSheetRow(WorkbookSheet, "A1", &workbookHeader); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrWriteArtifact, WorkbookFile, err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrWriteArtifact, WorkbookFile, err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(workbookHeader))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrWriteArtifact, WorkbookFile, err)
	}
	if err := f.SetCellStyle(WorkbookSheet, "A1", lastCol+"1", bold); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrWriteArtifact, WorkbookFile, err)
	}

	for i, r := range a.Results() {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrWriteArtifact, WorkbookFile, err)
		}
		row := []any{
			r.Distro, r.Version,
			r.InstallPassed, r.OnboardingPassed, r.UninstallPassed,
			r.DurationSeconds, r.Status(), r.FailureReason, r.Timestamp,
		}
		if err := f.SetSheetRow(WorkbookSheet, cell, &row); err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrWriteArtifact, WorkbookFile, err)
		}
	}

	p := filepath.Join(a.OutputDir, WorkbookFile)
	if err := f.SaveAs(p); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrWriteArtifact, p, err)
	}
	return p, nil
}
