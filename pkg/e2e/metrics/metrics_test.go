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

package metrics

import (
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/reporting"
)

func TestResultLabel(t *testing.T) {
	for _, tc := range []struct {
		name   string
		result reporting.TestResult
		expect string
	}{
		{"Passed", reporting.TestResult{InstallPassed: true, OnboardingPassed: true, UninstallPassed: true}, ResultPassed},
		{"Install", reporting.TestResult{}, ResultInstallFailed},
		{"Onboarding", reporting.TestResult{InstallPassed: true, UninstallPassed: true}, ResultOnboardingFailed},
		{"Uninstall", reporting.TestResult{InstallPassed: true, OnboardingPassed: true}, ResultUninstallFailed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, ResultLabel(tc.result))
		})
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	r.ObserveResult(reporting.TestResult{Distro: "ubuntu", Version: "22.04", DurationSeconds: 120})
	r.ObserveResult(reporting.TestResult{Distro: "ubuntu", Version: "22.04", DurationSeconds: 60})
	r.ServiceRestarted()
	r.ServiceRestarted()
	r.BoxBuilt(true)
	r.BoxBuilt(false)
	r.VMStarted()
	r.VMStarted()
	r.VMStopped()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.tests.WithLabelValues("ubuntu", "22.04", ResultInstallFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.restarts))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.boxBuilds.WithLabelValues(BoxBuildResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.running))
	assert.Equal(t, 1, testutil.CollectAndCount(r.duration))

	p, err := r.WriteTextfile(t.TempDir())
	require.NoError(t, err)

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), "mde_e2e_tests_total")
	assert.Contains(t, string(data), "mde_e2e_service_restarts_total 2")
}
