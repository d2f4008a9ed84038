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

// Package metrics holds the Prometheus collectors of one E2E run. The run is
// a batch job, so the registry is written as a node-exporter textfile
// instead of being served.
package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/reporting"
)

const (
	namespace = "mde_e2e"

	// TextfileName is the artifact name under the output directory.
	TextfileName = "metrics.prom"
)

// Result label values.
const (
	ResultPassed            = "passed"
	ResultInstallFailed     = "install_failed"
	ResultOnboardingFailed  = "onboarding_failed"
	ResultUninstallFailed   = "uninstall_failed"
	BoxBuildResultSucceeded = "succeeded"
	BoxBuildResultFailed    = "failed"
)

var ErrWriteMetrics = errors.New("writing metrics textfile")

// Recorder records run metrics into its own registry. A nil Recorder
// discards everything.
type Recorder struct {
	registry *prometheus.Registry

	tests     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	restarts  prometheus.Counter
	boxBuilds *prometheus.CounterVec
	running   prometheus.Gauge
}

// NewRecorder returns a Recorder with a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		tests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tests_total",
			Help:      "Number of distro tests by outcome",
		}, []string{"distro", "version", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "test_duration_seconds",
			Help:      "Wall-clock duration of one distro test",
			Buckets:   prometheus.ExponentialBuckets(30, 2, 7),
		}, []string{"distro"}),
		restarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_restarts_total",
			Help:      "Agent service restarts issued between failed health checks",
		}),
		boxBuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "box_builds_total",
			Help:      "Local VM image builds by result",
		}, []string{"result"}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vms_running",
			Help:      "Test VMs currently alive",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ResultLabel maps a result to its outcome label.
func ResultLabel(res reporting.TestResult) string {
	switch {
	case !res.InstallPassed:
		return ResultInstallFailed
	case !res.OnboardingPassed:
		return ResultOnboardingFailed
	case !res.UninstallPassed:
		return ResultUninstallFailed
	default:
		return ResultPassed
	}
}

// ObserveResult records the outcome and duration of a finished test.
func (r *Recorder) ObserveResult(res reporting.TestResult) {
	if r == nil {
		return
	}
	r.tests.WithLabelValues(res.Distro, res.Version, ResultLabel(res)).Inc()
	r.duration.WithLabelValues(res.Distro).Observe(res.DurationSeconds)
}

// ServiceRestarted counts one agent restart.
func (r *Recorder) ServiceRestarted() {
	if r == nil {
		return
	}
	r.restarts.Inc()
}

// BoxBuilt counts one box build attempt.
func (r *Recorder) BoxBuilt(ok bool) {
	if r == nil {
		return
	}
	if ok {
		r.boxBuilds.WithLabelValues(BoxBuildResultSucceeded).Inc()
		return
	}
	r.boxBuilds.WithLabelValues(BoxBuildResultFailed).Inc()
}

// VMStarted and VMStopped track the number of live VMs.
func (r *Recorder) VMStarted() {
	if r != nil {
		r.running.Inc()
	}
}

func (r *Recorder) VMStopped() {
	if r != nil {
		r.running.Dec()
	}
}

// WriteTextfile writes the registry to dir/metrics.prom and returns the path.
func (r *Recorder) WriteTextfile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrWriteMetrics, err)
	}
	p := filepath.Join(dir, TextfileName)
	if err := prometheus.WriteToTextfile(p, r.registry); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrWriteMetrics, p, err)
	}
	return p, nil
}
