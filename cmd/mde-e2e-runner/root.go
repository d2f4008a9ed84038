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
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/alexandremahdhaoui/mde-e2e/internal/util/logging"
	"github.com/alexandremahdhaoui/mde-e2e/internal/util/ssh"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/config"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/distro"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/lifecycle"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/metrics"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/orchestration"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/reporting"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/execcontext"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/vagrant"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/vmm"
)

const longDescription = `
Run Microsoft Defender for Endpoint install tests on ephemeral VMs.

Every selected distribution gets its own VM: the agent is installed and
onboarded during provisioning, its health is verified, then it is offboarded
and uninstalled and the VM is destroyed. Results are written to the output
directory as summary.md, results.json, results.xlsx and metrics.prom.

Configuration:

  Options are read from a YAML file (--config) and may be overridden by
  environment variables. Command line flags override both.

  vagrant:
      concurrent_vms     (int)     (MDE_E2E_CONCURRENT_VMS)
      transport          (string)  (MDE_E2E_TRANSPORT)
      libvirt_uri        (string)  (MDE_E2E_LIBVIRT_URI)
  test:
      preserve_on_failure (bool)   (MDE_E2E_PRESERVE_ON_FAILURE)
  reporting:
      output_dir         (string)  (MDE_E2E_OUTPUT_DIR)
  logging:
      development        (bool)    (MDE_E2E_DEV_MODE)
      level              (string)  (MDE_E2E_LOG_LEVEL)

Secrets (--secrets) are KEY=value lines naming the onboarding and managed
configuration files (ONBOARDING_FILE, MANAGED_CONFIG_FILE).
`

type app struct {
	stdout io.Writer
	stderr io.Writer
	log    logr.Logger

	exitCode  int
	inspector *vmm.VMM

	configPath  string
	secretsPath string
	all         bool
	distro      string
	distros     string
	family      string
	cpus        uint
	memory      uint
	parallel    int
	dryRun      bool
	noColor     bool
	debug       bool
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		log:    logr.Discard(),
	}
}

func (a *app) rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           Name,
		Short:         "Run MDE install tests across Linux distributions",
		Long:          longDescription,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(*cobra.Command, []string) {
			a.setupLogging(nil)
		},
		RunE: a.run,
		Example: `  # Run every free distro in the curated matrix
  mde-e2e-runner --all

  # Run a single release, keeping the VM if it fails
  MDE_E2E_PRESERVE_ON_FAILURE=true mde-e2e-runner --distro ubuntu:22.04

  # Show what the debian family would run
  mde-e2e-runner --family debian --dry-run`,
	}

	pf := cmd.PersistentFlags()
	pf.BoolVar(&a.debug, "debug", false, "Enable debug logging and stream vagrant output")
	pf.BoolVar(&a.noColor, "no-color", false, "Disable colored output")

	a.bindRunFlags(cmd.Flags())

	cmd.AddCommand(a.matrixCommand(), a.healthCommand(), a.reportCommand())
	return cmd
}

func (a *app) bindRunFlags(f *pflag.FlagSet) {
	f.StringVar(&a.configPath, "config", "config.yaml", "Path to the test configuration")
	f.StringVar(&a.secretsPath, "secrets", ".env", "Path to the secrets file")
	f.BoolVar(&a.all, "all", false, "Run every discovered distro")
	f.StringVar(&a.distro, "distro", "", `Run one distro or release (e.g. "ubuntu" or "ubuntu:22.04")`)
	f.StringVar(&a.distros, "distros", "", "Run a comma-separated list of distros")
	f.StringVar(&a.family, "family", "", "Run every distro of a family (debian, fedora, sles, mariner, azurelinux)")
	f.UintVar(&a.cpus, "cpus", 0, "Override the total CPU budget")
	f.UintVar(&a.memory, "memory", 0, "Override the total memory budget in MB")
	f.IntVar(&a.parallel, "parallel", 0, "Maximum concurrent VMs (0 uses vagrant.concurrent_vms)")
	f.BoolVar(&a.dryRun, "dry-run", false, "Show what would run without starting any VM")
}

// setupLogging installs the process loggers. A nil cfg uses the flags only;
// otherwise the configured level and format apply unless --debug is set.
func (a *app) setupLogging(cfg *config.Config) {
	opts := logging.Options{Level: slog.LevelInfo, Output: a.stderr}
	if cfg != nil {
		opts.Development = cfg.Logging.Development
		opts.Level = cfg.SlogLevel()
	}
	if a.debug {
		opts.Development = true
		opts.Level = slog.LevelDebug
	}
	a.log = logging.Setup(opts).WithName(Name)
}

func (a *app) hasSelection() bool {
	return a.all || a.distro != "" || a.distros != "" || a.family != ""
}

func (a *app) run(cmd *cobra.Command, _ []string) error {
	if !a.hasSelection() {
		_ = cmd.Help()
		a.exitCode = exitError
		return nil
	}
	ctx := cmd.Context()

	r := orchestration.NewRunner(a.configPath, a.secretsPath, nil, a.log)
	if err := r.LoadConfig(); err != nil {
		return err
	}
	if cmd.Flags().Changed("cpus") {
		r.Config.Vagrant.CPUsTotal = a.cpus
	}
	if cmd.Flags().Changed("memory") {
		r.Config.Vagrant.MemoryTotalMB = a.memory
	}
	if err := r.Config.Validate(); err != nil {
		return fmt.Errorf("%w: %w", orchestration.ErrConfig, err)
	}

	a.setupLogging(r.Config)
	r.Log = a.log
	r.Results.Log = a.log

	if err := r.LoadSecrets(); err != nil {
		return err
	}
	if err := r.ValidateSecretFiles(); err != nil {
		return err
	}

	entries := a.selectDistros(r)
	if len(entries) == 0 {
		a.log.Info("no distros match the selection")
		a.exitCode = exitError
		return nil
	}

	fmt.Fprintf(a.stdout, "Selected %d distro(s):\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(a.stdout, "  - %s (%s)\n", e, e.ImageReference)
	}
	if a.dryRun {
		a.exitCode = exitSuccess
		return nil
	}

	a.wire(r)
	defer a.closeInspector()

	entries = r.EnsureBoxes(ctx, entries)
	if len(entries) == 0 {
		a.log.Info("no distros left after building boxes")
		a.exitCode = exitError
		return nil
	}

	r.RunTests(ctx, entries, a.parallel)

	artifacts, err := r.SaveResults()
	if err != nil {
		a.log.Error(err, "saving results")
	}
	r.PrintSummary(a.stdout)
	r.Results.PrintConsoleSummary(a.stderr, reporting.NewPalette(!a.noColor))
	a.log.Info("results written", "summary", artifacts.Summary, "json", artifacts.JSON)

	a.exitCode = r.ExitCode()
	return nil
}

// selectDistros applies the first selection flag set, in the order
// --distro, --family, --distros, --all.
func (a *app) selectDistros(r *orchestration.Runner) []distro.Entry {
	all := r.DiscoverDistros()
	switch {
	case a.distro != "":
		return r.FilterDistros(all, a.distro)
	case a.family != "":
		return r.FilterDistros(all, a.family)
	case a.distros != "":
		return r.SelectDistros(all, strings.Split(a.distros, ","))
	default:
		return r.FilterDistros(all, "")
	}
}

func (a *app) closeInspector() {
	if a.inspector != nil {
		_ = a.inspector.Close()
		a.inspector = nil
	}
}

// wire binds the runner to vagrant, libvirt and the metrics recorder.
func (a *app) wire(r *orchestration.Runner) {
	cfg := r.Config
	runID := uuid.NewString()
	r.Results.RunID = runID
	a.log = a.log.WithValues("runID", runID)
	r.Log = a.log

	client := vagrant.NewClient(cfg.ResolvePath(cfg.Vagrant.Dir), a.log.WithName("vagrant"))
	client.ExecContext = execcontext.New(nil, cfg.Vagrant.CommandPrefix)
	if a.debug {
		client.Stream = a.stderr
	}

	var domains lifecycle.DomainInspector
	if v, err := vmm.NewVMM(cfg.Vagrant.LibvirtURI); err != nil {
		a.log.V(1).Info("libvirt unavailable, skipping domain inspection", "uri", cfg.Vagrant.LibvirtURI, "err", err.Error())
	} else {
		a.inspector = v
		domains = v
	}

	r.Metrics = metrics.NewRecorder()
	newProvisioner := lifecycle.VagrantFactory(client)
	r.NewController = func() orchestration.VMController {
		c := lifecycle.NewController(newProvisioner, a.log.WithName("lifecycle"))
		c.Inspector = domains
		c.VagrantDir = client.Dir
		c.Provider = cfg.Vagrant.Provider
		c.Transport = lifecycle.Transport(cfg.Vagrant.Transport)
		return c
	}

	if cfg.Vagrant.BuildBoxes {
		builder := vagrant.NewBoxBuilder(client, cfg.ResolvePath(cfg.Vagrant.ScriptsDir), a.log.WithName("boxes"))
		builder.Runner = ssh.LocalRunner{ExecContext: client.ExecContext}
		builder.OnBuild = func(_ string, err error) { r.Metrics.BoxBuilt(err == nil) }
		r.Boxes = builder
	}
}
