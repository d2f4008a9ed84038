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

// Package lifecycle drives one ephemeral test VM from provisioning to
// teardown: health verification, offboarding, uninstall and log collection.
package lifecycle

import (
	"context"
	"fmt"
	"maps"
	"path"
	"strings"
	"time"

	"github.com/alexandremahdhaoui/mde-e2e/internal/util/ssh"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/e2e/health"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/vagrant"
	"github.com/alexandremahdhaoui/mde-e2e/pkg/vmm"
	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
)

// Paths inside the guest.
const (
	RepoMount        = "/mde_repo"
	OffboardDest     = "/etc/opt/microsoft/mdatp/mdatp_offboard.json"
	InstallerPath    = "/var/lib/mdatp_test/mde_installer.sh"
	DefaultOffboard  = "mdatp_offboard.json"
	logNotFoundValue = "Log not found"
)

// DefaultLogFiles are collected from a VM whose install failed.
var DefaultLogFiles = []string{
	"/var/lib/mdatp_test/installer.log",
	"/var/lib/mdatp_test/managed_apply.log",
}

// Step timeouts and settle delays.
const (
	HealthTimeout    = 30 * time.Second
	RestartTimeout   = 60 * time.Second
	RestartGrace     = 5 * time.Second
	OffboardTimeout  = 30 * time.Second
	OffboardSettle   = 10 * time.Second
	UninstallTimeout = 300 * time.Second
	VerifyTimeout    = 10 * time.Second
	LogTimeout       = 10 * time.Second
	SSHReadyTimeout  = 60 * time.Second
	SSHReadyInterval = 2 * time.Second
)

// Transport selects the command channel into the guest.
type Transport string

const (
	TransportVagrant Transport = "vagrant"
	TransportSSH     Transport = "ssh"
)

// State is the controller's position in the VM lifecycle.
type State string

const (
	StateCreated      State = "created"
	StateProvisioning State = "provisioning"
	StateHealthCheck  State = "health_check"
	StateOffboarding  State = "offboarding"
	StateUninstalling State = "uninstalling"
	StateDestroyed    State = "destroyed"
	StateFailed       State = "failed"
)

// Event is one timestamped lifecycle transition.
type Event struct {
	Timestamp time.Time
	VMName    string
	EventType string
	Details   string
}

// Provisioner is the subset of the vagrant CLI the controller drives.
type Provisioner interface {
	Up(ctx context.Context, name string) error
	Destroy(ctx context.Context, name string) error
	SSHConfig(ctx context.Context, name string) (string, error)
	SSH(ctx context.Context, name, cmd string) (ssh.Result, error)
}

// DomainInspector reports on the hypervisor side of a VM.
type DomainInspector interface {
	DomainExists(name string) (bool, error)
	Inspect(name string) (vmm.DomainInfo, error)
}

// ProvisionerFactory binds a provisioner to the environment of one VM.
type ProvisionerFactory func(env map[string]string) Provisioner

// VagrantFactory returns a ProvisionerFactory over client.
func VagrantFactory(client *vagrant.Client) ProvisionerFactory {
	return func(env map[string]string) Provisioner {
		return client.WithEnv(env)
	}
}

// Controller owns exactly one VM. It is not safe for concurrent use.
type Controller struct {
	NewProvisioner ProvisionerFactory
	// Inspector is optional.
	Inspector  DomainInspector
	VagrantDir string
	Provider   string
	Transport  Transport
	Clock      clock.Clock
	Log        logr.Logger

	provisioner Provisioner
	runner      ssh.Runner
	vmName      string
	state       State
	events      []Event
	diagnostics map[string]string
}

// NewController returns a Controller in StateCreated.
func NewController(newProvisioner ProvisionerFactory, log logr.Logger) *Controller {
	return &Controller{
		NewProvisioner: newProvisioner,
		Provider:       DefaultProvider,
		Transport:      TransportVagrant,
		Clock:          clock.RealClock{},
		Log:            log,
		state:          StateCreated,
		diagnostics:    make(map[string]string),
	}
}

// VMName returns the name bound by Setup.
func (c *Controller) VMName() string { return c.vmName }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	if c.state == "" {
		return StateCreated
	}
	return c.state
}

// Events returns a copy of the recorded lifecycle events.
func (c *Controller) Events() []Event {
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Diagnostics returns what was captured when provisioning failed.
func (c *Controller) Diagnostics() map[string]string {
	return maps.Clone(c.diagnostics)
}

func (c *Controller) transition(s State, eventType, details string) {
	c.state = s
	c.RecordEvent(eventType, details)
}

// RecordEvent appends an event to the timeline.
func (c *Controller) RecordEvent(eventType, details string) {
	c.events = append(c.events, Event{
		Timestamp: c.clock().Now(),
		VMName:    c.vmName,
		EventType: eventType,
		Details:   details,
	})
}

// Setup provisions and boots the VM described by cfg. Secrets are added to
// the provisioning environment. On failure diagnostics are captured and
// false is returned.
func (c *Controller) Setup(ctx context.Context, cfg TestConfig, secrets map[string]string) bool {
	c.vmName = cfg.VMName()
	env := cfg.Env(c.Provider)
	maps.Copy(env, secrets)

	c.provisioner = c.NewProvisioner(env)
	c.runner = vagrant.SSHRunner{Client: c.provisioner, Name: c.vmName}
	c.transition(StateProvisioning, "provision_start", fmt.Sprintf("box=%s cpus=%d memory=%dMiB", cfg.ImageReference, cfg.CPUs, cfg.MemoryMB))

	log := c.Log.WithValues("vm", c.vmName)
	if err := c.provisioner.Up(ctx, c.vmName); err != nil {
		log.Error(err, "provisioning failed")
		c.transition(StateFailed, "provision_failed", err.Error())
		c.captureDiagnostics(ctx)
		return false
	}

	if c.Transport == TransportSSH {
		if err := c.useNativeSSH(ctx); err != nil {
			log.Error(err, "falling back to vagrant ssh")
		}
	}

	c.transition(StateHealthCheck, "provision_success", "")
	return true
}

func (c *Controller) useNativeSSH(ctx context.Context) error {
	out, err := c.provisioner.SSHConfig(ctx, c.vmName)
	if err != nil {
		return err
	}
	sshCfg, err := vagrant.ParseSSHConfig(out)
	if err != nil {
		return err
	}
	client, err := ssh.NewClient(sshCfg.HostName, sshCfg.User, sshCfg.IdentityFile, sshCfg.Port)
	if err != nil {
		return err
	}
	if err := client.AwaitServer(ctx, SSHReadyTimeout, SSHReadyInterval); err != nil {
		return err
	}
	c.runner = client
	c.RecordEvent("transport", fmt.Sprintf("native ssh to %s:%s", sshCfg.HostName, sshCfg.Port))
	return nil
}

func (c *Controller) captureDiagnostics(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), VerifyTimeout)
	defer cancel()

	if out, err := c.provisioner.SSHConfig(ctx, c.vmName); err != nil {
		c.diagnostics["ssh-config"] = fmt.Sprintf("unavailable: %v\n%s", err, out)
	} else {
		c.diagnostics["ssh-config"] = out
	}

	if c.Inspector == nil {
		return
	}
	info, err := c.Inspector.Inspect(c.domainName())
	if err != nil {
		c.diagnostics["domain"] = fmt.Sprintf("unavailable: %v", err)
		return
	}
	c.diagnostics["domain"] = info.String()
}

// CheckHealth runs a single strict health query. It returns the status and
// the raw document, or (nil, nil) on any failure.
func (c *Controller) CheckHealth(ctx context.Context) (*health.Status, map[string]any) {
	c.transition(StateHealthCheck, "health_check", "")
	p := &health.Prober{
		Runner:  c.runner,
		Command: health.DefaultCommand,
		Timeout: HealthTimeout,
		Strict:  true,
		Clock:   c.clock(),
		Log:     c.Log.WithValues("vm", c.vmName),
	}
	status, err := p.GetStatus(ctx)
	if err != nil {
		c.Log.V(1).Info("health check failed", "vm", c.vmName, "kind", health.KindOf(err).String(), "err", err.Error())
		return nil, nil
	}
	return status, status.Raw
}

// RestartService restarts the agent daemon and waits for it to settle.
func (c *Controller) RestartService(ctx context.Context) bool {
	c.RecordEvent("restart_service", "")
	res, err := c.run(ctx, RestartTimeout, "sudo systemctl restart mdatp")
	if err != nil || !res.Success() {
		c.Log.Info("service restart failed", "vm", c.vmName, "exitCode", res.ExitCode, "err", errString(err))
		return false
	}
	c.clock().Sleep(RestartGrace)
	return true
}

// Offboard installs the offboarding file and reports whether the agent no
// longer claims to be onboarded. Any answer other than "true" counts as
// offboarded, since a fresh offboard often surfaces as a license error.
func (c *Controller) Offboard(ctx context.Context, file string) bool {
	if file == "" {
		file = DefaultOffboard
	}
	c.transition(StateOffboarding, "offboard_start", file)

	src := path.Join(RepoMount, "tests/e2e", file)
	res, err := c.run(ctx, OffboardTimeout, fmt.Sprintf("sudo cp %s %s", src, OffboardDest))
	if err != nil || !res.Success() {
		c.Log.Info("copying offboarding file failed", "vm", c.vmName, "exitCode", res.ExitCode, "err", errString(err))
		c.RecordEvent("offboard_failed", "copy failed")
		return false
	}

	c.clock().Sleep(OffboardSettle)

	res, err = c.run(ctx, OffboardTimeout, "mdatp health --field onboarded")
	if err != nil {
		c.Log.Info("onboarding query failed", "vm", c.vmName, "err", err.Error())
		c.RecordEvent("offboard_failed", err.Error())
		return false
	}
	if strings.ToLower(strings.TrimSpace(res.Stdout)) == "true" {
		c.RecordEvent("offboard_failed", "still onboarded")
		return false
	}
	c.RecordEvent("offboard_success", "")
	return true
}

// Uninstall removes the agent and verifies its CLI is gone.
func (c *Controller) Uninstall(ctx context.Context) bool {
	c.transition(StateUninstalling, "uninstall_start", "")

	res, err := c.run(ctx, UninstallTimeout, fmt.Sprintf("sudo bash %s --remove", InstallerPath))
	if err != nil || !res.Success() {
		c.Log.Info("uninstall failed", "vm", c.vmName, "exitCode", res.ExitCode, "err", errString(err))
		c.RecordEvent("uninstall_failed", "installer --remove failed")
		return false
	}

	res, err = c.run(ctx, VerifyTimeout, "command -v mdatp")
	if err != nil {
		c.RecordEvent("uninstall_failed", err.Error())
		return false
	}
	if res.Success() {
		c.RecordEvent("uninstall_failed", "mdatp still on PATH")
		return false
	}
	c.RecordEvent("uninstall_success", "")
	return true
}

// CollectLogs fetches each path from the guest, keyed by base name. Missing
// files and retrieval errors yield placeholder text instead of failing.
func (c *Controller) CollectLogs(ctx context.Context, paths []string) map[string]string {
	logs := make(map[string]string, len(paths))
	if c.runner == nil {
		return logs
	}
	for _, p := range paths {
		name := path.Base(p)
		res, err := c.run(ctx, LogTimeout, fmt.Sprintf("cat %s 2>/dev/null || echo '%s'", p, logNotFoundValue))
		switch {
		case err != nil:
			logs[name] = fmt.Sprintf("Error retrieving log: %v", err)
		case !res.Success():
			logs[name] = fmt.Sprintf("Error retrieving log: exit code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
		default:
			logs[name] = res.Stdout
		}
	}
	return logs
}

// Teardown destroys the VM. It is idempotent and never returns an error;
// it reports whether the VM is known to be gone.
func (c *Controller) Teardown(ctx context.Context) bool {
	if c.state == StateDestroyed {
		return true
	}
	if c.provisioner == nil {
		c.state = StateDestroyed
		return true
	}

	// Teardown must outlive a cancelled run.
	ctx = context.WithoutCancel(ctx)
	log := c.Log.WithValues("vm", c.vmName)

	if err := c.provisioner.Destroy(ctx, c.vmName); err != nil {
		log.Error(err, "destroying VM")
		c.RecordEvent("destroy_failed", err.Error())
		return false
	}

	if c.Inspector != nil {
		if exists, err := c.Inspector.DomainExists(c.domainName()); err != nil {
			log.V(1).Info("could not verify domain removal", "err", err.Error())
		} else if exists {
			log.Info("libvirt domain still present after destroy", "domain", c.domainName())
		}
	}

	c.transition(StateDestroyed, "destroyed", "")
	return true
}

func (c *Controller) run(ctx context.Context, timeout time.Duration, cmd string) (ssh.Result, error) {
	if c.runner == nil {
		return ssh.Result{}, fmt.Errorf("%w: vm %q not provisioned", ssh.ErrTransport, c.vmName)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.runner.Run(ctx, cmd)
}

func (c *Controller) domainName() string {
	return vmm.DomainName(c.VagrantDir, c.vmName)
}

func (c *Controller) clock() clock.Clock {
	if c.Clock == nil {
		return clock.RealClock{}
	}
	return c.Clock
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
