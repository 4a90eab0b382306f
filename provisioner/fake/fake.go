// Package fake provides an in-memory provisioner.Driver and Executor.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/provisioner"
)

type Driver struct {
	// NeverReady makes WaitReady block until its context ends.
	NeverReady bool
	// LaunchErr fails the launch of the named nodes.
	LaunchErr map[string]error
	// TerminateErr fails every termination.
	TerminateErr error

	Now      func() time.Time
	Username string

	mutex      sync.Mutex
	nextID     int
	instances  []provisioner.Instance
	launched   []provisioner.LaunchSpec
	terminated []string
	scheduled  map[string]time.Duration
}

// Driver implements provisioner.Driver
var _ provisioner.Driver = (*Driver)(nil)

func NewDriver() *Driver {
	return &Driver{Now: time.Now, Username: "ubuntu", scheduled: map[string]time.Duration{}}
}

// Add registers a node as if it was created outside of skyway.
func (d *Driver) Add(inst provisioner.Instance) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if inst.ID == "" {
		d.nextID++
		inst.ID = fmt.Sprintf("i-%04d", d.nextID)
	}
	d.instances = append(d.instances, inst)
}

func (d *Driver) Instances(ctx context.Context) ([]provisioner.Instance, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var live []provisioner.Instance
	for _, inst := range d.instances {
		if !inst.Status.Terminal() {
			live = append(live, inst)
		}
	}
	return live, nil
}

func (d *Driver) Launch(ctx context.Context, spec provisioner.LaunchSpec) (provisioner.Instance, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.launched = append(d.launched, spec)
	if err := d.LaunchErr[spec.Name]; err != nil {
		return provisioner.Instance{}, err
	}

	d.nextID++
	inst := provisioner.Instance{
		ID:           fmt.Sprintf("i-%04d", d.nextID),
		Name:         spec.Name,
		Owner:        spec.Owner,
		InstanceType: spec.NodeType.InstanceType,
		Status:       provisioner.NodeStatusProvisioning,
	}
	d.instances = append(d.instances, inst)
	return inst, nil
}

func (d *Driver) WaitReady(ctx context.Context, id string) (provisioner.Instance, error) {
	if d.NeverReady {
		<-ctx.Done()
		return provisioner.Instance{}, ctx.Err()
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	for i, inst := range d.instances {
		if inst.ID == id {
			d.instances[i].Status = provisioner.NodeStatusRunning
			d.instances[i].LaunchedAt = d.Now()
			d.instances[i].Endpoint = fmt.Sprintf("10.0.0.%d", i+1)
			return d.instances[i], nil
		}
	}
	return provisioner.Instance{}, errdefs.NotFound(id)
}

func (d *Driver) Terminate(ctx context.Context, id string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.TerminateErr != nil {
		return d.TerminateErr
	}
	for i, inst := range d.instances {
		if inst.ID == id {
			d.instances[i].Status = provisioner.NodeStatusTerminated
			d.terminated = append(d.terminated, id)
			return nil
		}
	}
	return errdefs.NotFound(id)
}

func (d *Driver) WaitTerminated(ctx context.Context, id string) error {
	return nil
}

func (d *Driver) Connection(inst provisioner.Instance) provisioner.ConnectionInfo {
	return provisioner.ConnectionInfo{PrivateKey: "~/.ssh/id_test", Login: d.Username + "@" + inst.Endpoint}
}

// Launched returns every launch request, including failed ones.
func (d *Driver) Launched() []provisioner.LaunchSpec {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]provisioner.LaunchSpec(nil), d.launched...)
}

func (d *Driver) Terminated() []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]string(nil), d.terminated...)
}

// Scheduled returns the walltimes passed to ScheduleShutdown, by node name.
func (d *Driver) Scheduled() map[string]time.Duration {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	out := map[string]time.Duration{}
	for k, v := range d.scheduled {
		out[k] = v
	}
	return out
}

// SchedulingDriver is a Driver whose backend enforces walltimes itself.
type SchedulingDriver struct {
	*Driver
}

var _ provisioner.ShutdownScheduler = SchedulingDriver{}

func (d SchedulingDriver) ScheduleShutdown(ctx context.Context, inst provisioner.Instance, walltime time.Duration) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.scheduled[inst.Name] = walltime
	return nil
}

type Command struct {
	Login   string
	Command string
}

// Executor records commands instead of running them.
type Executor struct {
	Output string
	Err    error

	mutex    sync.Mutex
	commands []Command
}

var _ provisioner.Executor = (*Executor)(nil)

func (e *Executor) Run(ctx context.Context, conn provisioner.ConnectionInfo, command string) (string, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.commands = append(e.commands, Command{Login: conn.Login, Command: command})
	return e.Output, e.Err
}

func (e *Executor) Commands() []Command {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return append([]Command(nil), e.commands...)
}
