// Package slurm runs nodes as Slurm allocations on an on-premises cluster.
// Walltimes are enforced by the scheduler through --time.
package slurm

import (
	"context"

	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/provisioner"
	"github.com/samber/lo"
)

type Provisioner struct {
	*provisioner.Lifecycle
	driver *driver
}

// Provisioner implements provisioner.Provisioner
var _ provisioner.Provisioner = (*Provisioner)(nil)

func New(ctx context.Context, config provisioner.Config) (*Provisioner, error) {
	return NewWithRunner(ExecRunner{}, config)
}

func NewWithRunner(runner Runner, config provisioner.Config) (*Provisioner, error) {
	if config.Account == nil || config.Account.Slurm == nil {
		return nil, errdefs.Config("slurm", "missing slurm account section")
	}

	d := &driver{
		runner:       runner,
		settings:     config.Account.Slurm,
		keyFile:      config.Account.SSHPrivateKey,
		grantTimeout: lo.Ternary(config.ReadyTimeout > 0, config.ReadyTimeout, provisioner.DefaultReadyTimeout),
	}

	lifecycle, err := provisioner.NewLifecycle(d, config)
	if err != nil {
		return nil, err
	}
	return &Provisioner{Lifecycle: lifecycle, driver: d}, nil
}
