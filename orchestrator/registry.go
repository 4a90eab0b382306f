package orchestrator

import (
	"context"

	"github.com/gammadia/skyway/account"
	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/provisioner"
	"github.com/gammadia/skyway/provisioner/aws"
	"github.com/gammadia/skyway/provisioner/azure"
	"github.com/gammadia/skyway/provisioner/gcp"
	"github.com/gammadia/skyway/provisioner/oci"
	"github.com/gammadia/skyway/provisioner/openstack"
	"github.com/gammadia/skyway/provisioner/slurm"
)

// Factory builds the provisioner of an account's backend.
type Factory func(ctx context.Context, config provisioner.Config) (provisioner.Provisioner, error)

// NewProvisioner is the default Factory, dispatching on the account backend.
func NewProvisioner(ctx context.Context, config provisioner.Config) (provisioner.Provisioner, error) {
	switch backend := config.Account.Backend; backend {
	case account.BackendAWS:
		return build(aws.New(ctx, config))
	case account.BackendGCP:
		return build(gcp.New(ctx, config))
	case account.BackendAzure:
		return build(azure.New(ctx, config))
	case account.BackendOCI:
		return build(oci.New(ctx, config))
	case account.BackendSlurm:
		return build(slurm.New(ctx, config))
	case account.BackendOpenStack:
		return build(openstack.New(ctx, config))
	default:
		return nil, errdefs.Config(config.Account.Name, "unsupported backend '%s'", backend)
	}
}

func build[P provisioner.Provisioner](p P, err error) (provisioner.Provisioner, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}
