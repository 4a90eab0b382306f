// Package openstack provisions nodes as Nova servers. Credentials come from
// the standard OS_* environment variables.
package openstack

import (
	"context"
	"fmt"
	"os"

	"github.com/gammadia/skyway/account"
	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/provisioner"
	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/samber/lo"
)

// API is the subset of the compute service used by the driver.
type API interface {
	ListServers(ctx context.Context) ([]servers.Server, error)
	GetServer(ctx context.Context, id string) (*servers.Server, error)
	CreateServer(ctx context.Context, opts servers.CreateOptsBuilder) (*servers.Server, error)
	DeleteServer(ctx context.Context, id string) error
	ServerAddresses(ctx context.Context, id string) (map[string][]servers.Address, error)
}

type Provisioner struct {
	*provisioner.Lifecycle
	driver *driver
}

// Provisioner implements provisioner.Provisioner
var _ provisioner.Provisioner = (*Provisioner)(nil)

func New(ctx context.Context, config provisioner.Config) (*Provisioner, error) {
	if config.Account == nil || config.Account.OpenStack == nil {
		return nil, errdefs.Config("openstack", "missing openstack account section")
	}

	opts, err := openstack.AuthOptionsFromEnv()
	if err != nil {
		return nil, errdefs.Config("openstack", "failed to get auth options from env: %w", err)
	}

	provider, err := openstack.AuthenticatedClient(opts)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConfig, "openstack", fmt.Errorf("failed to get authenticated client: %w", err))
	}

	region := config.Account.OpenStack.Region
	client, err := openstack.NewComputeV2(provider, gophercloud.EndpointOpts{
		Region: lo.Ternary(region != "", region, os.Getenv("OS_REGION_NAME")),
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConfig, "openstack", fmt.Errorf("failed to get compute client: %w", err))
	}

	return NewWithClient(&computeAPI{client: client}, config)
}

// NewWithClient builds a provisioner over an existing compute API.
func NewWithClient(client API, config provisioner.Config) (*Provisioner, error) {
	if config.Account == nil || config.Account.OpenStack == nil {
		return nil, errdefs.Config("openstack", "missing openstack account section")
	}
	if config.Vendor == nil {
		return nil, errdefs.Config("openstack", "missing catalog entry")
	}

	d := &driver{
		client:   client,
		settings: config.Account.OpenStack,
		username: username(config.Account, config.Vendor.Username),
		keyFile:  config.Account.SSHPrivateKey,
	}

	lifecycle, err := provisioner.NewLifecycle(d, config)
	if err != nil {
		return nil, err
	}
	return &Provisioner{Lifecycle: lifecycle, driver: d}, nil
}

func username(acct *account.Account, fallback string) string {
	if acct.SSHUsername != "" {
		return acct.SSHUsername
	}
	if fallback != "" {
		return fallback
	}
	return "ubuntu"
}

// computeAPI calls Nova through gophercloud. Requests are not cancellable,
// the context is only checked before each call.
type computeAPI struct {
	client *gophercloud.ServiceClient
}

func (c *computeAPI) ListServers(ctx context.Context) ([]servers.Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pages, err := servers.List(c.client, servers.ListOpts{}).AllPages()
	if err != nil {
		return nil, err
	}
	return servers.ExtractServers(pages)
}

func (c *computeAPI) GetServer(ctx context.Context, id string) (*servers.Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return servers.Get(c.client, id).Extract()
}

func (c *computeAPI) CreateServer(ctx context.Context, opts servers.CreateOptsBuilder) (*servers.Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return servers.Create(c.client, opts).Extract()
}

func (c *computeAPI) DeleteServer(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return servers.Delete(c.client, id).ExtractErr()
}

func (c *computeAPI) ServerAddresses(ctx context.Context, id string) (map[string][]servers.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pages, err := servers.ListAddresses(c.client, id).AllPages()
	if err != nil {
		return nil, err
	}
	return servers.ExtractAddresses(pages)
}
