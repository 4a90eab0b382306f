// Package azure provisions nodes as Azure virtual machines, each with its
// own network interface and public IP.
package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v6"
	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/provisioner"
)

// API is the resource group scoped subset of the Azure management API used
// by the driver. Create methods return once the resource is usable, except
// CreateVM which returns once the deployment is accepted.
type API interface {
	ListVMs(ctx context.Context) ([]*armcompute.VirtualMachine, error)
	GetVM(ctx context.Context, name string) (*armcompute.VirtualMachine, error)
	CreateVM(ctx context.Context, name string, vm armcompute.VirtualMachine) error
	DeleteVM(ctx context.Context, name string) error

	ListPublicIPs(ctx context.Context) ([]*armnetwork.PublicIPAddress, error)
	CreatePublicIP(ctx context.Context, name string, ip armnetwork.PublicIPAddress) (*armnetwork.PublicIPAddress, error)
	DeletePublicIP(ctx context.Context, name string) error

	CreateNIC(ctx context.Context, name string, nic armnetwork.Interface) (*armnetwork.Interface, error)
	DeleteNIC(ctx context.Context, name string) error
}

type Provisioner struct {
	*provisioner.Lifecycle
	driver *driver
}

// Provisioner implements provisioner.Provisioner
var _ provisioner.Provisioner = (*Provisioner)(nil)

func New(ctx context.Context, config provisioner.Config) (*Provisioner, error) {
	if config.Account == nil || config.Account.Azure == nil {
		return nil, errdefs.Config("azure", "missing azure account section")
	}
	settings := config.Account.Azure

	credential, err := azidentity.NewClientSecretCredential(settings.TenantID, settings.ClientID, settings.ClientSecret, nil)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConfig, "azure", fmt.Errorf("failed to create credential: %w", err))
	}

	client, err := newARMAPI(settings.SubscriptionID, settings.ResourceGroup, credential)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConfig, "azure", err)
	}

	return NewWithClient(client, config)
}

func NewWithClient(client API, config provisioner.Config) (*Provisioner, error) {
	if config.Account == nil || config.Account.Azure == nil {
		return nil, errdefs.Config("azure", "missing azure account section")
	}
	if config.Vendor == nil {
		return nil, errdefs.Config("azure", "missing catalog entry")
	}

	d := &driver{
		client:   client,
		settings: config.Account.Azure,
		username: config.Account.SSHUsername,
		keyFile:  config.Account.SSHPrivateKey,
	}
	if d.username == "" {
		d.username = config.Vendor.Username
	}
	if d.username == "" {
		d.username = "azureuser"
	}

	lifecycle, err := provisioner.NewLifecycle(d, config)
	if err != nil {
		return nil, err
	}
	d.log = lifecycle.Logger()
	return &Provisioner{Lifecycle: lifecycle, driver: d}, nil
}
