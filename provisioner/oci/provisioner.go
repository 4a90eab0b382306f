// Package oci provisions nodes as Oracle Cloud Infrastructure compute instances.
package oci

import (
	"context"
	"fmt"
	"os"

	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/provisioner"
	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/core"
)

// API is the subset of the compute and virtual network services used by the driver.
type API interface {
	ListInstances(ctx context.Context, compartment string) ([]core.Instance, error)
	GetInstance(ctx context.Context, id string) (core.Instance, error)
	LaunchInstance(ctx context.Context, details core.LaunchInstanceDetails, retryToken string) (core.Instance, error)
	TerminateInstance(ctx context.Context, id string) error
	// PublicIP returns the public address of the instance primary VNIC, empty while none is attached.
	PublicIP(ctx context.Context, compartment, id string) (string, error)
}

type Provisioner struct {
	*provisioner.Lifecycle
	driver *driver
}

// Provisioner implements provisioner.Provisioner
var _ provisioner.Provisioner = (*Provisioner)(nil)

func New(ctx context.Context, config provisioner.Config) (*Provisioner, error) {
	if config.Account == nil || config.Account.OCI == nil {
		return nil, errdefs.Config("oci", "missing oci account section")
	}
	settings := config.Account.OCI

	key, err := os.ReadFile(settings.KeyFile)
	if err != nil {
		return nil, errdefs.Config("oci", "failed to read api key: %v", err)
	}

	var passphrase *string
	if settings.Passphrase != "" {
		passphrase = common.String(settings.Passphrase)
	}
	configProvider := common.NewRawConfigurationProvider(settings.Tenancy, settings.User, settings.Region, settings.Fingerprint, string(key), passphrase)

	compute, err := core.NewComputeClientWithConfigurationProvider(configProvider)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConfig, "oci", fmt.Errorf("failed to create compute client: %w", err))
	}
	network, err := core.NewVirtualNetworkClientWithConfigurationProvider(configProvider)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConfig, "oci", fmt.Errorf("failed to create network client: %w", err))
	}

	return NewWithClient(&sdkAPI{compute: compute, network: network}, config)
}

func NewWithClient(client API, config provisioner.Config) (*Provisioner, error) {
	if config.Account == nil || config.Account.OCI == nil {
		return nil, errdefs.Config("oci", "missing oci account section")
	}
	if config.Vendor == nil {
		return nil, errdefs.Config("oci", "missing catalog entry")
	}

	d := &driver{
		client:   client,
		settings: config.Account.OCI,
		username: config.Account.SSHUsername,
		keyFile:  config.Account.SSHPrivateKey,
	}
	if d.username == "" {
		d.username = config.Vendor.Username
	}
	if d.username == "" {
		d.username = "opc"
	}

	lifecycle, err := provisioner.NewLifecycle(d, config)
	if err != nil {
		return nil, err
	}
	return &Provisioner{Lifecycle: lifecycle, driver: d}, nil
}

type sdkAPI struct {
	compute core.ComputeClient
	network core.VirtualNetworkClient
}

func (a *sdkAPI) ListInstances(ctx context.Context, compartment string) ([]core.Instance, error) {
	var instances []core.Instance

	request := core.ListInstancesRequest{CompartmentId: common.String(compartment)}
	for {
		response, err := a.compute.ListInstances(ctx, request)
		if err != nil {
			return nil, err
		}
		instances = append(instances, response.Items...)

		if response.OpcNextPage == nil {
			return instances, nil
		}
		request.Page = response.OpcNextPage
	}
}

func (a *sdkAPI) GetInstance(ctx context.Context, id string) (core.Instance, error) {
	response, err := a.compute.GetInstance(ctx, core.GetInstanceRequest{InstanceId: common.String(id)})
	return response.Instance, err
}

func (a *sdkAPI) LaunchInstance(ctx context.Context, details core.LaunchInstanceDetails, retryToken string) (core.Instance, error) {
	response, err := a.compute.LaunchInstance(ctx, core.LaunchInstanceRequest{
		LaunchInstanceDetails: details,
		OpcRetryToken:         common.String(retryToken),
	})
	return response.Instance, err
}

func (a *sdkAPI) TerminateInstance(ctx context.Context, id string) error {
	_, err := a.compute.TerminateInstance(ctx, core.TerminateInstanceRequest{
		InstanceId:         common.String(id),
		PreserveBootVolume: common.Bool(false),
	})
	return err
}

func (a *sdkAPI) PublicIP(ctx context.Context, compartment, id string) (string, error) {
	attachments, err := a.compute.ListVnicAttachments(ctx, core.ListVnicAttachmentsRequest{
		CompartmentId: common.String(compartment),
		InstanceId:    common.String(id),
	})
	if err != nil {
		return "", err
	}

	for _, attachment := range attachments.Items {
		if attachment.LifecycleState != core.VnicAttachmentLifecycleStateAttached || attachment.VnicId == nil {
			continue
		}
		vnic, err := a.network.GetVnic(ctx, core.GetVnicRequest{VnicId: attachment.VnicId})
		if err != nil {
			return "", err
		}
		if vnic.PublicIp != nil {
			return *vnic.PublicIp, nil
		}
	}
	return "", nil
}
