// Package gcp provisions nodes as Compute Engine instances.
package gcp

import (
	"context"
	"fmt"

	compute "cloud.google.com/go/compute/apiv1"
	"cloud.google.com/go/compute/apiv1/computepb"
	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/provisioner"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// API is the part of the instances service used by the driver. Insert and
// Delete return once the zonal operation completed.
type API interface {
	List(ctx context.Context, project, zone string) ([]*computepb.Instance, error)
	Get(ctx context.Context, project, zone, name string) (*computepb.Instance, error)
	Insert(ctx context.Context, project, zone string, instance *computepb.Instance) error
	Delete(ctx context.Context, project, zone, name string) error
}

type Provisioner struct {
	*provisioner.Lifecycle
	driver *driver
}

// Provisioner implements provisioner.Provisioner
var _ provisioner.Provisioner = (*Provisioner)(nil)

func New(ctx context.Context, config provisioner.Config) (*Provisioner, error) {
	if config.Account == nil || config.Account.GCP == nil {
		return nil, errdefs.Config("gcp", "missing gcp account section")
	}

	client, err := compute.NewInstancesRESTClient(ctx, option.WithCredentialsFile(config.Account.GCP.CredentialsFile))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConfig, "gcp", fmt.Errorf("failed to create compute client: %w", err))
	}

	return NewWithClient(&restAPI{client: client}, config)
}

func NewWithClient(client API, config provisioner.Config) (*Provisioner, error) {
	if config.Account == nil || config.Account.GCP == nil {
		return nil, errdefs.Config("gcp", "missing gcp account section")
	}
	if config.Vendor == nil {
		return nil, errdefs.Config("gcp", "missing catalog entry")
	}

	d := &driver{
		client:   client,
		settings: config.Account.GCP,
		username: config.Account.SSHUsername,
		keyFile:  config.Account.SSHPrivateKey,
	}
	if d.username == "" {
		d.username = config.Vendor.Username
	}

	lifecycle, err := provisioner.NewLifecycle(d, config)
	if err != nil {
		return nil, err
	}
	return &Provisioner{Lifecycle: lifecycle, driver: d}, nil
}

// restAPI implements API
var _ API = (*restAPI)(nil)

type restAPI struct {
	client *compute.InstancesClient
}

func (a *restAPI) List(ctx context.Context, project, zone string) ([]*computepb.Instance, error) {
	var instances []*computepb.Instance

	it := a.client.List(ctx, &computepb.ListInstancesRequest{Project: project, Zone: zone})
	for {
		instance, err := it.Next()
		if err == iterator.Done {
			return instances, nil
		}
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
}

func (a *restAPI) Get(ctx context.Context, project, zone, name string) (*computepb.Instance, error) {
	return a.client.Get(ctx, &computepb.GetInstanceRequest{Project: project, Zone: zone, Instance: name})
}

func (a *restAPI) Insert(ctx context.Context, project, zone string, instance *computepb.Instance) error {
	op, err := a.client.Insert(ctx, &computepb.InsertInstanceRequest{Project: project, Zone: zone, InstanceResource: instance})
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

func (a *restAPI) Delete(ctx context.Context, project, zone, name string) error {
	op, err := a.client.Delete(ctx, &computepb.DeleteInstanceRequest{Project: project, Zone: zone, Instance: name})
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}
