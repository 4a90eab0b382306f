package oci

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gammadia/skyway/account"
	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/provisioner"
	"github.com/gammadia/skyway/provisioner/internal"
	"github.com/google/uuid"
	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/core"
	"github.com/samber/lo"
)

const tagUser = "user"

var pollInterval = 10 * time.Second

type driver struct {
	client   API
	settings *account.OCIConfig
	username string
	keyFile  string
}

var _ provisioner.Driver = (*driver)(nil)

func (d *driver) Instances(ctx context.Context) ([]provisioner.Instance, error) {
	instances, err := d.client.ListInstances(ctx, d.settings.Compartment)
	if err != nil {
		return nil, translate("list instances", err)
	}

	var result []provisioner.Instance
	for _, instance := range instances {
		if _, ok := instance.FreeformTags[tagUser]; !ok {
			continue
		}

		inst := toInstance(instance)
		if inst.Status == provisioner.NodeStatusRunning {
			if inst.Endpoint, err = d.client.PublicIP(ctx, d.settings.Compartment, inst.ID); err != nil {
				return nil, translate(inst.Name, err)
			}
		}
		result = append(result, inst)
	}
	return result, nil
}

func (d *driver) Launch(ctx context.Context, spec provisioner.LaunchSpec) (provisioner.Instance, error) {
	details := core.LaunchInstanceDetails{
		AvailabilityDomain: common.String(d.settings.AvailabilityDomain),
		CompartmentId:      common.String(d.settings.Compartment),
		Shape:              common.String(spec.NodeType.InstanceType),
		DisplayName:        common.String(spec.Name),
		FreeformTags:       map[string]string{tagUser: spec.Owner},
		SourceDetails: core.InstanceSourceViaImageDetails{
			ImageId: common.String(lo.Ternary(spec.Image != "", spec.Image, d.settings.Image)),
		},
		CreateVnicDetails: &core.CreateVnicDetails{
			SubnetId:       common.String(d.settings.Subnet),
			AssignPublicIp: common.Bool(true),
		},
	}
	if d.settings.SSHPublicKey != "" {
		details.Metadata = map[string]string{"ssh_authorized_keys": strings.TrimSpace(d.settings.SSHPublicKey)}
	}
	if strings.HasSuffix(spec.NodeType.InstanceType, ".Flex") {
		details.ShapeConfig = &core.LaunchInstanceShapeConfigDetails{
			Ocpus:       common.Float32(float32(spec.NodeType.Cores)),
			MemoryInGBs: common.Float32(float32(spec.NodeType.MemoryGB)),
		}
	}
	if spec.NodeType.Preemptible {
		details.PreemptibleInstanceConfig = &core.PreemptibleInstanceConfigDetails{
			PreemptionAction: core.TerminatePreemptionAction{PreserveBootVolume: common.Bool(false)},
		}
	}

	instance, err := d.client.LaunchInstance(ctx, details, uuid.NewString())
	if err != nil {
		return provisioner.Instance{}, translate(spec.Name, err)
	}
	return toInstance(instance), nil
}

func (d *driver) WaitReady(ctx context.Context, id string) (provisioner.Instance, error) {
	var ready provisioner.Instance
	err := internal.Poll(ctx, pollInterval, func(ctx context.Context) (bool, error) {
		instance, err := d.client.GetInstance(ctx, id)
		if err != nil {
			return false, translate(id, err)
		}
		ready = toInstance(instance)

		switch ready.Status {
		case provisioner.NodeStatusRunning:
		case provisioner.NodeStatusProvisioning:
			return false, nil
		default:
			return false, errdefs.New(errdefs.ErrProvision, id, "instance is %s", instance.LifecycleState)
		}

		ready.Endpoint, err = d.client.PublicIP(ctx, d.settings.Compartment, id)
		if err != nil {
			return false, translate(id, err)
		}
		return ready.Endpoint != "", nil
	})
	return ready, err
}

func (d *driver) Terminate(ctx context.Context, id string) error {
	return translate(id, d.client.TerminateInstance(ctx, id))
}

func (d *driver) WaitTerminated(ctx context.Context, id string) error {
	return internal.Poll(ctx, pollInterval, func(ctx context.Context) (bool, error) {
		instance, err := d.client.GetInstance(ctx, id)
		if err = translate(id, err); errors.Is(err, errdefs.ErrNotFound) {
			return true, nil
		} else if err != nil {
			return false, err
		}
		return instance.LifecycleState == core.InstanceLifecycleStateTerminated, nil
	})
}

func (d *driver) Connection(inst provisioner.Instance) provisioner.ConnectionInfo {
	return provisioner.ConnectionInfo{
		PrivateKey: d.keyFile,
		Login:      fmt.Sprintf("%s@%s", d.username, inst.Endpoint),
	}
}

func toInstance(instance core.Instance) provisioner.Instance {
	inst := provisioner.Instance{
		ID:           lo.FromPtr(instance.Id),
		Name:         lo.FromPtr(instance.DisplayName),
		Owner:        instance.FreeformTags[tagUser],
		InstanceType: lo.FromPtr(instance.Shape),
		Status:       status(instance.LifecycleState),
	}
	if instance.TimeCreated != nil {
		inst.LaunchedAt = instance.TimeCreated.Time.UTC()
	}
	return inst
}

func status(state core.InstanceLifecycleStateEnum) provisioner.NodeStatus {
	switch state {
	case core.InstanceLifecycleStateProvisioning, core.InstanceLifecycleStateStarting, core.InstanceLifecycleStateMoving:
		return provisioner.NodeStatusProvisioning
	case core.InstanceLifecycleStateRunning, core.InstanceLifecycleStateCreatingImage:
		return provisioner.NodeStatusRunning
	case core.InstanceLifecycleStateStopping, core.InstanceLifecycleStateStopped:
		return provisioner.NodeStatusStopped
	case core.InstanceLifecycleStateTerminating:
		return provisioner.NodeStatusTerminationRequested
	default:
		return provisioner.NodeStatusTerminated
	}
}
