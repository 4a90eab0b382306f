package gcp

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/compute/apiv1/computepb"
	"github.com/gammadia/skyway/account"
	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/provisioner"
	"github.com/gammadia/skyway/provisioner/internal"
	"github.com/samber/lo"
	"google.golang.org/protobuf/proto"
)

// Labels only hold lowercase values, so the exact node and user names are
// also kept in instance metadata.
const (
	labelName = "node_name"
	labelUser = "user"

	metadataName = "skyway-node"
	metadataUser = "skyway-user"
)

var pollInterval = 5 * time.Second

// driver addresses instances by name, which is unique within a zone.
type driver struct {
	client   API
	settings *account.GCPConfig
	username string
	keyFile  string
}

var _ provisioner.Driver = (*driver)(nil)

func (d *driver) Instances(ctx context.Context) ([]provisioner.Instance, error) {
	instances, err := d.client.List(ctx, d.settings.Project, d.settings.Zone)
	if err != nil {
		return nil, translate("list instances", err)
	}

	var result []provisioner.Instance
	for _, instance := range instances {
		if _, ok := instance.GetLabels()[labelUser]; !ok {
			continue
		}
		result = append(result, toInstance(instance))
	}
	return result, nil
}

func (d *driver) Launch(ctx context.Context, spec provisioner.LaunchSpec) (provisioner.Instance, error) {
	instance := d.instanceResource(spec)

	if err := d.client.Insert(ctx, d.settings.Project, d.settings.Zone, instance); err != nil {
		return provisioner.Instance{}, translate(spec.Name, err)
	}

	created, err := d.client.Get(ctx, d.settings.Project, d.settings.Zone, spec.Name)
	if err != nil {
		return provisioner.Instance{}, translate(spec.Name, err)
	}
	return toInstance(created), nil
}

func (d *driver) instanceResource(spec provisioner.LaunchSpec) *computepb.Instance {
	zone := fmt.Sprintf("zones/%s", d.settings.Zone)

	instance := &computepb.Instance{
		Name:        proto.String(spec.Name),
		MachineType: proto.String(fmt.Sprintf("%s/machineTypes/%s", zone, spec.NodeType.InstanceType)),
		Labels: map[string]string{
			labelName: labelValue(spec.Name),
			labelUser: labelValue(spec.Owner),
		},
		Disks: []*computepb.AttachedDisk{{
			Boot:       proto.Bool(true),
			AutoDelete: proto.Bool(true),
			InitializeParams: &computepb.AttachedDiskInitializeParams{
				SourceImage: proto.String(lo.Ternary(spec.Image != "", spec.Image, d.settings.Image)),
			},
		}},
		NetworkInterfaces: []*computepb.NetworkInterface{{
			Network: proto.String(lo.Ternary(d.settings.Network != "", d.settings.Network, "global/networks/default")),
			AccessConfigs: []*computepb.AccessConfig{{
				Name: proto.String("External NAT"),
				Type: proto.String(computepb.AccessConfig_ONE_TO_ONE_NAT.String()),
			}},
		}},
		Scheduling: &computepb.Scheduling{
			Preemptible: proto.Bool(spec.NodeType.Preemptible),
		},
		Metadata: &computepb.Metadata{
			Items: []*computepb.Items{
				{Key: proto.String(metadataName), Value: proto.String(spec.Name)},
				{Key: proto.String(metadataUser), Value: proto.String(spec.Owner)},
			},
		},
	}

	if d.settings.DiskSizeGB > 0 {
		instance.Disks[0].InitializeParams.DiskSizeGb = proto.Int64(d.settings.DiskSizeGB)
	}
	if d.settings.Subnetwork != "" {
		instance.NetworkInterfaces[0].Subnetwork = proto.String(d.settings.Subnetwork)
	}
	if d.settings.ServiceAccount != "" {
		instance.ServiceAccounts = []*computepb.ServiceAccount{{
			Email:  proto.String(d.settings.ServiceAccount),
			Scopes: []string{"https://www.googleapis.com/auth/cloud-platform"},
		}}
	}
	if d.settings.SSHPublicKey != "" {
		instance.Metadata.Items = append(instance.Metadata.Items, &computepb.Items{
			Key:   proto.String("ssh-keys"),
			Value: proto.String(fmt.Sprintf("%s:%s", d.username, strings.TrimSpace(d.settings.SSHPublicKey))),
		})
	}

	if spec.NodeType.HasGPU() {
		instance.GuestAccelerators = []*computepb.AcceleratorConfig{{
			AcceleratorCount: proto.Int32(int32(spec.NodeType.GPU)),
			AcceleratorType:  proto.String(fmt.Sprintf("%s/acceleratorTypes/%s", zone, spec.NodeType.GPUType)),
		}}
		// GPU instances cannot live-migrate
		instance.Scheduling.OnHostMaintenance = proto.String(computepb.Scheduling_TERMINATE.String())
		instance.Scheduling.AutomaticRestart = proto.Bool(false)
	}

	return instance
}

func (d *driver) WaitReady(ctx context.Context, id string) (provisioner.Instance, error) {
	var ready provisioner.Instance
	err := internal.Poll(ctx, pollInterval, func(ctx context.Context) (bool, error) {
		instance, err := d.client.Get(ctx, d.settings.Project, d.settings.Zone, id)
		if err != nil {
			return false, translate(id, err)
		}
		ready = toInstance(instance)
		if ready.Status == provisioner.NodeStatusStopped {
			return false, errdefs.New(errdefs.ErrProvision, id, "instance stopped while booting")
		}
		return ready.Status == provisioner.NodeStatusRunning && ready.Endpoint != "", nil
	})
	return ready, err
}

func (d *driver) Terminate(ctx context.Context, id string) error {
	return translate(id, d.client.Delete(ctx, d.settings.Project, d.settings.Zone, id))
}

// WaitTerminated polls until the instance is gone, Delete may return before.
func (d *driver) WaitTerminated(ctx context.Context, id string) error {
	return internal.Poll(ctx, pollInterval, func(ctx context.Context) (bool, error) {
		_, err := d.client.Get(ctx, d.settings.Project, d.settings.Zone, id)
		if err = translate(id, err); errdefs.KindOf(err) == errdefs.ErrNotFound {
			return true, nil
		}
		return false, err
	})
}

func (d *driver) Connection(inst provisioner.Instance) provisioner.ConnectionInfo {
	return provisioner.ConnectionInfo{
		PrivateKey: d.keyFile,
		Login:      fmt.Sprintf("%s@%s", d.username, inst.Endpoint),
	}
}

func toInstance(instance *computepb.Instance) provisioner.Instance {
	metadata := lo.SliceToMap(instance.GetMetadata().GetItems(), func(item *computepb.Items) (string, string) {
		return item.GetKey(), item.GetValue()
	})
	name, _ := lo.Coalesce(metadata[metadataName], instance.GetLabels()[labelName], instance.GetName())
	owner, _ := lo.Coalesce(metadata[metadataUser], instance.GetLabels()[labelUser])

	result := provisioner.Instance{
		ID:           instance.GetName(),
		Name:         name,
		Owner:        owner,
		InstanceType: path.Base(instance.GetMachineType()),
		Status:       status(instance.GetStatus()),
	}

	if created, err := time.Parse(time.RFC3339, instance.GetCreationTimestamp()); err == nil {
		result.LaunchedAt = created.UTC()
	}

	for _, nic := range instance.GetNetworkInterfaces() {
		for _, access := range nic.GetAccessConfigs() {
			if ip := access.GetNatIP(); ip != "" && result.Endpoint == "" {
				result.Endpoint = ip
			}
		}
	}
	return result
}

func status(s string) provisioner.NodeStatus {
	switch computepb.Instance_Status(computepb.Instance_Status_value[s]) {
	case computepb.Instance_PROVISIONING, computepb.Instance_STAGING:
		return provisioner.NodeStatusProvisioning
	case computepb.Instance_RUNNING, computepb.Instance_REPAIRING:
		return provisioner.NodeStatusRunning
	case computepb.Instance_DEPROVISIONING:
		return provisioner.NodeStatusTerminationRequested
	case computepb.Instance_STOPPING, computepb.Instance_STOPPED, computepb.Instance_SUSPENDING,
		computepb.Instance_SUSPENDED, computepb.Instance_TERMINATED:
		// a TERMINATED instance is only powered off
		return provisioner.NodeStatusStopped
	default:
		return provisioner.NodeStatusProvisioning
	}
}

// labelValue lowercases a value and replaces what label values cannot hold.
func labelValue(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, s)
}
