package azure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v6"
	"github.com/gammadia/skyway/account"
	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/provisioner"
	"github.com/gammadia/skyway/provisioner/internal"
	"github.com/samber/lo"
)

const (
	tagName = "node_name"
	tagUser = "user"
)

var pollInterval = 5 * time.Second

const cleanupTimeout = 2 * time.Minute

// driver addresses virtual machines by name within the resource group.
type driver struct {
	client   API
	settings *account.AzureConfig
	username string
	keyFile  string
	log      *slog.Logger
}

var _ provisioner.Driver = (*driver)(nil)

func publicIPName(owner, name string) string {
	return fmt.Sprintf("my_public_ip-%s-%s", owner, name)
}

func nicName(owner, name string) string {
	return fmt.Sprintf("nic-%s-%s", owner, name)
}

func (d *driver) Instances(ctx context.Context) ([]provisioner.Instance, error) {
	vms, err := d.client.ListVMs(ctx)
	if err != nil {
		return nil, translate("list virtual machines", err)
	}
	ips, err := d.publicIPs(ctx)
	if err != nil {
		return nil, err
	}

	var instances []provisioner.Instance
	for _, vm := range vms {
		if vm.Tags[tagUser] == nil {
			continue
		}
		inst := toInstance(vm)
		inst.Endpoint = ips[publicIPName(inst.Owner, inst.Name)]
		instances = append(instances, inst)
	}
	return instances, nil
}

func (d *driver) publicIPs(ctx context.Context) (map[string]string, error) {
	ips, err := d.client.ListPublicIPs(ctx)
	if err != nil {
		return nil, translate("list public ips", err)
	}

	addresses := map[string]string{}
	for _, ip := range ips {
		if ip.Properties != nil && ip.Properties.IPAddress != nil {
			addresses[lo.FromPtr(ip.Name)] = *ip.Properties.IPAddress
		}
	}
	return addresses, nil
}

func (d *driver) Launch(ctx context.Context, spec provisioner.LaunchSpec) (provisioner.Instance, error) {
	tags := map[string]*string{
		tagName: to.Ptr(spec.Name),
		tagUser: to.Ptr(spec.Owner),
	}

	ip, err := d.client.CreatePublicIP(ctx, publicIPName(spec.Owner, spec.Name), armnetwork.PublicIPAddress{
		Location: to.Ptr(d.settings.Location),
		Tags:     tags,
		SKU:      &armnetwork.PublicIPAddressSKU{Name: to.Ptr(armnetwork.PublicIPAddressSKUNameStandard)},
		Properties: &armnetwork.PublicIPAddressPropertiesFormat{
			PublicIPAllocationMethod: to.Ptr(armnetwork.IPAllocationMethodStatic),
		},
	})
	if err != nil {
		return provisioner.Instance{}, translate(spec.Name, err)
	}

	nic := armnetwork.Interface{
		Location: to.Ptr(d.settings.Location),
		Tags:     tags,
		Properties: &armnetwork.InterfacePropertiesFormat{
			IPConfigurations: []*armnetwork.InterfaceIPConfiguration{{
				Name: to.Ptr("ipconfig1"),
				Properties: &armnetwork.InterfaceIPConfigurationPropertiesFormat{
					PrivateIPAllocationMethod: to.Ptr(armnetwork.IPAllocationMethodDynamic),
					Subnet:                    &armnetwork.Subnet{ID: to.Ptr(d.settings.Subnet)},
					PublicIPAddress:           &armnetwork.PublicIPAddress{ID: ip.ID},
				},
			}},
		},
	}
	if d.settings.SecurityGroup != "" {
		nic.Properties.NetworkSecurityGroup = &armnetwork.SecurityGroup{ID: to.Ptr(d.settings.SecurityGroup)}
	}

	createdNIC, err := d.client.CreateNIC(ctx, nicName(spec.Owner, spec.Name), nic)
	if err != nil {
		d.abandon(ctx, spec)
		return provisioner.Instance{}, translate(spec.Name, err)
	}

	if err := d.client.CreateVM(ctx, spec.Name, d.virtualMachine(spec, tags, createdNIC.ID)); err != nil {
		d.abandon(ctx, spec)
		return provisioner.Instance{}, translate(spec.Name, err)
	}

	return provisioner.Instance{
		ID:           spec.Name,
		Name:         spec.Name,
		Owner:        spec.Owner,
		InstanceType: spec.NodeType.InstanceType,
		Status:       provisioner.NodeStatusProvisioning,
	}, nil
}

func (d *driver) virtualMachine(spec provisioner.LaunchSpec, tags map[string]*string, nicID *string) armcompute.VirtualMachine {
	vm := armcompute.VirtualMachine{
		Location: to.Ptr(d.settings.Location),
		Tags:     tags,
		Properties: &armcompute.VirtualMachineProperties{
			HardwareProfile: &armcompute.HardwareProfile{
				VMSize: to.Ptr(armcompute.VirtualMachineSizeTypes(spec.NodeType.InstanceType)),
			},
			StorageProfile: &armcompute.StorageProfile{
				ImageReference: &armcompute.ImageReference{ID: to.Ptr(lo.Ternary(spec.Image != "", spec.Image, d.settings.Image))},
				OSDisk: &armcompute.OSDisk{
					CreateOption: to.Ptr(armcompute.DiskCreateOptionTypesFromImage),
					DeleteOption: to.Ptr(armcompute.DiskDeleteOptionTypesDelete),
					ManagedDisk: &armcompute.ManagedDiskParameters{
						StorageAccountType: to.Ptr(armcompute.StorageAccountTypesStandardSSDLRS),
					},
				},
			},
			OSProfile: &armcompute.OSProfile{
				ComputerName:  to.Ptr(spec.Name),
				AdminUsername: to.Ptr(d.username),
				LinuxConfiguration: &armcompute.LinuxConfiguration{
					DisablePasswordAuthentication: to.Ptr(true),
					SSH: &armcompute.SSHConfiguration{
						PublicKeys: []*armcompute.SSHPublicKey{{
							Path:    to.Ptr(fmt.Sprintf("/home/%s/.ssh/authorized_keys", d.username)),
							KeyData: to.Ptr(strings.TrimSpace(d.settings.SSHPublicKey)),
						}},
					},
				},
			},
			NetworkProfile: &armcompute.NetworkProfile{
				NetworkInterfaces: []*armcompute.NetworkInterfaceReference{{
					ID: nicID,
					Properties: &armcompute.NetworkInterfaceReferenceProperties{
						Primary: to.Ptr(true),
					},
				}},
			},
		},
	}
	if spec.NodeType.Preemptible {
		vm.Properties.Priority = to.Ptr(armcompute.VirtualMachinePriorityTypesSpot)
		vm.Properties.EvictionPolicy = to.Ptr(armcompute.VirtualMachineEvictionPolicyTypesDelete)
	}
	return vm
}

func (d *driver) WaitReady(ctx context.Context, id string) (provisioner.Instance, error) {
	var ready provisioner.Instance
	err := internal.Poll(ctx, pollInterval, func(ctx context.Context) (bool, error) {
		vm, err := d.client.GetVM(ctx, id)
		if err != nil {
			return false, translate(id, err)
		}
		ready = toInstance(vm)
		if state := provisioningState(vm); strings.EqualFold(state, "Failed") {
			return false, errdefs.New(errdefs.ErrProvision, id, "deployment failed")
		}
		if ready.Status != provisioner.NodeStatusRunning {
			return false, nil
		}

		ips, err := d.publicIPs(ctx)
		if err != nil {
			return false, err
		}
		ready.Endpoint = ips[publicIPName(ready.Owner, ready.Name)]
		return ready.Endpoint != "", nil
	})
	return ready, err
}

// Terminate deletes the virtual machine with its OS disk, then its network
// interface and public IP.
func (d *driver) Terminate(ctx context.Context, id string) error {
	vm, err := d.client.GetVM(ctx, id)
	if err != nil {
		return translate(id, err)
	}
	inst := toInstance(vm)

	if err := d.client.DeleteVM(ctx, id); err != nil {
		return translate(id, err)
	}
	return d.cleanup(ctx, inst.Owner, inst.Name)
}

// abandon removes the network resources of a launch that failed half way.
func (d *driver) abandon(ctx context.Context, spec provisioner.LaunchSpec) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := d.cleanup(ctx, spec.Owner, spec.Name); err != nil {
		d.log.Error("Failed to clean up after failed launch, resources may be left behind", "node", spec.Name,
			"nic", nicName(spec.Owner, spec.Name), "public_ip", publicIPName(spec.Owner, spec.Name), "error", err)
	}
}

func (d *driver) cleanup(ctx context.Context, owner, name string) error {
	var errs []error
	if err := translate(name, d.client.DeleteNIC(ctx, nicName(owner, name))); err != nil && !errors.Is(err, errdefs.ErrNotFound) {
		errs = append(errs, fmt.Errorf("failed to delete network interface: %w", err))
	}
	if err := translate(name, d.client.DeletePublicIP(ctx, publicIPName(owner, name))); err != nil && !errors.Is(err, errdefs.ErrNotFound) {
		errs = append(errs, fmt.Errorf("failed to delete public ip: %w", err))
	}
	return errors.Join(errs...)
}

func (d *driver) WaitTerminated(ctx context.Context, id string) error {
	return internal.Poll(ctx, pollInterval, func(ctx context.Context) (bool, error) {
		_, err := d.client.GetVM(ctx, id)
		if err = translate(id, err); errors.Is(err, errdefs.ErrNotFound) {
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

func toInstance(vm *armcompute.VirtualMachine) provisioner.Instance {
	inst := provisioner.Instance{
		ID:     lo.FromPtr(vm.Name),
		Name:   lo.FromPtr(vm.Tags[tagName]),
		Owner:  lo.FromPtr(vm.Tags[tagUser]),
		Status: provisioner.NodeStatusProvisioning,
	}
	if inst.Name == "" {
		inst.Name = inst.ID
	}

	props := vm.Properties
	if props == nil {
		return inst
	}
	if props.HardwareProfile != nil && props.HardwareProfile.VMSize != nil {
		inst.InstanceType = string(*props.HardwareProfile.VMSize)
	}
	if props.TimeCreated != nil {
		inst.LaunchedAt = props.TimeCreated.UTC()
	}
	inst.Status = status(provisioningState(vm), powerState(vm))
	return inst
}

func provisioningState(vm *armcompute.VirtualMachine) string {
	if vm.Properties == nil {
		return ""
	}
	return lo.FromPtr(vm.Properties.ProvisioningState)
}

func powerState(vm *armcompute.VirtualMachine) string {
	if vm.Properties == nil || vm.Properties.InstanceView == nil {
		return ""
	}
	for _, s := range vm.Properties.InstanceView.Statuses {
		if code := lo.FromPtr(s.Code); strings.HasPrefix(code, "PowerState/") {
			return strings.TrimPrefix(code, "PowerState/")
		}
	}
	return ""
}

func status(provisioning, power string) provisioner.NodeStatus {
	if strings.EqualFold(provisioning, "Deleting") {
		return provisioner.NodeStatusTerminationRequested
	}

	switch power {
	case "running":
		return provisioner.NodeStatusRunning
	case "stopping", "stopped", "deallocating", "deallocated":
		return provisioner.NodeStatusStopped
	default:
		return provisioner.NodeStatusProvisioning
	}
}
