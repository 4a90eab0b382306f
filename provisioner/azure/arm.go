package azure

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v6"
)

var pollFrequency = 5 * time.Second

// armAPI implements API with the Azure resource manager clients.
type armAPI struct {
	resourceGroup string

	vms        *armcompute.VirtualMachinesClient
	publicIPs  *armnetwork.PublicIPAddressesClient
	interfaces *armnetwork.InterfacesClient
}

func newARMAPI(subscription, resourceGroup string, credential azcore.TokenCredential) (*armAPI, error) {
	vms, err := armcompute.NewVirtualMachinesClient(subscription, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create virtual machines client: %w", err)
	}
	publicIPs, err := armnetwork.NewPublicIPAddressesClient(subscription, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create public ip client: %w", err)
	}
	interfaces, err := armnetwork.NewInterfacesClient(subscription, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create network interfaces client: %w", err)
	}

	return &armAPI{resourceGroup: resourceGroup, vms: vms, publicIPs: publicIPs, interfaces: interfaces}, nil
}

func (a *armAPI) ListVMs(ctx context.Context) ([]*armcompute.VirtualMachine, error) {
	var vms []*armcompute.VirtualMachine

	pager := a.vms.NewListPager(a.resourceGroup, &armcompute.VirtualMachinesClientListOptions{
		Expand: to.Ptr(armcompute.ExpandTypeForListVMsInstanceView),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		vms = append(vms, page.Value...)
	}
	return vms, nil
}

func (a *armAPI) GetVM(ctx context.Context, name string) (*armcompute.VirtualMachine, error) {
	resp, err := a.vms.Get(ctx, a.resourceGroup, name, &armcompute.VirtualMachinesClientGetOptions{
		Expand: to.Ptr(armcompute.InstanceViewTypesInstanceView),
	})
	if err != nil {
		return nil, err
	}
	return &resp.VirtualMachine, nil
}

func (a *armAPI) CreateVM(ctx context.Context, name string, vm armcompute.VirtualMachine) error {
	_, err := a.vms.BeginCreateOrUpdate(ctx, a.resourceGroup, name, vm, nil)
	return err
}

func (a *armAPI) DeleteVM(ctx context.Context, name string) error {
	poller, err := a.vms.BeginDelete(ctx, a.resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, &runtime.PollUntilDoneOptions{Frequency: pollFrequency})
	return err
}

func (a *armAPI) ListPublicIPs(ctx context.Context) ([]*armnetwork.PublicIPAddress, error) {
	var ips []*armnetwork.PublicIPAddress

	pager := a.publicIPs.NewListPager(a.resourceGroup, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		ips = append(ips, page.Value...)
	}
	return ips, nil
}

func (a *armAPI) CreatePublicIP(ctx context.Context, name string, ip armnetwork.PublicIPAddress) (*armnetwork.PublicIPAddress, error) {
	poller, err := a.publicIPs.BeginCreateOrUpdate(ctx, a.resourceGroup, name, ip, nil)
	if err != nil {
		return nil, err
	}
	resp, err := poller.PollUntilDone(ctx, &runtime.PollUntilDoneOptions{Frequency: pollFrequency})
	if err != nil {
		return nil, err
	}
	return &resp.PublicIPAddress, nil
}

func (a *armAPI) DeletePublicIP(ctx context.Context, name string) error {
	poller, err := a.publicIPs.BeginDelete(ctx, a.resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, &runtime.PollUntilDoneOptions{Frequency: pollFrequency})
	return err
}

func (a *armAPI) CreateNIC(ctx context.Context, name string, nic armnetwork.Interface) (*armnetwork.Interface, error) {
	poller, err := a.interfaces.BeginCreateOrUpdate(ctx, a.resourceGroup, name, nic, nil)
	if err != nil {
		return nil, err
	}
	resp, err := poller.PollUntilDone(ctx, &runtime.PollUntilDoneOptions{Frequency: pollFrequency})
	if err != nil {
		return nil, err
	}
	return &resp.Interface, nil
}

func (a *armAPI) DeleteNIC(ctx context.Context, name string) error {
	poller, err := a.interfaces.BeginDelete(ctx, a.resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, &runtime.PollUntilDoneOptions{Frequency: pollFrequency})
	return err
}
