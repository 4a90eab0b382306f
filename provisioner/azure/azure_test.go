package azure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v6"
	"github.com/gammadia/skyway/account"
	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/provisioner"
	"github.com/gammadia/skyway/provisioner/internal/testenv"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `
azure:
  username: azureuser
  node-types:
    d2:
      name: Standard_D2s_v3
      cores: 2
      memgb: 8
      price: 0.1
`

type fakeARM struct {
	mutex sync.Mutex
	vms   map[string]*armcompute.VirtualMachine
	ips   map[string]*armnetwork.PublicIPAddress
	nics  map[string]*armnetwork.Interface

	deleted     []string
	vmErr       error
	deleteIPErr error
}

func newFakeARM() *fakeARM {
	return &fakeARM{
		vms:  map[string]*armcompute.VirtualMachine{},
		ips:  map[string]*armnetwork.PublicIPAddress{},
		nics: map[string]*armnetwork.Interface{},
	}
}

func responseError(status int, code string) error {
	req, err := http.NewRequest(http.MethodGet, "https://management.azure.com/subscriptions/lab", nil)
	if err != nil {
		panic(err)
	}
	header := http.Header{}
	header.Set("x-ms-error-code", code)

	return runtime.NewResponseError(&http.Response{
		Status:     http.StatusText(status),
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(fmt.Sprintf(`{"error":{"code":%q,"message":"test"}}`, code))),
		Request:    req,
	})
}

func notFound() error {
	return responseError(http.StatusNotFound, "ResourceNotFound")
}

func (f *fakeARM) ListVMs(ctx context.Context) ([]*armcompute.VirtualMachine, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	names := lo.Keys(f.vms)
	sort.Strings(names)
	return lo.Map(names, func(name string, _ int) *armcompute.VirtualMachine { return f.vms[name] }), nil
}

// GetVM reports a created machine as running.
func (f *fakeARM) GetVM(ctx context.Context, name string) (*armcompute.VirtualMachine, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	vm, ok := f.vms[name]
	if !ok {
		return nil, notFound()
	}
	vm.Properties.ProvisioningState = to.Ptr("Succeeded")
	vm.Properties.InstanceView = &armcompute.VirtualMachineInstanceView{
		Statuses: []*armcompute.InstanceViewStatus{
			{Code: to.Ptr("ProvisioningState/succeeded")},
			{Code: to.Ptr("PowerState/running")},
		},
	}
	return vm, nil
}

func (f *fakeARM) CreateVM(ctx context.Context, name string, vm armcompute.VirtualMachine) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.vmErr != nil {
		return f.vmErr
	}
	vm.Name = to.Ptr(name)
	vm.Properties.TimeCreated = to.Ptr(testenv.Launched)
	vm.Properties.ProvisioningState = to.Ptr("Creating")
	f.vms[name] = &vm
	return nil
}

func (f *fakeARM) DeleteVM(ctx context.Context, name string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if _, ok := f.vms[name]; !ok {
		return notFound()
	}
	delete(f.vms, name)
	f.deleted = append(f.deleted, "vm/"+name)
	return nil
}

func (f *fakeARM) ListPublicIPs(ctx context.Context) ([]*armnetwork.PublicIPAddress, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return lo.Values(f.ips), nil
}

func (f *fakeARM) CreatePublicIP(ctx context.Context, name string, ip armnetwork.PublicIPAddress) (*armnetwork.PublicIPAddress, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	ip.Name = to.Ptr(name)
	ip.ID = to.Ptr("/ips/" + name)
	ip.Properties.IPAddress = to.Ptr("20.1.2.3")
	f.ips[name] = &ip
	return &ip, nil
}

func (f *fakeARM) DeletePublicIP(ctx context.Context, name string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.deleteIPErr != nil {
		return f.deleteIPErr
	}
	if _, ok := f.ips[name]; !ok {
		return notFound()
	}
	delete(f.ips, name)
	f.deleted = append(f.deleted, "ip/"+name)
	return nil
}

func (f *fakeARM) CreateNIC(ctx context.Context, name string, nic armnetwork.Interface) (*armnetwork.Interface, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	nic.Name = to.Ptr(name)
	nic.ID = to.Ptr("/nics/" + name)
	f.nics[name] = &nic
	return &nic, nil
}

func (f *fakeARM) DeleteNIC(ctx context.Context, name string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if _, ok := f.nics[name]; !ok {
		return notFound()
	}
	delete(f.nics, name)
	f.deleted = append(f.deleted, "nic/"+name)
	return nil
}

func newTestProvisioner(t *testing.T) (*Provisioner, *fakeARM, *testenv.Env) {
	t.Helper()
	pollInterval = time.Millisecond

	env := testenv.New(t, &account.Account{
		Backend: account.BackendAzure,
		Azure: &account.AzureConfig{
			ResourceGroup: "lab-rg",
			Location:      "westeurope",
			Subnet:        "/subnets/default",
			SecurityGroup: "/nsgs/ssh",
			Image:         "/images/ubuntu",
			SSHPublicKey:  "ssh-ed25519 AAAA lab",
		},
	}, testCatalog)

	client := newFakeARM()
	p, err := NewWithClient(client, env.Config)
	require.NoError(t, err)
	return p, client, env
}

func TestCreateListDestroy(t *testing.T) {
	p, client, env := newTestProvisioner(t)
	ctx := context.Background()
	alice := provisioner.Caller{User: "alice"}

	results, err := p.CreateNodes(ctx, alice, provisioner.CreateRequest{SKU: "d2", Names: []string{"work"}})
	require.NoError(t, err)
	require.NoError(t, results["work"].Err)
	assert.Equal(t, "20.1.2.3", results["work"].Endpoint)

	vm := client.vms["work"]
	require.NotNil(t, vm)
	assert.Equal(t, "alice", *vm.Tags["user"])
	assert.Equal(t, "work", *vm.Tags["node_name"])
	assert.Equal(t, armcompute.VirtualMachineSizeTypes("Standard_D2s_v3"), *vm.Properties.HardwareProfile.VMSize)
	assert.Equal(t, "/nics/nic-alice-work", *vm.Properties.NetworkProfile.NetworkInterfaces[0].ID)
	assert.Equal(t, "ssh-ed25519 AAAA lab", *vm.Properties.OSProfile.LinuxConfiguration.SSH.PublicKeys[0].KeyData)
	assert.Equal(t, "/nsgs/ssh", *client.nics["nic-alice-work"].Properties.NetworkSecurityGroup.ID)
	assert.Contains(t, client.ips, "my_public_ip-alice-work")

	commands := env.Executor.Commands()
	require.Len(t, commands, 1)
	assert.Equal(t, "azureuser@20.1.2.3", commands[0].Login)

	nodes, err := p.ListNodes(ctx, alice, provisioner.ListOptions{})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, provisioner.NodeStatusRunning, nodes[0].Status)
	assert.Equal(t, "20.1.2.3", nodes[0].Endpoint)
	assert.InDelta(t, 0.2, nodes[0].Cost, 1e-9)

	destroyed, err := p.DestroyNodes(ctx, alice, provisioner.DestroyRequest{Names: []string{"work"}})
	require.NoError(t, err)
	require.Len(t, destroyed, 1)
	assert.Equal(t, provisioner.OutcomeTerminated, destroyed[0].Outcome)
	assert.Equal(t, []string{"vm/work", "nic/nic-alice-work", "ip/my_public_ip-alice-work"}, client.deleted)
}

func TestCreateFailureCleansUp(t *testing.T) {
	p, client, _ := newTestProvisioner(t)
	client.vmErr = responseError(http.StatusConflict, "OperationNotAllowed")

	results, err := p.CreateNodes(context.Background(), provisioner.Caller{User: "alice"}, provisioner.CreateRequest{SKU: "d2", Names: []string{"work"}})
	assert.ErrorIs(t, err, provisioner.ErrProvision)
	assert.Equal(t, provisioner.NodeStatusProvisionFailed, results["work"].Status)
	assert.Empty(t, client.ips)
	assert.Empty(t, client.nics)
}

func TestCreateFailureLogsLeftovers(t *testing.T) {
	_, client, env := newTestProvisioner(t)
	client.vmErr = responseError(http.StatusConflict, "OperationNotAllowed")
	client.deleteIPErr = responseError(http.StatusConflict, "InUseCannotBeDeleted")

	var logs bytes.Buffer
	env.Config.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	p, err := NewWithClient(client, env.Config)
	require.NoError(t, err)

	_, err = p.CreateNodes(context.Background(), provisioner.Caller{User: "alice"}, provisioner.CreateRequest{SKU: "d2", Names: []string{"work"}})
	assert.ErrorIs(t, err, provisioner.ErrProvision)
	assert.Empty(t, client.nics)
	assert.Contains(t, client.ips, "my_public_ip-alice-work")

	assert.Contains(t, logs.String(), "Failed to clean up after failed launch")
	assert.Contains(t, logs.String(), "public_ip=my_public_ip-alice-work")
	assert.Contains(t, logs.String(), "InUseCannotBeDeleted")
}

func TestStatus(t *testing.T) {
	assert.Equal(t, provisioner.NodeStatusRunning, status("Succeeded", "running"))
	assert.Equal(t, provisioner.NodeStatusStopped, status("Succeeded", "deallocated"))
	assert.Equal(t, provisioner.NodeStatusProvisioning, status("Creating", "starting"))
	assert.Equal(t, provisioner.NodeStatusProvisioning, status("Creating", ""))
	assert.Equal(t, provisioner.NodeStatusTerminationRequested, status("Deleting", "running"))
}

func TestTranslate(t *testing.T) {
	assert.ErrorIs(t, translate("x", notFound()), errdefs.ErrNotFound)
	assert.ErrorIs(t, translate("x", responseError(http.StatusConflict, "QuotaExceeded")), errdefs.ErrProvision)
	assert.ErrorIs(t, translate("x", responseError(http.StatusBadRequest, "SkuNotAvailable")), errdefs.ErrProvision)
	assert.ErrorIs(t, translate("x", responseError(http.StatusForbidden, "AuthorizationFailed")), errdefs.ErrConfig)
	assert.ErrorIs(t, translate("x", responseError(http.StatusNotFound, "ResourceGroupNotFound")), errdefs.ErrConfig)
	assert.NoError(t, translate("x", nil))
}
