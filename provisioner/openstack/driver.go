package openstack

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gammadia/skyway/account"
	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/provisioner"
	"github.com/gammadia/skyway/provisioner/internal"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/keypairs"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/samber/lo"
)

const (
	metaNode = "skyway-node"
	metaUser = "skyway-user"
	metaSKU  = "skyway-sku"
)

var pollInterval = 5 * time.Second

type driver struct {
	client   API
	settings *account.OpenStackConfig
	username string
	keyFile  string
}

var _ provisioner.Driver = (*driver)(nil)

func (d *driver) Instances(ctx context.Context) ([]provisioner.Instance, error) {
	list, err := d.client.ListServers(ctx)
	if err != nil {
		return nil, translate("list servers", err)
	}

	var instances []provisioner.Instance
	for _, server := range list {
		if _, ok := server.Metadata[metaUser]; !ok {
			continue
		}
		instances = append(instances, toInstance(server))
	}
	return instances, nil
}

func (d *driver) Launch(ctx context.Context, spec provisioner.LaunchSpec) (provisioner.Instance, error) {
	server, err := d.client.CreateServer(ctx, keypairs.CreateOptsExt{
		CreateOptsBuilder: servers.CreateOpts{
			Name:      spec.Name,
			ImageRef:  lo.Ternary(spec.Image != "", spec.Image, d.settings.Image),
			FlavorRef: spec.NodeType.InstanceType,
			Networks: lo.Map(d.settings.Networks, func(uuid string, _ int) servers.Network {
				return servers.Network{UUID: uuid}
			}),
			SecurityGroups: d.settings.SecurityGroups,
			Metadata: map[string]string{
				metaNode: spec.Name,
				metaUser: spec.Owner,
				metaSKU:  spec.NodeType.Name,
			},
		},
		KeyName: d.settings.KeyName,
	})
	if err != nil {
		return provisioner.Instance{}, translate(spec.Name, fmt.Errorf("failed to create server '%s': %w", spec.Name, err))
	}

	return provisioner.Instance{
		ID:           server.ID,
		Name:         spec.Name,
		Owner:        spec.Owner,
		SKU:          spec.NodeType.Name,
		InstanceType: spec.NodeType.InstanceType,
		Status:       provisioner.NodeStatusProvisioning,
	}, nil
}

func (d *driver) WaitReady(ctx context.Context, id string) (provisioner.Instance, error) {
	var ready provisioner.Instance
	err := internal.Poll(ctx, pollInterval, func(ctx context.Context) (bool, error) {
		server, err := d.client.GetServer(ctx, id)
		if err != nil {
			return false, translate(id, err)
		}
		if server.Status == "ERROR" {
			return false, errdefs.New(errdefs.ErrProvision, id, "server failed to build: %s", server.Fault.Message)
		}
		if server.Status != "ACTIVE" {
			return false, nil
		}

		addresses, err := d.client.ServerAddresses(ctx, id)
		if err != nil {
			return false, translate(id, fmt.Errorf("failed to get server addresses: %w", err))
		}

		ready = toInstance(*server)
		ready.Endpoint = ipv4(addresses)
		return ready.Endpoint != "", nil
	})
	return ready, err
}

// ipv4 picks an IPv4 address, scanning networks by name.
func ipv4(addresses map[string][]servers.Address) string {
	networks := lo.Keys(addresses)
	sort.Strings(networks)

	var found string
	for _, network := range networks {
		for _, address := range addresses[network] {
			if address.Version == 4 {
				found = address.Address
			}
		}
	}
	return found
}

func (d *driver) Terminate(ctx context.Context, id string) error {
	return translate(id, d.client.DeleteServer(ctx, id))
}

func (d *driver) WaitTerminated(ctx context.Context, id string) error {
	return internal.Poll(ctx, pollInterval, func(ctx context.Context) (bool, error) {
		server, err := d.client.GetServer(ctx, id)
		if err = translate(id, err); errdefs.KindOf(err) == errdefs.ErrNotFound {
			return true, nil
		} else if err != nil {
			return false, err
		}
		return status(server.Status).Terminal(), nil
	})
}

func (d *driver) Connection(inst provisioner.Instance) provisioner.ConnectionInfo {
	return provisioner.ConnectionInfo{
		PrivateKey: d.keyFile,
		Login:      d.username + "@" + inst.Endpoint,
	}
}

func toInstance(server servers.Server) provisioner.Instance {
	inst := provisioner.Instance{
		ID:           server.ID,
		Name:         lo.Ternary(server.Metadata[metaNode] != "", server.Metadata[metaNode], server.Name),
		Owner:        server.Metadata[metaUser],
		SKU:          server.Metadata[metaSKU],
		InstanceType: flavor(server.Flavor),
		Status:       status(server.Status),
		LaunchedAt:   server.Created,
	}
	if addr := server.AccessIPv4; addr != "" {
		inst.Endpoint = addr
	} else {
		inst.Endpoint = addressesIPv4(server.Addresses)
	}
	return inst
}

// flavor reads the flavor id, or its name on microversions embedding the flavor.
func flavor(f map[string]interface{}) string {
	for _, key := range []string{"id", "original_name"} {
		if v, ok := f[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// addressesIPv4 reads the raw addresses of a listed server.
func addressesIPv4(raw map[string]interface{}) string {
	addresses := map[string][]servers.Address{}
	for network, entries := range raw {
		list, _ := entries.([]interface{})
		for _, entry := range list {
			fields, _ := entry.(map[string]interface{})
			version, _ := fields["version"].(float64)
			addr, _ := fields["addr"].(string)
			addresses[network] = append(addresses[network], servers.Address{Version: int(version), Address: addr})
		}
	}
	return ipv4(addresses)
}

func status(s string) provisioner.NodeStatus {
	switch s {
	case "BUILD":
		return provisioner.NodeStatusProvisioning
	case "ACTIVE", "REBOOT", "HARD_REBOOT", "PASSWORD", "REBUILD", "RESIZE", "VERIFY_RESIZE",
		"REVERT_RESIZE", "MIGRATING":
		return provisioner.NodeStatusRunning
	case "SHUTOFF", "STOPPED", "PAUSED", "SUSPENDED", "SHELVED", "SHELVED_OFFLOADED", "RESCUE":
		return provisioner.NodeStatusStopped
	case "ERROR":
		return provisioner.NodeStatusProvisionFailed
	case "DELETED", "SOFT_DELETED":
		return provisioner.NodeStatusTerminated
	default:
		return provisioner.NodeStatusProvisioning
	}
}
