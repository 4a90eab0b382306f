package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/gammadia/skyway/account"
	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/provisioner"
	"github.com/gammadia/skyway/provisioner/internal"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	tagName = "Name"
	tagUser = "User"
)

var (
	pollInterval = 5 * time.Second
	waiterDelay  = 5 * time.Second
)

type driver struct {
	client   API
	settings *account.AWSConfig
	username string
	keyFile  string
}

var _ provisioner.Driver = (*driver)(nil)

var liveStates = []string{
	string(types.InstanceStateNamePending),
	string(types.InstanceStateNameRunning),
	string(types.InstanceStateNameStopping),
	string(types.InstanceStateNameStopped),
	string(types.InstanceStateNameShuttingDown),
}

func (d *driver) Instances(ctx context.Context) ([]provisioner.Instance, error) {
	return d.describe(ctx, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: awssdk.String("instance-state-name"), Values: liveStates},
			{Name: awssdk.String("tag-key"), Values: []string{tagUser}},
		},
	})
}

func (d *driver) describe(ctx context.Context, input *ec2.DescribeInstancesInput) ([]provisioner.Instance, error) {
	var instances []provisioner.Instance

	paginator := ec2.NewDescribeInstancesPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, translate("describe instances", err)
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				instances = append(instances, toInstance(inst))
			}
		}
	}
	return instances, nil
}

func (d *driver) get(ctx context.Context, id string) (provisioner.Instance, error) {
	instances, err := d.describe(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return provisioner.Instance{}, err
	}
	if len(instances) == 0 {
		return provisioner.Instance{}, errdefs.NotFound(id)
	}
	return instances[0], nil
}

func (d *driver) Launch(ctx context.Context, spec provisioner.LaunchSpec) (provisioner.Instance, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      awssdk.String(lo.Ternary(spec.Image != "", spec.Image, d.settings.AMI)),
		InstanceType: types.InstanceType(spec.NodeType.InstanceType),
		MinCount:     awssdk.Int32(1),
		MaxCount:     awssdk.Int32(1),
		KeyName:      awssdk.String(d.settings.KeyName),
		ClientToken:  awssdk.String(uuid.NewString()),

		// a node past its walltime stays listed, stopped, until destroyed and billed
		InstanceInitiatedShutdownBehavior: types.ShutdownBehaviorStop,

		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags: []types.Tag{
				{Key: awssdk.String(tagName), Value: awssdk.String(spec.Name)},
				{Key: awssdk.String(tagUser), Value: awssdk.String(spec.Owner)},
			},
		}},
	}
	if len(d.settings.SecurityGroups) > 0 {
		input.SecurityGroupIds = d.settings.SecurityGroups
	}
	if d.settings.Subnet != "" {
		input.SubnetId = awssdk.String(d.settings.Subnet)
	}

	output, err := d.client.RunInstances(ctx, input)
	if err != nil {
		return provisioner.Instance{}, translate(spec.Name, err)
	}
	if len(output.Instances) == 0 {
		return provisioner.Instance{}, errdefs.New(errdefs.ErrProvision, spec.Name, "no instance returned")
	}
	return toInstance(output.Instances[0]), nil
}

func (d *driver) WaitReady(ctx context.Context, id string) (provisioner.Instance, error) {
	waiter := ec2.NewInstanceRunningWaiter(d.client, func(o *ec2.InstanceRunningWaiterOptions) {
		o.MinDelay = waiterDelay
		o.MaxDelay = max(waiterDelay, 30*time.Second)
	})
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}}, waitBudget(ctx)); err != nil {
		return provisioner.Instance{}, translate(id, err)
	}

	var ready provisioner.Instance
	err := internal.Poll(ctx, pollInterval, func(ctx context.Context) (bool, error) {
		inst, err := d.get(ctx, id)
		if err != nil {
			return false, err
		}
		ready = inst
		return inst.Endpoint != "", nil
	})
	return ready, err
}

func (d *driver) Terminate(ctx context.Context, id string) error {
	_, err := d.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}})
	return translate(id, err)
}

func (d *driver) WaitTerminated(ctx context.Context, id string) error {
	waiter := ec2.NewInstanceTerminatedWaiter(d.client, func(o *ec2.InstanceTerminatedWaiterOptions) {
		o.MinDelay = waiterDelay
		o.MaxDelay = max(waiterDelay, 30*time.Second)
	})
	return translate(id, waiter.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}}, waitBudget(ctx)))
}

func (d *driver) Connection(inst provisioner.Instance) provisioner.ConnectionInfo {
	return provisioner.ConnectionInfo{
		PrivateKey: d.keyFile,
		Login:      fmt.Sprintf("%s@%s", d.username, publicHostname(inst.Endpoint, d.settings.Region)),
	}
}

// publicHostname builds the EC2 public DNS name of an IPv4 address.
func publicHostname(ip, region string) string {
	if ip == "" {
		return ""
	}
	host := "ec2-" + strings.ReplaceAll(ip, ".", "-")
	if region == "us-east-1" {
		return host + ".compute-1.amazonaws.com"
	}
	return fmt.Sprintf("%s.%s.compute.amazonaws.com", host, region)
}

// waitBudget is the time left before ctx expires, which EC2 waiters require up front.
func waitBudget(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return max(time.Until(deadline), time.Millisecond)
	}
	return provisioner.DefaultReadyTimeout
}

func toInstance(inst types.Instance) provisioner.Instance {
	tags := lo.SliceToMap(inst.Tags, func(t types.Tag) (string, string) {
		return awssdk.ToString(t.Key), awssdk.ToString(t.Value)
	})

	result := provisioner.Instance{
		ID:           awssdk.ToString(inst.InstanceId),
		Name:         tags[tagName],
		Owner:        tags[tagUser],
		InstanceType: string(inst.InstanceType),
		Endpoint:     awssdk.ToString(inst.PublicIpAddress),
		LaunchedAt:   awssdk.ToTime(inst.LaunchTime),
	}
	if inst.State != nil {
		result.Status = status(inst.State.Name)
	}
	return result
}

func status(state types.InstanceStateName) provisioner.NodeStatus {
	switch state {
	case types.InstanceStateNamePending:
		return provisioner.NodeStatusProvisioning
	case types.InstanceStateNameRunning:
		return provisioner.NodeStatusRunning
	case types.InstanceStateNameStopping, types.InstanceStateNameStopped:
		return provisioner.NodeStatusStopped
	case types.InstanceStateNameShuttingDown:
		return provisioner.NodeStatusTerminationRequested
	default:
		return provisioner.NodeStatusTerminated
	}
}
