package aws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/gammadia/skyway/account"
	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/provisioner"
	"github.com/gammadia/skyway/provisioner/internal/testenv"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `
aws:
  username: ubuntu
  node-types:
    c1:
      name: t2.small
      cores: 1
      memgb: 2
      price: 0.5
`

type fakeEC2 struct {
	mutex      sync.Mutex
	instances  []types.Instance
	runs       []*ec2.RunInstancesInput
	terminated []string
	runErr     error
}

func (f *fakeEC2) RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.runs = append(f.runs, params)
	if f.runErr != nil {
		return nil, f.runErr
	}

	inst := types.Instance{
		InstanceId:   awssdk.String(fmt.Sprintf("i-%08d", len(f.runs))),
		InstanceType: params.InstanceType,
		State:        &types.InstanceState{Name: types.InstanceStateNamePending},
		LaunchTime:   awssdk.Time(testenv.Launched),
		Tags:         params.TagSpecifications[0].Tags,
	}
	f.instances = append(f.instances, inst)
	return &ec2.RunInstancesOutput{Instances: []types.Instance{inst}}, nil
}

// DescribeInstances moves pending instances to running, with a public IP.
func (f *fakeEC2) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	var states []string
	for _, filter := range params.Filters {
		if awssdk.ToString(filter.Name) == "instance-state-name" {
			states = filter.Values
		}
	}

	var found []types.Instance
	for i, inst := range f.instances {
		if len(params.InstanceIds) > 0 && !lo.Contains(params.InstanceIds, awssdk.ToString(inst.InstanceId)) {
			continue
		}
		if inst.State.Name == types.InstanceStateNamePending {
			f.instances[i].State = &types.InstanceState{Name: types.InstanceStateNameRunning}
			f.instances[i].PublicIpAddress = awssdk.String(fmt.Sprintf("54.1.2.%d", i+1))
			inst = f.instances[i]
		}
		if states != nil && !lo.Contains(states, string(inst.State.Name)) {
			continue
		}
		found = append(found, inst)
	}

	return &ec2.DescribeInstancesOutput{Reservations: []types.Reservation{{Instances: found}}}, nil
}

func (f *fakeEC2) TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for i, inst := range f.instances {
		if lo.Contains(params.InstanceIds, awssdk.ToString(inst.InstanceId)) {
			f.instances[i].State = &types.InstanceState{Name: types.InstanceStateNameTerminated}
			f.terminated = append(f.terminated, awssdk.ToString(inst.InstanceId))
		}
	}
	return &ec2.TerminateInstancesOutput{}, nil
}

func (f *fakeEC2) add(id, name, owner string, state types.InstanceStateName) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.instances = append(f.instances, types.Instance{
		InstanceId:      awssdk.String(id),
		InstanceType:    types.InstanceType("t2.small"),
		State:           &types.InstanceState{Name: state},
		LaunchTime:      awssdk.Time(testenv.Launched),
		PublicIpAddress: awssdk.String("54.9.9.9"),
		Tags: []types.Tag{
			{Key: awssdk.String(tagName), Value: awssdk.String(name)},
			{Key: awssdk.String(tagUser), Value: awssdk.String(owner)},
		},
	})
}

func newTestProvisioner(t *testing.T) (*Provisioner, *fakeEC2, *testenv.Env) {
	t.Helper()

	pollInterval, waiterDelay = time.Millisecond, time.Millisecond

	env := testenv.New(t, &account.Account{
		Backend: account.BackendAWS,
		AWS: &account.AWSConfig{
			Region:         "eu-west-1",
			AMI:            "ami-123",
			KeyName:        "lab-key",
			SecurityGroups: []string{"sg-1"},
		},
	}, testCatalog)

	client := &fakeEC2{}
	p, err := NewWithClient(client, env.Config)
	require.NoError(t, err)
	return p, client, env
}

func TestCreateNodes(t *testing.T) {
	p, client, env := newTestProvisioner(t)

	results, err := p.CreateNodes(context.Background(), provisioner.Caller{User: "alice"}, provisioner.CreateRequest{SKU: "c1", Names: []string{"work"}})
	require.NoError(t, err)

	r := results["work"]
	require.NoError(t, r.Err)
	assert.Equal(t, "i-00000001", r.ID)
	assert.Equal(t, provisioner.NodeStatusRunning, r.Status)
	assert.Equal(t, "54.1.2.1", r.Endpoint)

	require.Len(t, client.runs, 1)
	run := client.runs[0]
	assert.Equal(t, "ami-123", awssdk.ToString(run.ImageId))
	assert.Equal(t, types.InstanceType("t2.small"), run.InstanceType)
	assert.Equal(t, "lab-key", awssdk.ToString(run.KeyName))
	assert.Equal(t, []string{"sg-1"}, run.SecurityGroupIds)
	assert.Equal(t, types.ShutdownBehaviorStop, run.InstanceInitiatedShutdownBehavior)
	assert.NotEmpty(t, awssdk.ToString(run.ClientToken))

	tags := lo.SliceToMap(run.TagSpecifications[0].Tags, func(t types.Tag) (string, string) {
		return awssdk.ToString(t.Key), awssdk.ToString(t.Value)
	})
	assert.Equal(t, map[string]string{"Name": "work", "User": "alice"}, tags)

	commands := env.Executor.Commands()
	require.Len(t, commands, 1)
	assert.Equal(t, "ubuntu@ec2-54-1-2-1.eu-west-1.compute.amazonaws.com", commands[0].Login)
	assert.Equal(t, "sudo shutdown -P 60", commands[0].Command)
}

func TestCreateNodesCapacityError(t *testing.T) {
	p, client, _ := newTestProvisioner(t)
	client.runErr = &smithy.GenericAPIError{Code: "InsufficientInstanceCapacity", Message: "no capacity"}

	results, err := p.CreateNodes(context.Background(), provisioner.Caller{User: "alice"}, provisioner.CreateRequest{SKU: "c1", Names: []string{"work"}})
	assert.ErrorIs(t, err, provisioner.ErrProvision)
	assert.Equal(t, provisioner.NodeStatusProvisionFailed, results["work"].Status)
}

func TestListAndDestroy(t *testing.T) {
	p, client, _ := newTestProvisioner(t)
	client.add("i-aaa", "mine", "alice", types.InstanceStateNameRunning)
	client.add("i-bbb", "stopped", "alice", types.InstanceStateNameStopped)
	client.add("i-ccc", "old", "alice", types.InstanceStateNameTerminated)

	nodes, err := p.ListNodes(context.Background(), provisioner.Caller{User: "alice"}, provisioner.ListOptions{})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "mine", nodes[0].Name)
	assert.Equal(t, "c1", nodes[0].SKU)
	assert.InDelta(t, 1.0, nodes[0].Cost, 1e-9)
	assert.Equal(t, provisioner.NodeStatusStopped, nodes[1].Status)

	id, err := p.InstanceID(context.Background(), "mine")
	require.NoError(t, err)
	assert.Equal(t, "i-aaa", id)

	results, err := p.DestroyNodes(context.Background(), provisioner.Caller{User: "alice"}, provisioner.DestroyRequest{IDs: []string{"i-aaa"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, provisioner.OutcomeTerminated, results[0].Outcome)
	assert.Equal(t, []string{"i-aaa"}, client.terminated)

	require.NotNil(t, results[0].Record)
	assert.Equal(t, "i-aaa", results[0].Record.NodeID)
	assert.True(t, results[0].Record.Start.Equal(testenv.Launched))
}

func TestConnectNode(t *testing.T) {
	p, client, _ := newTestProvisioner(t)
	client.add("i-aaa", "mine", "alice", types.InstanceStateNameRunning)

	conn, err := p.ConnectNode(context.Background(), "mine")
	require.NoError(t, err)
	assert.Equal(t, provisioner.ConnectionInfo{PrivateKey: "/keys/lab.pem", Login: "ubuntu@ec2-54-9-9-9.eu-west-1.compute.amazonaws.com"}, conn)
}

func TestPublicHostname(t *testing.T) {
	assert.Equal(t, "ec2-3-4-5-6.compute-1.amazonaws.com", publicHostname("3.4.5.6", "us-east-1"))
	assert.Equal(t, "ec2-3-4-5-6.ap-south-1.compute.amazonaws.com", publicHostname("3.4.5.6", "ap-south-1"))
	assert.Empty(t, publicHostname("", "us-east-1"))
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		code string
		kind error
	}{
		{"InsufficientInstanceCapacity", errdefs.ErrProvision},
		{"InstanceLimitExceeded", errdefs.ErrProvision},
		{"VcpuLimitExceeded", errdefs.ErrProvision},
		{"InvalidAMIID.NotFound", errdefs.ErrProvision},
		{"InvalidInstanceID.NotFound", errdefs.ErrNotFound},
		{"AuthFailure", errdefs.ErrConfig},
		{"InvalidKeyPair.NotFound", errdefs.ErrConfig},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := translate("i-1", &smithy.GenericAPIError{Code: tt.code})
			assert.ErrorIs(t, err, tt.kind)
		})
	}

	plain := errors.New("boom")
	assert.Same(t, plain, translate("i-1", plain))
	assert.NoError(t, translate("i-1", nil))
}
