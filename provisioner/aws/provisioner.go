// Package aws provisions nodes as EC2 instances.
package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/gammadia/skyway/account"
	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/provisioner"
)

// API is the subset of the EC2 client used by the driver.
type API interface {
	ec2.DescribeInstancesAPIClient
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

type Provisioner struct {
	*provisioner.Lifecycle
	driver *driver
}

// Provisioner implements provisioner.Provisioner
var _ provisioner.Provisioner = (*Provisioner)(nil)

func New(ctx context.Context, config provisioner.Config) (*Provisioner, error) {
	if config.Account == nil || config.Account.AWS == nil {
		return nil, errdefs.Config("aws", "missing aws account section")
	}
	settings := config.Account.AWS

	cfg, err := awsconfig(ctx, settings)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConfig, "aws", fmt.Errorf("failed to load aws config: %w", err))
	}

	return NewWithClient(ec2.NewFromConfig(cfg), config)
}

func awsconfig(ctx context.Context, settings *account.AWSConfig) (awssdk.Config, error) {
	return config.LoadDefaultConfig(ctx,
		config.WithRegion(settings.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(settings.AccessKeyID, settings.SecretAccessKey, "")),
	)
}

// NewWithClient builds a provisioner over an existing EC2 client.
func NewWithClient(client API, config provisioner.Config) (*Provisioner, error) {
	if config.Account == nil || config.Account.AWS == nil {
		return nil, errdefs.Config("aws", "missing aws account section")
	}
	if config.Vendor == nil {
		return nil, errdefs.Config("aws", "missing catalog entry")
	}

	d := &driver{
		client:   client,
		settings: config.Account.AWS,
		username: username(config.Account, config.Vendor.Username),
		keyFile:  config.Account.SSHPrivateKey,
	}

	lifecycle, err := provisioner.NewLifecycle(d, config)
	if err != nil {
		return nil, err
	}
	return &Provisioner{Lifecycle: lifecycle, driver: d}, nil
}

func username(acct *account.Account, fallback string) string {
	if acct.SSHUsername != "" {
		return acct.SSHUsername
	}
	if fallback != "" {
		return fallback
	}
	return "ec2-user"
}
