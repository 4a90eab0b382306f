package account

import (
	"errors"
	"fmt"
)

type validator interface {
	validate() error
}

// required returns an error naming the first empty field.
func required(fields ...[2]string) error {
	for _, f := range fields {
		if f[1] == "" {
			return fmt.Errorf("missing '%s'", f[0])
		}
	}
	return nil
}

type AWSConfig struct {
	AccessKeyID     string   `yaml:"access-key-id"`
	SecretAccessKey string   `yaml:"secret-access-key"`
	Region          string   `yaml:"region"`
	AMI             string   `yaml:"ami-id"`
	KeyName         string   `yaml:"key-name"`
	SecurityGroups  []string `yaml:"security-groups"`
	Subnet          string   `yaml:"subnet-id,omitempty"`
}

func (c *AWSConfig) validate() error {
	return required(
		[2]string{"access-key-id", c.AccessKeyID},
		[2]string{"secret-access-key", c.SecretAccessKey},
		[2]string{"region", c.Region},
		[2]string{"ami-id", c.AMI},
		[2]string{"key-name", c.KeyName},
	)
}

type GCPConfig struct {
	Project         string `yaml:"project-id"`
	Zone            string `yaml:"zone"`
	CredentialsFile string `yaml:"key-file"`
	ServiceAccount  string `yaml:"service-account"`
	Image           string `yaml:"image"`
	Network         string `yaml:"network,omitempty"`
	Subnetwork      string `yaml:"subnetwork,omitempty"`
	SSHPublicKey    string `yaml:"ssh-public-key,omitempty"`
	DiskSizeGB      int64  `yaml:"disk-size-gb,omitempty"`
}

func (c *GCPConfig) validate() error {
	return required(
		[2]string{"project-id", c.Project},
		[2]string{"zone", c.Zone},
		[2]string{"key-file", c.CredentialsFile},
		[2]string{"image", c.Image},
	)
}

type AzureConfig struct {
	SubscriptionID string `yaml:"subscription-id"`
	TenantID       string `yaml:"tenant-id"`
	ClientID       string `yaml:"client-id"`
	ClientSecret   string `yaml:"client-secret"`
	ResourceGroup  string `yaml:"resource-group"`
	Location       string `yaml:"location"`
	Subnet         string `yaml:"subnet-id"`
	SecurityGroup  string `yaml:"security-group-id,omitempty"`
	Image          string `yaml:"image-id"`
	SSHPublicKey   string `yaml:"ssh-public-key"`
}

func (c *AzureConfig) validate() error {
	return required(
		[2]string{"subscription-id", c.SubscriptionID},
		[2]string{"tenant-id", c.TenantID},
		[2]string{"client-id", c.ClientID},
		[2]string{"client-secret", c.ClientSecret},
		[2]string{"resource-group", c.ResourceGroup},
		[2]string{"location", c.Location},
		[2]string{"subnet-id", c.Subnet},
		[2]string{"image-id", c.Image},
		[2]string{"ssh-public-key", c.SSHPublicKey},
	)
}

type OCIConfig struct {
	Tenancy            string `yaml:"tenancy"`
	User               string `yaml:"user"`
	Fingerprint        string `yaml:"fingerprint"`
	KeyFile            string `yaml:"api-key-file"`
	Passphrase         string `yaml:"api-key-passphrase,omitempty"`
	Region             string `yaml:"region"`
	Compartment        string `yaml:"compartment-id"`
	AvailabilityDomain string `yaml:"availability-domain"`
	Subnet             string `yaml:"subnet-id"`
	Image              string `yaml:"image-id"`
	SSHPublicKey       string `yaml:"ssh-public-key"`
}

func (c *OCIConfig) validate() error {
	return required(
		[2]string{"tenancy", c.Tenancy},
		[2]string{"user", c.User},
		[2]string{"fingerprint", c.Fingerprint},
		[2]string{"api-key-file", c.KeyFile},
		[2]string{"region", c.Region},
		[2]string{"compartment-id", c.Compartment},
		[2]string{"availability-domain", c.AvailabilityDomain},
		[2]string{"subnet-id", c.Subnet},
		[2]string{"image-id", c.Image},
	)
}

type SlurmConfig struct {
	Account      string `yaml:"account"`
	Partition    string `yaml:"partition,omitempty"`
	GPUPartition string `yaml:"gpu-partition,omitempty"`
}

func (c *SlurmConfig) validate() error {
	return required([2]string{"account", c.Account})
}

// OpenStackConfig holds placement settings. Credentials come from the
// standard OS_* environment variables.
type OpenStackConfig struct {
	Region         string   `yaml:"region,omitempty"`
	Image          string   `yaml:"image"`
	Networks       []string `yaml:"networks"`
	SecurityGroups []string `yaml:"security-groups,omitempty"`
	KeyName        string   `yaml:"key-name"`
}

func (c *OpenStackConfig) validate() error {
	if len(c.Networks) == 0 {
		return errors.New("missing 'networks'")
	}
	return required(
		[2]string{"image", c.Image},
		[2]string{"key-name", c.KeyName},
	)
}
