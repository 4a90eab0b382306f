// Package account loads and validates the per-account configuration found
// under <root>/etc/accounts/<name>.yaml.
package account

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gammadia/skyway/errdefs"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

type Backend string

const (
	BackendAWS       Backend = "aws"
	BackendGCP       Backend = "gcp"
	BackendAzure     Backend = "azure"
	BackendOCI       Backend = "oci"
	BackendSlurm     Backend = "slurm"
	BackendOpenStack Backend = "openstack"
)

var Backends = []Backend{BackendAWS, BackendGCP, BackendAzure, BackendOCI, BackendSlurm, BackendOpenStack}

func (b Backend) Valid() bool {
	return lo.Contains(Backends, b)
}

// OnPremises reports whether the backend is a local batch scheduler rather than a cloud.
func (b Backend) OnPremises() bool {
	return b == BackendSlurm
}

type User struct {
	Budget float64 `yaml:"budget"`
}

type Account struct {
	Name           string          `yaml:"-"`
	Backend        Backend         `yaml:"cloud"`
	Description    string          `yaml:"description,omitempty"`
	Users          map[string]User `yaml:"users"`
	ProtectedNodes []string        `yaml:"protected-nodes,omitempty"`
	SSHPrivateKey  string          `yaml:"ssh-private-key,omitempty"`
	SSHUsername    string          `yaml:"ssh-username,omitempty"`

	AWS       *AWSConfig       `yaml:"aws,omitempty"`
	GCP       *GCPConfig       `yaml:"gcp,omitempty"`
	Azure     *AzureConfig     `yaml:"azure,omitempty"`
	OCI       *OCIConfig       `yaml:"oci,omitempty"`
	Slurm     *SlurmConfig     `yaml:"slurm,omitempty"`
	OpenStack *OpenStackConfig `yaml:"openstack,omitempty"`
}

// Dir returns the accounts directory below a skyway root.
func Dir(root string) string {
	return filepath.Join(root, "etc", "accounts")
}

// List returns the names of every account defined below root, sorted.
func List(root string) ([]string, error) {
	entries, err := os.ReadDir(Dir(root))
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(entry.Name(), ".yaml"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Load reads and validates the named account. Relative key paths are resolved
// against the accounts directory.
func Load(root, name string) (*Account, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, errdefs.Config(name, "invalid account name")
	}

	dir := Dir(root)
	data, err := os.ReadFile(filepath.Join(dir, name+".yaml"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errdefs.Config(name, "account does not exist")
	} else if err != nil {
		return nil, errdefs.Config(name, "failed to read account: %w", err)
	}

	a, err := Parse(name, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	a.resolvePaths(dir)
	return a, nil
}

func Parse(name string, r io.Reader) (*Account, error) {
	a := &Account{}

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(a); err != nil {
		return nil, errdefs.Config(name, "failed to parse account: %w", err)
	}

	a.Name = name
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Account) Validate() error {
	if !a.Backend.Valid() {
		return errdefs.Config(a.Name, "unknown backend '%s'", a.Backend)
	}
	if len(a.Users) == 0 {
		return errdefs.Config(a.Name, "no users defined")
	}
	for name, user := range a.Users {
		if user.Budget < 0 {
			return errdefs.Config(a.Name, "user '%s' has a negative budget", name)
		}
	}

	sections := map[Backend]validator{}
	if a.AWS != nil {
		sections[BackendAWS] = a.AWS
	}
	if a.GCP != nil {
		sections[BackendGCP] = a.GCP
	}
	if a.Azure != nil {
		sections[BackendAzure] = a.Azure
	}
	if a.OCI != nil {
		sections[BackendOCI] = a.OCI
	}
	if a.Slurm != nil {
		sections[BackendSlurm] = a.Slurm
	}
	if a.OpenStack != nil {
		sections[BackendOpenStack] = a.OpenStack
	}

	section, ok := sections[a.Backend]
	if !ok {
		return errdefs.Config(a.Name, "missing '%s' section", a.Backend)
	}
	if len(sections) > 1 {
		others := lo.Without(lo.Keys(sections), a.Backend)
		return errdefs.Config(a.Name, "unexpected backend sections %v for a '%s' account", others, a.Backend)
	}

	if err := section.validate(); err != nil {
		return errdefs.Config(a.Name, "%s: %w", a.Backend, err)
	}
	return nil
}

func (a *Account) resolvePaths(dir string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) && !strings.HasPrefix(*p, "~") {
			*p = filepath.Join(dir, *p)
		}
	}

	resolve(&a.SSHPrivateKey)
	if a.GCP != nil {
		resolve(&a.GCP.CredentialsFile)
	}
	if a.OCI != nil {
		resolve(&a.OCI.KeyFile)
	}
}

func (a *Account) HasUser(name string) bool {
	_, ok := a.Users[name]
	return ok
}

// Budget returns the budget allotted to user.
func (a *Account) Budget(user string) (float64, error) {
	u, ok := a.Users[user]
	if !ok {
		return 0, errdefs.UnknownUser(user)
	}
	return u.Budget, nil
}

func (a *Account) TotalBudget() float64 {
	return lo.SumBy(lo.Values(a.Users), func(u User) float64 { return u.Budget })
}

func (a *Account) UserNames() []string {
	names := lo.Keys(a.Users)
	sort.Strings(names)
	return names
}

func (a *Account) IsProtected(node string) bool {
	return lo.Contains(a.ProtectedNodes, node)
}
