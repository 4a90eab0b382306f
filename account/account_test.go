package account

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gammadia/skyway/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const awsAccount = `
cloud: aws
users:
  alice: {budget: 100}
  bob: {budget: 50.5}
protected-nodes: [login-node]
ssh-private-key: rcc-aws.pem
aws:
  access-key-id: AKIA
  secret-access-key: secret
  region: us-east-2
  ami-id: ami-123
  key-name: rcc-aws
  security-groups: [sg-1]
`

func writeAccount(t *testing.T, root, name, doc string) {
	t.Helper()
	dir := Dir(root)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(doc), 0o644))
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	writeAccount(t, root, "rcc-aws", awsAccount)

	a, err := Load(root, "rcc-aws")
	require.NoError(t, err)

	assert.Equal(t, "rcc-aws", a.Name)
	assert.Equal(t, BackendAWS, a.Backend)
	assert.Equal(t, []string{"alice", "bob"}, a.UserNames())
	assert.InDelta(t, 150.5, a.TotalBudget(), 1e-9)
	assert.True(t, a.IsProtected("login-node"))
	assert.False(t, a.IsProtected("alice-run"))
	assert.Equal(t, filepath.Join(Dir(root), "rcc-aws.pem"), a.SSHPrivateKey)
	require.NotNil(t, a.AWS)
	assert.Equal(t, "us-east-2", a.AWS.Region)
}

func TestBudget(t *testing.T) {
	a, err := Parse("rcc-aws", strings.NewReader(awsAccount))
	require.NoError(t, err)

	budget, err := a.Budget("bob")
	require.NoError(t, err)
	assert.InDelta(t, 50.5, budget, 1e-9)

	_, err = a.Budget("mallory")
	assert.ErrorIs(t, err, errdefs.ErrUnknownUser)
	assert.True(t, a.HasUser("alice"))
	assert.False(t, a.HasUser("mallory"))
}

func TestLoadMissingAccount(t *testing.T) {
	_, err := Load(t.TempDir(), "nope")
	assert.ErrorIs(t, err, errdefs.ErrConfig)

	_, err = Load(t.TempDir(), "../etc")
	assert.ErrorIs(t, err, errdefs.ErrConfig)
}

func TestValidate(t *testing.T) {
	testCases := map[string]string{
		"unknown backend": "cloud: ibm\nusers: {alice: {budget: 1}}\n",
		"no users":        "cloud: slurm\nslurm: {account: pi-alice}\n",
		"negative budget": "cloud: slurm\nusers: {alice: {budget: -1}}\nslurm: {account: pi-alice}\n",
		"missing section": "cloud: slurm\nusers: {alice: {budget: 1}}\n",
		"two sections":    "cloud: slurm\nusers: {alice: {budget: 1}}\nslurm: {account: a}\nopenstack: {image: i, key-name: k, networks: [n]}\n",
		"missing field":   "cloud: slurm\nusers: {alice: {budget: 1}}\nslurm: {partition: caslake}\n",
		"unknown field":   "cloud: slurm\nusers: {alice: {budget: 1}}\nslurm: {account: a}\ncolor: red\n",
		"no networks":     "cloud: openstack\nusers: {alice: {budget: 1}}\nopenstack: {image: i, key-name: k}\n",
		"incomplete aws":  "cloud: aws\nusers: {alice: {budget: 1}}\naws: {region: us-east-1}\n",
		"malformed":       "cloud: [aws\n",
	}

	for name, doc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse("test", strings.NewReader(doc))
			assert.ErrorIs(t, err, errdefs.ErrConfig)
		})
	}
}

func TestList(t *testing.T) {
	root := t.TempDir()
	writeAccount(t, root, "rcc-aws", awsAccount)
	writeAccount(t, root, "midway", "cloud: slurm\nusers: {alice: {budget: 1}}\nslurm: {account: pi-alice}\n")
	require.NoError(t, os.WriteFile(filepath.Join(Dir(root), "notes.txt"), nil, 0o644))

	names, err := List(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"midway", "rcc-aws"}, names)
}

func TestBackend(t *testing.T) {
	assert.True(t, BackendOCI.Valid())
	assert.False(t, Backend("ibm").Valid())
	assert.True(t, BackendSlurm.OnPremises())
	assert.False(t, BackendAWS.OnPremises())
}
