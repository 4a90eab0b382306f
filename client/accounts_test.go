package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testCatalog = `
slurm:
  currency: SU
  node-types:
    c16:
      name: caslake
      cores: 16
      memgb: 64
      price: 16
    g1:
      name: gpu
      cores: 8
      memgb: 32
      gpu: 1
      gpu-type: v100
      price: 40
`
	testAccount = `
cloud: slurm
description: Midway3 allocation
users:
  alice:
    budget: 1000
  bob:
    budget: 500
protected-nodes: [login]
slurm:
  account: pi-lab
  partition: caslake
`
)

func testRoot(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc", "accounts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc", "cloud.yaml"), []byte(testCatalog), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc", "accounts", "midway.yaml"), []byte(testAccount), 0o644))
	return root
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	skywayCmd.SetOut(&out)
	skywayCmd.SetErr(&out)
	skywayCmd.SetArgs(args)
	err := skywayCmd.Execute()
	return out.String(), err
}

func TestAccounts(t *testing.T) {
	root := testRoot(t)

	out, err := run(t, "accounts", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "midway")
	assert.Contains(t, out, "2 users")

	out, err = run(t, "accounts", "midway", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Backend:      slurm")
	assert.Contains(t, out, "Users:        alice, bob")
	assert.Contains(t, out, "Total budget: 1500.00")
	assert.Contains(t, out, "Protected:    login")
}

func TestTypesAndUsers(t *testing.T) {
	root := testRoot(t)

	out, err := run(t, "types", "--root", root, "--account", "midway")
	require.NoError(t, err)
	assert.Contains(t, out, "caslake")
	assert.Contains(t, out, "1 v100")
	assert.Contains(t, out, "40.000 SU")

	out, err = run(t, "users", "--root", root, "--account", "midway")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "1500.000 SU")
}

func TestUnknownAccount(t *testing.T) {
	root := testRoot(t)

	_, err := run(t, "types", "--root", root, "--account", "nope")
	assert.ErrorContains(t, err, "account does not exist")
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "$1.500", money("$", 1.5))
	assert.Equal(t, "16.000 SU", money("SU", 16))
}
