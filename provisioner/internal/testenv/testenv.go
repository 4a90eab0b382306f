// Package testenv assembles the account, catalog and ledger a backend
// provisioner needs in tests.
package testenv

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gammadia/skyway/account"
	"github.com/gammadia/skyway/budget"
	"github.com/gammadia/skyway/catalog"
	"github.com/gammadia/skyway/ledger"
	"github.com/gammadia/skyway/provisioner"
	"github.com/gammadia/skyway/provisioner/fake"
	"github.com/stretchr/testify/require"
)

// Now is the clock of every environment, two hours after Launched.
var (
	Launched = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	Now      = Launched.Add(2 * time.Hour)
)

type Env struct {
	Config   provisioner.Config
	Account  *account.Account
	Ledger   *ledger.Ledger
	Executor *fake.Executor
	Prompter *budget.StaticPrompter
}

// New builds an environment for acct, using the catalog entry of its backend.
func New(t *testing.T, acct *account.Account, catalogYAML string) *Env {
	t.Helper()

	c, err := catalog.Parse(strings.NewReader(catalogYAML))
	require.NoError(t, err)
	vendor, err := c.Backend(string(acct.Backend))
	require.NoError(t, err)

	if acct.Name == "" {
		acct.Name = "lab"
	}
	if acct.Users == nil {
		acct.Users = map[string]account.User{"alice": {Budget: 100}, "bob": {Budget: 100}}
	}
	if acct.SSHPrivateKey == "" {
		acct.SSHPrivateKey = "/keys/lab.pem"
	}

	l, err := ledger.Open(ledger.Config{Path: filepath.Join(t.TempDir(), "usage-"+acct.Name+".csv"), Budgets: acct})
	require.NoError(t, err)

	env := &Env{
		Account:  acct,
		Ledger:   l,
		Executor: &fake.Executor{},
		Prompter: &budget.StaticPrompter{Answer: true},
	}
	env.Config = provisioner.Config{
		Account:          acct,
		Vendor:           vendor,
		Ledger:           l,
		Prompter:         env.Prompter,
		Executor:         env.Executor,
		ReadyTimeout:     5 * time.Second,
		TerminateTimeout: 5 * time.Second,
		Now:              func() time.Time { return Now },
	}
	return env
}
