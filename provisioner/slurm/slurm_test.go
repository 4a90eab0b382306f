package slurm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gammadia/skyway/account"
	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/provisioner"
	"github.com/gammadia/skyway/provisioner/internal/testenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `
slurm:
  currency: SU
  node-types:
    c1:
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

// fakeCluster keeps a job table and answers squeue, salloc and scancel.
type fakeCluster struct {
	mutex    sync.Mutex
	jobs     []string
	calls    [][]string
	nextID   int
	sallocFn func(args []string) (string, string, error)
}

func (f *fakeCluster) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.calls = append(f.calls, append([]string{name}, args...))

	switch name {
	case "squeue":
		if args[1] == "-j" {
			for _, job := range f.jobs {
				if strings.HasPrefix(job, args[2]+"|") {
					return job + "\n", "", nil
				}
			}
			return "", "slurm_load_jobs error: Invalid job id specified", &CommandError{Argv: []string{"squeue"}, Stderr: "slurm_load_jobs error: Invalid job id specified", Err: errors.New("exit status 1")}
		}
		return strings.Join(f.jobs, "\n") + "\n", "", nil

	case "salloc":
		if f.sallocFn != nil {
			return f.sallocFn(args)
		}
		f.nextID++
		id := fmt.Sprintf("%d", 4000+f.nextID)
		name, comment := flag(args, "--job-name"), flag(args, "--comment")
		f.jobs = append(f.jobs, fmt.Sprintf("%s|R|%s|pi-lab|midway3-%04d|0:05|2024-03-01T12:00:00|%s|alice", id, name, f.nextID, comment))
		return "", fmt.Sprintf("salloc: Pending job allocation %s\nsalloc: job %s queued and waiting for resources\nsalloc: Granted job allocation %s\n", id, id, id), nil

	case "scancel":
		for i, job := range f.jobs {
			if strings.HasPrefix(job, args[0]+"|") {
				f.jobs = append(f.jobs[:i], f.jobs[i+1:]...)
				return "", "", nil
			}
		}
		return "", "scancel: error: Invalid job id specified", &CommandError{Argv: []string{"scancel"}, Stderr: "scancel: error: Invalid job id specified", Err: errors.New("exit status 1")}
	}
	return "", "", fmt.Errorf("unexpected command %s", name)
}

func (f *fakeCluster) commands(name string) [][]string {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	var found [][]string
	for _, call := range f.calls {
		if call[0] == name {
			found = append(found, call)
		}
	}
	return found
}

func flag(args []string, name string) string {
	for _, arg := range args {
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			return v
		}
	}
	return ""
}

func newTestProvisioner(t *testing.T) (*Provisioner, *fakeCluster, *testenv.Env) {
	t.Helper()
	pollInterval = time.Millisecond

	env := testenv.New(t, &account.Account{
		Backend: account.BackendSlurm,
		Slurm:   &account.SlurmConfig{Account: "pi-lab", Partition: "caslake", GPUPartition: "gpu"},
	}, testCatalog)
	env.Config.ReadyTimeout = 90 * time.Second

	cluster := &fakeCluster{}
	p, err := NewWithRunner(cluster, env.Config)
	require.NoError(t, err)
	return p, cluster, env
}

func TestCreateNodes(t *testing.T) {
	p, cluster, env := newTestProvisioner(t)

	results, err := p.CreateNodes(context.Background(), provisioner.Caller{User: "alice"}, provisioner.CreateRequest{SKU: "g1", Names: []string{"train"}, Walltime: 90 * time.Minute})
	require.NoError(t, err)

	r := results["train"]
	require.NoError(t, r.Err)
	assert.Equal(t, "4001", r.ID)
	assert.Equal(t, "midway3-0001", r.Endpoint)
	assert.True(t, r.ShutdownScheduled)
	assert.Empty(t, env.Executor.Commands())

	salloc := cluster.commands("salloc")
	require.Len(t, salloc, 1)
	assert.Equal(t, []string{
		"salloc",
		"--no-shell",
		"--account=pi-lab",
		"--job-name=train",
		"--nodes=1",
		"--ntasks-per-node=8",
		"--time=01:30:00",
		"--comment=g1",
		"--immediate=90",
		"--mem=32G",
		"--gres=gpu:v100:1",
		"--partition=gpu",
	}, salloc[0])
}

func TestCreateRejected(t *testing.T) {
	p, cluster, _ := newTestProvisioner(t)
	cluster.sallocFn = func(args []string) (string, string, error) {
		stderr := "salloc: error: Job submit/allocate failed: Invalid account or account/partition combination specified"
		return "", stderr, &CommandError{Argv: []string{"salloc"}, Stderr: stderr, Err: errors.New("exit status 1")}
	}

	results, err := p.CreateNodes(context.Background(), provisioner.Caller{User: "alice"}, provisioner.CreateRequest{SKU: "c1", Names: []string{"n"}})
	assert.ErrorIs(t, err, provisioner.ErrConfig)
	assert.Equal(t, provisioner.NodeStatusProvisionFailed, results["n"].Status)
}

func TestListAndDestroy(t *testing.T) {
	p, cluster, env := newTestProvisioner(t)
	cluster.jobs = []string{
		"4100|R|work|pi-lab|midway3-0042|1:30:00|2024-03-01T10:00:00|c1|alice",
		"4101|PD|queued|pi-lab||0:00|2024-03-01T11:00:00|c1|alice",
		"4102|R|other|pi-lab|midway3-0043|10:00|2024-03-01T11:50:00|c1|bob",
	}
	ctx := context.Background()
	alice := provisioner.Caller{User: "alice"}

	nodes, err := p.ListNodes(ctx, alice, provisioner.ListOptions{OnlyMine: true})
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	work := nodes[1]
	assert.Equal(t, "work", work.Name)
	assert.Equal(t, "c1", work.SKU)
	assert.Equal(t, 90*time.Minute, work.Elapsed)
	assert.InDelta(t, 24.0, work.Cost, 1e-9)
	assert.Equal(t, "midway3-0042", work.Endpoint)

	queued := nodes[0]
	assert.Equal(t, provisioner.NodeStatusProvisioning, queued.Status)
	assert.Empty(t, queued.Endpoint)
	assert.Zero(t, queued.Cost)

	conn, err := p.ConnectNode(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, "midway3-0042", conn.Login)

	results, err := p.DestroyNodes(ctx, alice, provisioner.DestroyRequest{IDs: []string{"4100", "4102"}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, provisioner.OutcomeTerminated, results[0].Outcome)
	require.NotNil(t, results[0].Record)
	assert.Equal(t, "c1", results[0].Record.InstanceType)
	assert.InDelta(t, 24.0, results[0].Record.Cost, 1e-9)
	assert.Equal(t, provisioner.OutcomeNotOwner, results[1].Outcome)

	assert.Equal(t, [][]string{{"scancel", "4100"}}, cluster.commands("scancel"))

	spent, err := env.Ledger.AccumulatedCost(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 24.0, spent, 1e-9)
}

func TestParseQueue(t *testing.T) {
	jobs := parseQueue("17|CG|done|pi-lab|midway3-0001|1-02:03:04|2024-03-01T12:00:00|(null)|carol\ngarbage line\n\n")
	require.Len(t, jobs, 1)

	job := jobs[0]
	assert.Equal(t, "17", job.ID)
	assert.Equal(t, provisioner.NodeStatusTerminationRequested, job.Status)
	assert.Equal(t, 26*time.Hour+3*time.Minute+4*time.Second, job.Elapsed)
	assert.Empty(t, job.SKU)
	assert.Equal(t, "carol", job.Owner)
	assert.True(t, job.LaunchedAt.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)))
}

func TestParseElapsed(t *testing.T) {
	tests := map[string]time.Duration{
		"0:00":       0,
		"5:07":       5*time.Minute + 7*time.Second,
		"12:00:01":   12*time.Hour + time.Second,
		"2-00:00:00": 48 * time.Hour,
	}
	for in, want := range tests {
		got, err := parseElapsed(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "INVALID", "1:2:3:4", "x-01:00"} {
		_, err := parseElapsed(in)
		assert.Error(t, err, in)
	}
}

func TestTranslate(t *testing.T) {
	notFound := &CommandError{Stderr: "Invalid job id specified", Err: errors.New("exit status 1")}
	assert.ErrorIs(t, translate("1", notFound), errdefs.ErrNotFound)

	limit := &CommandError{Stderr: "salloc: error: Job violates accounting/QOS policy (job submit limit, user's size and/or time limits)", Err: errors.New("exit status 1")}
	assert.ErrorIs(t, translate("1", limit), errdefs.ErrProvision)

	assert.ErrorContains(t, limit, "salloc: error")
	assert.NoError(t, translate("1", nil))
}
