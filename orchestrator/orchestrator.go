// Package orchestrator services user requests end to end on one account:
// budget checks, node creation, job scripts, termination and accounting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/alessio/shellescape"
	"github.com/gammadia/skyway/account"
	"github.com/gammadia/skyway/budget"
	"github.com/gammadia/skyway/catalog"
	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/ledger"
	"github.com/gammadia/skyway/namegen"
	"github.com/gammadia/skyway/provisioner"
	"github.com/samber/lo"
)

const DefaultVisibleTimeout = 2 * time.Minute

var visiblePollInterval = 2 * time.Second

type Options struct {
	// Root holds etc/cloud.yaml, etc/accounts/ and var/.
	Root    string
	Account string
	User    string

	Policy   budget.Policy
	Prompter budget.Prompter
	Executor provisioner.Executor
	Logger   *slog.Logger

	ReadyTimeout     time.Duration
	TerminateTimeout time.Duration
	// VisibleTimeout bounds the wait for a created node to show in listings.
	VisibleTimeout time.Duration

	Factory Factory
	Hooks   HookRunner
}

type Orchestrator struct {
	account     *account.Account
	vendor      *catalog.Vendor
	ledger      *ledger.Ledger
	provisioner provisioner.Provisioner
	caller      provisioner.Caller
	hooks       HookRunner
	log         *slog.Logger

	visibleTimeout time.Duration
}

func New(ctx context.Context, opts Options) (*Orchestrator, error) {
	if opts.Root == "" {
		return nil, errdefs.Config("root", "missing skyway root")
	}
	log := lo.Ternary(opts.Logger != nil, opts.Logger, slog.New(slog.NewTextHandler(io.Discard, nil)))

	acct, err := account.Load(opts.Root, opts.Account)
	if err != nil {
		return nil, err
	}
	if !acct.HasUser(opts.User) {
		return nil, errdefs.UnknownUser(opts.User)
	}

	c, err := catalog.Load(catalog.PathFor(opts.Root))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConfig, "catalog", err)
	}
	vendor, err := c.Backend(string(acct.Backend))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConfig, acct.Name, err)
	}

	l, err := ledger.Open(ledger.Config{
		Path:    ledger.PathFor(opts.Root, acct.Name),
		Budgets: acct,
		Logger:  log.With("component", "ledger"),
	})
	if err != nil {
		return nil, err
	}

	factory := opts.Factory
	if factory == nil {
		factory = NewProvisioner
	}
	p, err := factory(ctx, provisioner.Config{
		Account:          acct,
		Vendor:           vendor,
		Ledger:           l,
		Policy:           opts.Policy,
		Prompter:         opts.Prompter,
		Executor:         opts.Executor,
		Logger:           log.With("component", "provisioner"),
		ReadyTimeout:     opts.ReadyTimeout,
		TerminateTimeout: opts.TerminateTimeout,
	})
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		account:        acct,
		vendor:         vendor,
		ledger:         l,
		provisioner:    p,
		caller:         provisioner.Caller{User: opts.User},
		hooks:          lo.Ternary[HookRunner](opts.Hooks != nil, opts.Hooks, ShellHook{Stdout: os.Stdout, Stderr: os.Stderr}),
		log:            log.With("component", "orchestrator", "account", acct.Name, "user", opts.User),
		visibleTimeout: lo.Ternary(opts.VisibleTimeout > 0, opts.VisibleTimeout, DefaultVisibleTimeout),
	}, nil
}

func (o *Orchestrator) Account() *account.Account {
	return o.account
}

func (o *Orchestrator) Vendor() *catalog.Vendor {
	return o.vendor
}

func (o *Orchestrator) Ledger() *ledger.Ledger {
	return o.ledger
}

func (o *Orchestrator) Provisioner() provisioner.Provisioner {
	return o.provisioner
}

func (o *Orchestrator) User() string {
	return o.caller.User
}

type SubmitRequest struct {
	JobName  string
	SKU      string
	Walltime time.Duration
	Count    int
	// Names overrides the names derived from JobName and Count.
	Names []string
	// JobScript is the path of a batch script run on each node once it is ready.
	JobScript string
	Image     string
	Confirm   bool
}

type SubmitResult struct {
	Nodes map[string]provisioner.ProvisionResult
	// Output holds what the job script printed, per node.
	Output map[string]string
}

// Submit creates the nodes of a run and, with a job script, runs its
// pre-execute hook locally then its commands on every node. Script values
// only fill the request fields left empty.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	var script *JobScript
	if req.JobScript != "" {
		s, err := LoadJobScript(req.JobScript)
		if err != nil {
			return SubmitResult{}, err
		}
		script = &s

		if req.JobName == "" && s.JobName != DefaultJobName {
			req.JobName = s.JobName
		}
		req.SKU = lo.Ternary(req.SKU != "", req.SKU, s.Constraint)
		req.Walltime = lo.Ternary(req.Walltime > 0, req.Walltime, s.Walltime)
		if s.Account != "" && s.Account != o.account.Name {
			o.log.Warn("Job script names another account, ignoring it", "script_account", s.Account)
		}
	}

	if req.SKU == "" {
		return SubmitResult{}, errdefs.InvalidArgument("no node type given")
	}
	names := o.nodeNames(req)

	results, err := o.provisioner.CreateNodes(ctx, o.caller, provisioner.CreateRequest{
		SKU:      req.SKU,
		Names:    names,
		Walltime: req.Walltime,
		Confirm:  req.Confirm,
		Image:    req.Image,
	})
	result := SubmitResult{Nodes: results, Output: map[string]string{}}
	if err != nil {
		return result, err
	}
	if script == nil {
		return result, nil
	}

	var errs []error
	for _, name := range names {
		if r := results[name]; r.Err != nil || r.Status != provisioner.NodeStatusRunning {
			continue
		}

		output, err := o.runScript(ctx, name, *script)
		result.Output[name] = output
		if err != nil {
			o.log.Error("Job script failed", "node", name, "error", err)
			errs = append(errs, fmt.Errorf("node '%s': %w", name, err))
		}
	}
	return result, errors.Join(errs...)
}

func (o *Orchestrator) nodeNames(req SubmitRequest) []string {
	if len(req.Names) > 0 {
		return req.Names
	}

	name := lo.Ternary(req.JobName != "", req.JobName, DefaultJobName)
	if req.Count <= 1 {
		return []string{name}
	}
	return namegen.Names(name, req.Count)
}

func (o *Orchestrator) runScript(ctx context.Context, name string, script JobScript) (string, error) {
	id, err := o.waitVisible(ctx, name)
	if err != nil {
		return "", err
	}

	if script.Hook != "" {
		hook := fmt.Sprintf("%s --account=%s -J%s", script.Hook, shellescape.Quote(o.account.Name), shellescape.Quote(name))
		o.log.Info("Running pre-execute hook", "node", name, "hook", hook)
		if err := o.hooks.Run(ctx, hook); err != nil {
			return "", fmt.Errorf("pre-execute hook failed: %w", err)
		}
	}

	if len(script.Commands) == 0 {
		return "", nil
	}
	o.log.Info("Running job script", "node", name, "id", id)
	return o.provisioner.Execute(ctx, id, script.Command())
}

// waitVisible polls until a node appears under its name in listings, which
// some backends lag behind creation.
func (o *Orchestrator) waitVisible(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.visibleTimeout)
	defer cancel()

	ticker := time.NewTicker(visiblePollInterval)
	defer ticker.Stop()

	for {
		id, err := o.provisioner.InstanceID(ctx, name)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, errdefs.ErrNotFound) {
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("node '%s' not visible after %s: %w", name, o.visibleTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Connect returns how to reach the node called name.
func (o *Orchestrator) Connect(ctx context.Context, name string) (provisioner.ConnectionInfo, error) {
	id, err := o.provisioner.InstanceID(ctx, name)
	if err != nil {
		return provisioner.ConnectionInfo{}, err
	}
	return o.provisioner.ConnectNode(ctx, id)
}

type TerminateRequest struct {
	Names   []string
	IDs     []string
	Confirm bool
}

func (o *Orchestrator) Terminate(ctx context.Context, req TerminateRequest) ([]provisioner.DestroyResult, error) {
	return o.provisioner.DestroyNodes(ctx, o.caller, provisioner.DestroyRequest{
		Names:   req.Names,
		IDs:     req.IDs,
		Confirm: req.Confirm,
	})
}

// EstimateCost prices a walltime in whole hours, the partial hour is free.
func (o *Orchestrator) EstimateCost(sku string, walltime time.Duration) (float64, error) {
	price, err := o.provisioner.UnitPrice(sku)
	if err != nil {
		return 0, err
	}
	return math.Floor(walltime.Hours()) * price, nil
}

type Balance struct {
	User     string  `json:"user"`
	Budget   float64 `json:"budget"`
	Spent    float64 `json:"spent"`
	Running  float64 `json:"running"`
	Currency string  `json:"currency"`
}

// Remaining is the budget left once recorded usage is paid.
func (b Balance) Remaining() float64 {
	return b.Budget - b.Spent
}

// Available also accounts for the nodes still running.
func (b Balance) Available() float64 {
	return b.Remaining() - b.Running
}

func (o *Orchestrator) Balance(ctx context.Context) (Balance, error) {
	b := Balance{User: o.caller.User, Currency: o.vendor.CurrencySymbol()}

	var err error
	if b.Budget, err = o.account.Budget(o.caller.User); err != nil {
		return b, err
	}
	if b.Spent, err = o.ledger.AccumulatedCost(ctx, o.caller.User); err != nil {
		return b, err
	}
	if b.Running, err = o.provisioner.RunningCost(ctx, o.caller); err != nil {
		return b, err
	}
	return b, nil
}

func (o *Orchestrator) ListNodes(ctx context.Context, includeProtected bool) ([]provisioner.NodeSummary, error) {
	return o.provisioner.ListNodes(ctx, o.caller, provisioner.ListOptions{IncludeProtected: includeProtected})
}

func (o *Orchestrator) History(ctx context.Context) ([]ledger.HistoryEntry, error) {
	return o.ledger.History(ctx, o.caller.User)
}
