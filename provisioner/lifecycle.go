package provisioner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/alessio/shellescape"
	"github.com/gammadia/skyway/account"
	"github.com/gammadia/skyway/budget"
	"github.com/gammadia/skyway/catalog"
	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/ledger"
	"github.com/gammadia/skyway/provisioner/internal"
	"github.com/samber/lo"
)

const (
	DefaultReadyTimeout     = 10 * time.Minute
	DefaultTerminateTimeout = 5 * time.Minute
	cleanupTimeout          = 2 * time.Minute
)

// Ledger is the part of the cost ledger a Lifecycle writes to.
type Ledger interface {
	Append(ctx context.Context, r ledger.Record) (ledger.Record, error)
	AccumulatedCost(ctx context.Context, user string) (float64, error)
}

type Config struct {
	Account  *account.Account
	Vendor   *catalog.Vendor
	Ledger   Ledger
	Policy   budget.Policy
	Prompter budget.Prompter
	Executor Executor
	Logger   *slog.Logger

	ReadyTimeout     time.Duration
	TerminateTimeout time.Duration
	DefaultWalltime  time.Duration

	Now func() time.Time
}

// Lifecycle implements Provisioner over a Driver. Backend packages embed it.
type Lifecycle struct {
	driver   Driver
	account  *account.Account
	vendor   *catalog.Vendor
	ledger   Ledger
	gate     *budget.Gate
	prompter budget.Prompter
	executor Executor
	log      *slog.Logger

	readyTimeout     time.Duration
	terminateTimeout time.Duration
	defaultWalltime  time.Duration
	now              func() time.Time
}

// Lifecycle implements Provisioner
var _ Provisioner = (*Lifecycle)(nil)

func NewLifecycle(driver Driver, config Config) (*Lifecycle, error) {
	if driver == nil {
		return nil, errdefs.Config("provisioner", "missing driver")
	}
	if config.Account == nil || config.Vendor == nil || config.Ledger == nil {
		return nil, errdefs.Config("provisioner", "account, vendor and ledger are required")
	}

	l := &Lifecycle{
		driver:           driver,
		account:          config.Account,
		vendor:           config.Vendor,
		ledger:           config.Ledger,
		prompter:         config.Prompter,
		executor:         config.Executor,
		log:              config.Logger,
		readyTimeout:     lo.Ternary(config.ReadyTimeout > 0, config.ReadyTimeout, DefaultReadyTimeout),
		terminateTimeout: lo.Ternary(config.TerminateTimeout > 0, config.TerminateTimeout, DefaultTerminateTimeout),
		defaultWalltime:  lo.Ternary(config.DefaultWalltime > 0, config.DefaultWalltime, DefaultWalltime),
		now:              config.Now,
	}
	if l.prompter == nil {
		l.prompter = budget.NewTerminalPrompter()
	}
	if l.executor == nil {
		l.executor = NewSSHExecutor()
	}
	if l.log == nil {
		l.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	l.log = l.log.With("account", config.Account.Name, "backend", config.Account.Backend)
	if l.now == nil {
		l.now = time.Now
	}

	gate, err := budget.NewGate(budget.Config{
		Budgets:  config.Account,
		Spending: config.Ledger,
		Prices:   config.Vendor,
		RunningCost: func(ctx context.Context, user string) (float64, error) {
			return l.RunningCost(ctx, Caller{User: user})
		},
		Prompter: l.prompter,
		Policy:   config.Policy,
		Currency: config.Vendor.CurrencySymbol(),
		Logger:   l.log,
	})
	if err != nil {
		return nil, err
	}
	l.gate = gate

	return l, nil
}

func (l *Lifecycle) Account() *account.Account {
	return l.account
}

func (l *Lifecycle) Vendor() *catalog.Vendor {
	return l.vendor
}

func (l *Lifecycle) Gate() *budget.Gate {
	return l.gate
}

func (l *Lifecycle) NodeTypes() []catalog.NodeType {
	return l.vendor.Types()
}

func (l *Lifecycle) UnitPrice(sku string) (float64, error) {
	price, err := l.vendor.UnitPrice(sku)
	return price, errdefs.Wrap(ErrConfig, sku, err)
}

func (l *Lifecycle) ListNodes(ctx context.Context, caller Caller, opts ListOptions) ([]NodeSummary, error) {
	instances, err := l.driver.Instances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	now := l.now()
	nodes := []NodeSummary{}
	for _, inst := range instances {
		switch {
		case inst.Status.Terminal():
		case !opts.IncludeProtected && l.account.IsProtected(inst.Name):
		case opts.RunningOnly && inst.Status != NodeStatusRunning:
		case opts.OnlyMine && inst.Owner != caller.User:
		default:
			nodes = append(nodes, l.summarize(inst, now))
		}
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Name < nodes[j].Name
	})
	return nodes, nil
}

// RunningCost sums the cost so far of the caller's unprotected nodes that
// have not been destroyed yet. Stopped nodes count, they are billed on destroy.
// An empty caller sums over the whole account.
func (l *Lifecycle) RunningCost(ctx context.Context, caller Caller) (float64, error) {
	nodes, err := l.ListNodes(ctx, caller, ListOptions{OnlyMine: caller.User != ""})
	if err != nil {
		return 0, err
	}
	return lo.SumBy(nodes, func(n NodeSummary) float64 { return n.Cost }), nil
}

func (l *Lifecycle) CreateNodes(ctx context.Context, caller Caller, req CreateRequest) (map[string]ProvisionResult, error) {
	if !l.account.HasUser(caller.User) {
		return nil, errdefs.UnknownUser(caller.User)
	}
	if err := l.validateNames(req.Names); err != nil {
		return nil, err
	}
	nodeType, err := l.vendor.Lookup(req.SKU)
	if err != nil {
		return nil, errdefs.Wrap(ErrConfig, req.SKU, err)
	}
	walltime := lo.Ternary(req.Walltime > 0, req.Walltime, l.defaultWalltime)

	instances, err := l.driver.Instances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	for _, inst := range instances {
		if !inst.Status.Terminal() && lo.Contains(req.Names, inst.Name) {
			return nil, errdefs.InvalidArgument("a node named '%s' already exists (%s)", inst.Name, inst.ID)
		}
	}

	decision, err := l.gate.Check(ctx, budget.Request{
		User:           caller.User,
		SKU:            req.SKU,
		EstimatedHours: walltime.Hours() * float64(len(req.Names)),
		Interactive:    req.Confirm,
	})
	if err != nil {
		return nil, err
	}
	if !decision.Allow {
		return nil, decision.Err()
	}

	results := map[string]ProvisionResult{}
	var launched []Instance

	for _, name := range req.Names {
		result := ProvisionResult{Name: name, SKU: nodeType.Name, InstanceType: nodeType.InstanceType, Status: NodeStatusRequested}

		inst, err := l.driver.Launch(ctx, LaunchSpec{
			Name:     name,
			Owner:    caller.User,
			NodeType: nodeType,
			Walltime: walltime,
			Image:    req.Image,
		})
		if err != nil {
			l.log.Error("Failed to launch node", "node", name, "sku", nodeType.Name, "error", err)
			result.Status, result.Err = NodeStatusProvisionFailed, errdefs.Wrap(ErrProvision, name, err)
			results[name] = result
			continue
		}

		l.log.Info("Launched node, waiting for it to become ready", "node", name, "id", inst.ID, "sku", nodeType.Name, "user", caller.User)
		result.ID, result.Status = inst.ID, NodeStatusProvisioning
		results[name] = result
		launched = append(launched, inst)
	}

	readyCtx, cancel := context.WithTimeout(ctx, l.readyTimeout)
	defer cancel()

	for _, inst := range launched {
		result := results[inst.Name]

		ready, err := l.driver.WaitReady(readyCtx, inst.ID)
		if err != nil {
			l.log.Error("Node failed to become ready", "node", inst.Name, "id", inst.ID, "wait", l.readyTimeout, "error", err)
			result.Status = NodeStatusProvisionFailed
			result.Err = errdefs.Wrap(ErrProvision, inst.Name, fmt.Errorf("not ready after %s: %w", l.readyTimeout, err))
			results[inst.Name] = result
			l.abandon(ctx, inst)
			continue
		}

		result.Status = NodeStatusRunning
		result.LaunchedAt = ready.LaunchedAt
		result.Endpoint = ready.Endpoint

		if err := l.scheduleShutdown(ctx, ready, walltime); err != nil {
			l.log.Error("Failed to schedule node shutdown, node will run until destroyed", "node", inst.Name, "id", inst.ID, "error", err)
		} else {
			result.ShutdownScheduled = true
		}
		results[inst.Name] = result
	}

	failures := lo.FilterMap(lo.Values(results), func(r ProvisionResult, _ int) (error, bool) {
		return r.Err, r.Err != nil
	})
	if len(failures) == len(req.Names) {
		return results, errors.Join(failures...)
	}
	return results, nil
}

func (l *Lifecycle) validateNames(names []string) error {
	if len(names) == 0 {
		return errdefs.InvalidArgument("no node names given")
	}
	seen := map[string]bool{}
	for _, name := range names {
		switch {
		case name == "":
			return errdefs.InvalidArgument("empty node name")
		case seen[name]:
			return errdefs.InvalidArgument("duplicate node name '%s'", name)
		case l.account.IsProtected(name):
			return errdefs.InvalidArgument("node name '%s' is reserved", name)
		}
		seen[name] = true
	}
	return nil
}

// Logger is the lifecycle's logger, tagged with the account and backend.
func (l *Lifecycle) Logger() *slog.Logger {
	return l.log
}

// abandon terminates a node that never became ready, so it cannot run unbilled.
func (l *Lifecycle) abandon(ctx context.Context, inst Instance) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := l.driver.Terminate(ctx, inst.ID); err != nil {
		l.log.Error("Failed to terminate node after failed provisioning", "node", inst.Name, "id", inst.ID, "error", err)
	}
}

func (l *Lifecycle) scheduleShutdown(ctx context.Context, inst Instance, walltime time.Duration) error {
	if scheduler, ok := l.driver.(ShutdownScheduler); ok {
		return scheduler.ScheduleShutdown(ctx, inst, walltime)
	}

	_, err := l.executor.Run(ctx, l.driver.Connection(inst), internal.ShutdownCommand(walltime))
	return err
}

func (l *Lifecycle) DestroyNodes(ctx context.Context, caller Caller, req DestroyRequest) ([]DestroyResult, error) {
	if (len(req.Names) == 0) == (len(req.IDs) == 0) {
		return nil, errdefs.InvalidArgument("exactly one of node names or node ids must be given")
	}

	instances, err := l.driver.Instances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	live := lo.Filter(instances, func(inst Instance, _ int) bool { return !inst.Status.Terminal() })

	var results []DestroyResult
	var targets []Instance
	var keys []string

	resolve := func(key string, matches []Instance) {
		if len(matches) == 0 {
			results = append(results, DestroyResult{Target: key, Outcome: OutcomeNotFound, Err: errdefs.NotFound(key)})
			return
		}
		for _, inst := range matches {
			if l.account.IsProtected(inst.Name) {
				l.log.Debug("Skipping protected node", "node", inst.Name, "id", inst.ID)
				results = append(results, DestroyResult{Target: key, Name: inst.Name, ID: inst.ID, Outcome: OutcomeProtected})
				continue
			}
			targets, keys = append(targets, inst), append(keys, key)
		}
	}

	for _, name := range lo.Uniq(req.Names) {
		resolve(name, lo.Filter(live, func(inst Instance, _ int) bool { return inst.Name == name }))
	}
	for _, id := range lo.Uniq(req.IDs) {
		resolve(id, lo.Filter(live, func(inst Instance, _ int) bool { return inst.ID == id }))
	}

	var pending []int
	for i, inst := range targets {
		result := DestroyResult{Target: keys[i], Name: inst.Name, ID: inst.ID}

		if inst.Owner != caller.User {
			l.log.Warn("Refusing to destroy a node owned by another user", "node", inst.Name, "id", inst.ID, "owner", inst.Owner, "user", caller.User)
			result.Outcome = OutcomeNotOwner
			result.Err = &Error{Kind: ErrOwnership, Target: inst.Name, Err: fmt.Errorf("owned by '%s'", inst.Owner)}
			results = append(results, result)
			continue
		}

		now := l.now()
		summary := l.summarize(inst, now)

		if req.Confirm {
			ok, err := l.prompter.Confirm(ctx,
				fmt.Sprintf("Do you want to terminate the node %s %s (running cost %s%.5f)?", inst.Name, inst.ID, l.vendor.CurrencySymbol(), summary.Cost),
				fmt.Sprintf("Type %s, running for %s.", summary.InstanceType, summary.Elapsed.Round(time.Second)),
			)
			if err != nil {
				return results, fmt.Errorf("failed to confirm termination of '%s': %w", inst.Name, err)
			}
			if !ok {
				result.Outcome = OutcomeDeclined
				results = append(results, result)
				continue
			}
		}

		if inst.Status.Billable() {
			record, err := l.ledger.Append(ctx, ledger.Record{
				User:         inst.Owner,
				NodeID:       inst.ID,
				InstanceType: inst.InstanceType,
				Start:        inst.LaunchedAt,
				End:          now,
				Cost:         summary.Cost,
			})
			if errors.Is(err, ledger.ErrAlreadyRecorded) {
				// Billed by an earlier or concurrent destroy; the node may still be up.
				l.log.Info("Node usage already recorded, terminating without billing again", "node", inst.Name, "id", inst.ID)
				result.AlreadyRecorded = true
			} else if err != nil {
				result.Outcome, result.Err = OutcomeFailed, err
				results = append(results, result)
				return results, fmt.Errorf("failed to record usage of node '%s', node left running: %w", inst.Name, err)
			} else {
				result.Record = &record
			}
		} else {
			l.log.Info("Node never ran, terminating without billing", "node", inst.Name, "id", inst.ID, "status", inst.Status)
		}

		if err := l.driver.Terminate(ctx, inst.ID); errors.Is(err, ErrNotFound) {
			l.log.Debug("Node already gone", "node", inst.Name, "id", inst.ID)
		} else if err != nil {
			l.log.Error("Failed to terminate node", "node", inst.Name, "id", inst.ID, "error", err)
			result.Outcome, result.Err = OutcomeFailed, err
			results = append(results, result)
			continue
		}

		l.log.Info("Terminating node", "node", inst.Name, "id", inst.ID, "cost", summary.Cost)
		result.Outcome = OutcomeTerminating
		results = append(results, result)
		pending = append(pending, len(results)-1)
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.terminateTimeout)
	defer cancel()

	for _, i := range pending {
		if err := l.driver.WaitTerminated(waitCtx, results[i].ID); err != nil {
			l.log.Warn("Node not terminated yet", "node", results[i].Name, "id", results[i].ID, "wait", l.terminateTimeout, "error", err)
			results[i].Err = fmt.Errorf("termination of '%s' not confirmed: %w", results[i].Name, err)
			continue
		}
		results[i].Outcome = OutcomeTerminated
	}

	return results, nil
}

func (l *Lifecycle) ConnectNode(ctx context.Context, id string) (ConnectionInfo, error) {
	inst, err := l.find(ctx, id)
	if err != nil {
		return ConnectionInfo{}, err
	}
	if inst.Endpoint == "" {
		return ConnectionInfo{}, errdefs.New(ErrNotFound, id, "node has no reachable endpoint yet")
	}
	return l.driver.Connection(inst), nil
}

func (l *Lifecycle) Execute(ctx context.Context, id, command string) (string, error) {
	conn, err := l.ConnectNode(ctx, id)
	if err != nil {
		return "", err
	}

	l.log.Debug("Executing command on node", "node", id, "login", conn.Login)
	output, err := l.executor.Run(ctx, conn, command)
	if err != nil {
		return output, fmt.Errorf("failed to execute on node '%s': %w", id, err)
	}
	return output, nil
}

func (l *Lifecycle) ExecuteScript(ctx context.Context, id, scriptPath string) (string, error) {
	command, err := internal.ScriptCommand(scriptPath)
	if err != nil {
		return "", errdefs.Wrap(ErrInvalidArgument, scriptPath, err)
	}
	if command == "" {
		return "", errdefs.InvalidArgument("script '%s' has no commands", scriptPath)
	}
	return l.Execute(ctx, id, "eval "+shellescape.Quote(command))
}

func (l *Lifecycle) InstanceID(ctx context.Context, name string) (string, error) {
	instances, err := l.driver.Instances(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list nodes: %w", err)
	}
	for _, inst := range instances {
		if inst.Name == name && !inst.Status.Terminal() {
			return inst.ID, nil
		}
	}
	return "", errdefs.NotFound(name)
}

// HostIP returns the endpoint of a node given its ID or name. It is empty
// while the node boots.
func (l *Lifecycle) HostIP(ctx context.Context, id string) (string, error) {
	inst, err := l.find(ctx, id)
	if err != nil {
		return "", err
	}
	return inst.Endpoint, nil
}

// find resolves a native ID first, then a node name.
func (l *Lifecycle) find(ctx context.Context, idOrName string) (Instance, error) {
	instances, err := l.driver.Instances(ctx)
	if err != nil {
		return Instance{}, fmt.Errorf("failed to list nodes: %w", err)
	}
	live := lo.Filter(instances, func(inst Instance, _ int) bool { return !inst.Status.Terminal() })

	if inst, ok := lo.Find(live, func(inst Instance) bool { return inst.ID == idOrName }); ok {
		return inst, nil
	}
	if inst, ok := lo.Find(live, func(inst Instance) bool { return inst.Name == idOrName }); ok {
		return inst, nil
	}
	return Instance{}, errdefs.NotFound(idOrName)
}

func (l *Lifecycle) summarize(inst Instance, now time.Time) NodeSummary {
	summary := NodeSummary{
		Name:         inst.Name,
		Owner:        inst.Owner,
		Status:       inst.Status,
		InstanceType: inst.InstanceType,
		ID:           inst.ID,
		Endpoint:     inst.Endpoint,
		LaunchedAt:   inst.LaunchedAt,
		Protected:    l.account.IsProtected(inst.Name),
	}

	if nodeType, ok := l.nodeType(inst); ok {
		summary.SKU = nodeType.Name
		summary.UnitPrice = nodeType.Price
	} else {
		l.log.Debug("Node type not in catalog, pricing it at zero", "node", inst.Name, "type", inst.InstanceType)
	}

	if inst.Status.Billable() {
		summary.Elapsed = inst.elapsed(now)
		summary.Cost = summary.Elapsed.Hours() * summary.UnitPrice
	}
	return summary
}

func (l *Lifecycle) nodeType(inst Instance) (catalog.NodeType, bool) {
	if inst.SKU != "" {
		if t, err := l.vendor.Lookup(inst.SKU); err == nil {
			return t, true
		}
	}
	return l.vendor.ByInstanceType(inst.InstanceType)
}
