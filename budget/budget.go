// Package budget decides whether a user may start new nodes given their
// budget, their recorded spending and the cost of their running nodes.
package budget

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gammadia/skyway/errdefs"
	"github.com/samber/lo"
)

type Policy string

const (
	// PolicyAdvisory lets over-budget requests through with a warning.
	PolicyAdvisory Policy = "advisory"
	// PolicyEnforce refuses over-budget requests.
	PolicyEnforce Policy = "enforce"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyAdvisory, nil
	case PolicyAdvisory, PolicyEnforce:
		return p, nil
	default:
		return "", errdefs.Config("budget-policy", "unknown policy '%s' (advisory, enforce)", s)
	}
}

var (
	ErrDeclined       = errors.New("declined by user")
	ErrBudgetExceeded = errors.New("budget exceeded")
)

type Budgets interface {
	Budget(user string) (float64, error)
}

type Spending interface {
	AccumulatedCost(ctx context.Context, user string) (float64, error)
}

type Prices interface {
	UnitPrice(sku string) (float64, error)
}

// RunningCostFunc returns the cost so far of the nodes user currently runs.
type RunningCostFunc func(ctx context.Context, user string) (float64, error)

type Config struct {
	Budgets     Budgets
	Spending    Spending
	Prices      Prices
	RunningCost RunningCostFunc
	Prompter    Prompter
	Policy      Policy
	Currency    string
	Logger      *slog.Logger
}

type Gate struct {
	config Config
	log    *slog.Logger
}

func NewGate(config Config) (*Gate, error) {
	if config.Budgets == nil || config.Spending == nil || config.Prices == nil {
		return nil, errdefs.Config("budget", "budgets, spending and prices are required")
	}
	if config.RunningCost == nil {
		config.RunningCost = func(context.Context, string) (float64, error) { return 0, nil }
	}
	if config.Prompter == nil {
		config.Prompter = NewTerminalPrompter()
	}
	if config.Policy == "" {
		config.Policy = PolicyAdvisory
	}
	if config.Currency == "" {
		config.Currency = "$"
	}

	return &Gate{
		config: config,
		log:    lo.Ternary(config.Logger != nil, config.Logger, slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, nil
}

func (g *Gate) Policy() Policy {
	return g.config.Policy
}

type Request struct {
	User           string
	SKU            string
	EstimatedHours float64
	Interactive    bool
}

type Decision struct {
	Allow         bool
	Budget        float64
	Usage         float64
	Available     float64
	UnitPrice     float64
	EstimatedCost float64
	OverBudget    bool
	Declined      bool
}

// Err maps a refusal to ErrDeclined or ErrBudgetExceeded.
func (d Decision) Err() error {
	switch {
	case d.Allow:
		return nil
	case d.Declined:
		return ErrDeclined
	default:
		return ErrBudgetExceeded
	}
}

// Status figures without a request, used for balance reports.
func (g *Gate) Status(ctx context.Context, user string) (Decision, error) {
	return g.evaluate(ctx, Request{User: user})
}

// Check evaluates a request. A user declining the prompt yields Allow=false
// and a nil error. Under PolicyEnforce an over-budget request yields
// Allow=false and ErrBudgetExceeded.
func (g *Gate) Check(ctx context.Context, req Request) (Decision, error) {
	if req.EstimatedHours < 0 {
		return Decision{}, errdefs.InvalidArgument("negative duration %v", req.EstimatedHours)
	}

	d, err := g.evaluate(ctx, req)
	if err != nil {
		return d, err
	}

	if d.OverBudget {
		if g.config.Policy == PolicyEnforce {
			g.log.Warn("Request refused, over budget", "user", req.User, "sku", req.SKU, "estimated", d.EstimatedCost, "available", d.Available)
			return d, fmt.Errorf("%w: estimated %s exceeds available %s", ErrBudgetExceeded, g.money(d.EstimatedCost), g.money(d.Available))
		}
		g.log.Warn("Request over budget", "user", req.User, "sku", req.SKU, "estimated", d.EstimatedCost, "available", d.Available)
	}

	if req.Interactive {
		ok, err := g.config.Prompter.Confirm(ctx,
			fmt.Sprintf("Do you want to create an instance of type %s (%s/hr)?", req.SKU, g.money(d.UnitPrice)),
			g.Summary(d),
		)
		if err != nil {
			return d, fmt.Errorf("failed to confirm: %w", err)
		}
		if !ok {
			d.Declined = true
			return d, nil
		}
	}

	d.Allow = true
	return d, nil
}

func (g *Gate) evaluate(ctx context.Context, req Request) (Decision, error) {
	var d Decision
	var err error

	if d.Budget, err = g.config.Budgets.Budget(req.User); err != nil {
		return d, err
	}
	if req.SKU != "" {
		if d.UnitPrice, err = g.config.Prices.UnitPrice(req.SKU); err != nil {
			return d, errdefs.Wrap(errdefs.ErrConfig, req.SKU, err)
		}
	}

	spent, err := g.config.Spending.AccumulatedCost(ctx, req.User)
	if err != nil {
		return d, fmt.Errorf("failed to read spending: %w", err)
	}
	running, err := g.config.RunningCost(ctx, req.User)
	if err != nil {
		return d, fmt.Errorf("failed to compute running cost: %w", err)
	}

	d.Usage = spent + running
	d.Available = d.Budget - d.Usage
	d.EstimatedCost = d.UnitPrice * req.EstimatedHours
	d.OverBudget = d.EstimatedCost > d.Available
	return d, nil
}

// Summary renders the budget figures of a decision, one per line.
func (g *Gate) Summary(d Decision) string {
	lines := []string{
		fmt.Sprintf("User budget: %s", g.money(d.Budget)),
		fmt.Sprintf("Usage      : %s", g.money(d.Usage)),
		fmt.Sprintf("Available  : %s", g.money(d.Available)),
	}
	if d.EstimatedCost > 0 {
		lines = append(lines, fmt.Sprintf("Estimated  : %s", g.money(d.EstimatedCost)))
	}
	if d.OverBudget {
		lines = append(lines, "Warning: the estimated cost exceeds the available budget.")
	}
	return strings.Join(lines, "\n")
}

func (g *Gate) money(v float64) string {
	if g.config.Currency == "$" {
		return fmt.Sprintf("$%.3f", v)
	}
	return fmt.Sprintf("%.3f %s", v, g.config.Currency)
}
