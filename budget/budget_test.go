package budget

import (
	"context"
	"errors"
	"testing"

	"github.com/gammadia/skyway/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccount map[string]float64

func (a fakeAccount) Budget(user string) (float64, error) {
	if b, ok := a[user]; ok {
		return b, nil
	}
	return 0, errdefs.UnknownUser(user)
}

type fakeSpending struct {
	spent float64
	err   error
}

func (s fakeSpending) AccumulatedCost(context.Context, string) (float64, error) {
	return s.spent, s.err
}

type fakePrices map[string]float64

func (p fakePrices) UnitPrice(sku string) (float64, error) {
	if price, ok := p[sku]; ok {
		return price, nil
	}
	return 0, errors.New("unknown node type")
}

func newGate(t *testing.T, spent, running float64, policy Policy, prompter Prompter) *Gate {
	t.Helper()
	g, err := NewGate(Config{
		Budgets:  fakeAccount{"alice": 100},
		Spending: fakeSpending{spent: spent},
		Prices:   fakePrices{"c16": 2.5},
		RunningCost: func(context.Context, string) (float64, error) {
			return running, nil
		},
		Prompter: prompter,
		Policy:   policy,
	})
	require.NoError(t, err)
	return g
}

func TestCheckFreshUser(t *testing.T) {
	g := newGate(t, 0, 0, PolicyAdvisory, &StaticPrompter{})

	d, err := g.Check(context.Background(), Request{User: "alice", SKU: "c16", EstimatedHours: 2})
	require.NoError(t, err)

	assert.True(t, d.Allow)
	assert.InDelta(t, 100, d.Budget, 1e-9)
	assert.InDelta(t, 0, d.Usage, 1e-9)
	assert.InDelta(t, 100, d.Available, 1e-9)
	assert.InDelta(t, 5.0, d.EstimatedCost, 1e-9)
	assert.False(t, d.OverBudget)
	assert.NoError(t, d.Err())
}

func TestCheckIncludesRunningCost(t *testing.T) {
	g := newGate(t, 30, 10, PolicyAdvisory, &StaticPrompter{})

	d, err := g.Check(context.Background(), Request{User: "alice", SKU: "c16", EstimatedHours: 1})
	require.NoError(t, err)
	assert.InDelta(t, 40, d.Usage, 1e-9)
	assert.InDelta(t, 60, d.Available, 1e-9)
}

func TestCheckInteractive(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		prompter := &StaticPrompter{Answer: true}
		g := newGate(t, 0, 0, PolicyAdvisory, prompter)

		d, err := g.Check(context.Background(), Request{User: "alice", SKU: "c16", EstimatedHours: 2, Interactive: true})
		require.NoError(t, err)
		assert.True(t, d.Allow)
		assert.Equal(t, []string{"Do you want to create an instance of type c16 ($2.500/hr)?"}, prompter.Asked())
	})

	t.Run("declined", func(t *testing.T) {
		g := newGate(t, 0, 0, PolicyAdvisory, &StaticPrompter{Answer: false})

		d, err := g.Check(context.Background(), Request{User: "alice", SKU: "c16", EstimatedHours: 2, Interactive: true})
		require.NoError(t, err)
		assert.False(t, d.Allow)
		assert.True(t, d.Declined)
		assert.ErrorIs(t, d.Err(), ErrDeclined)
	})
}

func TestCheckOverBudget(t *testing.T) {
	req := Request{User: "alice", SKU: "c16", EstimatedHours: 10}

	t.Run("advisory", func(t *testing.T) {
		g := newGate(t, 90, 0, PolicyAdvisory, &StaticPrompter{})
		d, err := g.Check(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, d.Allow)
		assert.True(t, d.OverBudget)
	})

	t.Run("enforce", func(t *testing.T) {
		prompter := &StaticPrompter{Answer: true}
		g := newGate(t, 90, 0, PolicyEnforce, prompter)
		d, err := g.Check(context.Background(), Request{User: "alice", SKU: "c16", EstimatedHours: 10, Interactive: true})
		assert.ErrorIs(t, err, ErrBudgetExceeded)
		assert.False(t, d.Allow)
		assert.True(t, d.OverBudget)
		assert.Empty(t, prompter.Asked())
	})
}

func TestCheckErrors(t *testing.T) {
	g := newGate(t, 0, 0, PolicyAdvisory, &StaticPrompter{})

	_, err := g.Check(context.Background(), Request{User: "mallory", SKU: "c16", EstimatedHours: 1})
	assert.ErrorIs(t, err, errdefs.ErrUnknownUser)

	_, err = g.Check(context.Background(), Request{User: "alice", SKU: "c64", EstimatedHours: 1})
	assert.ErrorIs(t, err, errdefs.ErrConfig)

	_, err = g.Check(context.Background(), Request{User: "alice", SKU: "c16", EstimatedHours: -1})
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)

	failing, err := NewGate(Config{
		Budgets:  fakeAccount{"alice": 100},
		Spending: fakeSpending{err: errors.New("disk full")},
		Prices:   fakePrices{},
		Prompter: &StaticPrompter{},
	})
	require.NoError(t, err)
	_, err = failing.Check(context.Background(), Request{User: "alice"})
	assert.ErrorContains(t, err, "disk full")
}

func TestStatusAndSummary(t *testing.T) {
	g := newGate(t, 12.5, 2.5, PolicyAdvisory, &StaticPrompter{})

	d, err := g.Status(context.Background(), "alice")
	require.NoError(t, err)
	assert.InDelta(t, 85, d.Available, 1e-9)
	assert.Equal(t, "User budget: $100.000\nUsage      : $15.000\nAvailable  : $85.000", g.Summary(d))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyAdvisory, p)

	p, err = ParsePolicy(" Enforce ")
	require.NoError(t, err)
	assert.Equal(t, PolicyEnforce, p)

	_, err = ParsePolicy("strict")
	assert.ErrorIs(t, err, errdefs.ErrConfig)
}

func TestNewGateRequiresSources(t *testing.T) {
	_, err := NewGate(Config{})
	assert.ErrorIs(t, err, errdefs.ErrConfig)
}
