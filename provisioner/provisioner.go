// Package provisioner defines the node lifecycle every backend offers and
// the shared algorithm implementing it on top of a backend Driver.
package provisioner

import (
	"context"
	"time"

	"github.com/gammadia/skyway/account"
	"github.com/gammadia/skyway/catalog"
	"github.com/gammadia/skyway/ledger"
)

// Caller identifies the user on whose behalf an operation runs.
type Caller struct {
	User string
}

type Provisioner interface {
	ListNodes(ctx context.Context, caller Caller, opts ListOptions) ([]NodeSummary, error)
	CreateNodes(ctx context.Context, caller Caller, req CreateRequest) (map[string]ProvisionResult, error)
	DestroyNodes(ctx context.Context, caller Caller, req DestroyRequest) ([]DestroyResult, error)
	ConnectNode(ctx context.Context, id string) (ConnectionInfo, error)
	Execute(ctx context.Context, id, command string) (string, error)
	ExecuteScript(ctx context.Context, id, scriptPath string) (string, error)

	UnitPrice(sku string) (float64, error)
	RunningCost(ctx context.Context, caller Caller) (float64, error)
	InstanceID(ctx context.Context, name string) (string, error)
	HostIP(ctx context.Context, id string) (string, error)
	NodeTypes() []catalog.NodeType
	Account() *account.Account
}

type ListOptions struct {
	IncludeProtected bool
	RunningOnly      bool
	// OnlyMine restricts the listing to the caller's nodes.
	OnlyMine bool
}

type NodeSummary struct {
	Name         string        `json:"name"`
	Owner        string        `json:"owner"`
	Status       NodeStatus    `json:"status"`
	SKU          string        `json:"sku,omitempty"`
	InstanceType string        `json:"instance_type"`
	ID           string        `json:"id"`
	Endpoint     string        `json:"endpoint,omitempty"`
	LaunchedAt   time.Time     `json:"launched_at,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
	UnitPrice    float64       `json:"unit_price"`
	Cost         float64       `json:"cost"`
	Protected    bool          `json:"protected,omitempty"`
}

type CreateRequest struct {
	SKU      string
	Names    []string
	Walltime time.Duration
	// Confirm asks the user before anything is created.
	Confirm bool
	// Image overrides the account's default image when the backend supports it.
	Image string
}

type ProvisionResult struct {
	Name              string     `json:"name"`
	ID                string     `json:"id,omitempty"`
	SKU               string     `json:"sku"`
	InstanceType      string     `json:"instance_type"`
	Status            NodeStatus `json:"status"`
	LaunchedAt        time.Time  `json:"launched_at,omitempty"`
	Endpoint          string     `json:"endpoint,omitempty"`
	ShutdownScheduled bool       `json:"shutdown_scheduled"`
	Err               error      `json:"-"`
}

// DestroyRequest targets nodes either by name or by native ID, never both.
type DestroyRequest struct {
	Names   []string
	IDs     []string
	Confirm bool
}

type DestroyOutcome string

const (
	OutcomeTerminated  DestroyOutcome = "terminated"
	OutcomeTerminating DestroyOutcome = "terminating"
	OutcomeProtected   DestroyOutcome = "protected"
	OutcomeDeclined    DestroyOutcome = "declined"
	OutcomeNotOwner    DestroyOutcome = "not-owner"
	OutcomeNotFound    DestroyOutcome = "not-found"
	OutcomeFailed      DestroyOutcome = "failed"
)

type DestroyResult struct {
	Target  string
	Name    string
	ID      string
	Outcome DestroyOutcome
	Record  *ledger.Record
	Err     error

	// AlreadyRecorded is set when the node's usage was billed by an earlier destroy.
	AlreadyRecorded bool
}

// ConnectionInfo is what an SSH client needs to reach a node.
type ConnectionInfo struct {
	PrivateKey string `json:"private_key"`
	Login      string `json:"login"`
}
