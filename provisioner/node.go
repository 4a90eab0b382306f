package provisioner

import (
	"time"

	"github.com/samber/lo"
)

type NodeStatus string

const (
	NodeStatusRequested            NodeStatus = "requested"
	NodeStatusProvisioning         NodeStatus = "provisioning"
	NodeStatusRunning              NodeStatus = "running"
	NodeStatusTerminationRequested NodeStatus = "termination-requested"
	NodeStatusTerminated           NodeStatus = "terminated"
	NodeStatusProvisionFailed      NodeStatus = "provision-failed"

	// NodeStatusStopped is observed on cloud nodes halted outside skyway.
	NodeStatusStopped NodeStatus = "stopped"
)

var transitions = map[NodeStatus][]NodeStatus{
	NodeStatusRequested:            {NodeStatusProvisioning},
	NodeStatusProvisioning:         {NodeStatusRunning, NodeStatusProvisionFailed},
	NodeStatusRunning:              {NodeStatusTerminationRequested, NodeStatusStopped},
	NodeStatusStopped:              {NodeStatusTerminationRequested, NodeStatusRunning},
	NodeStatusTerminationRequested: {NodeStatusTerminated},
}

func (s NodeStatus) CanTransition(to NodeStatus) bool {
	return lo.Contains(transitions[s], to)
}

func (s NodeStatus) Terminal() bool {
	return s == NodeStatusTerminated || s == NodeStatusProvisionFailed
}

// Billable reports whether destroying a node in this state records its usage.
func (s NodeStatus) Billable() bool {
	return s.CanTransition(NodeStatusTerminationRequested)
}

// Instance is a node as a Driver observes it on its backend.
type Instance struct {
	ID           string
	Name         string
	Owner        string
	InstanceType string
	// SKU is the logical node type when the backend stores it (Slurm comment).
	SKU        string
	Status     NodeStatus
	LaunchedAt time.Time
	Endpoint   string
	// Elapsed is set by backends reporting run time themselves.
	Elapsed time.Duration
}

func (i Instance) elapsed(now time.Time) time.Duration {
	if i.Elapsed > 0 {
		return i.Elapsed
	}
	if i.LaunchedAt.IsZero() || now.Before(i.LaunchedAt) {
		return 0
	}
	return now.Sub(i.LaunchedAt)
}
