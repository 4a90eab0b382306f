package provisioner

import (
	"context"
	"time"

	"github.com/gammadia/skyway/catalog"
)

// Driver is the backend-specific half of a provisioner. Lifecycle implements
// every Provisioner operation on top of it.
type Driver interface {
	// Instances returns every non-terminated node visible to the account.
	Instances(ctx context.Context) ([]Instance, error)
	// Launch requests one node and returns once the backend accepted it.
	Launch(ctx context.Context, spec LaunchSpec) (Instance, error)
	// WaitReady blocks until the node runs and has an endpoint.
	WaitReady(ctx context.Context, id string) (Instance, error)
	Terminate(ctx context.Context, id string) error
	// WaitTerminated blocks until the node is gone.
	WaitTerminated(ctx context.Context, id string) error
	Connection(inst Instance) ConnectionInfo
}

type LaunchSpec struct {
	Name     string
	Owner    string
	NodeType catalog.NodeType
	Walltime time.Duration
	Image    string
}

// ShutdownScheduler is implemented by drivers whose backend enforces the
// walltime itself. Other nodes get a remote shutdown timer.
type ShutdownScheduler interface {
	ScheduleShutdown(ctx context.Context, inst Instance, walltime time.Duration) error
}

// Executor runs a command on a node.
type Executor interface {
	Run(ctx context.Context, conn ConnectionInfo, command string) (string, error)
}
