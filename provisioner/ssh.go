package provisioner

import (
	"context"

	"github.com/gammadia/skyway/provisioner/internal"
)

// SSHExecutor runs commands through golang.org/x/crypto/ssh, retrying the
// dial while a freshly booted node starts its SSH daemon.
type SSHExecutor struct {
	remote internal.Remote
}

func NewSSHExecutor() *SSHExecutor {
	return &SSHExecutor{}
}

func (e *SSHExecutor) Run(ctx context.Context, conn ConnectionInfo, command string) (string, error) {
	return e.remote.Run(ctx, conn.Login, conn.PrivateKey, command)
}
