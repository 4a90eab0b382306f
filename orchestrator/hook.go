package orchestrator

import (
	"context"
	"io"
	"os/exec"
)

// HookRunner runs a pre-execute hook on the submitting host.
type HookRunner interface {
	Run(ctx context.Context, command string) error
}

// ShellHook runs hooks through sh.
type ShellHook struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (h ShellHook) Run(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = h.Stdout
	cmd.Stderr = h.Stderr
	return cmd.Run()
}
