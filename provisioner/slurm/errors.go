package slurm

import (
	"errors"
	"os/exec"
	"strings"

	"github.com/gammadia/skyway/errdefs"
)

func translate(target string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return errdefs.Wrap(errdefs.ErrConfig, target, err)
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return err
	}

	stderr := strings.ToLower(cmdErr.Stderr)
	switch {
	case strings.Contains(stderr, "invalid job id"):
		return errdefs.Wrap(errdefs.ErrNotFound, target, err)
	case strings.Contains(stderr, "invalid account"), strings.Contains(stderr, "invalid partition"),
		strings.Contains(stderr, "invalid qos"):
		return errdefs.Wrap(errdefs.ErrConfig, target, err)
	case strings.Contains(stderr, "unable to allocate resources"), strings.Contains(stderr, "violates accounting/qos policy"),
		strings.Contains(stderr, "node configuration is not available"), strings.Contains(stderr, "immediate"),
		strings.Contains(stderr, "job submit limit"):
		return errdefs.Wrap(errdefs.ErrProvision, target, err)
	default:
		return err
	}
}
