package provisioner

import "github.com/gammadia/skyway/errdefs"

// Error kinds, matched with errors.Is.
var (
	ErrConfig          = errdefs.ErrConfig
	ErrUnknownUser     = errdefs.ErrUnknownUser
	ErrInvalidArgument = errdefs.ErrInvalidArgument
	ErrOwnership       = errdefs.ErrOwnership
	ErrProvision       = errdefs.ErrProvision
	ErrNotFound        = errdefs.ErrNotFound
)

type Error = errdefs.Error
