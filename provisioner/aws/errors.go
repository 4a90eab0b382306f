package aws

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"
	"github.com/gammadia/skyway/errdefs"
)

// translate maps EC2 error codes to skyway error kinds.
func translate(target string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	code := apiErr.ErrorCode()
	switch {
	case strings.HasSuffix(code, ".NotFound") && strings.HasPrefix(code, "InvalidInstanceID"):
		return errdefs.Wrap(errdefs.ErrNotFound, target, err)
	case code == "AuthFailure", code == "UnauthorizedOperation", code == "InvalidClientTokenId",
		code == "SignatureDoesNotMatch", code == "OptInRequired", strings.HasPrefix(code, "InvalidKeyPair"):
		return errdefs.Wrap(errdefs.ErrConfig, target, err)
	case strings.HasSuffix(code, "LimitExceeded"), strings.HasPrefix(code, "Insufficient"),
		strings.HasPrefix(code, "InvalidAMIID"), strings.HasPrefix(code, "InvalidSubnet"),
		strings.HasPrefix(code, "InvalidGroup"), code == "InvalidParameterValue",
		code == "InvalidParameterCombination", code == "Unsupported", code == "MaxSpotInstanceCountExceeded":
		return errdefs.Wrap(errdefs.ErrProvision, target, err)
	default:
		return err
	}
}
