package azure

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/gammadia/skyway/errdefs"
)

func translate(target string, err error) error {
	if err == nil {
		return nil
	}

	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return errdefs.Wrap(errdefs.ErrConfig, target, err)
	}

	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return err
	}

	switch code := respErr.ErrorCode; {
	case code == "ImageNotFound", code == "InvalidParameter", code == "SkuNotAvailable",
		strings.Contains(code, "Quota"), strings.Contains(code, "LimitReached"),
		strings.Contains(code, "AllocationFailed"), code == "OperationNotAllowed",
		respErr.StatusCode == http.StatusConflict:
		return errdefs.Wrap(errdefs.ErrProvision, target, err)
	case code == "AuthorizationFailed", code == "InvalidAuthenticationToken", code == "ResourceGroupNotFound",
		respErr.StatusCode == http.StatusUnauthorized, respErr.StatusCode == http.StatusForbidden:
		return errdefs.Wrap(errdefs.ErrConfig, target, err)
	case respErr.StatusCode == http.StatusNotFound, code == "ResourceNotFound", code == "NotFound":
		return errdefs.Wrap(errdefs.ErrNotFound, target, err)
	default:
		return err
	}
}
