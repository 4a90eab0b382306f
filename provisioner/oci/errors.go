package oci

import (
	"net/http"
	"strings"

	"github.com/gammadia/skyway/errdefs"
	"github.com/oracle/oci-go-sdk/v65/common"
)

func translate(target string, err error) error {
	if err == nil {
		return nil
	}

	serviceErr, ok := common.IsServiceError(err)
	if !ok {
		return err
	}

	code := serviceErr.GetCode()
	switch status := serviceErr.GetHTTPStatusCode(); {
	case status == http.StatusUnauthorized, code == "NotAuthenticated":
		return errdefs.Wrap(errdefs.ErrConfig, target, err)
	case status == http.StatusNotFound && strings.Contains(strings.ToLower(serviceErr.GetMessage()), "image"):
		return errdefs.Wrap(errdefs.ErrProvision, target, err)
	case status == http.StatusNotFound, code == "NotAuthorizedOrNotFound":
		return errdefs.Wrap(errdefs.ErrNotFound, target, err)
	case code == "LimitExceeded", code == "QuotaExceeded", code == "InvalidParameter",
		strings.Contains(serviceErr.GetMessage(), "Out of host capacity"),
		status == http.StatusTooManyRequests, status == http.StatusConflict, status == http.StatusBadRequest:
		return errdefs.Wrap(errdefs.ErrProvision, target, err)
	default:
		return err
	}
}
