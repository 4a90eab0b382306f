package openstack

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gammadia/skyway/errdefs"
	"github.com/gophercloud/gophercloud"
)

// translate maps Nova response codes to skyway error kinds.
func translate(target string, err error) error {
	if err == nil {
		return nil
	}

	var notFound gophercloud.ErrDefault404
	if errors.As(err, &notFound) {
		return errdefs.Wrap(errdefs.ErrNotFound, target, err)
	}

	var statusErr gophercloud.StatusCodeError
	if !errors.As(err, &statusErr) {
		return err
	}

	switch code := statusErr.GetStatusCode(); {
	case strings.Contains(strings.ToLower(err.Error()), "quota"):
		return errdefs.Wrap(errdefs.ErrProvision, target, err)
	case code == http.StatusNotFound:
		return errdefs.Wrap(errdefs.ErrNotFound, target, err)
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return errdefs.Wrap(errdefs.ErrConfig, target, err)
	case code == http.StatusBadRequest, code == http.StatusConflict:
		return errdefs.Wrap(errdefs.ErrProvision, target, err)
	default:
		return err
	}
}
