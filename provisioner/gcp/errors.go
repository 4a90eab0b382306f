package gcp

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gammadia/skyway/errdefs"
	"google.golang.org/api/googleapi"
)

func translate(target string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	switch {
	case apiErr.Code == http.StatusNotFound && strings.Contains(apiErr.Message, "/images/"):
		return errdefs.Wrap(errdefs.ErrProvision, target, err)
	case apiErr.Code == http.StatusNotFound:
		return errdefs.Wrap(errdefs.ErrNotFound, target, err)
	case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden && !quota(apiErr):
		return errdefs.Wrap(errdefs.ErrConfig, target, err)
	case apiErr.Code == http.StatusTooManyRequests, apiErr.Code == http.StatusConflict,
		apiErr.Code == http.StatusBadRequest, quota(apiErr):
		return errdefs.Wrap(errdefs.ErrProvision, target, err)
	default:
		return err
	}
}

func quota(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if strings.Contains(strings.ToLower(item.Reason), "quota") || strings.Contains(item.Reason, "EXHAUSTED") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "quota")
}
