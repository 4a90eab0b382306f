// Package errdefs defines the error kinds shared by every skyway component.
//
// Kinds are sentinel errors matched with errors.Is. Components wrap the
// underlying cause in an *Error so both the kind and the cause stay reachable.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	ErrConfig          = errors.New("configuration error")
	ErrUnknownUser     = errors.New("unknown user")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrOwnership       = errors.New("not the owner")
	ErrProvision       = errors.New("provisioning failed")
	ErrNotFound        = errors.New("not found")
)

// Error attaches a kind and an optional target (node name, user, file) to a cause.
type Error struct {
	Kind   error
	Target string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Target != "" {
		msg = fmt.Sprintf("%s '%s'", msg, e.Target)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New returns an *Error of the given kind. When format is empty, the error has no cause.
func New(kind error, target string, format string, args ...any) error {
	e := &Error{Kind: kind, Target: target}
	if format != "" {
		e.Err = fmt.Errorf(format, args...)
	}
	return e
}

// Wrap returns nil when err is nil, err itself when it already carries kind,
// and a new *Error otherwise.
func Wrap(kind error, target string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return &Error{Kind: kind, Target: target, Err: err}
}

func Config(target string, format string, args ...any) error {
	return New(ErrConfig, target, format, args...)
}

func UnknownUser(user string) error {
	return New(ErrUnknownUser, user, "")
}

func InvalidArgument(format string, args ...any) error {
	return New(ErrInvalidArgument, "", format, args...)
}

func NotFound(target string) error {
	return New(ErrNotFound, target, "")
}

// KindOf returns the first known kind carried by err, or nil.
func KindOf(err error) error {
	for _, kind := range []error{ErrConfig, ErrUnknownUser, ErrInvalidArgument, ErrOwnership, ErrProvision, ErrNotFound} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
