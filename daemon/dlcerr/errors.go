// SPDX-License-Identifier: LGPL-3.0-or-later

// Package dlcerr defines the stable error kinds reported to clients and
// recorded in per-DLC state.
package dlcerr

import (
	"errors"
	"fmt"
)

// Kind is a stable, client-visible error identifier.
type Kind string

const (
	KindNone       Kind = "none"
	KindInvalidDlc Kind = "invalid_dlc"
	KindInternal   Kind = "internal"
	KindBusy       Kind = "busy"
	KindNeedReboot Kind = "need_reboot"
	KindAllocation Kind = "allocation"
	KindNoImage    Kind = "no_image_found"

	KindFailedToCreateDirectory         Kind = "failed_to_create_directory"
	KindFailedToVerifyImage             Kind = "failed_to_verify_image"
	KindFailedToMountImage              Kind = "failed_to_mount_image"
	KindFailedInstallInUpdater          Kind = "failed_install_in_updater"
	KindFailedCreationDuringHibernation Kind = "failed_creation_during_hibernate_resume"
	KindFailedInternal                  Kind = "failed_internal"
)

// Error carries a Kind alongside a message and an optional cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches two errors by Kind so callers can use errors.Is with a bare
// kind sentinel, e.g. errors.Is(err, dlcerr.New(dlcerr.KindBusy, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind with a cause.
func Wrap(cause error, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from any error. Non-domain errors map to
// KindInternal; nil maps to KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
