// SPDX-License-Identifier: LGPL-3.0-or-later

// Package installer adapts the external updater service that downloads DLC
// payloads and writes them into the inactive slot. The proxy is a pure
// translation layer; beyond readiness and the last observed status it
// keeps no state.
package installer

import "time"

// Operation is the updater's current operation, as broadcast in status
// signals.
type Operation string

const (
	OpIdle                Operation = "IDLE"
	OpCheckingForUpdate   Operation = "CHECKING_FOR_UPDATE"
	OpDownloading         Operation = "DOWNLOADING"
	OpVerifying           Operation = "VERIFYING"
	OpFinalizing          Operation = "FINALIZING"
	OpUpdatedNeedReboot   Operation = "UPDATED_NEED_REBOOT"
	OpReportingErrorEvent Operation = "REPORTING_ERROR_EVENT"
)

// LastAttemptNoUpdate is the updater's last-attempt error value meaning no
// payload was available for the requested DLC.
const LastAttemptNoUpdate = "no-update"

// Status is one parsed status broadcast.
type Status struct {
	Operation        Operation
	IsInstall        bool
	Progress         float64
	LastAttemptError string
}

// InstallArgs parameterize a payload fetch request.
type InstallArgs struct {
	ID       string
	URL      string
	Scaled   bool
	ForceOTA bool
}

// Observer receives parsed status broadcasts.
type Observer interface {
	OnStatusUpdate(status Status)
}

// Installer is the capability set the DLC core needs from the updater.
type Installer interface {
	// Init wires signal handling; must be called before any other method.
	Init() error

	// Install requests a payload fetch for one DLC.
	Install(args InstallArgs) error

	// IsReady reports whether the updater service is reachable.
	IsReady() bool

	// OnReady invokes cb once the updater becomes reachable (immediately
	// if it already is).
	OnReady(cb func(ready bool))

	// RequestStatus asks the updater to broadcast a fresh status.
	RequestStatus() error

	// AddObserver registers for status broadcasts.
	AddObserver(obs Observer)

	// SetDlcActiveValue records a DLC as active/inactive with the updater.
	SetDlcActiveValue(active bool, id string) error

	// LastStatus returns the most recent status and when it was observed.
	LastStatus() (Status, time.Time)
}
