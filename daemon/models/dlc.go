// SPDX-License-Identifier: LGPL-3.0-or-later

// Package models holds the data types exchanged between the DLC core, its
// adaptors and subscribers.
package models

import "dlcd/daemon/dlcerr"

// DlcStatus is the client-visible lifecycle state of a DLC.
type DlcStatus string

const (
	StatusNotInstalled DlcStatus = "NOT_INSTALLED"
	StatusInstalling   DlcStatus = "INSTALLING"
	StatusInstalled    DlcStatus = "INSTALLED"
)

// DlcState is the full per-DLC state reported to clients and broadcast on
// every transition and progress increment.
type DlcState struct {
	ID            string      `json:"id"`
	Status        DlcStatus   `json:"status"`
	IsVerified    bool        `json:"is_verified"`
	Progress      float64     `json:"progress"`
	LastErrorKind dlcerr.Kind `json:"last_error_kind"`
	RootPath      string      `json:"root_path,omitempty"`
	ImagePath     string      `json:"image_path,omitempty"`
}

// InstallRequest parameterizes a client install.
type InstallRequest struct {
	ID string `json:"id"`
	// URL optionally overrides the updater's payload source.
	URL string `json:"url,omitempty"`
	// Reserve toggles keeping image files across uninstall; nil leaves
	// the manifest default untouched.
	Reserve *bool `json:"reserve,omitempty"`
	// ForceOTA forces an over-the-air fetch.
	ForceOTA bool `json:"force_ota,omitempty"`
}

// ExistingDlc describes a DLC with content on disk, mounted or not.
type ExistingDlc struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	UsedBytes   int64  `json:"used_bytes"`
	IsRemovable bool   `json:"is_removable"`
}

// UnloadSelector picks which DLCs to unload: an explicit id, or every
// mounted user-tied and/or scaled DLC.
type UnloadSelector struct {
	ID       string `json:"id,omitempty"`
	UserTied bool   `json:"user_tied,omitempty"`
	Scaled   bool   `json:"scaled,omitempty"`
}
