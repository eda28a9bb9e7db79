// SPDX-License-Identifier: LGPL-3.0-or-later

// Package image stores DLC slot images. Two interchangeable backends
// exist: sparse/preallocated files on the stateful partition, and logical
// volumes managed by the external LVM daemon. The rest of the core treats
// images as opaque paths.
package image

import (
	"dlcd/daemon/boot"
)

// Backend is the capability set the DLC core needs from image storage.
type Backend interface {
	// Type identifies the backend ("file" or "lvm").
	Type() string

	// ImagePath resolves the image location of a DLC slot.
	ImagePath(id, pkg string, slot boot.Slot) (string, error)

	// Create allocates both slot images, reserving allocation bytes per
	// slot. The file backend falls back to size when the full allocation
	// fails; the LVM backend does not.
	Create(id, pkg string, size, allocation int64) error

	// Delete removes the DLC's images from storage.
	Delete(id, pkg string) error

	// MakeReadyForUpdate prepares the inactive slot to receive an update
	// payload of size bytes, growing toward allocation best-effort.
	MakeReadyForUpdate(id, pkg string, slot boot.Slot, size, allocation int64) error

	// ListIDs enumerates DLC ids that have images in storage, supported
	// or not.
	ListIDs() ([]string, error)
}
