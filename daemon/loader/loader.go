// SPDX-License-Identifier: LGPL-3.0-or-later

// Package loader adapts the external image-loader service that mounts
// verity-backed DLC images at a well-known location.
package loader

import "dlcd/daemon/boot"

// Loader is the capability set the DLC core needs from the image-loader.
type Loader interface {
	// Load mounts the image at path for a DLC slot and returns the mount
	// point.
	Load(id, pkg string, slot boot.Slot, path string) (string, error)

	// Unload unmounts a DLC image.
	Unload(id, pkg string) error
}
