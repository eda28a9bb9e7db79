// SPDX-License-Identifier: LGPL-3.0-or-later

// Package lvm provides a simpler interface into the external
// logical-volume manager daemon used on LVM-backed devices.
package lvm

import "strings"

// LogicalVolume describes one existing LV.
type LogicalVolume struct {
	Name string
	Path string
}

// LogicalVolumeConfig describes an LV to create or resize.
type LogicalVolumeConfig struct {
	Name    string
	SizeMiB int64
}

// Client is the capability set the DLC core needs from the LVM daemon.
type Client interface {
	ListLogicalVolumes() ([]LogicalVolume, error)
	CreateLogicalVolumes(configs []LogicalVolumeConfig) error
	RemoveLogicalVolumes(names []string) error
	// RemoveLogicalVolumesAsync removes LVs in the background; done may be
	// nil when the caller does not care about completion.
	RemoveLogicalVolumesAsync(names []string, done func(err error))
	ActivateLogicalVolume(name string) error
	LogicalVolumePath(name string) (string, error)
	ResizeLogicalVolumes(configs []LogicalVolumeConfig) error
}

const lvPrefix = "dlc_"

// VolumeName builds the LV name for a DLC slot: dlc_<id>_<a|b>.
func VolumeName(id, slotSuffix string) string {
	return lvPrefix + id + "_" + slotSuffix
}

// VolumeNameToID extracts the DLC id out of an LV name, or "" when the
// name is not a DLC volume.
func VolumeNameToID(name string) string {
	if !strings.HasPrefix(name, lvPrefix) {
		return ""
	}
	rest := strings.TrimPrefix(name, lvPrefix)
	switch {
	case strings.HasSuffix(rest, "_a"):
		return strings.TrimSuffix(rest, "_a")
	case strings.HasSuffix(rest, "_b"):
		return strings.TrimSuffix(rest, "_b")
	}
	return ""
}
