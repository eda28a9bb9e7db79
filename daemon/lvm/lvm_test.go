// SPDX-License-Identifier: LGPL-3.0-or-later

package lvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVolumeName(t *testing.T) {
	assert.Equal(t, "dlc_sample-dlc_a", VolumeName("sample-dlc", "a"))
	assert.Equal(t, "dlc_sample-dlc_b", VolumeName("sample-dlc", "b"))
}

func TestVolumeNameToID(t *testing.T) {
	assert.Equal(t, "sample-dlc", VolumeNameToID("dlc_sample-dlc_a"))
	assert.Equal(t, "sample-dlc", VolumeNameToID("dlc_sample-dlc_b"))
	assert.Empty(t, VolumeNameToID("thinpool"))
	assert.Empty(t, VolumeNameToID("dlc_sample-dlc_c"))
}

func TestTestClientRoundTrip(t *testing.T) {
	c := NewTestClient()
	err := c.CreateLogicalVolumes([]LogicalVolumeConfig{
		{Name: "dlc_sample-dlc_a", SizeMiB: 4},
		{Name: "dlc_sample-dlc_b", SizeMiB: 4},
	})
	assert.NoError(t, err)
	assert.True(t, c.HasVolume("dlc_sample-dlc_a"))

	path, err := c.LogicalVolumePath("dlc_sample-dlc_a")
	assert.NoError(t, err)
	assert.Equal(t, "/dev/mapper/dlc_sample-dlc_a", path)

	assert.NoError(t, c.ActivateLogicalVolume("dlc_sample-dlc_b"))
	assert.True(t, c.IsActive("dlc_sample-dlc_b"))

	assert.NoError(t, c.RemoveLogicalVolumes([]string{"dlc_sample-dlc_a", "dlc_sample-dlc_b"}))
	assert.False(t, c.HasVolume("dlc_sample-dlc_a"))
}
