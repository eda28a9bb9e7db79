// SPDX-License-Identifier: LGPL-3.0-or-later

package prefs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlcd/daemon/boot"
)

func TestSetGetDelete(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "sample-dlc", "a"))

	assert.False(t, p.Exists(KeyVerified))

	require.NoError(t, p.SetKey(KeyVerified, "epoch-1"))
	assert.True(t, p.Exists(KeyVerified))

	value, err := p.GetKey(KeyVerified)
	require.NoError(t, err)
	assert.Equal(t, "epoch-1", value)

	require.NoError(t, p.Delete(KeyVerified))
	assert.False(t, p.Exists(KeyVerified))
}

func TestDeleteAbsentKeySucceeds(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "root"))
	assert.NoError(t, p.Delete(KeyVerified))
}

func TestGetMissingKeyFails(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "root"))
	_, err := p.GetKey("nope")
	assert.Error(t, err)
}

func TestCreateWritesEmptyValue(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "root"))
	require.NoError(t, p.Create(KeyVerified))

	value, err := p.GetKey(KeyVerified)
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestSlotAndPackageRoots(t *testing.T) {
	dir := t.TempDir()
	slotPrefs := ForSlot(dir, "sample-dlc", boot.SlotB)
	assert.Equal(t, filepath.Join(dir, "sample-dlc", "b"), slotPrefs.Root())

	pkgPrefs := ForPackage(dir, "sample-dlc", "package")
	assert.Equal(t, filepath.Join(dir, "sample-dlc", "package"), pkgPrefs.Root())
}

func TestOverwrite(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "root"))
	require.NoError(t, p.SetKey(KeyVerified, "epoch-1"))
	require.NoError(t, p.SetKey(KeyVerified, "epoch-2"))

	value, err := p.GetKey(KeyVerified)
	require.NoError(t, err)
	assert.Equal(t, "epoch-2", value)
}
