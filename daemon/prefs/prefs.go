// SPDX-License-Identifier: LGPL-3.0-or-later

// Package prefs is the durable per-DLC key/value store. Each key is a file
// under a prefs root; the file content is the value. Prefs survive reboots
// and define cross-boot DLC state together with the image files.
package prefs

import (
	"fmt"
	"os"
	"path/filepath"

	"dlcd/daemon/boot"
)

const (
	// KeyVerified marks a slot image as verified; its content is the
	// verification value in effect when the mark was written.
	KeyVerified = "verified"

	// KeyRootMount records the mount root for consumers that cannot use
	// IPC. Only written when the manifest requires a mount file.
	KeyRootMount = "root_mount"
)

const (
	filePerms = 0o644
	dirPerms  = 0o755
)

// Prefs operates on one prefs root directory.
type Prefs struct {
	root string
}

// New returns a Prefs over an explicit root directory.
func New(root string) *Prefs {
	return &Prefs{root: root}
}

// ForSlot returns the per-slot prefs of a DLC:
// <prefs_dir>/<id>/<slot-suffix>.
func ForSlot(prefsDir, id string, slot boot.Slot) *Prefs {
	return New(filepath.Join(prefsDir, id, slot.Suffix()))
}

// ForPackage returns the per-package prefs of a DLC:
// <prefs_dir>/<id>/<package>.
func ForPackage(prefsDir, id, pkg string) *Prefs {
	return New(filepath.Join(prefsDir, id, pkg))
}

// Root returns the prefs root directory.
func (p *Prefs) Root() string { return p.root }

// SetKey writes value under key, creating the root if needed.
func (p *Prefs) SetKey(key, value string) error {
	if err := os.MkdirAll(p.root, dirPerms); err != nil {
		return fmt.Errorf("create prefs root %s: %w", p.root, err)
	}
	path := filepath.Join(p.root, key)
	if err := os.WriteFile(path, []byte(value), filePerms); err != nil {
		return fmt.Errorf("write prefs file %s: %w", path, err)
	}
	return nil
}

// GetKey reads the value stored under key.
func (p *Prefs) GetKey(key string) (string, error) {
	path := filepath.Join(p.root, key)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prefs file %s: %w", path, err)
	}
	return string(data), nil
}

// Create stores an empty value under key.
func (p *Prefs) Create(key string) error {
	return p.SetKey(key, "")
}

// Exists reports whether key is present.
func (p *Prefs) Exists(key string) bool {
	_, err := os.Stat(filepath.Join(p.root, key))
	return err == nil
}

// Delete removes key. Deleting an absent key succeeds.
func (p *Prefs) Delete(key string) error {
	if err := os.RemoveAll(filepath.Join(p.root, key)); err != nil {
		return fmt.Errorf("delete prefs key %s: %w", key, err)
	}
	return nil
}
