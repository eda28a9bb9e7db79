// SPDX-License-Identifier: LGPL-3.0-or-later

// Package manifest reads the rootfs-bundled, per-DLC manifest files. The
// manifest is the authoritative description of a DLC: its size, expected
// payload hash and behavioral flags. Manifests live at
// <manifest_dir>/<id>/<package>/imageloader.json.
package manifest

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

const (
	// FileName is the per-DLC manifest file name bundled in the rootfs.
	FileName = "imageloader.json"

	// MetadataFileName holds the compressed-metadata map of additional
	// supported DLC ids shipped without individual manifest directories.
	MetadataFileName = "metadata.json"

	// DevSize marks an under-development DLC whose preallocated size is
	// not pinned yet. Such DLCs are excluded from OS updates.
	DevSize int64 = -1
)

// Size accepts both JSON numbers and decimal strings, matching the two
// encodings found in shipped manifests.
type Size int64

func (s *Size) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 1 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		v, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return fmt.Errorf("parse size %q: %w", str, err)
		}
		*s = Size(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Size(v)
	return nil
}

// Manifest describes a single DLC as declared in the rootfs.
type Manifest struct {
	ID          string `json:"id"`
	Package     string `json:"package"`
	Name        string `json:"name"`
	Description string `json:"description"`

	Size             Size   `json:"size"`
	PreallocatedSize Size   `json:"preallocated-size"`
	ImageSha256Hex   string `json:"image-sha256-hash"`

	PreloadAllowed    bool `json:"preload-allowed"`
	FactoryInstall    bool `json:"factory-install"`
	Reserved          bool `json:"reserved"`
	UserTied          bool `json:"user-tied"`
	MountFileRequired bool `json:"mount-file-required"`
	Scaled            bool `json:"scaled"`
	ForceOTA          bool `json:"force-ota"`
}

// ImageSha256 decodes the expected payload hash.
func (m *Manifest) ImageSha256() ([]byte, error) {
	sum, err := hex.DecodeString(m.ImageSha256Hex)
	if err != nil {
		return nil, fmt.Errorf("decode image hash for DLC=%s: %w", m.ID, err)
	}
	if len(sum) != 32 {
		return nil, fmt.Errorf("image hash for DLC=%s has %d bytes, want 32", m.ID, len(sum))
	}
	return sum, nil
}

// IsUnderDevelopment reports whether the preallocated size is the dev
// sentinel, in which case the manifest size is used for allocation.
func (m *Manifest) IsUnderDevelopment() bool {
	return int64(m.PreallocatedSize) == DevSize
}

// AllocationSize is the byte count reserved on disk for each slot image.
func (m *Manifest) AllocationSize() int64 {
	if m.IsUnderDevelopment() {
		return int64(m.Size)
	}
	return int64(m.PreallocatedSize)
}

func (m *Manifest) validate() error {
	if m.Size <= 0 {
		return fmt.Errorf("manifest for DLC=%s has non-positive size %d", m.ID, m.Size)
	}
	if _, err := m.ImageSha256(); err != nil {
		return err
	}
	return nil
}

// Parse decodes and validates a manifest from raw JSON. The id and package
// are taken from the directory layout and override any values embedded in
// the file.
func Parse(data []byte, id, pkg string) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest for DLC=%s: %w", id, err)
	}
	m.ID = id
	m.Package = pkg
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Read loads the manifest for a DLC id and package from the manifest dir.
func Read(manifestDir, id, pkg string) (*Manifest, error) {
	path := filepath.Join(manifestDir, id, pkg, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest file %s: %w", path, err)
	}
	return Parse(data, id, pkg)
}

// FirstPackage returns the lexically first package directory for a DLC id.
// Production DLCs carry a single package.
func FirstPackage(manifestDir, id string) (string, error) {
	pkgs, err := ScanDirectory(filepath.Join(manifestDir, id))
	if err != nil {
		return "", err
	}
	if len(pkgs) == 0 {
		return "", fmt.Errorf("no package directory for DLC=%s", id)
	}
	return pkgs[0], nil
}

// ScanDirectory lists the immediate subdirectory names of dir, sorted.
// A missing dir yields an empty list.
func ScanDirectory(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan directory %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// SupportedIDs returns every DLC id the rootfs supports: ids found in the
// compressed metadata map plus ids with their own manifest directory.
func SupportedIDs(manifestDir string) ([]string, error) {
	seen := map[string]bool{}

	metaPath := filepath.Join(manifestDir, MetadataFileName)
	if data, err := os.ReadFile(metaPath); err == nil {
		var meta map[string]json.RawMessage
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("parse metadata file %s: %w", metaPath, err)
		}
		for id := range meta {
			seen[id] = true
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read metadata file %s: %w", metaPath, err)
	}

	dirs, err := ScanDirectory(manifestDir)
	if err != nil {
		return nil, err
	}
	for _, id := range dirs {
		seen[id] = true
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
