// SPDX-License-Identifier: LGPL-3.0-or-later

package image

import (
	"fmt"
	"os"
	"path/filepath"

	"dlcd/daemon/boot"
	"dlcd/daemon/dlcerr"
	"dlcd/daemon/system"
	"dlcd/logger"
)

// FileBackend stores each slot as a file at
// <content_dir>/<id>/<package>/dlc_<slot>/dlc.img.
type FileBackend struct {
	sys *system.System
	log logger.Logger
}

func NewFileBackend(sys *system.System, log logger.Logger) *FileBackend {
	return &FileBackend{sys: sys, log: log}
}

func (b *FileBackend) Type() string { return "file" }

func (b *FileBackend) ImagePath(id, pkg string, slot boot.Slot) (string, error) {
	return filepath.Join(b.sys.ContentDir(), id, pkg, slot.String(), ImageFileName), nil
}

func (b *FileBackend) Create(id, pkg string, size, allocation int64) error {
	for _, slot := range []boot.Slot{boot.SlotA, boot.SlotB} {
		path, _ := b.ImagePath(id, pkg, slot)

		// If resuming from hibernate, space on stateful is limited by the
		// dm-snapshots set up on top of it. Only already-allocated images
		// may pass.
		if b.sys.ResumingFromHibernate() && FileSize(path) < allocation {
			return dlcerr.New(dlcerr.KindFailedCreationDuringHibernation,
				"not creating image file while resuming from hibernate, DLC=%s", id)
		}

		if err := CreateFile(path, allocation); err != nil {
			if err := CreateFile(path, size); err != nil {
				return dlcerr.Wrap(err, dlcerr.KindAllocation,
					"create image file %s for DLC=%s", path, id)
			}
			if err := ResizeFile(path, allocation); err != nil {
				b.log.Warn("unable to allocate up to preallocated size",
					"id", id, "allocation", allocation, "error", err)
			}
		}
	}
	return nil
}

func (b *FileBackend) Delete(id, pkg string) error {
	path := filepath.Join(b.sys.ContentDir(), id)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete content directory %s: %w", path, err)
	}
	return nil
}

func (b *FileBackend) MakeReadyForUpdate(id, pkg string, slot boot.Slot, size, allocation int64) error {
	path, _ := b.ImagePath(id, pkg, slot)
	if err := CreateFile(path, size); err != nil {
		return fmt.Errorf("create inactive image %s for DLC=%s: %w", path, id, err)
	}
	if err := ResizeFile(path, allocation); err != nil {
		b.log.Warn("unable to allocate up to preallocated size for update",
			"id", id, "allocation", allocation, "error", err)
	}
	return nil
}

func (b *FileBackend) ListIDs() ([]string, error) {
	entries, err := os.ReadDir(b.sys.ContentDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan content directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
