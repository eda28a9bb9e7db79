// SPDX-License-Identifier: LGPL-3.0-or-later

package image

import (
	"fmt"

	"dlcd/daemon/boot"
	"dlcd/daemon/dlcerr"
	"dlcd/daemon/lvm"
	"dlcd/daemon/system"
	"dlcd/logger"
)

const mib = int64(1024 * 1024)

// LvmBackend stores each slot in a logical volume named dlc_<id>_<a|b>.
type LvmBackend struct {
	sys    *system.System
	client lvm.Client
	log    logger.Logger
}

func NewLvmBackend(sys *system.System, client lvm.Client, log logger.Logger) *LvmBackend {
	return &LvmBackend{sys: sys, client: client, log: log}
}

func (b *LvmBackend) Type() string { return "lvm" }

func (b *LvmBackend) ImagePath(id, pkg string, slot boot.Slot) (string, error) {
	path, err := b.client.LogicalVolumePath(lvm.VolumeName(id, slot.Suffix()))
	if err != nil {
		return "", fmt.Errorf("resolve logical volume path for DLC=%s: %w", id, err)
	}
	return path, nil
}

func (b *LvmBackend) Create(id, pkg string, size, allocation int64) error {
	// LVM metadata changes are unsafe on the limited-capacity snapshots
	// used while resuming from hibernate.
	if b.sys.ResumingFromHibernate() {
		return dlcerr.New(dlcerr.KindFailedCreationDuringHibernation,
			"not creating logical volumes while resuming from hibernate, DLC=%s", id)
	}

	sizeMiB := toMiB(allocation)
	configs := []lvm.LogicalVolumeConfig{
		{Name: lvm.VolumeName(id, boot.SlotA.Suffix()), SizeMiB: sizeMiB},
		{Name: lvm.VolumeName(id, boot.SlotB.Suffix()), SizeMiB: sizeMiB},
	}
	if err := b.client.CreateLogicalVolumes(configs); err != nil {
		return dlcerr.Wrap(err, dlcerr.KindAllocation,
			"create logical volumes for DLC=%s", id)
	}
	return nil
}

func (b *LvmBackend) Delete(id, pkg string) error {
	names := []string{
		lvm.VolumeName(id, boot.SlotA.Suffix()),
		lvm.VolumeName(id, boot.SlotB.Suffix()),
	}
	if err := b.client.RemoveLogicalVolumes(names); err != nil {
		return fmt.Errorf("remove logical volumes for DLC=%s: %w", id, err)
	}
	return nil
}

// DeleteAsync removes both slot volumes in the background, used by the
// orphan sweep so a slow LVM daemon does not stall startup.
func (b *LvmBackend) DeleteAsync(id string, done func(err error)) {
	names := []string{
		lvm.VolumeName(id, boot.SlotA.Suffix()),
		lvm.VolumeName(id, boot.SlotB.Suffix()),
	}
	b.client.RemoveLogicalVolumesAsync(names, done)
}

func (b *LvmBackend) MakeReadyForUpdate(id, pkg string, slot boot.Slot, size, allocation int64) error {
	name := lvm.VolumeName(id, slot.Suffix())
	cfg := []lvm.LogicalVolumeConfig{{Name: name, SizeMiB: toMiB(allocation)}}
	if err := b.client.ResizeLogicalVolumes(cfg); err != nil {
		if err := b.client.CreateLogicalVolumes(cfg); err != nil {
			return fmt.Errorf("create inactive logical volume for DLC=%s: %w", id, err)
		}
	}
	if err := b.client.ActivateLogicalVolume(name); err != nil {
		return fmt.Errorf("activate inactive logical volume for DLC=%s: %w", id, err)
	}
	return nil
}

func (b *LvmBackend) ListIDs() ([]string, error) {
	lvs, err := b.client.ListLogicalVolumes()
	if err != nil {
		return nil, fmt.Errorf("list logical volumes: %w", err)
	}
	seen := map[string]bool{}
	var ids []string
	for _, lv := range lvs {
		id := lvm.VolumeNameToID(lv.Name)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func toMiB(bytes int64) int64 {
	return (bytes + mib - 1) / mib
}
