// SPDX-License-Identifier: LGPL-3.0-or-later

// Package system bundles the per-boot facts every DLC operation consults:
// the storage layout, the active boot slot and the verification-value epoch.
package system

import (
	"fmt"
	"os"

	"dlcd/config"
	"dlcd/daemon/boot"
	"dlcd/logger"
)

// System is constructed once at startup and shared read-only afterwards.
type System struct {
	cfg               *config.Config
	activeSlot        boot.Slot
	verificationValue string
}

// New resolves the boot slot and reads the verification-value file. A
// missing verification file is tolerated and leaves the epoch empty; only
// verified stamps with empty content match it.
func New(cfg *config.Config, log logger.Logger) (*System, error) {
	slot, err := boot.Parse(cfg.ActiveSlot)
	if err != nil {
		return nil, fmt.Errorf("resolve active slot: %w", err)
	}

	s := &System{cfg: cfg, activeSlot: slot}

	data, err := os.ReadFile(cfg.VerificationFile)
	if err != nil {
		log.Warn("failed to read verification value file",
			"path", cfg.VerificationFile, "error", err)
	} else {
		s.verificationValue = string(data)
	}

	return s, nil
}

func (s *System) ContentDir() string          { return s.cfg.ContentDir }
func (s *System) PrefsDir() string            { return s.cfg.PrefsDir }
func (s *System) ManifestDir() string         { return s.cfg.ManifestDir }
func (s *System) PreloadedContentDir() string { return s.cfg.PreloadedContentDir }
func (s *System) FactoryInstallDir() string   { return s.cfg.FactoryInstallDir }
func (s *System) DeployedContentDir() string  { return s.cfg.DeployedContentDir }
func (s *System) MountBase() string           { return s.cfg.MountBase }

func (s *System) ActiveSlot() boot.Slot   { return s.activeSlot }
func (s *System) InactiveSlot() boot.Slot { return s.activeSlot.Other() }

// VerificationValue is the opaque epoch string stored into verified prefs.
// Compared byte-exactly, never normalized.
func (s *System) VerificationValue() string { return s.verificationValue }

func (s *System) IsOfficialBuild() bool   { return s.cfg.OfficialBuild }
func (s *System) IsDeviceRemovable() bool { return s.cfg.DeviceRemovable }

// ResumingFromHibernate reports whether the hibernate-resume flag file is
// present. During that window stateful writes run on limited dm-snapshot
// capacity, so image allocation is refused.
func (s *System) ResumingFromHibernate() bool {
	if s.cfg.HibernateResumeFile == "" {
		return false
	}
	_, err := os.Stat(s.cfg.HibernateResumeFile)
	return err == nil
}
