// SPDX-License-Identifier: LGPL-3.0-or-later

// Package manager owns the set of supported DLCs, dispatches client
// operations, enforces the single-in-flight-install invariant, reconciles
// with asynchronous updater status and garbage-collects orphan images.
package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"dlcd/config"
	"dlcd/daemon/dlc"
	"dlcd/daemon/dlcerr"
	"dlcd/daemon/image"
	"dlcd/daemon/installer"
	"dlcd/daemon/loader"
	"dlcd/daemon/models"
	"dlcd/daemon/notify"
	"dlcd/daemon/system"
	"dlcd/logger"
	"dlcd/manifest"
)

// Manager serializes every DLC transition behind one mutex, standing in
// for the single-threaded loop of the service: no transition can observe
// a partially applied prior transition.
type Manager struct {
	mu sync.Mutex

	cfg       *config.Config
	sys       *system.System
	backend   image.Backend
	ldr       loader.Loader
	inst      installer.Installer
	notifier  *notify.Notifier
	log       logger.Logger

	supported map[string]*dlc.DLC

	// installingID is the unique DLC awaiting an updater payload; empty
	// when no install is in flight.
	installingID string

	// toleranceCount tracks consecutive non-install updater statuses.
	toleranceCount int

	watchdogActive bool
}

// Deps are the manager's collaborators.
type Deps struct {
	Cfg       *config.Config
	Sys       *system.System
	Backend   image.Backend
	Loader    loader.Loader
	Installer installer.Installer
	Notifier  *notify.Notifier
	Log       logger.Logger
}

func New(deps Deps) *Manager {
	return &Manager{
		cfg:       deps.Cfg,
		sys:       deps.Sys,
		backend:   deps.Backend,
		ldr:       deps.Loader,
		inst:      deps.Installer,
		notifier:  deps.Notifier,
		log:       deps.Log,
		supported: make(map[string]*dlc.DLC),
	}
}

// Initialize discovers supported DLCs, constructs and initializes an
// entity per id (dropping failures), garbage-collects orphan images and
// wires updater signals.
func (m *Manager) Initialize() error {
	if err := os.MkdirAll(m.cfg.PrefsDir, 0o755); err != nil {
		return fmt.Errorf("create prefs directory: %w", err)
	}

	ids, err := manifest.SupportedIDs(m.cfg.ManifestDir)
	if err != nil {
		return fmt.Errorf("discover supported DLCs: %w", err)
	}

	for _, id := range ids {
		entity := dlc.New(id, dlc.Deps{
			Sys:       m.sys,
			Backend:   m.backend,
			Loader:    m.ldr,
			Installer: m.inst,
			Notifier:  m.notifier,
			Log:       m.log,
		})
		if err := entity.Initialize(); err != nil {
			m.log.Error("failed to initialize DLC, dropping", "id", id, "error", err)
			continue
		}
		m.supported[id] = entity
	}

	m.CleanupUnsupported()

	m.inst.AddObserver(m)
	m.inst.OnReady(func(ready bool) {
		m.log.Info("updater service available", "ready", ready)
		if err := m.inst.RequestStatus(); err != nil {
			m.log.Warn("failed to request updater status", "error", err)
		}
	})

	return nil
}

// CleanupUnsupported deletes on-disk state of ids that are present in
// storage but not supported, along with stale preload copies.
func (m *Manager) CleanupUnsupported() {
	ids, err := m.backend.ListIDs()
	if err != nil {
		m.log.Error("failed to enumerate image storage for cleanup", "error", err)
	}
	asyncDeleter, _ := m.backend.(interface {
		DeleteAsync(id string, done func(err error))
	})
	for _, id := range ids {
		if _, ok := m.supported[id]; ok {
			continue
		}
		m.log.Info("deleting storage for deprecated DLC", "id", id)
		if asyncDeleter != nil {
			deprecated := id
			asyncDeleter.DeleteAsync(deprecated, func(err error) {
				if err != nil {
					m.log.Error("failed to delete volumes for deprecated DLC",
						"id", deprecated, "error", err)
				}
			})
		} else if err := m.backend.Delete(id, ""); err != nil {
			m.log.Error("failed to delete images for deprecated DLC", "id", id, "error", err)
		}
		for _, path := range []string{
			filepath.Join(m.cfg.PrefsDir, id),
			filepath.Join(m.cfg.FactoryInstallDir, id),
		} {
			if err := os.RemoveAll(path); err != nil {
				m.log.Error("failed to delete path for deprecated DLC",
					"id", id, "path", path, "error", err)
			}
		}
	}

	// Preload copies for unsupported or preload-disallowed DLCs.
	preloadIDs, err := manifest.ScanDirectory(m.cfg.PreloadedContentDir)
	if err != nil {
		m.log.Error("failed to scan preloaded content", "error", err)
	}
	for _, id := range preloadIDs {
		if entity, ok := m.supported[id]; ok && entity.IsPreloadAllowed() {
			continue
		}
		path := filepath.Join(m.cfg.PreloadedContentDir, id)
		if err := os.RemoveAll(path); err != nil {
			m.log.Error("failed to delete stale preload copy", "id", id, "error", err)
		} else {
			m.log.Info("deleted stale preload copy", "id", id)
		}
	}
}

func (m *Manager) get(id string) (*dlc.DLC, error) {
	entity, ok := m.supported[id]
	if !ok {
		return nil, dlcerr.New(dlcerr.KindInvalidDlc, "passed unsupported DLC=%s", id)
	}
	return entity, nil
}

// Install drives one DLC toward Installed, scheduling an updater fetch
// when a payload is needed. A second install for a different DLC while one
// is in flight fails busy; for the same DLC it is idempotent.
func (m *Manager) Install(req models.InstallRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entity, err := m.get(req.ID)
	if err != nil {
		return err
	}

	entity.SetReserve(req.Reserve)

	// Already being installed; nothing more to do.
	if entity.IsInstalling() {
		return nil
	}

	if err := entity.Install(); err != nil {
		return err
	}

	// Only a DLC still Installing after Install needs the updater.
	if !entity.IsInstalling() {
		return nil
	}

	if m.installingID != "" && m.installingID != req.ID {
		busy := dlcerr.New(dlcerr.KindBusy,
			"installation already in progress for DLC=%s, cannot install DLC=%s right now",
			m.installingID, req.ID)
		if err := entity.CancelInstall(busy); err != nil {
			m.log.Error("failed to cancel conflicting install", "id", req.ID, "error", err)
		}
		return busy
	}

	m.installingID = req.ID

	if !m.inst.IsReady() {
		busy := dlcerr.New(dlcerr.KindBusy, "installation called before updater is available")
		m.cancelInstallLocked(busy)
		return busy
	}

	if status, _ := m.inst.LastStatus(); status.Operation == installer.OpUpdatedNeedReboot {
		err := dlcerr.New(dlcerr.KindNeedReboot,
			"updater applied an OS update, device needs a reboot")
		m.cancelInstallLocked(err)
		return err
	}

	m.log.Info("sending request to install DLC", "id", req.ID)
	if err := m.inst.Install(installer.InstallArgs{
		ID:       req.ID,
		URL:      req.URL,
		Scaled:   entity.IsScaled(),
		ForceOTA: entity.IsForceOTA() || req.ForceOTA,
	}); err != nil {
		m.log.Error("updater failed to schedule install operations", "id", req.ID, "error", err)
		busy := dlcerr.Wrap(err, dlcerr.KindBusy,
			"updater failed to schedule install operations")
		m.cancelInstallLocked(busy)
		return busy
	}

	// The updater is installing now; watch for missed signals.
	m.scheduleWatchdogLocked()
	return nil
}

// Uninstall forwards to the entity.
func (m *Manager) Uninstall(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entity, err := m.get(id)
	if err != nil {
		return err
	}
	return entity.Uninstall()
}

// Purge is equivalent to Uninstall at the service layer.
func (m *Manager) Purge(id string) error {
	return m.Uninstall(id)
}

// Deploy forwards to the entity.
func (m *Manager) Deploy(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entity, err := m.get(id)
	if err != nil {
		return err
	}
	return entity.Deploy()
}

// GetDlcState returns one DLC's client-visible state.
func (m *Manager) GetDlcState(id string) (models.DlcState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entity, err := m.get(id)
	if err != nil {
		return models.DlcState{}, err
	}
	return entity.State(), nil
}

// GetInstalled lists the states of installed DLCs.
func (m *Manager) GetInstalled() []models.DlcState {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.DlcState
	for _, id := range m.sortedIDs() {
		entity := m.supported[id]
		if entity.IsInstalled() {
			out = append(out, entity.State())
		}
	}
	return out
}

// GetExistingDlcs lists supported DLCs with content in storage, mounted
// or not.
func (m *Manager) GetExistingDlcs() []models.ExistingDlc {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[string]bool{}
	ids, err := m.backend.ListIDs()
	if err != nil {
		m.log.Error("failed to enumerate image storage", "error", err)
	}
	for _, id := range ids {
		seen[id] = true
	}
	for id, entity := range m.supported {
		if entity.HasContent() {
			seen[id] = true
		}
	}

	var out []models.ExistingDlc
	for id := range seen {
		entity, ok := m.supported[id]
		if !ok {
			continue
		}
		out = append(out, models.ExistingDlc{
			ID:          id,
			Name:        entity.Name(),
			Description: entity.Description(),
			UsedBytes:   entity.UsedBytesOnDisk(),
			IsRemovable: !entity.SetReserve(nil),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetDlcsToUpdate prepares every eligible DLC's inactive slot and returns
// the ids to include in the next OS-update payload list.
func (m *Manager) GetDlcsToUpdate() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, id := range m.sortedIDs() {
		if m.supported[id].MakeReadyForUpdate() {
			out = append(out, id)
		}
	}
	return out
}

// InstallCompleted forwards the updater's active-slot completion signal.
func (m *Manager) InstallCompleted(ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var last error
	for _, id := range ids {
		entity, err := m.get(id)
		if err != nil {
			m.log.Warn("completing installation for unsupported DLC", "id", id)
			last = err
			continue
		}
		if err := entity.InstallCompleted(); err != nil {
			m.log.Warn("failed to complete install", "id", id, "error", err)
			last = err
		}
	}
	return last
}

// UpdateCompleted forwards the updater's inactive-slot completion signal.
func (m *Manager) UpdateCompleted(ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var last error
	for _, id := range ids {
		entity, err := m.get(id)
		if err != nil {
			m.log.Warn("completing update for unsupported DLC", "id", id)
			last = err
			continue
		}
		if err := entity.UpdateCompleted(); err != nil {
			m.log.Warn("failed to complete update", "id", id, "error", err)
			last = err
		}
	}
	return last
}

// Unload unloads DLCs matching the selector: one explicit id, or every
// mounted user-tied and/or scaled DLC.
func (m *Manager) Unload(sel models.UnloadSelector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sel.ID != "" {
		entity, err := m.get(sel.ID)
		if err != nil {
			return err
		}
		return entity.Unload()
	}

	if !sel.UserTied && !sel.Scaled {
		m.log.Warn("DLC unload selection is empty")
		return nil
	}

	mounted, err := manifest.ScanDirectory(m.cfg.MountBase)
	if err != nil {
		return dlcerr.Wrap(err, dlcerr.KindInternal, "scan mount base")
	}

	var failed []string
	for _, id := range mounted {
		entity, ok := m.supported[id]
		if !ok || !((sel.UserTied && entity.IsUserTied()) || (sel.Scaled && entity.IsScaled())) {
			continue
		}
		if err := entity.Unload(); err != nil {
			m.log.Error("failed to unload DLC", "id", id, "error", err)
			failed = append(failed, id)
		}
	}

	if len(failed) > 0 {
		return dlcerr.New(dlcerr.KindInternal, "failed to unload DLCs: %v", failed)
	}
	return nil
}

// InstallingID exposes the in-flight install for introspection.
func (m *Manager) InstallingID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.installingID
}

// OnStatusUpdate reconciles one updater status broadcast with the
// in-flight install.
func (m *Manager) OnStatusUpdate(status installer.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.installingID == "" {
		m.toleranceCount = 0
		return
	}

	if !status.IsInstall {
		m.toleranceCount++
		if m.toleranceCount <= m.cfg.ToleranceCap {
			m.log.Warn("updater status is not for an install while an install is in flight",
				"tolerance", m.toleranceCount)
			return
		}
		m.toleranceCount = 0
		err := dlcerr.New(dlcerr.KindFailedInstallInUpdater,
			"updater status is not for an install, but an install was in flight")
		m.cancelInstallLocked(err)
		return
	}

	// Any valid install status resets the tolerance.
	m.toleranceCount = 0

	switch status.Operation {
	case installer.OpUpdatedNeedReboot:
		m.cancelInstallLocked(dlcerr.New(dlcerr.KindNeedReboot,
			"updater applied an OS update, device needs a reboot"))

	case installer.OpReportingErrorEvent:
		m.cancelInstallLocked(dlcerr.New(dlcerr.KindFailedInstallInUpdater,
			"updater indicates reporting failure"))

	case installer.OpDownloading:
		// The bulk of an install happens while downloading; progress only
		// grows here.
		for _, entity := range m.supported {
			if entity.IsInstalling() {
				entity.ChangeProgress(status.Progress)
			}
		}

	case installer.OpIdle:
		m.log.Info("updater went idle, proceeding to complete installation")
		m.finishInstallLocked()
	}
}

func (m *Manager) finishInstallLocked() {
	id := m.installingID
	m.installingID = ""

	entity, err := m.get(id)
	if err != nil {
		m.log.Error("finishing installation for invalid DLC", "id", id)
		return
	}
	if !entity.IsInstalling() {
		m.log.Error("finishing installation for a DLC that is not being installed", "id", id)
		return
	}
	if err := entity.FinishInstall(true); err != nil {
		m.log.Error("failed to finish install", "id", id, "error", err)
	}
}

func (m *Manager) cancelInstallLocked(cause error) {
	if m.installingID == "" {
		m.log.Error("no DLC installation to cancel")
		return
	}
	id := m.installingID
	m.installingID = ""

	entity, err := m.get(id)
	if err != nil {
		return
	}
	if !entity.IsInstalling() {
		return
	}
	if err := entity.CancelInstall(cause); err != nil {
		m.log.Error("failed to cancel install", "id", id, "error", err)
	}
}

// scheduleWatchdogLocked arms the periodic install check, which re-polls
// updater status when no signal has been seen within the interval.
func (m *Manager) scheduleWatchdogLocked() {
	if m.watchdogActive {
		return
	}
	m.watchdogActive = true
	time.AfterFunc(m.cfg.WatchdogInterval, m.periodicInstallCheck)
}

func (m *Manager) periodicInstallCheck() {
	m.mu.Lock()
	m.watchdogActive = false

	if m.installingID == "" {
		m.mu.Unlock()
		return
	}

	_, seen := m.inst.LastStatus()
	stale := time.Since(seen) > m.cfg.WatchdogInterval
	m.scheduleWatchdogLocked()
	m.mu.Unlock()

	if stale {
		if err := m.inst.RequestStatus(); err != nil {
			m.log.Error("failed to query updater status", "error", err)
		}
	}
}

func (m *Manager) sortedIDs() []string {
	ids := make([]string, 0, len(m.supported))
	for id := range m.supported {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
