// SPDX-License-Identifier: LGPL-3.0-or-later

package manager

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlcd/config"
	"dlcd/daemon/dlcerr"
	"dlcd/daemon/image"
	"dlcd/daemon/installer"
	"dlcd/daemon/loader"
	"dlcd/daemon/models"
	"dlcd/daemon/notify"
	"dlcd/daemon/prefs"
	"dlcd/daemon/system"
	"dlcd/logger"
)

var testPayload = bytes.Repeat([]byte{0xAB}, 64)

type fixture struct {
	t       *testing.T
	cfg     *config.Config
	sys     *system.System
	backend *image.FileBackend
	ldr     *loader.TestLoader
	inst    *installer.TestInstaller
	ntf     *notify.Notifier
	mgr     *Manager

	states []models.DlcState
}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.ContentDir = filepath.Join(dir, "content")
	cfg.PrefsDir = filepath.Join(dir, "prefs")
	cfg.ManifestDir = filepath.Join(dir, "manifests")
	cfg.PreloadedContentDir = filepath.Join(dir, "preloaded")
	cfg.FactoryInstallDir = filepath.Join(dir, "factory")
	cfg.DeployedContentDir = filepath.Join(dir, "deployed")
	cfg.MountBase = filepath.Join(dir, "mount")
	cfg.VerificationFile = filepath.Join(dir, "lsb-release")
	require.NoError(t, os.WriteFile(cfg.VerificationFile, []byte("epoch-1"), 0o644))

	f := &fixture{cfg: cfg, t: t}
	for _, id := range ids {
		f.writeManifest(id, "")
	}

	log := logger.NewTestLogger(t)
	sys, err := system.New(cfg, log)
	require.NoError(t, err)

	f.sys = sys
	f.backend = image.NewFileBackend(sys, log)
	f.ldr = loader.NewTestLoader(cfg.MountBase)
	f.inst = installer.NewTestInstaller()
	f.ntf = notify.New()
	f.ntf.Attach(notify.ObserverFunc(func(s models.DlcState) {
		f.states = append(f.states, s)
	}))

	f.mgr = New(Deps{
		Cfg:       cfg,
		Sys:       sys,
		Backend:   f.backend,
		Loader:    f.ldr,
		Installer: f.inst,
		Notifier:  f.ntf,
		Log:       log,
	})
	require.NoError(t, f.mgr.Initialize())
	return f
}

func (f *fixture) writeManifest(id, extra string) {
	hash := sha256.Sum256(testPayload)
	body := fmt.Sprintf(`{
		"name": "%s",
		"description": "test DLC",
		"size": "%d",
		"preallocated-size": "%d",
		"image-sha256-hash": "%s"%s
	}`, id, len(testPayload), 2*len(testPayload), hex.EncodeToString(hash[:]), extra)

	path := filepath.Join(f.cfg.ManifestDir, id, "package")
	require.NoError(f.t, os.MkdirAll(path, 0o755))
	require.NoError(f.t, os.WriteFile(filepath.Join(path, "imageloader.json"), []byte(body), 0o644))
}

func (f *fixture) provisionVerified(id string) {
	path := filepath.Join(f.cfg.ContentDir, id, "package", "dlc_a", image.ImageFileName)
	require.NoError(f.t, image.CreateFile(path, int64(2*len(testPayload))))
	file, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	require.NoError(f.t, err)
	_, err = file.WriteAt(testPayload, 0)
	require.NoError(f.t, err)
	require.NoError(f.t, file.Close())

	p := prefs.ForSlot(f.cfg.PrefsDir, id, f.sys.ActiveSlot())
	require.NoError(f.t, p.SetKey(prefs.KeyVerified, "epoch-1"))
}

func (f *fixture) writeUpdaterPayload(id string, payload []byte) {
	path := filepath.Join(f.cfg.ContentDir, id, "package", "dlc_a", image.ImageFileName)
	file, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	require.NoError(f.t, err)
	defer file.Close()
	_, err = file.WriteAt(payload, 0)
	require.NoError(f.t, err)
}

func (f *fixture) state(id string) models.DlcState {
	state, err := f.mgr.GetDlcState(id)
	require.NoError(f.t, err)
	return state
}

// Scenario: install of an already verified DLC mounts without the updater.
func TestInstallAlreadyVerified(t *testing.T) {
	f := newFixture(t, "first-dlc")
	f.provisionVerified("first-dlc")
	// Entity was constructed before provisioning; rebuild so prefs load.
	f = reload(f, "first-dlc")

	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "first-dlc"}))

	assert.Equal(t, models.StatusInstalled, f.state("first-dlc").Status)
	assert.Equal(t, 1, f.ldr.Loads())
	assert.Empty(t, f.mgr.InstallingID())
	assert.Empty(t, f.inst.Installs())

	active, ok := f.inst.ActiveValue("first-dlc")
	assert.True(t, ok)
	assert.True(t, active)

	var statuses []models.DlcStatus
	for _, s := range f.states {
		if s.ID == "first-dlc" {
			statuses = append(statuses, s.Status)
		}
	}
	assert.Equal(t, []models.DlcStatus{models.StatusInstalling, models.StatusInstalled}, statuses)
}

// reload recreates the fixture's manager over the same directories so
// entities re-read durable state.
func reload(f *fixture, ids ...string) *fixture {
	t := f.t
	log := logger.NewTestLogger(t)
	sys, err := system.New(f.cfg, log)
	require.NoError(t, err)

	nf := &fixture{t: t, cfg: f.cfg, sys: sys}
	nf.backend = image.NewFileBackend(sys, log)
	nf.ldr = loader.NewTestLoader(f.cfg.MountBase)
	nf.inst = installer.NewTestInstaller()
	nf.ntf = notify.New()
	nf.ntf.Attach(notify.ObserverFunc(func(s models.DlcState) {
		nf.states = append(nf.states, s)
	}))
	nf.mgr = New(Deps{
		Cfg:       f.cfg,
		Sys:       sys,
		Backend:   nf.backend,
		Loader:    nf.ldr,
		Installer: nf.inst,
		Notifier:  nf.ntf,
		Log:       log,
	})
	require.NoError(t, nf.mgr.Initialize())
	return nf
}

// Scenario: install requiring the updater, then Downloading and Idle.
func TestInstallViaUpdater(t *testing.T) {
	f := newFixture(t, "second-dlc")

	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "second-dlc"}))
	assert.Equal(t, models.StatusInstalling, f.state("second-dlc").Status)
	assert.Equal(t, "second-dlc", f.mgr.InstallingID())

	installs := f.inst.Installs()
	require.Len(t, installs, 1)
	assert.Equal(t, "second-dlc", installs[0].ID)

	f.inst.SendStatus(installer.Status{
		Operation: installer.OpDownloading, IsInstall: true, Progress: 0.5,
	})
	assert.Equal(t, 0.5, f.state("second-dlc").Progress)

	// Updater wrote the payload, then went idle.
	f.writeUpdaterPayload("second-dlc", testPayload)
	f.inst.SendStatus(installer.Status{Operation: installer.OpIdle, IsInstall: true})

	state := f.state("second-dlc")
	assert.Equal(t, models.StatusInstalled, state.Status)
	assert.True(t, state.IsVerified)
	assert.Equal(t, 1.0, state.Progress)
	assert.Empty(t, f.mgr.InstallingID())

	var installed int
	for _, s := range f.states {
		if s.ID == "second-dlc" && s.Status == models.StatusInstalled {
			installed++
		}
	}
	assert.Equal(t, 1, installed)
}

// Scenario: updater wrote a corrupt payload; verification fails on Idle.
func TestInstallVerificationFailure(t *testing.T) {
	f := newFixture(t, "second-dlc")

	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "second-dlc"}))
	f.writeUpdaterPayload("second-dlc", bytes.Repeat([]byte{0xCD}, len(testPayload)))
	f.inst.SendStatus(installer.Status{Operation: installer.OpIdle, IsInstall: true})

	state := f.state("second-dlc")
	assert.Equal(t, models.StatusNotInstalled, state.Status)
	assert.Equal(t, dlcerr.KindFailedToVerifyImage, state.LastErrorKind)
	assert.False(t, image.PathExists(filepath.Join(f.cfg.ContentDir, "second-dlc")))
	assert.Empty(t, f.mgr.InstallingID())
}

// Scenario: two concurrent updater installs; the second is refused busy.
func TestConcurrentInstallsRefused(t *testing.T) {
	f := newFixture(t, "second-dlc", "third-dlc")

	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "second-dlc"}))

	err := f.mgr.Install(models.InstallRequest{ID: "third-dlc"})
	require.Error(t, err)
	assert.Equal(t, dlcerr.KindBusy, dlcerr.KindOf(err))

	assert.Equal(t, models.StatusNotInstalled, f.state("third-dlc").Status)
	assert.Equal(t, dlcerr.KindBusy, f.state("third-dlc").LastErrorKind)
	assert.Equal(t, models.StatusInstalling, f.state("second-dlc").Status)
	assert.Equal(t, "second-dlc", f.mgr.InstallingID())
}

func TestSameInstallIsIdempotent(t *testing.T) {
	f := newFixture(t, "second-dlc")

	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "second-dlc"}))
	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "second-dlc"}))

	assert.Len(t, f.inst.Installs(), 1)
	assert.Equal(t, "second-dlc", f.mgr.InstallingID())
}

// Scenario: non-install updater noise beyond the tolerance cap.
func TestToleranceCapCancelsInstall(t *testing.T) {
	f := newFixture(t, "second-dlc")
	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "second-dlc"}))

	for i := 0; i < f.cfg.ToleranceCap; i++ {
		f.inst.SendStatus(installer.Status{Operation: installer.OpIdle, IsInstall: false})
		assert.Equal(t, models.StatusInstalling, f.state("second-dlc").Status, "status %d", i)
	}

	// The 31st consecutive non-install status cancels.
	f.inst.SendStatus(installer.Status{Operation: installer.OpIdle, IsInstall: false})

	state := f.state("second-dlc")
	assert.Equal(t, models.StatusNotInstalled, state.Status)
	assert.Equal(t, dlcerr.KindFailedInstallInUpdater, state.LastErrorKind)
	assert.Empty(t, f.mgr.InstallingID())
}

func TestValidInstallStatusResetsTolerance(t *testing.T) {
	f := newFixture(t, "second-dlc")
	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "second-dlc"}))

	for round := 0; round < 3; round++ {
		for i := 0; i < f.cfg.ToleranceCap; i++ {
			f.inst.SendStatus(installer.Status{Operation: installer.OpIdle, IsInstall: false})
		}
		f.inst.SendStatus(installer.Status{
			Operation: installer.OpDownloading, IsInstall: true, Progress: 0.1,
		})
	}

	assert.Equal(t, models.StatusInstalling, f.state("second-dlc").Status)
}

func TestUpdaterErrorEventCancels(t *testing.T) {
	f := newFixture(t, "second-dlc")
	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "second-dlc"}))

	f.inst.SendStatus(installer.Status{
		Operation: installer.OpReportingErrorEvent, IsInstall: true,
	})

	state := f.state("second-dlc")
	assert.Equal(t, models.StatusNotInstalled, state.Status)
	assert.Equal(t, dlcerr.KindFailedInstallInUpdater, state.LastErrorKind)
}

func TestUpdaterNeedRebootCancels(t *testing.T) {
	f := newFixture(t, "second-dlc")
	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "second-dlc"}))

	f.inst.SendStatus(installer.Status{
		Operation: installer.OpUpdatedNeedReboot, IsInstall: true,
	})

	state := f.state("second-dlc")
	assert.Equal(t, models.StatusNotInstalled, state.Status)
	assert.Equal(t, dlcerr.KindNeedReboot, state.LastErrorKind)
}

func TestInstallRefusedWhenRebootPending(t *testing.T) {
	f := newFixture(t, "second-dlc")
	f.inst.SendStatus(installer.Status{Operation: installer.OpUpdatedNeedReboot})

	err := f.mgr.Install(models.InstallRequest{ID: "second-dlc"})
	require.Error(t, err)
	assert.Equal(t, dlcerr.KindNeedReboot, dlcerr.KindOf(err))
	assert.Empty(t, f.mgr.InstallingID())
}

func TestInstallRefusedWhenUpdaterNotReady(t *testing.T) {
	f := newFixture(t, "second-dlc")
	f.inst.SetReady(false)

	err := f.mgr.Install(models.InstallRequest{ID: "second-dlc"})
	require.Error(t, err)
	assert.Equal(t, dlcerr.KindBusy, dlcerr.KindOf(err))
	assert.Empty(t, f.mgr.InstallingID())
	assert.Equal(t, models.StatusNotInstalled, f.state("second-dlc").Status)
}

func TestInstallSchedulingFailureCancels(t *testing.T) {
	f := newFixture(t, "second-dlc")
	f.inst.FailInstall = true

	err := f.mgr.Install(models.InstallRequest{ID: "second-dlc"})
	require.Error(t, err)
	assert.Equal(t, dlcerr.KindBusy, dlcerr.KindOf(err))
	assert.Equal(t, models.StatusNotInstalled, f.state("second-dlc").Status)
}

func TestInstallUnknownDlc(t *testing.T) {
	f := newFixture(t, "first-dlc")

	err := f.mgr.Install(models.InstallRequest{ID: "missing-dlc"})
	require.Error(t, err)
	assert.Equal(t, dlcerr.KindInvalidDlc, dlcerr.KindOf(err))
}

// Scenario: uninstall during install is refused busy.
func TestUninstallDuringInstallRefused(t *testing.T) {
	f := newFixture(t, "second-dlc")
	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "second-dlc"}))

	err := f.mgr.Uninstall("second-dlc")
	require.Error(t, err)
	assert.Equal(t, dlcerr.KindBusy, dlcerr.KindOf(err))
	assert.Equal(t, models.StatusInstalling, f.state("second-dlc").Status)
}

func TestInstallThenUninstallRestoresDisk(t *testing.T) {
	f := newFixture(t, "first-dlc")
	f.provisionVerified("first-dlc")
	f = reload(f, "first-dlc")

	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "first-dlc"}))
	f.inst.SendStatus(installer.Status{Operation: installer.OpIdle})
	require.NoError(t, f.mgr.Uninstall("first-dlc"))

	assert.False(t, image.PathExists(filepath.Join(f.cfg.ContentDir, "first-dlc")))
	assert.False(t, image.PathExists(filepath.Join(f.cfg.PrefsDir, "first-dlc")))

	active, ok := f.inst.ActiveValue("first-dlc")
	assert.True(t, ok)
	assert.False(t, active)
}

func TestPurgeEqualsUninstall(t *testing.T) {
	f := newFixture(t, "first-dlc")
	f.provisionVerified("first-dlc")
	f = reload(f, "first-dlc")

	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "first-dlc"}))
	f.inst.SendStatus(installer.Status{Operation: installer.OpIdle})
	require.NoError(t, f.mgr.Purge("first-dlc"))
	assert.False(t, image.PathExists(filepath.Join(f.cfg.ContentDir, "first-dlc")))
}

func TestGetInstalledAndExisting(t *testing.T) {
	f := newFixture(t, "first-dlc", "second-dlc")
	f.provisionVerified("first-dlc")
	f = reload(f, "first-dlc", "second-dlc")

	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "first-dlc"}))

	installed := f.mgr.GetInstalled()
	require.Len(t, installed, 1)
	assert.Equal(t, "first-dlc", installed[0].ID)

	existing := f.mgr.GetExistingDlcs()
	require.Len(t, existing, 1)
	assert.Equal(t, "first-dlc", existing[0].ID)
	assert.Positive(t, existing[0].UsedBytes)
	assert.True(t, existing[0].IsRemovable)
}

func TestGetDlcsToUpdate(t *testing.T) {
	f := newFixture(t, "first-dlc", "second-dlc")
	f.provisionVerified("first-dlc")
	f = reload(f, "first-dlc", "second-dlc")

	assert.Equal(t, []string{"first-dlc"}, f.mgr.GetDlcsToUpdate())
}

func TestInstallCompletedAndUpdateCompleted(t *testing.T) {
	f := newFixture(t, "first-dlc")
	f.provisionVerified("first-dlc")
	f = reload(f, "first-dlc")

	require.NoError(t, f.mgr.InstallCompleted([]string{"first-dlc"}))
	require.NoError(t, f.mgr.UpdateCompleted([]string{"first-dlc"}))

	inactive := prefs.ForSlot(f.cfg.PrefsDir, "first-dlc", f.sys.InactiveSlot())
	assert.True(t, inactive.Exists(prefs.KeyVerified))

	err := f.mgr.InstallCompleted([]string{"missing-dlc"})
	assert.Error(t, err)
}

func TestCleanupUnsupportedRemovesOrphans(t *testing.T) {
	f := newFixture(t, "first-dlc")

	// Drop content for a DLC that is no longer supported.
	orphan := filepath.Join(f.cfg.ContentDir, "legacy-dlc", "package", "dlc_a", image.ImageFileName)
	require.NoError(t, image.CreateFile(orphan, 64))
	stalePreload := filepath.Join(f.cfg.PreloadedContentDir, "legacy-dlc", "package", image.ImageFileName)
	require.NoError(t, image.CreateFile(stalePreload, 64))

	f = reload(f, "first-dlc")

	assert.False(t, image.PathExists(filepath.Join(f.cfg.ContentDir, "legacy-dlc")))
	assert.False(t, image.PathExists(filepath.Join(f.cfg.PreloadedContentDir, "legacy-dlc")))
}

func TestWatchdogQueriesStatusWhenSignalsMissed(t *testing.T) {
	f := newFixture(t, "second-dlc")
	f.cfg.WatchdogInterval = 20 * time.Millisecond

	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "second-dlc"}))

	assert.Eventually(t, func() bool {
		return f.inst.StatusRequests() > 0
	}, time.Second, 10*time.Millisecond)
}

func TestUnloadSelector(t *testing.T) {
	f := newFixture(t)
	f.writeManifest("tied-dlc", `,
		"user-tied": true`)
	f.writeManifest("plain-dlc", ``)
	f = reload(f)
	f.provisionVerified("tied-dlc")
	f.provisionVerified("plain-dlc")
	f = reload(f)

	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "tied-dlc"}))
	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "plain-dlc"}))

	require.NoError(t, f.mgr.Unload(models.UnloadSelector{UserTied: true}))

	assert.Equal(t, models.StatusNotInstalled, f.state("tied-dlc").Status)
	assert.Equal(t, models.StatusInstalled, f.state("plain-dlc").Status)
	// Unload keeps image files.
	assert.True(t, image.PathExists(
		filepath.Join(f.cfg.ContentDir, "tied-dlc", "package", "dlc_a", image.ImageFileName)))
}

func TestUnloadExplicitID(t *testing.T) {
	f := newFixture(t, "first-dlc")
	f.provisionVerified("first-dlc")
	f = reload(f, "first-dlc")
	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "first-dlc"}))

	require.NoError(t, f.mgr.Unload(models.UnloadSelector{ID: "first-dlc"}))
	assert.Equal(t, models.StatusNotInstalled, f.state("first-dlc").Status)
}

func TestProgressMonotonicAcrossStatuses(t *testing.T) {
	f := newFixture(t, "second-dlc")
	require.NoError(t, f.mgr.Install(models.InstallRequest{ID: "second-dlc"}))

	for _, p := range []float64{0.2, 0.1, 0.6, 0.4, 0.9} {
		f.inst.SendStatus(installer.Status{
			Operation: installer.OpDownloading, IsInstall: true, Progress: p,
		})
	}

	var last float64
	for _, s := range f.states {
		if s.ID != "second-dlc" {
			continue
		}
		assert.GreaterOrEqual(t, s.Progress, last)
		last = s.Progress
	}
	assert.Equal(t, 0.9, f.state("second-dlc").Progress)
}
