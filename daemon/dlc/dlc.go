// SPDX-License-Identifier: LGPL-3.0-or-later

// Package dlc implements the per-DLC state machine:
// NotInstalled -> Installing -> Installed, with verification, mounting,
// cancellation, uninstall and update-readiness transitions.
package dlc

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"dlcd/daemon/boot"
	"dlcd/daemon/dlcerr"
	"dlcd/daemon/image"
	"dlcd/daemon/installer"
	"dlcd/daemon/loader"
	"dlcd/daemon/models"
	"dlcd/daemon/notify"
	"dlcd/daemon/prefs"
	"dlcd/daemon/system"
	"dlcd/logger"
	"dlcd/manifest"
)

// RootDirectoryName is the directory inside a mounted DLC handed to
// clients as the root path.
const RootDirectoryName = "root"

// Deps are the collaborators a DLC entity needs. The entity holds no
// back-pointers into the manager.
type Deps struct {
	Sys       *system.System
	Backend   image.Backend
	Loader    loader.Loader
	Installer installer.Installer
	Notifier  *notify.Notifier
	Log       logger.Logger
}

// DLC is one supported DLC. All mutating methods are driven by the
// manager, which serializes transitions; the entity itself is not
// synchronized.
type DLC struct {
	Deps

	id  string
	pkg string

	manifest    *manifest.Manifest
	imageSha256 []byte

	// verificationValue validates the current verified stamps.
	verificationValue string

	// reserve keeps image files on disk across uninstall and failed
	// installs.
	reserve bool

	mountPoint string
	state      models.DlcState

	preloadedImagePath      string
	factoryInstallImagePath string
	deployedImagePath       string
}

// New creates an uninitialized DLC entity.
func New(id string, deps Deps) *DLC {
	return &DLC{Deps: deps, id: id}
}

// Initialize loads the manifest, resolves paths, recovers the verified
// stamp and applies reserve/factory-install policy. A manifest that cannot
// be read is a hard failure.
func (d *DLC) Initialize() error {
	pkg, err := manifest.FirstPackage(d.Sys.ManifestDir(), d.id)
	if err != nil {
		return fmt.Errorf("resolve package for DLC=%s: %w", d.id, err)
	}
	d.pkg = pkg

	m, err := manifest.Read(d.Sys.ManifestDir(), d.id, d.pkg)
	if err != nil {
		return fmt.Errorf("read manifest for DLC=%s: %w", d.id, err)
	}
	d.manifest = m

	d.imageSha256, err = m.ImageSha256()
	if err != nil {
		return err
	}

	d.preloadedImagePath = filepath.Join(d.Sys.PreloadedContentDir(), d.id, d.pkg, image.ImageFileName)
	d.factoryInstallImagePath = filepath.Join(d.Sys.FactoryInstallDir(), d.id, d.pkg, image.ImageFileName)
	d.deployedImagePath = filepath.Join(d.Sys.DeployedContentDir(), d.id, d.pkg, image.ImageFileName)

	d.verificationValue = d.Sys.VerificationValue()

	d.state = models.DlcState{
		ID:            d.id,
		Status:        models.StatusNotInstalled,
		Progress:      0,
		LastErrorKind: dlcerr.KindNone,
	}

	if d.manifest.MountFileRequired {
		if err := d.packagePrefs().Delete(prefs.KeyRootMount); err != nil {
			d.Log.Error("failed to delete stale root mount file during initialization",
				"id", d.id, "error", err)
		}
	}

	d.loadPrefs()

	// If factory install isn't allowed, free up the space.
	if !d.manifest.FactoryInstall {
		os.Remove(d.factoryInstallImagePath)
	}

	d.reserve = d.manifest.Reserved
	if d.reserve {
		if d.Sys.IsDeviceRemovable() {
			d.Log.Warn("booted from removable device, skipping reserve space", "id", d.id)
		} else if err := d.createImages(); err != nil {
			d.Log.Error("failed to reserve space", "id", d.id, "error", err)
		}
	}

	return nil
}

// loadPrefs recovers the verified flag: the stamp must exist and its
// stored value must equal the current verification value.
func (d *DLC) loadPrefs() {
	p := d.slotPrefs(d.Sys.ActiveSlot())
	if p.Exists(prefs.KeyVerified) {
		value, err := p.GetKey(prefs.KeyVerified)
		d.state.IsVerified = err == nil && value == d.verificationValue
	}
}

func (d *DLC) slotPrefs(slot boot.Slot) *prefs.Prefs {
	return prefs.ForSlot(d.Sys.PrefsDir(), d.id, slot)
}

func (d *DLC) packagePrefs() *prefs.Prefs {
	return prefs.ForPackage(d.Sys.PrefsDir(), d.id, d.pkg)
}

func (d *DLC) ID() string          { return d.id }
func (d *DLC) Package() string     { return d.pkg }
func (d *DLC) Name() string        { return d.manifest.Name }
func (d *DLC) Description() string { return d.manifest.Description }

func (d *DLC) IsInstalling() bool { return d.state.Status == models.StatusInstalling }

// IsInstalled additionally checks the mount root still exists, since the
// image may have been unmounted externally.
func (d *DLC) IsInstalled() bool {
	if d.state.Status != models.StatusInstalled {
		return false
	}
	root := d.Root()
	if root == "" {
		// Keep in sync with the image-loader's mount layout.
		root = filepath.Join(d.Sys.MountBase(), d.id, d.pkg, RootDirectoryName)
	}
	return image.PathExists(root)
}

func (d *DLC) IsVerified() bool { return d.state.IsVerified }
func (d *DLC) IsScaled() bool   { return d.manifest.Scaled }
func (d *DLC) IsForceOTA() bool { return d.manifest.ForceOTA }
func (d *DLC) IsUserTied() bool { return d.manifest.UserTied }

func (d *DLC) IsPreloadAllowed() bool {
	return d.manifest.PreloadAllowed && !d.Sys.IsOfficialBuild()
}

func (d *DLC) IsFactoryInstall() bool { return d.manifest.FactoryInstall }

// HasContent reports whether any slot image exists on disk.
func (d *DLC) HasContent() bool {
	for _, slot := range []boot.Slot{boot.SlotA, boot.SlotB} {
		path, err := d.Backend.ImagePath(d.id, d.pkg, slot)
		if err == nil && image.PathExists(path) {
			return true
		}
	}
	return false
}

// UsedBytesOnDisk sums the on-disk sizes of both slot images.
func (d *DLC) UsedBytesOnDisk() int64 {
	var total int64
	for _, slot := range []boot.Slot{boot.SlotA, boot.SlotB} {
		path, err := d.Backend.ImagePath(d.id, d.pkg, slot)
		if err != nil {
			continue
		}
		total += image.FileSize(path)
	}
	return total
}

// Root is the directory inside the mounted DLC handed to clients.
func (d *DLC) Root() string {
	if d.mountPoint == "" {
		return ""
	}
	return filepath.Join(d.mountPoint, RootDirectoryName)
}

// State returns the client-visible state, with the image path resolved
// when installed.
func (d *DLC) State() models.DlcState {
	state := d.state
	state.ImagePath = ""
	if d.IsInstalled() {
		if path, err := d.Backend.ImagePath(d.id, d.pkg, d.Sys.ActiveSlot()); err == nil {
			state.ImagePath = path
		}
	}
	return state
}

// SetReserve toggles the reserve flag; pass nil to read it.
func (d *DLC) SetReserve(reserve *bool) bool {
	if reserve != nil {
		d.reserve = *reserve
		if d.reserve {
			d.Log.Info("enabling reserve", "id", d.id)
		} else {
			d.Log.Info("disabling reserve", "id", d.id)
		}
	}
	return d.reserve
}

// createImages allocates directories and both slot images. Always invoked
// as fall-through so files missing from a previous version get created.
func (d *DLC) createImages() error {
	if err := os.MkdirAll(filepath.Join(d.Sys.PrefsDir(), d.id), 0o755); err != nil {
		return dlcerr.Wrap(err, dlcerr.KindFailedToCreateDirectory,
			"create prefs directory for DLC=%s", d.id)
	}
	return d.Backend.Create(d.id, d.pkg, int64(d.manifest.Size), d.manifest.AllocationSize())
}

func (d *DLC) activeImagePath() (string, error) {
	return d.Backend.ImagePath(d.id, d.pkg, d.Sys.ActiveSlot())
}

func (d *DLC) isActiveImagePresent() bool {
	path, err := d.activeImagePath()
	return err == nil && image.PathExists(path)
}

// markVerified writes the verified stamp for the active slot with the
// current verification value.
func (d *DLC) markVerified() error {
	d.state.IsVerified = true
	return d.slotPrefs(d.Sys.ActiveSlot()).SetKey(prefs.KeyVerified, d.verificationValue)
}

// markUnverified deletes the active-slot verified stamp.
func (d *DLC) markUnverified() error {
	d.state.IsVerified = false
	return d.slotPrefs(d.Sys.ActiveSlot()).Delete(prefs.KeyVerified)
}

// Verify hashes the first manifest-size bytes of the active image and
// compares against the manifest hash, stamping verified on a match.
func (d *DLC) Verify() bool {
	path, err := d.activeImagePath()
	if err != nil {
		d.Log.Error("failed to resolve active image path", "id", d.id, "error", err)
		return false
	}

	sum, err := image.HashFile(path, int64(d.manifest.Size))
	if err != nil {
		d.Log.Error("failed to hash image file", "id", d.id, "error", err)
		return false
	}

	if !bytes.Equal(sum, d.imageSha256) {
		d.Log.Warn("verification failed for image file",
			"id", d.id,
			"expected", d.manifest.ImageSha256Hex,
			"found", hex.EncodeToString(sum))
		return false
	}

	if err := d.markVerified(); err != nil {
		d.Log.Warn("failed to stamp image as verified, assuming verified for now",
			"id", d.id, "error", err)
	}
	return true
}

// copyAndVerify streams a provisioning source into the active slot while
// hashing, and stamps verified on a hash match.
func (d *DLC) copyAndVerify(source string) error {
	srcSize := image.FileSize(source)
	if srcSize != int64(d.manifest.Size) {
		return dlcerr.New(dlcerr.KindInternal,
			"source image for DLC=%s is %d bytes, manifest says %d",
			d.id, srcSize, d.manifest.Size)
	}

	// Before touching the image, mark it unverified.
	if err := d.markUnverified(); err != nil {
		d.Log.Warn("failed to clear verified stamp", "id", d.id, "error", err)
	}

	dst, err := d.activeImagePath()
	if err != nil {
		return dlcerr.Wrap(err, dlcerr.KindInternal, "resolve active image path for DLC=%s", d.id)
	}
	sum, err := image.CopyAndHashFile(source, dst, int64(d.manifest.Size))
	if err != nil {
		return dlcerr.Wrap(err, dlcerr.KindInternal,
			"copy image for DLC=%s into %s", d.id, dst)
	}

	if !bytes.Equal(sum, d.imageSha256) {
		return dlcerr.New(dlcerr.KindInternal,
			"image is corrupted or modified for DLC=%s, expected %s found %s",
			d.id, d.manifest.ImageSha256Hex, hex.EncodeToString(sum))
	}

	if err := d.markVerified(); err != nil {
		d.Log.Error("failed to stamp image as verified", "id", d.id, "error", err)
	}
	return nil
}

// preloadedCopier ingests the preloaded image. The preloaded copy is kept
// afterwards.
func (d *DLC) preloadedCopier() error {
	return d.copyAndVerify(d.preloadedImagePath)
}

// factoryInstallCopier ingests the factory-installed image, deleting the
// factory copy whether or not ingestion succeeded.
func (d *DLC) factoryInstallCopier() bool {
	err := d.copyAndVerify(d.factoryInstallImagePath)
	if rmErr := os.RemoveAll(filepath.Join(d.Sys.FactoryInstallDir(), d.id)); rmErr != nil {
		d.Log.Warn("failed to delete factory installed image", "id", d.id, "error", rmErr)
	}
	if err != nil {
		d.Log.Warn("failed to ingest factory installed image", "id", d.id, "error", err)
		return false
	}
	return true
}

// deployCopier ingests the deployed image.
func (d *DLC) deployCopier() error {
	return d.copyAndVerify(d.deployedImagePath)
}

// Install advances from NotInstalled toward Installed. When it returns
// with the DLC still Installing, an external updater download is required.
func (d *DLC) Install() error {
	switch d.state.Status {
	case models.StatusNotInstalled:
		activeImageExisted := d.isActiveImagePresent()

		// Always create the DLC files and directories first, even when
		// they presumably exist already.
		if err := d.createImages(); err != nil {
			if cancelErr := d.CancelInstall(err); cancelErr != nil {
				d.Log.Error("failed to cancel install correctly", "id", d.id, "error", cancelErr)
			}
			return err
		}
		d.changeState(models.StatusInstalling)

		// Already verified images only need to be mounted.
		if d.IsVerified() {
			d.Log.Info("installing already verified DLC", "id", d.id)
			break
		}

		// Images that existed before creation may verify against the
		// manifest from a previous life.
		if activeImageExisted && d.Verify() {
			d.Log.Info("verified existing, but previously not verified DLC", "id", d.id)
			break
		}

		// Avoid generating writes on the limited-capacity snapshots used
		// while resuming from hibernate.
		if d.Sys.ResumingFromHibernate() {
			err := dlcerr.New(dlcerr.KindFailedCreationDuringHibernation,
				"not writing while resuming from hibernate for DLC=%s", d.id)
			if cancelErr := d.CancelInstall(err); cancelErr != nil {
				d.Log.Error("failed to cancel install correctly", "id", d.id, "error", cancelErr)
			}
			return err
		}

		if d.IsFactoryInstall() && image.PathExists(d.factoryInstallImagePath) {
			if d.factoryInstallCopier() {
				d.Log.Info("factory installing DLC", "id", d.id)
				break
			}
		}

		if d.IsPreloadAllowed() && image.PathExists(d.preloadedImagePath) {
			if err := d.preloadedCopier(); err != nil {
				d.Log.Error("preloading failed, assuming installation failed", "id", d.id)
				if cancelErr := d.CancelInstall(err); cancelErr != nil {
					d.Log.Error("failed to cancel install from preloading", "id", d.id, "error", cancelErr)
				}
				return err
			}
			d.Log.Info("preloading DLC", "id", d.id)
			break
		}

		// The image is not verified, so the payload has to come through
		// the updater. Stay Installing.
		return nil

	case models.StatusInstalling:
		// Already being installed; the caller can poll.
		return nil

	case models.StatusInstalled:
		// Finish the install so the image gets re-mounted in case it was
		// unmounted externally.

	default:
		return dlcerr.New(dlcerr.KindInternal, "install on DLC=%s in unknown state", d.id)
	}

	// Note: preloaded DLC images are not removed here; provisioning will
	// take over preloading eventually.
	return d.FinishInstall(false)
}

// FinishInstall asserts the payload is on disk: re-verify if needed, then
// mount. Mount failures revert to NotInstalled and clear the verified
// stamp; verify failures cancel the install.
func (d *DLC) FinishInstall(installedByUpdater bool) error {
	switch d.state.Status {
	case models.StatusInstalled, models.StatusInstalling:
	default:
		return dlcerr.New(dlcerr.KindInternal,
			"cannot finish install for DLC=%s in state %s", d.id, d.state.Status)
	}

	if !d.IsVerified() {
		// The updater may have failed to report completion even after a
		// successful installation; verify directly.
		if d.Verify() {
			d.Log.Warn("missing verification stamp, but image verified to be valid", "id", d.id)
		}
	}

	if !d.IsVerified() {
		var err error
		status, _ := d.Installer.LastStatus()
		if installedByUpdater && status.LastAttemptError == installer.LastAttemptNoUpdate {
			err = dlcerr.New(dlcerr.KindNoImage,
				"updater could not install DLC=%s, no image was available", d.id)
		} else {
			err = dlcerr.New(dlcerr.KindFailedToVerifyImage,
				"cannot verify image for DLC=%s", d.id)
		}
		if cancelErr := d.CancelInstall(err); cancelErr != nil {
			d.Log.Error("failed during install finalization", "id", d.id, "error", cancelErr)
		}
		return err
	}

	if err := d.mount(); err != nil {
		// Do not cancel on mount failure; the image is intact.
		d.state.LastErrorKind = dlcerr.KindOf(err)
		d.changeState(models.StatusNotInstalled)
		if unvErr := d.markUnverified(); unvErr != nil {
			d.Log.Warn("failed to clear verified stamp after mount failure",
				"id", d.id, "error", unvErr)
		}
		d.Log.Error("mount failed during install finalization", "id", d.id, "error", err)
		return err
	}

	// The image is live; record it as active with the updater. Failure is
	// non-fatal.
	if !d.IsUserTied() {
		d.setActiveValue(true)
	}
	return nil
}

// CancelInstall reverts to NotInstalled, records the causing error and
// deletes on-disk state unless reserved.
func (d *DLC) CancelInstall(cause error) error {
	d.state.LastErrorKind = dlcerr.KindOf(cause)
	d.changeState(models.StatusNotInstalled)

	// Consider as not installed even if deletion fails; the error is
	// surfaced but must not block further installs.
	if err := d.delete(); err != nil {
		d.Log.Error("failed during install cancellation", "id", d.id, "error", err)
		return err
	}
	return nil
}

func (d *DLC) mount() error {
	path, err := d.activeImagePath()
	if err != nil {
		return dlcerr.Wrap(err, dlcerr.KindFailedToMountImage,
			"resolve active image path for DLC=%s", d.id)
	}

	mountPoint, err := d.Loader.Load(d.id, d.pkg, d.Sys.ActiveSlot(), path)
	if err != nil {
		d.state.LastErrorKind = dlcerr.KindFailedToMountImage
		return dlcerr.Wrap(err, dlcerr.KindFailedToMountImage, "mount DLC=%s", d.id)
	}
	d.mountPoint = mountPoint

	// A file holding the root mount path allows indirect access for
	// processes that cannot use IPC.
	if d.manifest.MountFileRequired {
		if d.IsUserTied() {
			d.Log.Warn("root mount file creation skipped for user-tied DLC", "id", d.id)
		} else if err := d.packagePrefs().SetKey(prefs.KeyRootMount, d.Root()); err != nil {
			d.Log.Error("failed to create root mount file", "id", d.id, "error", err)
			if unmountErr := d.unmount(); unmountErr != nil {
				d.Log.Warn("failed to unmount after root mount file failure",
					"id", d.id, "error", unmountErr)
			}
			return dlcerr.Wrap(err, dlcerr.KindFailedToMountImage,
				"create root mount file for DLC=%s", d.id)
		}
	}

	d.changeState(models.StatusInstalled)
	return nil
}

func (d *DLC) unmount() error {
	if err := d.Loader.Unload(d.id, d.pkg); err != nil {
		d.state.LastErrorKind = dlcerr.KindInternal
		return dlcerr.Wrap(err, dlcerr.KindInternal, "unmount DLC=%s", d.id)
	}

	if d.manifest.MountFileRequired {
		if err := d.packagePrefs().Delete(prefs.KeyRootMount); err != nil {
			d.Log.Error("failed to delete root mount file", "id", d.id, "error", err)
		}
	}

	d.mountPoint = ""
	return nil
}

// Uninstall disables reserve, unmounts when mounted and deletes on-disk
// state. Refused while Installing, and while a verified DLC could be
// mid-update.
func (d *DLC) Uninstall() error {
	status, _ := d.Installer.LastStatus()
	updaterBusy := status.Operation != installer.OpIdle &&
		status.Operation != installer.OpUpdatedNeedReboot &&
		status.Operation != ""
	if d.IsVerified() && updaterBusy {
		return dlcerr.New(dlcerr.KindBusy, "install or update is in progress")
	}

	// Whatever state the DLC was in, disable the reserve.
	off := false
	d.SetReserve(&off)

	switch d.state.Status {
	case models.StatusNotInstalled:
		// Still uninstall, in case it was never mounted this session.
		d.Log.Warn("uninstalling not-installed DLC", "id", d.id)
		fallthrough
	case models.StatusInstalled:
		// Even if unmount fails, continue deleting the images.
		if err := d.unmount(); err != nil {
			d.Log.Warn("failed to unmount during uninstall", "id", d.id, "error", err)
		}
		d.changeState(models.StatusNotInstalled)

	case models.StatusInstalling:
		d.state.LastErrorKind = dlcerr.KindBusy
		return dlcerr.New(dlcerr.KindBusy, "trying to uninstall an installing DLC=%s", d.id)

	default:
		return dlcerr.New(dlcerr.KindInternal, "uninstall on DLC=%s in unknown state", d.id)
	}

	if !d.IsUserTied() {
		d.setActiveValue(false)
	}
	return d.delete()
}

// InstallCompleted is the updater's signal that the active-slot image is
// ready: stamp it verified so subsequent boots in the same epoch skip
// re-hashing.
func (d *DLC) InstallCompleted() error {
	if err := d.markVerified(); err != nil {
		d.state.LastErrorKind = dlcerr.KindInternal
		return dlcerr.Wrap(err, dlcerr.KindInternal,
			"failed to mark active DLC=%s as verified", d.id)
	}
	return nil
}

// UpdateCompleted is the updater's signal that the inactive slot has been
// updated: create the inactive verified stamp. The stamp's value is empty,
// forcing a real re-verify on the first boot into the new slot.
func (d *DLC) UpdateCompleted() error {
	if err := d.slotPrefs(d.Sys.InactiveSlot()).Create(prefs.KeyVerified); err != nil {
		return dlcerr.Wrap(err, dlcerr.KindInternal,
			"failed to mark inactive DLC=%s as verified", d.id)
	}
	return nil
}

// MakeReadyForUpdate prepares the inactive slot for an update payload and
// reports whether this DLC belongs in the next OS-update list.
func (d *DLC) MakeReadyForUpdate() bool {
	// Deleting the inactive verified stamp must happen before anything
	// else; a crash after a partial update must leave the inactive slot
	// known-unverified.
	if err := d.slotPrefs(d.Sys.InactiveSlot()).Delete(prefs.KeyVerified); err != nil {
		d.Log.Error("failed to mark inactive slot as not-verified", "id", d.id, "error", err)
		return false
	}

	if !d.IsVerified() {
		return false
	}

	// Scaled DLCs do not A/B update with the OS until deltas are
	// supported.
	if d.manifest.Scaled {
		d.Log.Warn("scaled DLC will not update with the OS", "id", d.id)
		return false
	}

	if d.manifest.IsUnderDevelopment() {
		d.Log.Warn("under-development DLC will not update with the OS", "id", d.id)
		return false
	}

	if d.IsUserTied() {
		d.Log.Warn("user-tied DLC will not update with the OS", "id", d.id)
		return false
	}

	if err := d.Backend.MakeReadyForUpdate(d.id, d.pkg, d.Sys.InactiveSlot(),
		int64(d.manifest.Size), d.manifest.AllocationSize()); err != nil {
		d.Log.Error("failed to prepare inactive image for update", "id", d.id, "error", err)
		return false
	}
	return true
}

// Deploy ingests a pre-existing payload from the deploy directory into the
// active slot and verifies it without mounting. Test/dev images only.
func (d *DLC) Deploy() error {
	if d.Sys.IsOfficialBuild() {
		return dlcerr.New(dlcerr.KindInternal, "deploy is not allowed in official build")
	}
	if d.state.Status != models.StatusNotInstalled {
		return dlcerr.New(dlcerr.KindInternal,
			"trying to deploy a %s DLC=%s", d.state.Status, d.id)
	}

	if !image.PathExists(d.deployedImagePath) {
		return dlcerr.New(dlcerr.KindNoImage,
			"DLC=%s not found in deployed image path=%s", d.id, d.deployedImagePath)
	}

	if err := d.createImages(); err != nil {
		if cancelErr := d.CancelInstall(err); cancelErr != nil {
			d.Log.Error("failed to cancel deploying", "id", d.id, "error", cancelErr)
		}
		return err
	}

	if err := d.deployCopier(); err != nil {
		d.Log.Error("failed to load deployed image", "id", d.id, "error", err)
		if cancelErr := d.CancelInstall(err); cancelErr != nil {
			d.Log.Error("failed to cancel deploying", "id", d.id, "error", cancelErr)
		}
		return err
	}
	return nil
}

// Unload unmounts and reverts to NotInstalled without deleting image
// files. Refused while Installing.
func (d *DLC) Unload() error {
	if d.state.Status == models.StatusInstalling {
		d.state.LastErrorKind = dlcerr.KindBusy
		return dlcerr.New(dlcerr.KindBusy, "trying to unload an installing DLC=%s", d.id)
	}

	d.state.IsVerified = false
	d.changeState(models.StatusNotInstalled)
	return d.unmount()
}

// delete clears the verified stamp and removes on-disk state unless
// reserved. Failed paths are collected; the in-memory transition is final
// regardless.
func (d *DLC) delete() error {
	if err := d.markUnverified(); err != nil {
		d.Log.Warn("failed to clear verified stamp during delete", "id", d.id, "error", err)
	}

	if d.reserve {
		d.Log.Info("skipping delete for reserved DLC", "id", d.id)
		return nil
	}

	var undeleted []string
	if err := d.Backend.Delete(d.id, d.pkg); err != nil {
		d.Log.Error("failed to delete images", "id", d.id, "error", err)
		undeleted = append(undeleted, "images")
	}
	for _, path := range []string{
		filepath.Join(d.Sys.PrefsDir(), d.id),
		filepath.Join(d.Sys.FactoryInstallDir(), d.id),
	} {
		if !image.PathExists(path) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			d.Log.Error("failed to delete path", "path", path, "error", err)
			undeleted = append(undeleted, path)
		}
	}

	if len(undeleted) > 0 {
		d.state.LastErrorKind = dlcerr.KindInternal
		return dlcerr.New(dlcerr.KindInternal,
			"DLC=%s directories could not be deleted: %v", d.id, undeleted)
	}
	return nil
}

// setActiveValue reports the DLC as active/inactive to the updater.
// Failures are logged but never fail the transition.
func (d *DLC) setActiveValue(active bool) {
	d.Log.Info("setting active value", "id", d.id, "active", active)
	if err := d.Installer.SetDlcActiveValue(active, d.id); err != nil {
		d.Log.Error("failed to set active value", "id", d.id, "error", err)
	}
}

// changeState applies the per-state bookkeeping and broadcasts.
func (d *DLC) changeState(status models.DlcStatus) {
	switch status {
	case models.StatusNotInstalled:
		d.state.Status = status
		d.state.Progress = 0
		d.state.RootPath = ""

	case models.StatusInstalling:
		d.state.Status = status
		d.state.Progress = 0
		d.state.LastErrorKind = dlcerr.KindNone

	case models.StatusInstalled:
		d.state.Status = status
		d.state.Progress = 1.0
		d.state.RootPath = d.Root()
	}

	d.Log.Info("changing state", "id", d.id, "state", status)
	d.Notifier.Notify(d.State())
}

// ChangeProgress advances install progress; it never decreases.
func (d *DLC) ChangeProgress(progress float64) {
	if d.state.Status != models.StatusInstalling {
		d.Log.Warn("cannot change progress while not installing", "id", d.id)
		return
	}

	if d.state.Progress < progress {
		if progress > 1.0 {
			progress = 1.0
		}
		d.state.Progress = progress
		d.Notifier.Notify(d.State())
	}
}
