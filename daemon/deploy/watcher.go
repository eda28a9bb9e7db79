// SPDX-License-Identifier: LGPL-3.0-or-later

// Package deploy watches the deployed-content directory on non-official
// builds and ingests payloads dropped there by developers.
package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"dlcd/daemon/image"
	"dlcd/logger"
	"dlcd/manifest"
)

// Deployer is the slice of the manager the watcher drives.
type Deployer interface {
	Deploy(id string) error
}

// Watcher reacts to filesystem events in the deploy directory and also
// rescans periodically, since payloads appear in nested directories the
// watch cannot see.
type Watcher struct {
	dir          string
	deployer     Deployer
	log          logger.Logger
	pollInterval time.Duration

	mu        sync.Mutex
	attempted map[string]bool
}

// NewWatcher creates a watcher over dir.
func NewWatcher(dir string, deployer Deployer, log logger.Logger) *Watcher {
	return &Watcher{
		dir:          dir,
		deployer:     deployer,
		log:          log,
		pollInterval: 5 * time.Second,
		attempted:    make(map[string]bool),
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create deploy directory %s: %w", w.dir, err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create filesystem watcher: %w", err)
	}
	defer fsWatcher.Close()

	if err := fsWatcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch deploy directory %s: %w", w.dir, err)
	}

	w.log.Info("watching deploy directory", "dir", w.dir)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.scan()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.scan()
			}
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("filesystem watcher error", "error", err)
		case <-ticker.C:
			w.scan()
		}
	}
}

// scan looks for complete payloads and deploys each once.
func (w *Watcher) scan() {
	ids, err := manifest.ScanDirectory(w.dir)
	if err != nil {
		w.log.Warn("failed to scan deploy directory", "error", err)
		return
	}

	for _, id := range ids {
		if !w.hasPayload(id) {
			continue
		}

		w.mu.Lock()
		if w.attempted[id] {
			w.mu.Unlock()
			continue
		}
		w.attempted[id] = true
		w.mu.Unlock()

		if err := w.deployer.Deploy(id); err != nil {
			w.log.Warn("failed to deploy dropped payload", "id", id, "error", err)
		} else {
			w.log.Info("deployed dropped payload", "id", id)
		}
	}
}

func (w *Watcher) hasPayload(id string) bool {
	pkgs, err := manifest.ScanDirectory(filepath.Join(w.dir, id))
	if err != nil {
		return false
	}
	for _, pkg := range pkgs {
		if image.PathExists(filepath.Join(w.dir, id, pkg, image.ImageFileName)) {
			return true
		}
	}
	return false
}
