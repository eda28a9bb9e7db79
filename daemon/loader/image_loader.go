// SPDX-License-Identifier: LGPL-3.0-or-later

package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"dlcd/daemon/boot"
	"dlcd/logger"
)

const (
	dbusService   = "org.chromium.ImageLoader"
	dbusPath      = "/org/chromium/ImageLoader"
	dbusInterface = "org.chromium.ImageLoaderInterface"
)

// ImageLoader is the production mount proxy over the system bus. Calls
// block up to the configured timeout.
type ImageLoader struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	timeout time.Duration
	log     logger.Logger
}

// NewImageLoader connects to the system bus and binds the image-loader
// object.
func NewImageLoader(timeout time.Duration, log logger.Logger) (*ImageLoader, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &ImageLoader{
		conn:    conn,
		obj:     conn.Object(dbusService, dbus.ObjectPath(dbusPath)),
		timeout: timeout,
		log:     log,
	}, nil
}

func (l *ImageLoader) Load(id, pkg string, slot boot.Slot, path string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	var mountPoint string
	call := l.obj.CallWithContext(ctx, dbusInterface+".LoadDlcImage", 0,
		id, pkg, slot.Suffix(), path)
	if err := call.Store(&mountPoint); err != nil {
		return "", fmt.Errorf("image-loader LoadDlcImage DLC=%s: %w", id, err)
	}
	if mountPoint == "" {
		return "", fmt.Errorf("image-loader returned empty mount point for DLC=%s", id)
	}
	return mountPoint, nil
}

func (l *ImageLoader) Unload(id, pkg string) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	var success bool
	call := l.obj.CallWithContext(ctx, dbusInterface+".UnloadDlcImage", 0, id, pkg)
	if err := call.Store(&success); err != nil {
		return fmt.Errorf("image-loader UnloadDlcImage DLC=%s: %w", id, err)
	}
	if !success {
		return fmt.Errorf("image-loader failed to unload DLC=%s", id)
	}
	return nil
}
