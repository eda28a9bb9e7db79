// SPDX-License-Identifier: LGPL-3.0-or-later

package lvm

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"dlcd/logger"
)

const (
	dbusService   = "org.chromium.Lvmd"
	dbusPath      = "/org/chromium/Lvmd"
	dbusInterface = "org.chromium.Lvmd"
)

// DBusClient talks to the lvmd daemon over the system bus.
type DBusClient struct {
	conn *dbus.Conn
	obj  dbus.BusObject
	log  logger.Logger
}

// NewDBusClient connects to the system bus and binds the lvmd object.
func NewDBusClient(log logger.Logger) (*DBusClient, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &DBusClient{
		conn: conn,
		obj:  conn.Object(dbusService, dbus.ObjectPath(dbusPath)),
		log:  log,
	}, nil
}

func (c *DBusClient) call(method string, args ...interface{}) *dbus.Call {
	return c.obj.Call(dbusInterface+"."+method, 0, args...)
}

func (c *DBusClient) ListLogicalVolumes() ([]LogicalVolume, error) {
	var names, paths []string
	if err := c.call("ListLogicalVolumes").Store(&names, &paths); err != nil {
		return nil, fmt.Errorf("lvmd ListLogicalVolumes: %w", err)
	}
	lvs := make([]LogicalVolume, 0, len(names))
	for i, name := range names {
		lv := LogicalVolume{Name: name}
		if i < len(paths) {
			lv.Path = paths[i]
		}
		lvs = append(lvs, lv)
	}
	return lvs, nil
}

func (c *DBusClient) CreateLogicalVolumes(configs []LogicalVolumeConfig) error {
	names := make([]string, len(configs))
	sizes := make([]int64, len(configs))
	for i, cfg := range configs {
		names[i] = cfg.Name
		sizes[i] = cfg.SizeMiB
	}
	if err := c.call("CreateLogicalVolumes", names, sizes).Err; err != nil {
		return fmt.Errorf("lvmd CreateLogicalVolumes: %w", err)
	}
	return nil
}

func (c *DBusClient) RemoveLogicalVolumes(names []string) error {
	if err := c.call("RemoveLogicalVolumes", names).Err; err != nil {
		return fmt.Errorf("lvmd RemoveLogicalVolumes: %w", err)
	}
	return nil
}

func (c *DBusClient) RemoveLogicalVolumesAsync(names []string, done func(err error)) {
	go func() {
		err := c.RemoveLogicalVolumes(names)
		if done != nil {
			done(err)
		} else if err != nil {
			c.log.Error("async logical volume removal failed", "error", err)
		}
	}()
}

func (c *DBusClient) ActivateLogicalVolume(name string) error {
	if err := c.call("ActivateLogicalVolume", name).Err; err != nil {
		return fmt.Errorf("lvmd ActivateLogicalVolume %s: %w", name, err)
	}
	return nil
}

func (c *DBusClient) LogicalVolumePath(name string) (string, error) {
	var path string
	if err := c.call("GetLogicalVolumePath", name).Store(&path); err != nil {
		return "", fmt.Errorf("lvmd GetLogicalVolumePath %s: %w", name, err)
	}
	return path, nil
}

func (c *DBusClient) ResizeLogicalVolumes(configs []LogicalVolumeConfig) error {
	names := make([]string, len(configs))
	sizes := make([]int64, len(configs))
	for i, cfg := range configs {
		names[i] = cfg.Name
		sizes[i] = cfg.SizeMiB
	}
	if err := c.call("ResizeLogicalVolumes", names, sizes).Err; err != nil {
		return fmt.Errorf("lvmd ResizeLogicalVolumes: %w", err)
	}
	return nil
}
