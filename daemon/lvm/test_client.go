// SPDX-License-Identifier: LGPL-3.0-or-later

package lvm

import (
	"fmt"
	"sync"
)

// TestClient is an in-memory Client for tests.
type TestClient struct {
	mu      sync.Mutex
	volumes map[string]LogicalVolumeConfig
	active  map[string]bool

	// FailCreate makes CreateLogicalVolumes fail when set.
	FailCreate bool
}

func NewTestClient() *TestClient {
	return &TestClient{
		volumes: make(map[string]LogicalVolumeConfig),
		active:  make(map[string]bool),
	}
}

func (c *TestClient) ListLogicalVolumes() ([]LogicalVolume, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var lvs []LogicalVolume
	for name := range c.volumes {
		lvs = append(lvs, LogicalVolume{Name: name, Path: "/dev/mapper/" + name})
	}
	return lvs, nil
}

func (c *TestClient) CreateLogicalVolumes(configs []LogicalVolumeConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailCreate {
		return fmt.Errorf("thinpool out of space")
	}
	for _, cfg := range configs {
		c.volumes[cfg.Name] = cfg
	}
	return nil
}

func (c *TestClient) RemoveLogicalVolumes(names []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range names {
		delete(c.volumes, name)
		delete(c.active, name)
	}
	return nil
}

func (c *TestClient) RemoveLogicalVolumesAsync(names []string, done func(err error)) {
	err := c.RemoveLogicalVolumes(names)
	if done != nil {
		done(err)
	}
}

func (c *TestClient) ActivateLogicalVolume(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.volumes[name]; !ok {
		return fmt.Errorf("no such logical volume %s", name)
	}
	c.active[name] = true
	return nil
}

func (c *TestClient) LogicalVolumePath(name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.volumes[name]; !ok {
		return "", fmt.Errorf("no such logical volume %s", name)
	}
	return "/dev/mapper/" + name, nil
}

func (c *TestClient) ResizeLogicalVolumes(configs []LogicalVolumeConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cfg := range configs {
		if _, ok := c.volumes[cfg.Name]; !ok {
			return fmt.Errorf("no such logical volume %s", cfg.Name)
		}
		c.volumes[cfg.Name] = cfg
	}
	return nil
}

// HasVolume reports whether the named LV exists.
func (c *TestClient) HasVolume(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.volumes[name]
	return ok
}

// IsActive reports whether the named LV has been activated.
func (c *TestClient) IsActive(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[name]
}
