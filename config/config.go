// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the DLC daemon. Paths default to the
// standard stateful-partition layout; everything is overridable for tests
// and development images.
type Config struct {
	// Stateful storage roots.
	ContentDir string `yaml:"content_dir"`
	PrefsDir   string `yaml:"prefs_dir"`

	// Rootfs-provided inputs.
	ManifestDir      string `yaml:"manifest_dir"`
	VerificationFile string `yaml:"verification_file"`

	// Provisioning sources.
	PreloadedContentDir string `yaml:"preloaded_content_dir"`
	FactoryInstallDir   string `yaml:"factory_install_dir"`
	DeployedContentDir  string `yaml:"deployed_content_dir"`

	// Base directory under which the image-loader mounts DLC images.
	MountBase string `yaml:"mount_base"`

	// ActiveSlot is "a" or "b": the slot the OS booted from.
	ActiveSlot string `yaml:"active_slot"`

	// ImageBackend selects "file" or "lvm" storage.
	ImageBackend string `yaml:"image_backend"`

	// Build/device properties.
	OfficialBuild   bool `yaml:"official_build"`
	DeviceRemovable bool `yaml:"device_removable"`

	// HibernateResumeFile, when present on disk, marks the limited-capacity
	// window after resuming from hibernation.
	HibernateResumeFile string `yaml:"hibernate_resume_file"`

	// Updater coordination.
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	ToleranceCap     int           `yaml:"tolerance_cap"`
	MountTimeout     time.Duration `yaml:"mount_timeout"`

	// Daemon surfaces.
	APIAddr      string `yaml:"api_addr"`
	DatabasePath string `yaml:"database_path"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`

	// JanitorSchedule is a cron spec for the periodic orphan sweep.
	JanitorSchedule string `yaml:"janitor_schedule"`

	// WatchDeployDir enables the deployed-content watcher on non-official
	// builds.
	WatchDeployDir bool `yaml:"watch_deploy_dir"`

	// Webhooks to notify on DLC state changes.
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig holds one webhook endpoint.
type WebhookConfig struct {
	URL     string            `yaml:"url" json:"url"`
	Events  []string          `yaml:"events" json:"events"`
	Headers map[string]string `yaml:"headers" json:"headers"`
	Timeout time.Duration     `yaml:"timeout" json:"timeout"`
	Retry   int               `yaml:"retry" json:"retry"`
	Enabled bool              `yaml:"enabled" json:"enabled"`
}

// Default returns the configuration for a production device.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ContentDir == "" {
		c.ContentDir = "/var/cache/dlc"
	}
	if c.PrefsDir == "" {
		c.PrefsDir = "/var/lib/dlcservice/dlc"
	}
	if c.ManifestDir == "" {
		c.ManifestDir = "/opt/google/dlc"
	}
	if c.VerificationFile == "" {
		c.VerificationFile = "/etc/lsb-release"
	}
	if c.PreloadedContentDir == "" {
		c.PreloadedContentDir = "/var/cache/dlc-images"
	}
	if c.FactoryInstallDir == "" {
		c.FactoryInstallDir = "/mnt/stateful_partition/unencrypted/dlc-factory-images"
	}
	if c.DeployedContentDir == "" {
		c.DeployedContentDir = "/mnt/stateful_partition/unencrypted/dlc-deployed-images"
	}
	if c.MountBase == "" {
		c.MountBase = "/run/imageloader"
	}
	if c.ActiveSlot == "" {
		c.ActiveSlot = "a"
	}
	if c.ImageBackend == "" {
		c.ImageBackend = "file"
	}
	if c.WatchdogInterval == 0 {
		c.WatchdogInterval = 10 * time.Second
	}
	if c.ToleranceCap == 0 {
		c.ToleranceCap = 30
	}
	if c.MountTimeout == 0 {
		c.MountTimeout = 60 * time.Second
	}
	if c.APIAddr == "" {
		c.APIAddr = "localhost:8270"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.JanitorSchedule == "" {
		c.JanitorSchedule = "@daily"
	}

	for i := range c.Webhooks {
		if c.Webhooks[i].Timeout == 0 {
			c.Webhooks[i].Timeout = 10 * time.Second
		}
		if c.Webhooks[i].Retry == 0 {
			c.Webhooks[i].Retry = 3
		}
	}
}

// FromFile loads configuration from a YAML file and fills in defaults.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// MergeWithEnv overrides select fields from environment variables
// (env takes precedence).
func (c *Config) MergeWithEnv() *Config {
	if v := os.Getenv("DLC_CONTENT_DIR"); v != "" {
		c.ContentDir = v
	}
	if v := os.Getenv("DLC_PREFS_DIR"); v != "" {
		c.PrefsDir = v
	}
	if v := os.Getenv("DLC_MANIFEST_DIR"); v != "" {
		c.ManifestDir = v
	}
	if v := os.Getenv("DLC_ACTIVE_SLOT"); v != "" {
		c.ActiveSlot = v
	}
	if v := os.Getenv("DLC_IMAGE_BACKEND"); v != "" {
		c.ImageBackend = v
	}
	if v := os.Getenv("DLC_API_ADDR"); v != "" {
		c.APIAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("DLC_OFFICIAL_BUILD"); v != "" {
		c.OfficialBuild = v == "1"
	}
	if v := os.Getenv("DLC_TOLERANCE_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ToleranceCap = n
		}
	}
	return c
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.ActiveSlot != "a" && c.ActiveSlot != "b" {
		return fmt.Errorf("active_slot must be \"a\" or \"b\", got %q", c.ActiveSlot)
	}
	if c.ImageBackend != "file" && c.ImageBackend != "lvm" {
		return fmt.Errorf("image_backend must be \"file\" or \"lvm\", got %q", c.ImageBackend)
	}
	if c.ToleranceCap < 1 {
		return fmt.Errorf("tolerance_cap must be positive, got %d", c.ToleranceCap)
	}
	return nil
}
