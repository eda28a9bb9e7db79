// SPDX-License-Identifier: LGPL-3.0-or-later

package system

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlcd/config"
	"dlcd/daemon/boot"
	"dlcd/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.ContentDir = filepath.Join(dir, "content")
	cfg.PrefsDir = filepath.Join(dir, "prefs")
	cfg.VerificationFile = filepath.Join(dir, "lsb-release")
	cfg.HibernateResumeFile = filepath.Join(dir, "hibernate-resume")
	return cfg
}

func TestVerificationValue(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.VerificationFile, []byte("RELEASE=15917.0.0"), 0o644))

	sys, err := New(cfg, logger.NewTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "RELEASE=15917.0.0", sys.VerificationValue())
}

func TestMissingVerificationFileTolerated(t *testing.T) {
	cfg := testConfig(t)
	log := logger.NewCaptureLogger()

	sys, err := New(cfg, log)
	require.NoError(t, err)
	assert.Empty(t, sys.VerificationValue())
	assert.True(t, log.Contains("verification value"))
}

func TestSlots(t *testing.T) {
	cfg := testConfig(t)
	cfg.ActiveSlot = "b"

	sys, err := New(cfg, logger.NewTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, boot.SlotB, sys.ActiveSlot())
	assert.Equal(t, boot.SlotA, sys.InactiveSlot())
}

func TestResumingFromHibernate(t *testing.T) {
	cfg := testConfig(t)
	sys, err := New(cfg, logger.NewTestLogger(t))
	require.NoError(t, err)

	assert.False(t, sys.ResumingFromHibernate())
	require.NoError(t, os.WriteFile(cfg.HibernateResumeFile, nil, 0o644))
	assert.True(t, sys.ResumingFromHibernate())
}
