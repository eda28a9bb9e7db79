// SPDX-License-Identifier: LGPL-3.0-or-later

package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithConfig(Config{Level: "warn", Output: &buf})

	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message")
	log.Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestTextFormatPairs(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithConfig(Config{Level: "info", Output: &buf})

	log.Info("installing", "id", "sample-dlc", "slot", "a")

	out := buf.String()
	assert.Contains(t, out, "installing")
	assert.Contains(t, out, "id=sample-dlc")
	assert.Contains(t, out, "slot=a")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithConfig(Config{Level: "info", Format: "json", Output: &buf})

	log.Info("mounted", "id", "sample-dlc")

	line := strings.TrimSpace(buf.String())
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "mounted", entry["msg"])
	assert.Equal(t, "sample-dlc", entry["id"])
}

func TestCaptureLogger(t *testing.T) {
	cl := NewCaptureLogger()
	cl.Info("verifying image", "id", "sample-dlc")
	cl.Error("mount failed")

	require.Len(t, cl.Lines(), 2)
	assert.True(t, cl.Contains("verifying image"))
	assert.True(t, cl.Contains("id=sample-dlc"))
	assert.True(t, cl.Contains("mount failed"))
	assert.False(t, cl.Contains("uninstall"))
}
