package iotcore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusiot/agentcore/osal"
)

func TestLoadConfigFlattensDottedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"device": {"name": "sensor-1", "interval_ms": 500},
		"enabled": true
	}`), 0o644))

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	name, err := cfg.Options().GetString("device.name")
	require.NoError(t, err)
	assert.Equal(t, "sensor-1", name)

	interval, err := cfg.Options().GetFloat64("device.interval_ms")
	require.NoError(t, err)
	assert.Equal(t, 500.0, interval)

	enabled, err := cfg.Options().GetBool("enabled")
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestLoadConfigMissingFileFails(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path.json", nil)
	assert.ErrorIs(t, err, FileOpenFailed)
}

func TestDeviceIDGeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "device-id")

	first, err := DeviceID(path, osal.Default{})
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := DeviceID(path, osal.Default{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDeviceIDTreatsEmptyFileAsMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "device-id")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	id, err := DeviceID(path, osal.Default{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
