package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/storyforge/internal/config"
)

func TestNewWritesToFile(t *testing.T) {
	dir := t.TempDir()
	log, err := New(config.LogConfig{
		Level:     "debug",
		Format:    "json",
		Output:    "file",
		Dir:       dir,
		File:      "test.log",
		MaxSizeMB: 1,
	})
	require.NoError(t, err)

	log.Named("storage").Info("saved")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"saved"`)
	assert.Contains(t, string(data), `"logger":"storage"`)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "chatty", Output: "stdout"})
	assert.Error(t, err)
}

func TestNewRejectsUnknownOutput(t *testing.T) {
	_, err := New(config.LogConfig{Level: "info", Output: "syslog"})
	assert.Error(t, err)
}
