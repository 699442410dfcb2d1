package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"EmotionDetServer/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("Test missing file falls back to defaults", func(t *testing.T) {
		cfg, err := loadConfig(Options{ConfigPath: filepath.Join(dir, "absent.yaml")}, false)
		require.NoError(t, err)
		assert.Equal(t, config.Default(), cfg)
	})

	t.Run("Test missing explicit file is an error", func(t *testing.T) {
		_, err := loadConfig(Options{ConfigPath: filepath.Join(dir, "absent.yaml")}, true)
		assert.Error(t, err)
	})

	t.Run("Test flags override the file", func(t *testing.T) {
		path := filepath.Join(dir, "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("HTTPPort: 9000\nCapture:\n  Device: \"2\"\n"), 0o644))

		cfg, err := loadConfig(Options{ConfigPath: path}, true)
		require.NoError(t, err)
		assert.Equal(t, 9000, cfg.HTTPPort)
		assert.Equal(t, "2", cfg.Capture.Device)

		cfg, err = loadConfig(Options{
			ConfigPath: path,
			Device:     "rtsp://cam/1",
			AssetsURL:  "http://assets:3000/",
			LogMode:    "development",
		}, true)
		require.NoError(t, err)
		assert.Equal(t, "rtsp://cam/1", cfg.Capture.Device)
		assert.Equal(t, "http://assets:3000", cfg.Assets.BaseURL)
		assert.Equal(t, "development", cfg.LogMode)
	})

	t.Run("Test invalid yaml", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("HTTPPort: [\n"), 0o644))
		_, err := loadConfig(Options{ConfigPath: path}, false)
		assert.Error(t, err)
	})
}
