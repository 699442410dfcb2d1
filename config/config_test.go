package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, 8080, c.HTTPPort)
	assert.Equal(t, 50051, c.RPCPort)
	assert.Equal(t, DefaultCascadePath, c.Assets.CascadePath)
	assert.Equal(t, DefaultModelPath, c.Assets.ModelPath)
	assert.Equal(t, DefaultLabelsPath, c.Assets.LabelsPath)
	assert.Equal(t, 50, c.Engine.ReadyPollMs)
	assert.Equal(t, 60.0, c.Capture.FPS)
	assert.Equal(t, "0", c.Capture.Device)
	assert.Equal(t, 1.1, c.Pipeline.ScaleFactor)
	assert.Equal(t, 3, c.Pipeline.MinNeighbors)
	assert.Equal(t, 0, c.Pipeline.MinSize)
	assert.Equal(t, 64, c.Pipeline.InputSize)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
HTTPPort: 9000
LogMode: development
Assets:
  BaseURL: http://assets.local:8000/
  ModelPath: /models/fer.onnx
Capture:
  Device: video.mp4
  FPS: 30
Pipeline:
  ScaleFactor: 0.5
MQTT:
  Enabled: true
  QoS: 7
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	c, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 9000, c.HTTPPort)
	assert.Equal(t, "development", c.LogMode)
	assert.Equal(t, "http://assets.local:8000", c.Assets.BaseURL)
	assert.Equal(t, "/models/fer.onnx", c.Assets.ModelPath)
	assert.Equal(t, DefaultLabelsPath, c.Assets.LabelsPath)
	assert.Equal(t, "video.mp4", c.Capture.Device)
	assert.Equal(t, 30.0, c.Capture.FPS)
	assert.Equal(t, 1.1, c.Pipeline.ScaleFactor, "invalid scale factor is corrected")
	assert.True(t, c.MQTT.Enabled)
	assert.Equal(t, byte(0), c.MQTT.QoS)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	_, err = Parse([]byte("HTTPPort: [1, 2"), nil)
	assert.Error(t, err)
}

func TestAssetURL(t *testing.T) {
	a := AssetsConfig{BaseURL: "http://h:1"}
	assert.Equal(t, "http://h:1/moduls/classes.json", a.AssetURL("/moduls/classes.json"))
	assert.Equal(t, "http://h:1/x.xml", a.AssetURL("x.xml"))
	assert.Equal(t, "https://cdn/x.onnx", a.AssetURL("https://cdn/x.onnx"))
}
