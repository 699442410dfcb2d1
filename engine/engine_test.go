package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	iface "EmotionDetServer/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntime_All(t *testing.T) {
	r := NewRuntime()

	t.Run("Test New", func(t *testing.T) {
		assert.False(t, r.Ready())
		assert.Equal(t, "unregistered", r.State())
		assert.Empty(t, r.Version())
	})

	t.Run("Test Start", func(t *testing.T) {
		r.Start()
		r.Start()
		require.Eventually(t, r.Ready, 5*time.Second, 10*time.Millisecond)
		assert.NoError(t, r.Err())
		assert.Equal(t, "idle", r.State())
		assert.Contains(t, r.Version(), "opencv")
	})
}

func TestCascadeDetector_Errors(t *testing.T) {
	params := iface.DetectParams{ScaleFactor: 1.1, MinNeighbors: 3}

	t.Run("Test empty data", func(t *testing.T) {
		_, err := NewCascadeDetector(nil, t.TempDir(), params)
		assert.EqualError(t, err, "cascade data is empty")
	})

	t.Run("Test missing scratch dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "gone")
		_, err := NewCascadeDetector([]byte("<opencv_storage/>"), dir, params)
		assert.ErrorContains(t, err, "create cascade file")
		_, statErr := os.Stat(dir)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("Test Close is idempotent", func(t *testing.T) {
		d := &CascadeDetector{State: UNREGISTERED}
		assert.NoError(t, d.Close())
		assert.NoError(t, d.Close())
	})
}

func TestDnnClassifier_Errors(t *testing.T) {
	t.Run("Test empty model", func(t *testing.T) {
		_, err := NewDnnClassifier(nil, iface.ClassifierConfig{InputSize: 64})
		assert.EqualError(t, err, "model data is empty")
	})

	t.Run("Test invalid input size", func(t *testing.T) {
		_, err := NewDnnClassifier([]byte{1, 2, 3}, iface.ClassifierConfig{})
		assert.EqualError(t, err, "invalid input size 0")
	})

	t.Run("Test Classify before load", func(t *testing.T) {
		c := &DnnClassifier{State: UNREGISTERED, inputSize: 2}
		_, err := c.Classify(make([]float32, 12))
		assert.ErrorIs(t, err, ErrNotLoaded)
		assert.ErrorContains(t, err, "unregistered")
	})
}

func TestOpenCamera_Missing(t *testing.T) {
	_, err := OpenCamera(filepath.Join(t.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}

func TestStateName(t *testing.T) {
	assert.Equal(t, "registered", stateName(REGISTERED))
	assert.Equal(t, "error", stateName(ERROR))
	assert.Equal(t, "unknown(0x42)", stateName(0x42))
}
