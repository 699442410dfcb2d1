// Package apptest builds an App over in-memory engine fakes and a local asset
// server so transports can be tested without OpenCV models or a camera.
package apptest

import (
	"image"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"EmotionDetServer/app"
	"EmotionDetServer/config"
	iface "EmotionDetServer/interface"

	"gocv.io/x/gocv"
)

var Labels = []string{"Happy", "Sad", "Angry", "Neutral", "Surprise"}

type Runtime struct{}

func (Runtime) Start()          {}
func (Runtime) Ready() bool     { return true }
func (Runtime) Err() error      { return nil }
func (Runtime) Version() string { return "test" }

// Detector reports the same rectangles for every frame.
type Detector struct {
	Rects []image.Rectangle
}

func (d *Detector) Detect(gray gocv.Mat) []image.Rectangle { return d.Rects }
func (d *Detector) Close() error                            { return nil }

type Classifier struct {
	Logits []float32
}

func (c *Classifier) Classify(tensor []float32) ([]float32, error) {
	return c.Logits, nil
}
func (c *Classifier) OutputSize() int { return len(c.Logits) }
func (c *Classifier) Close() error    { return nil }

// Camera yields a uniform 64x48 BGR frame on every read.
type Camera struct {
	Reads  atomic.Int64
	Closed atomic.Bool
}

func (c *Camera) Read(dst *gocv.Mat) bool {
	c.Reads.Add(1)
	src := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(200, 180, 160, 0), 48, 64, gocv.MatTypeCV8UC3)
	defer src.Close()
	src.CopyTo(dst)
	return true
}

func (c *Camera) Close() error {
	c.Closed.Store(true)
	return nil
}

// AssetServer serves the default asset paths. Paths listed in missing
// answer 404.
func AssetServer(t *testing.T, missing ...string) *httptest.Server {
	t.Helper()
	body := map[string]string{
		config.DefaultCascadePath: "<opencv_storage/>",
		config.DefaultModelPath:   "onnx",
		config.DefaultLabelsPath:  `["Happy","Sad","Angry","Neutral","Surprise"]`,
	}
	for _, p := range missing {
		delete(body, p)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, ok := body[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(b))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// Fixture is an App wired to fakes.
type Fixture struct {
	App        *app.App
	Camera     *Camera
	Detector   *Detector
	Classifier *Classifier
	Config     config.Config
}

// New returns an App that has not been initialized yet. The detector finds
// one face and the classifier favours "Happy".
func New(t *testing.T, missing ...string) *Fixture {
	t.Helper()
	srv := AssetServer(t, missing...)
	cfg := config.Default()
	cfg.Assets.BaseURL = srv.URL
	cfg.Engine.ReadyPollMs = 5
	cfg.Engine.ReadyTimeoutMs = 500
	cfg.Engine.ScratchDir = t.TempDir()
	cfg.Capture.FPS = 200

	f := &Fixture{
		Camera:     &Camera{},
		Detector:   &Detector{Rects: []image.Rectangle{image.Rect(8, 8, 40, 40)}},
		Classifier: &Classifier{Logits: []float32{2, 0, 0, 0, 0}},
		Config:     cfg,
	}
	f.App = app.New(cfg, nil, app.WithCameraOpener(func(string) (iface.Camera, error) {
		return f.Camera, nil
	}))
	f.App.Loader.NewRuntime = func() iface.Runtime { return Runtime{} }
	f.App.Loader.NewDetector = func([]byte, string, iface.DetectParams) (iface.FaceDetector, error) {
		return f.Detector, nil
	}
	f.App.Loader.NewClassifier = func([]byte, iface.ClassifierConfig) (iface.Classifier, error) {
		return f.Classifier, nil
	}
	t.Cleanup(func() { _ = f.App.Close() })
	return f
}
