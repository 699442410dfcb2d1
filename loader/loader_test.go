package loader

import (
	"context"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"EmotionDetServer/config"
	iface "EmotionDetServer/interface"
	"EmotionDetServer/status"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type MockRuntime struct {
	started atomic.Bool
	never   bool
	err     error
}

func (m *MockRuntime) Start() { m.started.Store(true) }
func (m *MockRuntime) Ready() bool {
	return m.started.Load() && !m.never && m.err == nil
}
func (m *MockRuntime) Err() error      { return m.err }
func (m *MockRuntime) Version() string { return "mock" }

type MockDetector struct {
	data   []byte
	closed bool
}

func (m *MockDetector) Detect(gray gocv.Mat) []image.Rectangle { return nil }
func (m *MockDetector) Close() error {
	m.closed = true
	return nil
}

type MockClassifier struct {
	size   int
	closed bool
}

func (m *MockClassifier) Classify(tensor []float32) ([]float32, error) {
	return make([]float32, m.size), nil
}
func (m *MockClassifier) OutputSize() int { return m.size }
func (m *MockClassifier) Close() error {
	m.closed = true
	return nil
}

type assetServer struct {
	mu     sync.Mutex
	status map[string]int
	body   map[string]string
	hits   map[string]int
}

func newAssetServer(t *testing.T) (*assetServer, *httptest.Server) {
	a := &assetServer{
		status: map[string]int{},
		body: map[string]string{
			config.DefaultCascadePath: "<opencv_storage/>",
			config.DefaultModelPath:   "onnx-bytes",
			config.DefaultLabelsPath:  `["Happy","Sad","Angry","Neutral","Surprise"]`,
		},
		hits: map[string]int{},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.hits[r.URL.Path]++
		if code, ok := a.status[r.URL.Path]; ok {
			w.WriteHeader(code)
			return
		}
		body, ok := a.body[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return a, srv
}

func (a *assetServer) set(path string, code int, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if code != 0 {
		a.status[path] = code
	} else {
		delete(a.status, path)
	}
	if body != "" {
		a.body[path] = body
	}
}

func (a *assetServer) hitCount(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hits[path]
}

type fixture struct {
	loader     *Loader
	machine    *status.Machine
	runtime    *MockRuntime
	detector   *MockDetector
	classifier *MockClassifier
	phases     []Phase
}

func newFixture(t *testing.T, baseURL string) *fixture {
	cfg := config.Default()
	cfg.Assets.BaseURL = baseURL
	cfg.Engine.ReadyPollMs = 5
	cfg.Engine.ReadyTimeoutMs = 200
	cfg.Engine.ScratchDir = t.TempDir()

	f := &fixture{
		machine:    status.NewMachine(),
		runtime:    &MockRuntime{},
		classifier: &MockClassifier{size: 5},
	}
	l := New(cfg, f.machine, nil)
	l.NewRuntime = func() iface.Runtime { return f.runtime }
	l.NewDetector = func(data []byte, dir string, params iface.DetectParams) (iface.FaceDetector, error) {
		assert.Equal(t, cfg.Engine.ScratchDir, dir)
		assert.Equal(t, 1.1, params.ScaleFactor)
		assert.Equal(t, 3, params.MinNeighbors)
		assert.Equal(t, 0, params.MinSize)
		f.detector = &MockDetector{data: data}
		return f.detector, nil
	}
	l.NewClassifier = func(model []byte, cfg iface.ClassifierConfig) (iface.Classifier, error) {
		assert.Equal(t, 64, cfg.InputSize)
		return f.classifier, nil
	}
	l.OnPhase = func(p Phase) { f.phases = append(f.phases, p) }
	f.loader = l
	return f
}

func TestInitialize_Success(t *testing.T) {
	srv, ts := newAssetServer(t)
	f := newFixture(t, ts.URL)

	assets, err := f.loader.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Phase{PhaseEngine, PhaseDetector, PhaseModel}, f.phases)
	assert.Equal(t, []string{"Happy", "Sad", "Angry", "Neutral", "Surprise"}, assets.Labels)
	assert.Equal(t, "<opencv_storage/>", string(f.detector.data))
	assert.Same(t, f.runtime, assets.Runtime)

	s := f.machine.Snapshot()
	assert.Equal(t, status.Ready, s.State)
	assert.Equal(t, status.TextReady, s.Status)
	assert.NoError(t, f.machine.StartDetecting())

	t.Run("Test idempotent when ready", func(t *testing.T) {
		again, err := f.loader.Initialize(context.Background())
		require.NoError(t, err)
		assert.Same(t, assets, again)
		assert.Equal(t, 1, srv.hitCount(config.DefaultCascadePath))
		assert.Equal(t, 1, srv.hitCount(config.DefaultModelPath))
		assert.Equal(t, status.Detecting, f.machine.Snapshot().State)
	})

	t.Run("Test close", func(t *testing.T) {
		require.NoError(t, f.loader.Close())
		assert.True(t, f.detector.closed)
		assert.True(t, f.classifier.closed)
		assert.Nil(t, f.loader.Assets())
	})
}

func TestInitialize_DetectorFetchFails(t *testing.T) {
	srv, ts := newAssetServer(t)
	srv.set(config.DefaultCascadePath, http.StatusNotFound, "")
	f := newFixture(t, ts.URL)

	_, err := f.loader.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDetectorLoad)
	assert.NotErrorIs(t, err, ErrModelLoad)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, DetectorLoad, le.Kind)

	s := f.machine.Snapshot()
	assert.Equal(t, status.Error, s.State)
	assert.Contains(t, s.Status, "Error: ")
	assert.Contains(t, s.Status, "404")
	assert.False(t, f.machine.IsReady())
	assert.ErrorIs(t, f.machine.StartDetecting(), status.ErrNotReady)
	assert.Nil(t, f.loader.Assets())
	assert.Equal(t, 0, srv.hitCount(config.DefaultModelPath), "model phase never runs")

	t.Run("Test explicit retry recovers", func(t *testing.T) {
		srv.set(config.DefaultCascadePath, 0, "")
		_, err := f.loader.Initialize(context.Background())
		require.NoError(t, err)
		assert.Equal(t, status.Ready, f.machine.Snapshot().State)
	})
}

func TestInitialize_EngineNeverReady(t *testing.T) {
	_, ts := newAssetServer(t)
	f := newFixture(t, ts.URL)
	f.runtime.never = true

	_, err := f.loader.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrEngineLoad)
	assert.ErrorIs(t, err, ErrAwaitTimeout)
	assert.Equal(t, status.Error, f.machine.Snapshot().State)
	assert.Equal(t, []Phase{PhaseEngine}, f.phases)
}

func TestAssets_DoesNotWaitOnLoad(t *testing.T) {
	_, ts := newAssetServer(t)
	f := newFixture(t, ts.URL)
	require.NoError(t, func() error { _, err := f.loader.Initialize(context.Background()); return err }())
	first := f.loader.Assets()
	require.NotNil(t, first)

	f.machine.Fail("reload requested")
	f.runtime.never = true
	engineWait := make(chan struct{})
	f.loader.OnPhase = func(p Phase) {
		if p == PhaseEngine {
			close(engineWait)
		}
	}
	done := make(chan error, 1)
	go func() {
		_, err := f.loader.Initialize(context.Background())
		done <- err
	}()
	<-engineWait

	start := time.Now()
	assert.Same(t, first, f.loader.Assets())
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.False(t, f.machine.IsReady())
	assert.ErrorIs(t, <-done, ErrEngineLoad)
}

func TestInitialize_EngineWarmupFails(t *testing.T) {
	_, ts := newAssetServer(t)
	f := newFixture(t, ts.URL)
	f.runtime.err = errors.New("warmup crashed")

	_, err := f.loader.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrEngineLoad)
	assert.ErrorContains(t, err, "warmup crashed")
}

func TestInitialize_ModelFailures(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		code   int
		body   string
		output int
	}{
		{name: "Test model 500", path: config.DefaultModelPath, code: http.StatusInternalServerError},
		{name: "Test labels 404", path: config.DefaultLabelsPath, code: http.StatusNotFound},
		{name: "Test labels object", path: config.DefaultLabelsPath, body: `{"0":"Happy"}`},
		{name: "Test labels mixed", path: config.DefaultLabelsPath, body: `["Happy", 2]`},
		{name: "Test labels empty", path: config.DefaultLabelsPath, body: `[]`},
		{name: "Test output mismatch", output: 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, ts := newAssetServer(t)
			if tc.path != "" {
				srv.set(tc.path, tc.code, tc.body)
			}
			f := newFixture(t, ts.URL)
			if tc.output != 0 {
				f.classifier.size = tc.output
			}
			_, err := f.loader.Initialize(context.Background())
			assert.ErrorIs(t, err, ErrModelLoad)
			assert.Equal(t, status.Error, f.machine.Snapshot().State)
			require.NotNil(t, f.detector)
			assert.True(t, f.detector.closed, "detector released after model failure")
			if tc.output != 0 {
				assert.True(t, f.classifier.closed)
			}
		})
	}
}

func TestParseLabels(t *testing.T) {
	labels, err := ParseLabels([]byte(`["a","b"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, labels)

	for _, bad := range []string{``, `null`, `[]`, `"a"`, `[1,2]`} {
		_, err := ParseLabels([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestAwait(t *testing.T) {
	t.Run("Test immediate", func(t *testing.T) {
		assert.NoError(t, Await(context.Background(), time.Hour, time.Hour, func() bool { return true }))
	})

	t.Run("Test becomes true", func(t *testing.T) {
		var n atomic.Int32
		err := Await(context.Background(), time.Millisecond, time.Second, func() bool {
			return n.Add(1) >= 5
		})
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, n.Load(), int32(5))
	})

	t.Run("Test timeout", func(t *testing.T) {
		err := Await(context.Background(), time.Millisecond, 20*time.Millisecond, func() bool { return false })
		assert.ErrorIs(t, err, ErrAwaitTimeout)
	})

	t.Run("Test context cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Await(ctx, time.Millisecond, 0, func() bool { return false })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLoadError(t *testing.T) {
	cause := errors.New("boom")
	err := &LoadError{Kind: ModelLoad, Err: cause}
	assert.ErrorIs(t, err, ErrModelLoad)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrEngineLoad)
	assert.Equal(t, "emotion model failed to load: boom", err.Error())
	assert.Equal(t, "model", ModelLoad.String())
}
