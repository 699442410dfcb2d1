package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"EmotionDetServer/config"
	"EmotionDetServer/engine"
	iface "EmotionDetServer/interface"
	"EmotionDetServer/status"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

type Phase int

const (
	PhaseEngine Phase = iota + 1
	PhaseDetector
	PhaseModel
)

func (p Phase) String() string {
	switch p {
	case PhaseEngine:
		return "engine"
	case PhaseDetector:
		return "detector"
	case PhaseModel:
		return "model"
	default:
		return "unknown"
	}
}

// Assets is the single set of handles produced by a successful load. They are
// read-only after creation and borrowed by every pipeline.
type Assets struct {
	Runtime    iface.Runtime
	Detector   iface.FaceDetector
	Classifier iface.Classifier
	Labels     []string
}

func (a *Assets) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.Detector != nil {
		errs = append(errs, a.Detector.Close())
	}
	if a.Classifier != nil {
		errs = append(errs, a.Classifier.Close())
	}
	return errors.Join(errs...)
}

type (
	RuntimeFactory    func() iface.Runtime
	DetectorFactory   func(data []byte, dir string, params iface.DetectParams) (iface.FaceDetector, error)
	ClassifierFactory func(model []byte, cfg iface.ClassifierConfig) (iface.Classifier, error)
)

// outputSizer is implemented by classifiers that know their score length
// before the first frame.
type outputSizer interface {
	OutputSize() int
}

// Loader acquires the engine, the face detector and the classification model
// in that order and reports progress on the status machine.
type Loader struct {
	NewRuntime    RuntimeFactory
	NewDetector   DetectorFactory
	NewClassifier ClassifierFactory
	// OnPhase is called at the start of each phase.
	OnPhase func(Phase)

	cfg     config.Config
	client  *resty.Client
	machine *status.Machine
	log     *zap.Logger

	mu      sync.Mutex
	runtime iface.Runtime
	assets  *Assets
	// current mirrors assets for readers that must not wait on a load.
	current atomic.Pointer[Assets]
}

func New(cfg config.Config, machine *status.Machine, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	if machine == nil {
		machine = status.NewMachine()
	}
	return &Loader{
		NewRuntime: func() iface.Runtime { return engine.NewRuntime() },
		NewDetector: func(data []byte, dir string, params iface.DetectParams) (iface.FaceDetector, error) {
			d, err := engine.NewCascadeDetector(data, dir, params)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
		NewClassifier: func(model []byte, cfg iface.ClassifierConfig) (iface.Classifier, error) {
			c, err := engine.NewDnnClassifier(model, cfg)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		cfg:     cfg,
		client:  resty.New().SetTimeout(time.Duration(cfg.Assets.TimeoutSeconds) * time.Second),
		machine: machine,
		log:     log,
	}
}

// Initialize loads every asset. It returns the live assets without touching
// the network when they are already loaded and the machine is ready. Failures
// move the machine to Error and are never retried here.
func (l *Loader) Initialize(ctx context.Context) (*Assets, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.assets != nil && l.machine.IsReady() {
		return l.assets, nil
	}
	if l.machine.Snapshot().State != status.Loading {
		l.machine.BeginLoading()
	}

	start := time.Now()
	assets, err := l.load(ctx)
	if err != nil {
		l.log.Error("asset loading failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		l.machine.Fail(err.Error())
		return nil, err
	}
	prev := l.assets
	l.assets = assets
	l.current.Store(assets)
	if prev != nil {
		if cerr := prev.Close(); cerr != nil {
			l.log.Warn("error closing previous assets", zap.Error(cerr))
		}
	}
	l.machine.MarkReady()
	l.log.Info("assets ready",
		zap.String("engine", assets.Runtime.Version()),
		zap.Strings("labels", assets.Labels),
		zap.Duration("elapsed", time.Since(start)))
	return assets, nil
}

// Assets returns the loaded assets or nil before the first success. It never
// blocks behind a load in progress.
func (l *Loader) Assets() *Assets {
	return l.current.Load()
}

func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current.Store(nil)
	err := l.assets.Close()
	l.assets = nil
	return err
}

func (l *Loader) load(ctx context.Context) (*Assets, error) {
	l.phase(PhaseEngine)
	if err := l.loadEngine(ctx); err != nil {
		return nil, err
	}

	l.phase(PhaseDetector)
	detector, err := l.loadDetector(ctx)
	if err != nil {
		return nil, err
	}

	l.phase(PhaseModel)
	classifier, labels, err := l.loadModel(ctx)
	if err != nil {
		if cerr := detector.Close(); cerr != nil {
			l.log.Warn("error closing detector", zap.Error(cerr))
		}
		return nil, err
	}
	return &Assets{
		Runtime:    l.runtime,
		Detector:   detector,
		Classifier: classifier,
		Labels:     labels,
	}, nil
}

func (l *Loader) phase(p Phase) {
	l.log.Info("loading", zap.Stringer("phase", p))
	if l.OnPhase != nil {
		l.OnPhase(p)
	}
}

// loadEngine starts the runtime once and waits for its readiness flag. A
// runtime that failed its warm-up is replaced on the next attempt.
func (l *Loader) loadEngine(ctx context.Context) error {
	if l.runtime != nil && l.runtime.Err() != nil {
		l.runtime = nil
	}
	if l.runtime == nil {
		l.runtime = l.NewRuntime()
	}
	rt := l.runtime
	rt.Start()

	interval := time.Duration(l.cfg.Engine.ReadyPollMs) * time.Millisecond
	timeout := time.Duration(l.cfg.Engine.ReadyTimeoutMs) * time.Millisecond
	err := Await(ctx, interval, timeout, func() bool {
		return rt.Ready() || rt.Err() != nil
	})
	if err != nil {
		return &LoadError{Kind: EngineLoad, Err: err}
	}
	if err := rt.Err(); err != nil {
		return &LoadError{Kind: EngineLoad, Err: err}
	}
	return nil
}

func (l *Loader) loadDetector(ctx context.Context) (iface.FaceDetector, error) {
	data, err := l.fetch(ctx, l.cfg.Assets.CascadePath)
	if err != nil {
		return nil, &LoadError{Kind: DetectorLoad, Err: err}
	}
	detector, err := l.NewDetector(data, l.cfg.Engine.ScratchDir, iface.DetectParams{
		ScaleFactor:  l.cfg.Pipeline.ScaleFactor,
		MinNeighbors: l.cfg.Pipeline.MinNeighbors,
		MinSize:      l.cfg.Pipeline.MinSize,
	})
	if err != nil {
		return nil, &LoadError{Kind: DetectorLoad, Err: err}
	}
	return detector, nil
}

// loadModel fetches the model and the label table concurrently.
func (l *Loader) loadModel(ctx context.Context) (iface.Classifier, []string, error) {
	var (
		wg                  sync.WaitGroup
		model, table        []byte
		modelErr, labelsErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		model, modelErr = l.fetch(ctx, l.cfg.Assets.ModelPath)
	}()
	go func() {
		defer wg.Done()
		table, labelsErr = l.fetch(ctx, l.cfg.Assets.LabelsPath)
	}()
	wg.Wait()
	if modelErr != nil {
		return nil, nil, &LoadError{Kind: ModelLoad, Err: modelErr}
	}
	if labelsErr != nil {
		return nil, nil, &LoadError{Kind: ModelLoad, Err: labelsErr}
	}

	labels, err := ParseLabels(table)
	if err != nil {
		return nil, nil, &LoadError{Kind: ModelLoad, Err: err}
	}

	classifier, err := l.NewClassifier(model, iface.ClassifierConfig{
		InputName:  l.cfg.Engine.InputName,
		OutputName: l.cfg.Engine.OutputName,
		InputSize:  l.cfg.Pipeline.InputSize,
		Backend:    l.cfg.Engine.Backend,
		Target:     l.cfg.Engine.Target,
	})
	if err != nil {
		return nil, nil, &LoadError{Kind: ModelLoad, Err: err}
	}
	if s, ok := classifier.(outputSizer); ok && s.OutputSize() != len(labels) {
		_ = classifier.Close()
		return nil, nil, loadErr(ModelLoad, "model produces %d scores but the label table has %d entries", s.OutputSize(), len(labels))
	}
	return classifier, labels, nil
}

// ParseLabels decodes a JSON array of strings. An empty table is malformed.
func ParseLabels(data []byte) ([]string, error) {
	var labels []string
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("label table is not a list of strings: %w", err)
	}
	if len(labels) == 0 {
		return nil, errors.New("label table is empty")
	}
	return labels, nil
}

func (l *Loader) fetch(ctx context.Context, path string) ([]byte, error) {
	url := l.cfg.Assets.AssetURL(path)
	resp, err := l.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch %s: %s", url, resp.Status())
	}
	body := resp.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("fetch %s: empty body", url)
	}
	l.log.Debug("fetched asset", zap.String("url", url), zap.Int("bytes", len(body)))
	return body, nil
}
