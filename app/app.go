package app

import (
	"context"

	"EmotionDetServer/capture"
	"EmotionDetServer/config"
	"EmotionDetServer/loader"
	"EmotionDetServer/pipeline"
	"EmotionDetServer/status"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// App ties the status machine, the asset loader and the capture session
// together. It is the only control surface used by the transports.
type App struct {
	Machine *status.Machine
	Loader  *loader.Loader
	Session *capture.Session
	Stats   *pipeline.Stats

	cfg config.Config
	log *zap.Logger
}

type Option func(*capture.Options)

// WithCameraOpener replaces the gocv video source.
func WithCameraOpener(open capture.Opener) Option {
	return func(o *capture.Options) {
		o.Open = open
	}
}

func New(cfg config.Config, log *zap.Logger, opts ...Option) *App {
	if log == nil {
		log = zap.NewNop()
	}
	capOpts := capture.Options{
		Device: cfg.Capture.Device,
		FPS:    cfg.Capture.FPS,
	}
	for _, o := range opts {
		o(&capOpts)
	}
	a := &App{
		Machine: status.NewMachine(),
		Stats:   &pipeline.Stats{},
		cfg:     cfg,
		log:     log,
	}
	a.Loader = loader.New(cfg, a.Machine, log.Named("loader"))
	a.Session = capture.New(capOpts, a.Machine, a.newProcessor, a.Stats, log.Named("capture"))
	return a
}

// NewPipeline builds a pipeline over the currently loaded assets.
func (a *App) NewPipeline() (*pipeline.Pipeline, error) {
	if !a.Machine.IsReady() {
		return nil, status.ErrNotReady
	}
	assets := a.Loader.Assets()
	if assets == nil {
		return nil, status.ErrNotReady
	}
	opts := pipeline.DefaultOptions()
	opts.InputSize = a.cfg.Pipeline.InputSize
	return pipeline.New(assets.Detector, assets.Classifier, assets.Labels, a.Machine, a.Stats, opts, a.log.Named("pipeline")), nil
}

// ClassifyImage runs one pass over img. The estimate is returned but not
// published, so the live status is left untouched.
func (a *App) ClassifyImage(img *gocv.Mat) (pipeline.Result, error) {
	if !a.Machine.IsReady() {
		return pipeline.Result{}, status.ErrNotReady
	}
	assets := a.Loader.Assets()
	if assets == nil {
		return pipeline.Result{}, status.ErrNotReady
	}
	opts := pipeline.DefaultOptions()
	opts.InputSize = a.cfg.Pipeline.InputSize
	p := pipeline.New(assets.Detector, assets.Classifier, assets.Labels, nil, &pipeline.Stats{}, opts, a.log.Named("pipeline"))
	return p.Process(img)
}

func (a *App) newProcessor() (capture.Processor, error) {
	p, err := a.NewPipeline()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Initialize loads the assets. When they are already loaded it returns
// immediately; after a failure it is the explicit way back to Ready.
func (a *App) Initialize(ctx context.Context) error {
	if a.Machine.IsReady() && a.Loader.Assets() != nil {
		return nil
	}
	a.Session.Stop()
	_, err := a.Loader.Initialize(ctx)
	return err
}

func (a *App) Toggle(ctx context.Context) (bool, error) {
	return a.Session.Toggle(ctx)
}

func (a *App) Stop() {
	a.Session.Stop()
}

func (a *App) Snapshot() status.Snapshot {
	return a.Machine.Snapshot()
}

func (a *App) Subscribe(buffer int) (<-chan status.Snapshot, func()) {
	return a.Machine.Subscribe(buffer)
}

func (a *App) Close() error {
	a.Session.Stop()
	return a.Loader.Close()
}
