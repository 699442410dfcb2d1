package capture

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"EmotionDetServer/engine"
	iface "EmotionDetServer/interface"
	"EmotionDetServer/pipeline"
	"EmotionDetServer/status"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// CaptureError reports a video source that could not be opened. It is never
// fatal: start may be retried.
type CaptureError struct {
	Device string
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("%s (%s): %v", status.TextCameraDenied, e.Device, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

type Opener func(device string) (iface.Camera, error)

// Processor runs one tick over the session's frame buffer.
type Processor interface {
	Process(frame *gocv.Mat) (pipeline.Result, error)
}

// ProcessorFactory is called on every start so a session always runs against
// the assets that are loaded at that moment.
type ProcessorFactory func() (Processor, error)

// Sink sees the annotated frame after every processed tick. The frame is only
// valid for the duration of the call.
type Sink func(frame *gocv.Mat, res pipeline.Result)

type Options struct {
	Device string
	FPS    float64
	Open   Opener
}

// Session owns the video source and the frame buffer of one activation at a
// time.
type Session struct {
	Sink Sink

	device    string
	interval  time.Duration
	open      Opener
	machine   *status.Machine
	processor ProcessorFactory
	stats     *pipeline.Stats
	log       *zap.Logger

	mu      sync.Mutex
	running atomic.Bool
	id      string
	cam     iface.Camera
	frame   *gocv.Mat
	stop    chan struct{}
	done    chan struct{}
}

func New(opts Options, machine *status.Machine, processor ProcessorFactory, stats *pipeline.Stats, log *zap.Logger) *Session {
	if opts.Open == nil {
		opts.Open = func(device string) (iface.Camera, error) {
			c, err := engine.OpenCamera(device)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	if opts.FPS <= 0 {
		opts.FPS = 60
	}
	if opts.Device == "" {
		opts.Device = "0"
	}
	if stats == nil {
		stats = &pipeline.Stats{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		device:    opts.Device,
		interval:  time.Duration(float64(time.Second) / opts.FPS),
		open:      opts.Open,
		machine:   machine,
		processor: processor,
		stats:     stats,
		log:       log,
	}
}

func (s *Session) Active() bool {
	return s.running.Load()
}

// ID identifies the current activation; it is empty while inactive.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Toggle stops an active session or starts an inactive one and reports
// whether capture is active afterwards.
func (s *Session) Toggle(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		s.stopLocked()
		return false, nil
	}
	if err := s.startLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Start activates capture. On an active session it behaves like Toggle and
// stops it instead.
func (s *Session) Start(ctx context.Context) error {
	_, err := s.Toggle(ctx)
	return err
}

// Stop halts the loop, releases the device and moves the machine to Idle.
// It is a no-op when inactive.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Session) startLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.machine.IsReady() {
		return status.ErrNotReady
	}
	proc, err := s.processor()
	if err != nil {
		return err
	}
	cam, err := s.open(s.device)
	if err != nil {
		s.log.Warn("capture failed", zap.String("device", s.device), zap.Error(err))
		s.machine.CaptureFailed("")
		return &CaptureError{Device: s.device, Err: err}
	}
	if err := s.machine.StartDetecting(); err != nil {
		_ = cam.Close()
		return err
	}

	frame := gocv.NewMat()
	s.cam = cam
	s.frame = &frame
	s.id = uuid.NewString()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running.Store(true)
	s.log.Info("capture started", zap.String("session", s.id), zap.String("device", s.device), zap.Duration("interval", s.interval))
	go s.loop(s.id, proc, cam, s.frame, s.stop, s.done)
	return nil
}

func (s *Session) stopLocked() {
	if s.done == nil {
		return
	}
	s.running.Store(false)
	close(s.stop)
	<-s.done

	if err := s.cam.Close(); err != nil {
		s.log.Warn("error closing camera", zap.Error(err))
	}
	if err := s.frame.Close(); err != nil {
		s.log.Warn("error closing frame buffer", zap.Error(err))
	}
	s.log.Info("capture stopped", zap.String("session", s.id))
	s.cam, s.frame, s.stop, s.done, s.id = nil, nil, nil, nil, ""
	s.machine.Sleep()
}

// loop runs one tick per interval until the run flag is cleared. Only one
// tick executes at a time and the frame buffer is owned by this goroutine
// until done is closed.
func (s *Session) loop(id string, proc Processor, cam iface.Camera, frame *gocv.Mat, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	var size image.Point
	misses := 0
	for {
		if !s.running.Load() {
			return
		}
		s.tick(id, proc, cam, frame, &size, &misses)
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) tick(id string, proc Processor, cam iface.Camera, frame *gocv.Mat, size *image.Point, misses *int) {
	defer func() {
		if r := recover(); r != nil {
			s.stats.Errors.Add(1)
			s.log.Error("tick panic recovered", zap.String("session", id), zap.Any("panic", r))
		}
	}()

	if !cam.Read(frame) || frame.Empty() {
		s.stats.Ticks.Add(1)
		s.stats.Skipped.Add(1)
		if *misses == 0 {
			s.log.Warn("video source produced no frame", zap.String("session", id))
		}
		*misses++
		return
	}
	if *misses > 0 {
		s.log.Info("video source resumed", zap.String("session", id), zap.Int("missed", *misses))
		*misses = 0
	}
	if cur := image.Pt(frame.Cols(), frame.Rows()); cur != *size {
		s.stats.FrameResizes.Add(1)
		s.log.Debug("frame buffer resized", zap.String("session", id), zap.Int("width", cur.X), zap.Int("height", cur.Y))
		*size = cur
	}

	res, err := proc.Process(frame)
	if err != nil {
		s.log.Warn("tick failed", zap.String("session", id), zap.Error(err))
		return
	}
	if s.Sink != nil {
		s.Sink(frame, res)
	}
}
