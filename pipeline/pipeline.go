package pipeline

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync/atomic"
	"time"

	iface "EmotionDetServer/interface"
	"EmotionDetServer/status"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Publisher receives every estimate derived from a detected face.
type Publisher interface {
	Publish(e status.EmotionEstimate)
}

// Stats is shared between pipeline instances so the counters survive camera
// restarts. LiveMats counts native matrices allocated by ticks and not yet
// released; it must be zero between ticks.
type Stats struct {
	Ticks         atomic.Uint64
	Skipped       atomic.Uint64
	Faces         atomic.Uint64
	Inferences    atomic.Uint64
	Errors        atomic.Uint64
	FrameResizes  atomic.Uint64
	LastLatencyUs atomic.Uint64
	LiveMats      atomic.Int64
}

type Options struct {
	InputSize        int
	OutlineColor     color.RGBA
	OutlineThickness int
}

func DefaultOptions() Options {
	return Options{
		InputSize:        64,
		OutlineColor:     color.RGBA{R: 0xFF, G: 0x69, B: 0xB4, A: 0},
		OutlineThickness: 4,
	}
}

// Result describes one tick.
type Result struct {
	Skipped  bool
	Found    bool
	Face     image.Rectangle
	Inferred bool
	Estimate status.EmotionEstimate
}

// Pipeline runs detection and classification over one frame at a time. It
// borrows the detector and classifier; it never closes them.
type Pipeline struct {
	detector   iface.FaceDetector
	classifier iface.Classifier
	labels     []string
	publisher  Publisher
	stats      *Stats
	opts       Options
	log        *zap.Logger
}

func New(detector iface.FaceDetector, classifier iface.Classifier, labels []string, publisher Publisher, stats *Stats, opts Options, log *zap.Logger) *Pipeline {
	if stats == nil {
		stats = &Stats{}
	}
	if opts.InputSize <= 0 {
		opts.InputSize = 64
	}
	if opts.OutlineThickness <= 0 {
		opts.OutlineThickness = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		detector:   detector,
		classifier: classifier,
		labels:     labels,
		publisher:  publisher,
		stats:      stats,
		opts:       opts,
		log:        log,
	}
}

func (p *Pipeline) Stats() *Stats {
	return p.stats
}

// Process runs one tick over frame. The outline of the detected face is drawn
// onto frame after the region was sampled. Every matrix allocated here is
// released before returning, including on error and panic.
func (p *Pipeline) Process(frame *gocv.Mat) (res Result, err error) {
	p.stats.Ticks.Add(1)
	if p.detector == nil || p.classifier == nil || len(p.labels) == 0 || frame == nil || frame.Empty() {
		p.stats.Skipped.Add(1)
		return Result{Skipped: true}, nil
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during tick: %v", r)
		}
		if err != nil {
			p.stats.Errors.Add(1)
		}
		p.stats.LastLatencyUs.Store(uint64(time.Since(start).Microseconds()))
	}()

	gray := p.alloc()
	defer p.release(&gray)
	if err := toGray(*frame, &gray); err != nil {
		return res, err
	}

	rects := p.detector.Detect(gray)
	if len(rects) == 0 {
		return res, nil
	}
	face := rects[0].Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if face.Empty() {
		return res, nil
	}
	p.stats.Faces.Add(1)
	res.Found = true
	res.Face = face

	tensor, err := p.sampleFace(*frame, face)
	if err != nil {
		return res, err
	}
	gocv.Rectangle(frame, face, p.opts.OutlineColor, p.opts.OutlineThickness)

	logits, err := p.classifier.Classify(tensor)
	if err != nil {
		return res, fmt.Errorf("inference: %w", err)
	}
	p.stats.Inferences.Add(1)
	est, err := Estimate(logits, p.labels)
	if err != nil {
		return res, err
	}
	res.Inferred = true
	res.Estimate = est
	if p.publisher != nil {
		p.publisher.Publish(est)
	}
	return res, nil
}

// sampleFace copies the face region out of frame and normalizes it.
func (p *Pipeline) sampleFace(frame gocv.Mat, face image.Rectangle) ([]float32, error) {
	roi := p.track(frame.Region(face))
	defer p.release(&roi)

	src := roi
	switch roi.Channels() {
	case 3:
	case 4:
		bgr := p.alloc()
		defer p.release(&bgr)
		gocv.CvtColor(roi, &bgr, gocv.ColorBGRAToBGR)
		src = bgr
	case 1:
		bgr := p.alloc()
		defer p.release(&bgr)
		gocv.CvtColor(roi, &bgr, gocv.ColorGrayToBGR)
		src = bgr
	default:
		return nil, fmt.Errorf("unsupported channel count %d", roi.Channels())
	}

	size := p.opts.InputSize
	resized := p.alloc()
	defer p.release(&resized)
	gocv.Resize(src, &resized, image.Pt(size, size), 0, 0, gocv.InterpolationLinear)
	if resized.Cols() != size || resized.Rows() != size {
		return nil, errors.New("face region could not be resized")
	}
	return Normalize(resized.ToBytes(), size)
}

func toGray(frame gocv.Mat, gray *gocv.Mat) error {
	switch frame.Channels() {
	case 3:
		gocv.CvtColor(frame, gray, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(frame, gray, gocv.ColorBGRAToGray)
	case 1:
		frame.CopyTo(gray)
	default:
		return fmt.Errorf("unsupported channel count %d", frame.Channels())
	}
	return nil
}

func (p *Pipeline) alloc() gocv.Mat {
	return p.track(gocv.NewMat())
}

func (p *Pipeline) track(m gocv.Mat) gocv.Mat {
	p.stats.LiveMats.Add(1)
	return m
}

func (p *Pipeline) release(m *gocv.Mat) {
	if err := m.Close(); err != nil {
		p.log.Warn("error closing mat", zap.Error(err))
	}
	p.stats.LiveMats.Add(-1)
}
