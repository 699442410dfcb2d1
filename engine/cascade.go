package engine

import (
	"fmt"
	"image"
	"os"
	"sync"

	iface "EmotionDetServer/interface"

	"gocv.io/x/gocv"
)

// CascadeDetector wraps a Haar cascade loaded from fetched XML bytes. Calls
// are serialized; it is safe to share between goroutines.
type CascadeDetector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	params     iface.DetectParams
	path       string
	State      int
}

// NewCascadeDetector writes data into dir (the engine's file system) and
// loads the classifier from that file. The file is removed on Close.
func NewCascadeDetector(data []byte, dir string, params iface.DetectParams) (*CascadeDetector, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cascade data is empty")
	}
	f, err := os.CreateTemp(dir, "face-*.xml")
	if err != nil {
		return nil, fmt.Errorf("create cascade file: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write cascade file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close cascade file: %w", err)
	}

	d := &CascadeDetector{
		classifier: gocv.NewCascadeClassifier(),
		params:     params,
		path:       path,
		State:      REGISTERED,
	}
	if !d.classifier.Load(path) {
		d.Close()
		return nil, fmt.Errorf("error reading cascade file: %s", path)
	}
	d.State = IDLE
	return d, nil
}

// Detect runs multi-scale detection; maxSize is left unconstrained.
func (d *CascadeDetector) Detect(gray gocv.Mat) []image.Rectangle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State != IDLE || gray.Empty() {
		return nil
	}
	minSize := image.Pt(d.params.MinSize, d.params.MinSize)
	return d.classifier.DetectMultiScaleWithParams(gray, d.params.ScaleFactor, d.params.MinNeighbors, 0, minSize, image.Pt(0, 0))
}

func (d *CascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State == UNREGISTERED {
		return nil
	}
	err := d.classifier.Close()
	if d.path != "" {
		_ = os.Remove(d.path)
		d.path = ""
	}
	d.State = UNREGISTERED
	return err
}
