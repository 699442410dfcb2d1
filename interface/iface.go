package iface

import (
	"image"

	"gocv.io/x/gocv"
)

// Runtime is the vision engine. Start returns immediately; readiness is
// observed by polling Ready because warm-up completes asynchronously.
type Runtime interface {
	Start()
	Ready() bool
	Err() error
	Version() string
}

// FaceDetector locates faces in a single-channel image.
type FaceDetector interface {
	Detect(gray gocv.Mat) []image.Rectangle
	Close() error
}

// Classifier runs one forward pass over a [1,3,N,N] planar tensor and
// returns the raw output scores.
type Classifier interface {
	Classify(tensor []float32) ([]float32, error)
	Close() error
}

// Camera is a live video source.
type Camera interface {
	Read(dst *gocv.Mat) bool
	Close() error
}

type DetectParams struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int
}

type ClassifierConfig struct {
	InputName  string
	OutputName string
	InputSize  int
	Backend    string
	Target     string
}
