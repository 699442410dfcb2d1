package engine

import (
	"fmt"
	"sync"
	"unsafe"

	iface "EmotionDetServer/interface"

	"gocv.io/x/gocv"
)

// DnnClassifier runs an ONNX model through OpenCV's dnn module. A gocv.Net
// holds per-call input state, so passes are serialized.
type DnnClassifier struct {
	mu         sync.Mutex
	net        gocv.Net
	inputName  string
	outputName string
	inputSize  int
	outputSize int
	State      int
}

// NewDnnClassifier reads the model from memory and runs it once on a zero
// tensor so the output length is known before the first frame.
func NewDnnClassifier(model []byte, cfg iface.ClassifierConfig) (*DnnClassifier, error) {
	if len(model) == 0 {
		return nil, fmt.Errorf("model data is empty")
	}
	if cfg.InputSize <= 0 {
		return nil, fmt.Errorf("invalid input size %d", cfg.InputSize)
	}
	net, err := gocv.ReadNetFromONNXBytes(model)
	if err != nil {
		return nil, fmt.Errorf("read onnx model: %w", err)
	}
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("onnx model is empty or unsupported")
	}
	backend := cfg.Backend
	if backend == "" {
		backend = "default"
	}
	target := cfg.Target
	if target == "" {
		target = "cpu"
	}
	_ = net.SetPreferableBackend(gocv.ParseNetBackend(backend))
	_ = net.SetPreferableTarget(gocv.ParseNetTarget(target))

	c := &DnnClassifier{
		net:        net,
		inputName:  cfg.InputName,
		outputName: cfg.OutputName,
		inputSize:  cfg.InputSize,
		State:      REGISTERED,
	}
	warm, err := c.forward(make([]float32, 3*cfg.InputSize*cfg.InputSize))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("warmup forward pass: %w", err)
	}
	c.outputSize = len(warm)
	c.State = IDLE
	return c, nil
}

// OutputSize is the length of the score vector produced per pass.
func (c *DnnClassifier) OutputSize() int {
	return c.outputSize
}

func (c *DnnClassifier) Classify(tensor []float32) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State != IDLE {
		return nil, fmt.Errorf("%w (state %s)", ErrNotLoaded, stateName(c.State))
	}
	want := 3 * c.inputSize * c.inputSize
	if len(tensor) != want {
		return nil, fmt.Errorf("tensor has %d samples, model expects %d", len(tensor), want)
	}
	return c.forward(tensor)
}

func (c *DnnClassifier) forward(tensor []float32) ([]float32, error) {
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&tensor[0])), len(tensor)*4)
	blob, err := gocv.NewMatWithSizesFromBytes([]int{1, 3, c.inputSize, c.inputSize}, gocv.MatTypeCV32F, raw)
	if err != nil {
		return nil, fmt.Errorf("build input blob: %w", err)
	}
	defer blob.Close()

	c.net.SetInput(blob, c.inputName)
	out := c.net.Forward(c.outputName)
	defer out.Close()
	if out.Empty() {
		return nil, ErrEmptyOutput
	}
	scores, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	return append([]float32(nil), scores...), nil
}

func (c *DnnClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State == UNREGISTERED {
		return nil
	}
	c.State = UNREGISTERED
	return c.net.Close()
}
