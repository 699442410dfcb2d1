package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// Runtime is the OpenCV engine handle. It is created once per process and
// never recreated; Start runs the warm-up on its own goroutine.
type Runtime struct {
	startOnce sync.Once
	state     atomic.Int32
	mu        sync.Mutex
	err       error
	version   string
}

func NewRuntime() *Runtime {
	r := &Runtime{}
	r.state.Store(UNREGISTERED)
	return r
}

// Start kicks off the warm-up. Calling it again is a no-op.
func (r *Runtime) Start() {
	r.startOnce.Do(func() {
		r.state.Store(REGISTERED)
		go r.warmup()
	})
}

func (r *Runtime) warmup() {
	defer func() {
		if rec := recover(); rec != nil {
			r.fail(fmt.Errorf("panic during engine warmup: %v", rec))
		}
	}()
	// 小黑图，非空
	warmMat := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer warmMat.Close()
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(warmMat, &gray, gocv.ColorBGRToGray)
	if gray.Empty() {
		r.fail(fmt.Errorf("engine warmup produced an empty matrix"))
		return
	}
	r.mu.Lock()
	r.version = fmt.Sprintf("gocv %s / opencv %s", gocv.Version(), gocv.OpenCVVersion())
	r.mu.Unlock()
	r.state.Store(IDLE)
}

func (r *Runtime) fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.state.Store(ERROR)
}

func (r *Runtime) Ready() bool {
	return r.state.Load() == IDLE
}

func (r *Runtime) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Runtime) Version() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

func (r *Runtime) State() string {
	return stateName(int(r.state.Load()))
}
