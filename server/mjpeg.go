package server

import (
	"sync"
	"time"

	"EmotionDetServer/pipeline"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// FrameHub fans annotated frames out to MJPEG clients. Frames are encoded
// only while at least one client is connected.
type FrameHub struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	next    int
	log     *zap.Logger
}

func NewFrameHub(log *zap.Logger) *FrameHub {
	if log == nil {
		log = zap.NewNop()
	}
	return &FrameHub{clients: make(map[int]chan []byte), log: log}
}

func (h *FrameHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Sink matches capture.Sink.
func (h *FrameHub) Sink(frame *gocv.Mat, _ pipeline.Result) {
	if h.Clients() == 0 || frame == nil || frame.Empty() {
		return
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		h.log.Debug("jpeg encode failed", zap.Error(err))
		return
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()
	h.Broadcast(data)
}

// Broadcast drops the frame for clients that have not consumed the previous
// one.
func (h *FrameHub) Broadcast(jpeg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- jpeg:
		default:
		}
	}
}

func (h *FrameHub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 1)
	h.mu.Lock()
	id := h.next
	h.next++
	h.clients[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, id)
			h.mu.Unlock()
		})
	}
}

const mjpegKeepAlive = 5 * time.Second

func (s *Server) streamFrames(c *gin.Context) {
	frames, cancel := s.frames.Subscribe()
	defer cancel()

	w := c.Writer
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(200)
	w.Flush()

	var last []byte
	keepAlive := time.NewTicker(mjpegKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case data := <-frames:
			last = data
		case <-keepAlive.C:
			// camera stopped; repeat the last frame so proxies keep the connection
			if last == nil {
				continue
			}
		}
		if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			s.log.Debug("mjpeg client disconnected", zap.Error(err))
			return
		}
		if _, err := w.Write(last); err != nil {
			s.log.Debug("mjpeg client disconnected", zap.Error(err))
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return
		}
		w.Flush()
	}
}
