package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"EmotionDetServer/capture"
	"EmotionDetServer/loader"
	"EmotionDetServer/pipeline"
	"EmotionDetServer/status"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Controller is the control surface served over HTTP. *app.App implements it.
type Controller interface {
	Initialize(ctx context.Context) error
	Toggle(ctx context.Context) (bool, error)
	Stop()
	Snapshot() status.Snapshot
	Subscribe(buffer int) (<-chan status.Snapshot, func())
	ClassifyImage(img *gocv.Mat) (pipeline.Result, error)
}

// StatusBody is the flat JSON form of a snapshot used by every HTTP and
// websocket response.
type StatusBody struct {
	State      string    `json:"state"`
	Status     string    `json:"status"`
	Active     bool      `json:"active"`
	Label      string    `json:"label"`
	Confidence int       `json:"confidence"`
	Emoji      string    `json:"emoji"`
	Mood       string    `json:"mood"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func NewStatusBody(s status.Snapshot) StatusBody {
	return StatusBody{
		State:      s.StateName,
		Status:     s.Status,
		Active:     s.Active,
		Label:      s.Estimate.Label,
		Confidence: s.Estimate.Confidence,
		Emoji:      s.Emoji,
		Mood:       s.Mood,
		UpdatedAt:  s.UpdatedAt,
	}
}

type Server struct {
	ctrl   Controller
	frames *FrameHub
	log    *zap.Logger
}

// New builds the gin engine. frames may be nil, in which case /stream.mjpg
// answers 404.
func New(ctrl Controller, frames *FrameHub, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{ctrl: ctrl, frames: frames, log: log}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/status", s.getStatus)
	r.POST("/api/assets/init", s.initAssets)
	r.POST("/api/camera/toggle", s.toggleCamera)
	r.POST("/api/camera/stop", s.stopCamera)
	r.POST("/api/classify", s.classify)
	r.GET("/ws/status", s.watchStatus)
	if frames != nil {
		r.GET("/stream.mjpg", s.streamFrames)
	}
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, NewStatusBody(s.ctrl.Snapshot()))
}

func (s *Server) initAssets(c *gin.Context) {
	if err := s.ctrl.Initialize(c.Request.Context()); err != nil {
		body := gin.H{"error": err.Error()}
		var le *loader.LoadError
		if errors.As(err, &le) {
			body["kind"] = le.Kind.String()
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	}
	c.JSON(http.StatusOK, NewStatusBody(s.ctrl.Snapshot()))
}

func (s *Server) toggleCamera(c *gin.Context) {
	active, err := s.ctrl.Toggle(c.Request.Context())
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": active})
}

func (s *Server) stopCamera(c *gin.Context) {
	s.ctrl.Stop()
	c.JSON(http.StatusOK, gin.H{"active": false})
}

type classifyRequest struct {
	Image string `json:"image"`
}

// classify accepts either a multipart "file" or a JSON body with a base64
// image (data URL prefix allowed).
func (s *Server) classify(c *gin.Context) {
	var data []byte
	if file, err := c.FormFile("file"); err == nil {
		f, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
			return
		}
		data, err = io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
			return
		}
	} else {
		var req classifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		data, err = DecodeBase64Image(req.Image)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	mat, err := BytesToMat(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer mat.Close()

	res, err := s.ctrl.ClassifyImage(&mat)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	body := gin.H{"found": res.Found}
	if res.Found {
		body["face"] = gin.H{
			"x":      res.Face.Min.X,
			"y":      res.Face.Min.Y,
			"width":  res.Face.Dx(),
			"height": res.Face.Dy(),
		}
		body["label"] = res.Estimate.Label
		body["confidence"] = res.Estimate.Confidence
	}
	c.JSON(http.StatusOK, body)
}

func errorStatus(err error) int {
	var ce *capture.CaptureError
	switch {
	case errors.Is(err, status.ErrNotReady):
		return http.StatusConflict
	case errors.As(err, &ce):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// DecodeBase64Image strips an optional data URL prefix and decodes the rest.
func DecodeBase64Image(b64 string) ([]byte, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	if b64 == "" {
		return nil, errors.New("image is empty")
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	return data, nil
}

// BytesToMat decodes an encoded image into a BGR Mat.
func BytesToMat(data []byte) (gocv.Mat, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		_ = mat.Close()
		return gocv.Mat{}, fmt.Errorf("decode image: %w", err)
	}
	if mat.Empty() {
		// IMDecode 返回空 Mat 表示解码失败
		_ = mat.Close()
		return gocv.Mat{}, errors.New("decoded image is empty or unsupported format")
	}
	return mat, nil
}

// Run serves handler on port until ctx is cancelled. Streaming handlers see
// ctx through their request context and return on shutdown.
func Run(ctx context.Context, port int, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     handler,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info("http server listening", zap.Int("port", port))
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
