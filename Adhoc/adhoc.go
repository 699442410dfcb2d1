package Adhoc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"EmotionDetServer/config"
	"EmotionDetServer/status"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const TimeOutSeconds = 5

type RegisterRequest struct {
	Id         string `json:"id"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	State      string `json:"state"`
	Label      string `json:"label"`
	Confidence int    `json:"confidence"`
	TimeStamp  int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

// StatusSource supplies the snapshot reported on every beat.
type StatusSource interface {
	Snapshot() status.Snapshot
}

type Heartbeat struct {
	Id       string
	IP       string
	Port     int
	URL      string
	Interval time.Duration

	src    StatusSource
	client *resty.Client
	log    *zap.Logger
}

func NewHeartbeat(cfg config.RegServerConfig, ip string, port int, src StatusSource, log *zap.Logger) *Heartbeat {
	if log == nil {
		log = zap.NewNop()
	}
	return &Heartbeat{
		Id:       uuid.NewString(),
		IP:       ip,
		Port:     port,
		URL:      fmt.Sprintf("http://%s:%d/api/register", cfg.Host, cfg.Port),
		Interval: time.Duration(cfg.IntervalSeconds) * time.Second,
		src:      src,
		client:   resty.New().SetTimeout(TimeOutSeconds * time.Second), // 总超时
		log:      log,
	}
}

// Beat sends one registration. Panics are recovered so a bad beat never ends
// the loop.
func (h *Heartbeat) Beat(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error(fmt.Sprintf("SendAliveMessage panic recovered: %v", r))
			ok = false
		}
	}()
	snap := h.src.Snapshot()
	reqBody := RegisterRequest{
		Id:         h.Id,
		IP:         h.IP,
		Port:       h.Port,
		State:      snap.StateName,
		Label:      snap.Estimate.Label,
		Confidence: snap.Estimate.Confidence,
		TimeStamp:  time.Now().Unix(),
	}
	var respBody RegisterResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).     // resty 会 JSON 编码
		SetResult(&respBody). // 2xx 自动反序列化到 respBody
		Post(h.URL)
	if err != nil {
		h.log.Error("request error", zap.Error(err))
		return false
	}
	// 检查 HTTP 状态码
	if resp.IsError() {
		h.log.Error("server returned error", zap.String("status", resp.Status()), zap.String("body", resp.String()))
		return false
	}
	return respBody.Success
}

// SendAliveMessage beats immediately and then on every interval until ctx is
// cancelled.
func (h *Heartbeat) SendAliveMessage(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	interval := h.Interval
	if interval <= 0 {
		interval = TimeOutSeconds * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.Beat(ctx)
	for {
		select {
		case <-ctx.Done():
			h.log.Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			h.Beat(ctx)
		}
	}
}
