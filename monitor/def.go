package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"EmotionDetServer/emitter"
	"EmotionDetServer/pipeline"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	PID       process.Process
	memUsage  prometheus.Gauge
	cpuUsage  prometheus.Gauge
	GRPCTotal prometheus.Counter
	Registry  = prometheus.NewRegistry()
)

func init() {
	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})

	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	GRPCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	})

	Registry.MustRegister(memUsage, cpuUsage, GRPCTotal)
}

// RegisterPipeline exposes the pipeline counters. Registering a second Stats
// fails with prometheus.AlreadyRegisteredError.
func RegisterPipeline(reg prometheus.Registerer, stats *pipeline.Stats) error {
	gauges := []struct {
		name, help string
		value      func() float64
	}{
		{"emotion_ticks_total", "Pipeline ticks executed", func() float64 { return float64(stats.Ticks.Load()) }},
		{"emotion_ticks_skipped_total", "Ticks skipped without a frame or loaded assets", func() float64 { return float64(stats.Skipped.Load()) }},
		{"emotion_faces_total", "Ticks in which a face was found", func() float64 { return float64(stats.Faces.Load()) }},
		{"emotion_inferences_total", "Classifier forward passes", func() float64 { return float64(stats.Inferences.Load()) }},
		{"emotion_tick_errors_total", "Ticks aborted by an error or panic", func() float64 { return float64(stats.Errors.Load()) }},
		{"emotion_frame_resizes_total", "Frame buffer resizes", func() float64 { return float64(stats.FrameResizes.Load()) }},
		{"emotion_live_mats", "Native matrices allocated by the running tick", func() float64 { return float64(stats.LiveMats.Load()) }},
		{"emotion_tick_latency_ms", "Duration of the last tick in milliseconds", func() float64 { return float64(stats.LastLatencyUs.Load()) / 1000 }},
	}
	for _, g := range gauges {
		err := reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: g.name, Help: g.help}, g.value))
		if err != nil {
			return fmt.Errorf("register %s: %w", g.name, err)
		}
	}
	return nil
}

// RegisterEmitter exposes the MQTT emitter counters, summed over topics.
func RegisterEmitter(reg prometheus.Registerer, stats func() emitter.Stats) error {
	published := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "emotion_mqtt_published_total",
		Help: "Estimates published to the MQTT broker",
	}, func() float64 {
		var n uint64
		for _, v := range stats().Published {
			n += v
		}
		return float64(n)
	})
	failed := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "emotion_mqtt_errors_total",
		Help: "Estimates that could not be published",
	}, func() float64 { return float64(stats().Errors) })
	connected := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "emotion_mqtt_connected",
		Help: "1 while the MQTT client is connected",
	}, func() float64 {
		if stats().Connected {
			return 1
		}
		return 0
	})
	for _, c := range []prometheus.Collector{published, failed, connected} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register mqtt metrics: %w", err)
		}
	}
	return nil
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func CheckProcessInfo() {
	MemInfo, err := PID.MemoryInfo()
	if err == nil {
		var MemMB = MemInfo.RSS / 1024 / 1024
		memUsage.Set(float64(MemMB))
	}
	CPUPercent, err := PID.CPUPercent()
	if err == nil {
		CPUPercentFloat := math.Round(CPUPercent*100) / 100
		cpuUsage.Set(CPUPercentFloat)
	}
}

func GotPID() {
	pid := os.Getpid()
	i32Pid := int32(pid)
	PID.Pid = i32Pid
}

// StartMon serves /metrics on port and samples the process every 500ms until
// ctx is cancelled.
func StartMon(ctx context.Context, port int, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	PID = process.Process{}
	GotPID()

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			CheckProcessInfo()
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown", zap.Error(err))
	}
}
