package monitor

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"EmotionDetServer/emitter"
	"EmotionDetServer/pipeline"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterPipeline(t *testing.T) {
	reg := prometheus.NewRegistry()
	stats := &pipeline.Stats{}
	require.NoError(t, RegisterPipeline(reg, stats))

	stats.Ticks.Add(10)
	stats.Faces.Add(4)
	stats.LiveMats.Add(2)
	stats.LastLatencyUs.Store(2500)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, mfs, 8)
	values := map[string]float64{}
	for _, mf := range mfs {
		values[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, 10.0, values["emotion_ticks_total"])
	assert.Equal(t, 4.0, values["emotion_faces_total"])
	assert.Equal(t, 2.0, values["emotion_live_mats"])
	assert.Equal(t, 2.5, values["emotion_tick_latency_ms"])

	err = RegisterPipeline(reg, &pipeline.Stats{})
	var are prometheus.AlreadyRegisteredError
	assert.True(t, errors.As(err, &are))
}

func TestRegisterEmitter(t *testing.T) {
	reg := prometheus.NewRegistry()
	stats := emitter.Stats{
		Connected: true,
		Published: map[string]uint64{"emotion/estimate": 7, "emotion/other": 2},
		Errors:    3,
	}
	require.NoError(t, RegisterEmitter(reg, func() emitter.Stats { return stats }))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range mfs {
		values[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, 9.0, values["emotion_mqtt_published_total"])
	assert.Equal(t, 3.0, values["emotion_mqtt_errors_total"])
	assert.Equal(t, 1.0, values["emotion_mqtt_connected"])

	stats.Connected = false
	mfs, err = reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "emotion_mqtt_connected" {
			assert.Equal(t, 0.0, mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
}

func TestHandler(t *testing.T) {
	GRPCTotal.Inc()
	GotPID()
	CheckProcessInfo()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "grpc_requests_total")
	assert.Contains(t, string(body), "memory_usage_Megabytes")
}
