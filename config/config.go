package config

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	DefaultCascadePath = "/opencv/haarcascade_frontalface_default.xml"
	DefaultModelPath   = "/moduls/emotion_yolo11n_cls.onnx"
	DefaultLabelsPath  = "/moduls/classes.json"
)

type AssetsConfig struct {
	BaseURL        string `yaml:"BaseURL"`
	CascadePath    string `yaml:"CascadePath"`
	ModelPath      string `yaml:"ModelPath"`
	LabelsPath     string `yaml:"LabelsPath"`
	TimeoutSeconds int    `yaml:"TimeoutSeconds"`
}

type EngineConfig struct {
	ScratchDir     string `yaml:"ScratchDir"`
	ReadyPollMs    int    `yaml:"ReadyPollMs"`
	ReadyTimeoutMs int    `yaml:"ReadyTimeoutMs"`
	Backend        string `yaml:"Backend"`
	Target         string `yaml:"Target"`
	InputName      string `yaml:"InputName"`
	OutputName     string `yaml:"OutputName"`
}

type CaptureConfig struct {
	Device string  `yaml:"Device"`
	FPS    float64 `yaml:"FPS"`
}

type PipelineConfig struct {
	ScaleFactor  float64 `yaml:"ScaleFactor"`
	MinNeighbors int     `yaml:"MinNeighbors"`
	MinSize      int     `yaml:"MinSize"`
	InputSize    int     `yaml:"InputSize"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"Enabled"`
	Broker   string `yaml:"Broker"`
	ClientID string `yaml:"ClientID"`
	Topic    string `yaml:"Topic"`
	QoS      byte   `yaml:"QoS"`
}

type RegServerConfig struct {
	UseRegServer    bool   `yaml:"UseRegServer"`
	Host            string `yaml:"Host"`
	Port            int    `yaml:"Port"`
	IntervalSeconds int    `yaml:"IntervalSeconds"`
}

// Config mirrors config.yaml.
type Config struct {
	HTTPPort    int    `yaml:"HTTPPort"`
	RPCPort     int    `yaml:"RPCPort"`
	MonitorPort int    `yaml:"MonitorPort"`
	LogMode     string `yaml:"LogMode"`

	Assets    AssetsConfig    `yaml:"Assets"`
	Engine    EngineConfig    `yaml:"Engine"`
	Capture   CaptureConfig   `yaml:"Capture"`
	Pipeline  PipelineConfig  `yaml:"Pipeline"`
	MQTT      MQTTConfig      `yaml:"MQTT"`
	RegServer RegServerConfig `yaml:"RegServer"`
}

// Default returns a Config with every default applied.
func Default() Config {
	c := Config{}
	c.ApplyDefaults(nil)
	return c
}

// Load reads and parses a yaml file, then fills defaults.
// A missing file is an error; callers decide whether to fall back to Default.
func Load(path string, log *zap.Logger) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, log)
}

// Parse decodes yaml bytes into a Config and fills defaults.
func Parse(data []byte, log *zap.Logger) (Config, error) {
	c := Config{}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	c.ApplyDefaults(log)
	return c, nil
}

// ApplyDefaults replaces zero and out-of-range values. Corrections of values
// that were explicitly set but invalid are reported through log.
func (c *Config) ApplyDefaults(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = 8080
	}
	if c.RPCPort == 0 {
		c.RPCPort = 50051
	}
	if c.MonitorPort == 0 {
		c.MonitorPort = 50053
	}
	if c.LogMode == "" {
		c.LogMode = "production"
	}

	if c.Assets.CascadePath == "" {
		c.Assets.CascadePath = DefaultCascadePath
	}
	if c.Assets.ModelPath == "" {
		c.Assets.ModelPath = DefaultModelPath
	}
	if c.Assets.LabelsPath == "" {
		c.Assets.LabelsPath = DefaultLabelsPath
	}
	c.Assets.BaseURL = strings.TrimRight(c.Assets.BaseURL, "/")
	if c.Assets.BaseURL == "" {
		c.Assets.BaseURL = "http://127.0.0.1:3000"
	}
	if c.Assets.TimeoutSeconds <= 0 {
		c.Assets.TimeoutSeconds = 10
	}

	if c.Engine.ScratchDir == "" {
		c.Engine.ScratchDir = os.TempDir()
	}
	if c.Engine.ReadyPollMs <= 0 {
		c.Engine.ReadyPollMs = 50
	}
	if c.Engine.ReadyTimeoutMs <= 0 {
		c.Engine.ReadyTimeoutMs = 10000
	}
	if c.Engine.Backend == "" {
		c.Engine.Backend = "default"
	}
	if c.Engine.Target == "" {
		c.Engine.Target = "cpu"
	}

	if c.Capture.Device == "" {
		c.Capture.Device = "0"
	}
	if c.Capture.FPS <= 0 {
		c.Capture.FPS = 60
	} else if c.Capture.FPS > 240 {
		log.Warn("Capture.FPS exceeds 240, clamping", zap.Float64("fps", c.Capture.FPS))
		c.Capture.FPS = 240
	}

	if c.Pipeline.ScaleFactor == 0 {
		c.Pipeline.ScaleFactor = 1.1
	} else if c.Pipeline.ScaleFactor <= 1.0 {
		log.Warn("Pipeline.ScaleFactor must be greater than 1.0, defaulting to 1.1", zap.Float64("scaleFactor", c.Pipeline.ScaleFactor))
		c.Pipeline.ScaleFactor = 1.1
	}
	if c.Pipeline.MinNeighbors <= 0 {
		c.Pipeline.MinNeighbors = 3
	}
	if c.Pipeline.MinSize < 0 {
		c.Pipeline.MinSize = 0
	}
	if c.Pipeline.InputSize <= 0 {
		c.Pipeline.InputSize = 64
	}

	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "emotion/estimate"
	}
	if c.MQTT.QoS > 2 {
		log.Warn("MQTT.QoS must be 0, 1 or 2, defaulting to 0", zap.Uint8("qos", c.MQTT.QoS))
		c.MQTT.QoS = 0
	}
	if c.RegServer.IntervalSeconds <= 0 {
		c.RegServer.IntervalSeconds = 5
	}
}

// AssetURL joins the configured base URL and an asset path.
func (a AssetsConfig) AssetURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return a.BaseURL + path
}
