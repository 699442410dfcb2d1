package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"EmotionDetServer/config"
	"EmotionDetServer/status"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Client is the part of mqtt.Client the emitter uses.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Source is where estimates come from. *status.Machine implements it.
type Source interface {
	Snapshot() status.Snapshot
	Subscribe(buffer int) (<-chan status.Snapshot, func())
}

// Message is the JSON payload published for every estimate change.
type Message struct {
	Label      string `json:"label"`
	Confidence int    `json:"confidence"`
	State      string `json:"state"`
	Timestamp  int64  `json:"timestamp"`
}

// MQTTEmitter publishes estimate changes to a broker.
type MQTTEmitter struct {
	cfg    config.MQTTConfig
	log    *zap.Logger
	Client Client

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	last      *Message
}

func NewMQTTEmitter(cfg config.MQTTConfig, log *zap.Logger) *MQTTEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "emotiondet-" + uuid.NewString()
	}
	return &MQTTEmitter{
		cfg:       cfg,
		log:       log,
		published: make(map[string]uint64),
	}
}

// Connect dials the broker with auto-reconnect enabled.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.Broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		e.log.Info("mqtt connection established",
			zap.String("broker", e.cfg.Broker),
			zap.String("clientID", e.cfg.ClientID))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.log.Warn("mqtt connection lost, will auto-reconnect", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		client.Disconnect(0)
		return errors.New("mqtt connection timeout")
	case <-ctx.Done():
		client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.Client = client
	return nil
}

// Publish sends snap unless its label, confidence and state equal the last
// published message.
func (e *MQTTEmitter) Publish(snap status.Snapshot) error {
	msg := Message{
		Label:      snap.Estimate.Label,
		Confidence: snap.Estimate.Confidence,
		State:      snap.StateName,
		Timestamp:  snap.UpdatedAt.UnixMilli(),
	}
	e.mu.RLock()
	same := e.last != nil && e.last.Label == msg.Label && e.last.Confidence == msg.Confidence && e.last.State == msg.State
	e.mu.RUnlock()
	if same {
		return nil
	}

	if e.Client == nil || !e.Client.IsConnected() {
		return e.fail(errors.New("mqtt not connected"))
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return e.fail(fmt.Errorf("failed to marshal estimate: %w", err))
	}
	token := e.Client.Publish(e.cfg.Topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return e.fail(errors.New("publish timeout"))
	}
	if err := token.Error(); err != nil {
		return e.fail(fmt.Errorf("publish failed: %w", err))
	}

	e.mu.Lock()
	e.published[e.cfg.Topic]++
	e.last = &msg
	e.mu.Unlock()
	e.log.Debug("estimate published", zap.String("topic", e.cfg.Topic), zap.String("label", msg.Label))
	return nil
}

func (e *MQTTEmitter) fail(err error) error {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
	return err
}

// Run publishes the current snapshot and every later change until ctx ends.
// Publish errors are counted and logged; they never stop the loop.
func (e *MQTTEmitter) Run(ctx context.Context, src Source) {
	updates, cancel := src.Subscribe(16)
	defer cancel()

	publish := func(snap status.Snapshot) {
		if err := e.Publish(snap); err != nil {
			e.log.Warn("estimate not published", zap.Error(err))
		}
	}
	publish(src.Snapshot())
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			publish(snap)
		}
	}
}

func (e *MQTTEmitter) Disconnect() {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		e.log.Info("mqtt disconnected")
	}
}

type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.Client != nil && e.Client.IsConnected(),
		Published: published,
		Errors:    e.errors,
	}
}
