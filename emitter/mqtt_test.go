package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"EmotionDetServer/config"
	"EmotionDetServer/status"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockToken struct {
	err     error
	timeout bool
}

func (t *MockToken) Wait() bool                     { return !t.timeout }
func (t *MockToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *MockToken) Error() error                   { return t.err }
func (t *MockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type MockClient struct {
	mu           sync.Mutex
	connected    bool
	token        *MockToken
	topics       []string
	payloads     [][]byte
	disconnected bool
}

func (c *MockClient) IsConnected() bool { return c.connected }

func (c *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	if c.token != nil {
		return c.token
	}
	return &MockToken{}
}

func (c *MockClient) Disconnect(uint) { c.disconnected = true }

func (c *MockClient) messages(t *testing.T) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.payloads))
	for _, p := range c.payloads {
		var m Message
		require.NoError(t, json.Unmarshal(p, &m))
		out = append(out, m)
	}
	return out
}

func newEmitter(client *MockClient) *MQTTEmitter {
	e := NewMQTTEmitter(config.MQTTConfig{Topic: "emotion/estimate"}, nil)
	e.Client = client
	return e
}

func TestPublish(t *testing.T) {
	t.Run("Test dedupe", func(t *testing.T) {
		client := &MockClient{connected: true}
		e := newEmitter(client)
		snap := status.Snapshot{StateName: "Detecting", Estimate: status.EmotionEstimate{Label: "Happy", Confidence: 80}, UpdatedAt: time.Now()}

		require.NoError(t, e.Publish(snap))
		require.NoError(t, e.Publish(snap))
		snap.Estimate.Confidence = 81
		require.NoError(t, e.Publish(snap))

		msgs := client.messages(t)
		require.Len(t, msgs, 2)
		assert.Equal(t, Message{Label: "Happy", Confidence: 80, State: "Detecting", Timestamp: snap.UpdatedAt.UnixMilli()}, msgs[0])
		assert.Equal(t, 81, msgs[1].Confidence)
		assert.Equal(t, []string{"emotion/estimate", "emotion/estimate"}, client.topics)
		assert.Equal(t, uint64(2), e.Stats().Published["emotion/estimate"])
	})

	t.Run("Test not connected", func(t *testing.T) {
		e := newEmitter(&MockClient{})
		assert.Error(t, e.Publish(status.Snapshot{}))
		assert.Equal(t, uint64(1), e.Stats().Errors)
		assert.False(t, e.Stats().Connected)
	})

	t.Run("Test publish failures", func(t *testing.T) {
		e := newEmitter(&MockClient{connected: true, token: &MockToken{timeout: true}})
		assert.EqualError(t, e.Publish(status.Snapshot{StateName: "Ready"}), "publish timeout")

		e = newEmitter(&MockClient{connected: true, token: &MockToken{err: errors.New("broker gone")}})
		err := e.Publish(status.Snapshot{StateName: "Ready"})
		assert.ErrorContains(t, err, "broker gone")
		assert.Equal(t, uint64(1), e.Stats().Errors)
		assert.Empty(t, e.Stats().Published)
	})
}

func TestRun(t *testing.T) {
	client := &MockClient{connected: true}
	e := newEmitter(client)
	m := status.NewMachine()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, m)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(client.messages(t)) == 1 }, time.Second, 5*time.Millisecond)
	m.MarkReady()
	require.Eventually(t, func() bool { return len(client.messages(t)) == 2 }, time.Second, 5*time.Millisecond)
	m.Publish(status.EmotionEstimate{Label: "Sad", Confidence: 55})
	require.Eventually(t, func() bool { return len(client.messages(t)) == 3 }, time.Second, 5*time.Millisecond)

	msgs := client.messages(t)
	assert.Equal(t, "Loading", msgs[0].State)
	assert.Equal(t, "Neutral", msgs[0].Label)
	assert.Equal(t, "Ready", msgs[1].State)
	assert.Equal(t, "Sad", msgs[2].Label)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	e.Disconnect()
	assert.True(t, client.disconnected)
}
