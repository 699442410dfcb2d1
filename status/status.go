package status

import (
	"errors"
	"strings"
	"sync"
	"time"
)

type State int

const (
	Loading State = iota
	Ready
	Idle
	Detecting
	Error
)

func (s State) String() string {
	switch s {
	case Loading:
		return "Loading"
	case Ready:
		return "Ready"
	case Idle:
		return "Idle"
	case Detecting:
		return "Detecting"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

const (
	TextLoading      = "Loading system..."
	TextReady        = "Ready to go!"
	TextDetecting    = "Detecting faces..."
	TextSleeping     = "Camera is sleeping"
	TextCameraDenied = "camera access denied"
)

// ErrNotReady rejects capture before the assets finished loading.
var ErrNotReady = errors.New("system is not ready")

// EmotionEstimate is the last published classification.
type EmotionEstimate struct {
	Label      string `json:"label"`
	Confidence int    `json:"confidence"`
}

// Snapshot is the complete visible status at one instant.
type Snapshot struct {
	State     State           `json:"-"`
	StateName string          `json:"state"`
	Status    string          `json:"status"`
	Active    bool            `json:"active"`
	Estimate  EmotionEstimate `json:"estimate"`
	Emoji     string          `json:"emoji"`
	Mood      string          `json:"mood"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Machine holds the process-wide status. Only one value is visible at a time;
// every change is fanned out to subscribers without blocking the caller.
type Machine struct {
	mu       sync.RWMutex
	state    State
	text     string
	ready    bool
	active   bool
	estimate EmotionEstimate
	updated  time.Time
	subs     map[int]chan Snapshot
	nextSub  int
	now      func() time.Time
}

func NewMachine() *Machine {
	m := &Machine{
		state:    Loading,
		text:     TextLoading,
		estimate: EmotionEstimate{Label: "Neutral", Confidence: 0},
		subs:     make(map[int]chan Snapshot),
		now:      time.Now,
	}
	m.updated = m.now()
	return m
}

// BeginLoading is entered at start-up and on explicit re-initialization.
func (m *Machine) BeginLoading() {
	m.mu.Lock()
	m.state = Loading
	m.text = TextLoading
	m.ready = false
	m.active = false
	m.changedLocked()
}

// MarkReady is the only way into Ready, and only from Loading.
func (m *Machine) MarkReady() bool {
	m.mu.Lock()
	if m.state != Loading {
		m.mu.Unlock()
		return false
	}
	m.state = Ready
	m.text = TextReady
	m.ready = true
	m.changedLocked()
	return true
}

// Fail records an unrecoverable load failure. Capture stays disabled until an
// explicit re-initialization succeeds.
func (m *Machine) Fail(message string) {
	m.mu.Lock()
	m.state = Error
	m.text = "Error: " + message
	m.ready = false
	m.active = false
	m.changedLocked()
}

// CaptureFailed reports a camera error. The assets stay loaded, so the user
// may retry start from here.
func (m *Machine) CaptureFailed(message string) {
	if message == "" {
		message = TextCameraDenied
	}
	m.mu.Lock()
	m.state = Error
	m.text = message
	m.active = false
	m.changedLocked()
}

// StartDetecting moves to Detecting. It is rejected before Ready was reached.
func (m *Machine) StartDetecting() error {
	m.mu.Lock()
	if !m.ready {
		m.mu.Unlock()
		return ErrNotReady
	}
	m.state = Detecting
	m.text = TextDetecting
	m.active = true
	m.changedLocked()
	return nil
}

// Sleep moves to Idle after the camera stopped.
func (m *Machine) Sleep() {
	m.mu.Lock()
	if !m.ready {
		m.active = false
		m.mu.Unlock()
		return
	}
	m.state = Idle
	m.text = TextSleeping
	m.active = false
	m.changedLocked()
}

// Publish overwrites the retained estimate.
func (m *Machine) Publish(e EmotionEstimate) {
	m.mu.Lock()
	m.estimate = e
	m.changedLocked()
}

func (m *Machine) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Subscribe returns a channel receiving every later snapshot. Slow readers
// miss intermediate updates rather than stall the pipeline.
func (m *Machine) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (m *Machine) snapshotLocked() Snapshot {
	style := StyleFor(m.estimate.Label)
	return Snapshot{
		State:     m.state,
		StateName: m.state.String(),
		Status:    m.text,
		Active:    m.active,
		Estimate:  m.estimate,
		Emoji:     style.Emoji,
		Mood:      style.Label,
		UpdatedAt: m.updated,
	}
}

// changedLocked must be called with mu held; it releases mu.
func (m *Machine) changedLocked() {
	m.updated = m.now()
	snap := m.snapshotLocked()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
		}
	}
	m.mu.Unlock()
}

// Style is the presentation hint for an emotion label.
type Style struct {
	Emoji string `json:"emoji"`
	Label string `json:"label"`
}

func StyleFor(label string) Style {
	switch strings.ToLower(label) {
	case "happy":
		return Style{Emoji: "😊", Label: "Happy"}
	case "sad":
		return Style{Emoji: "😢", Label: "Sad"}
	case "angry":
		return Style{Emoji: "😠", Label: "Angry"}
	case "neutral":
		return Style{Emoji: "😐", Label: "Neutral"}
	case "surprise":
		return Style{Emoji: "😲", Label: "Surprise"}
	default:
		return Style{Emoji: "🤔", Label: "Thinking"}
	}
}
