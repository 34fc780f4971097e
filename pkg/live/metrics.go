package live

import (
	"sync"
	"time"
)

// historySize bounds the number of turns kept for averaging.
const historySize = 100

// Turn tracks latency for one model turn. Latencies are measured from the
// last user text, or from the first model output when the turn was
// started by voice.
type Turn struct {
	Start       time.Time `json:"start"`
	FirstText   time.Time `json:"first_text,omitzero"`
	FirstAudio  time.Time `json:"first_audio,omitzero"`
	Done        time.Time `json:"done,omitzero"`
	Interrupted bool      `json:"interrupted"`

	TextLatency  time.Duration `json:"text_latency"`
	AudioLatency time.Duration `json:"audio_latency"`
	Duration     time.Duration `json:"duration"`

	AudioChunks int `json:"audio_chunks"`
}

// TurnMetrics collects per-turn latency. It is goroutine-safe.
type TurnMetrics struct {
	mu      sync.Mutex
	current Turn
	history []Turn
	now     func() time.Time
}

// NewTurnMetrics creates an empty collector.
func NewTurnMetrics() *TurnMetrics {
	return &TurnMetrics{
		history: make([]Turn, 0, historySize),
		now:     time.Now,
	}
}

// MarkRequest starts a new turn at the moment user input was sent.
func (m *TurnMetrics) MarkRequest() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Turn{Start: m.now()}
}

func (m *TurnMetrics) startIfIdle(t time.Time) {
	if m.current.Start.IsZero() {
		m.current.Start = t
	}
}

// MarkFirstText records the first model text of the turn.
func (m *TurnMetrics) MarkFirstText() {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.now()
	m.startIfIdle(t)
	if m.current.FirstText.IsZero() {
		m.current.FirstText = t
		m.current.TextLatency = t.Sub(m.current.Start)
	}
}

// MarkAudio records a chunk of model audio.
func (m *TurnMetrics) MarkAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.now()
	m.startIfIdle(t)
	if m.current.FirstAudio.IsZero() {
		m.current.FirstAudio = t
		m.current.AudioLatency = t.Sub(m.current.Start)
	}
	m.current.AudioChunks++
}

// Complete closes the current turn, archives it and returns it.
func (m *TurnMetrics) Complete(interrupted bool) Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.now()
	m.startIfIdle(t)
	m.current.Done = t
	m.current.Duration = t.Sub(m.current.Start)
	m.current.Interrupted = interrupted

	turn := m.current
	if len(m.history) >= historySize {
		m.history = m.history[1:]
	}
	m.history = append(m.history, turn)
	m.current = Turn{}
	return turn
}

// Current returns the turn in progress.
func (m *TurnMetrics) Current() Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns a copy of the completed turns, oldest first.
func (m *TurnMetrics) History() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.history))
	copy(out, m.history)
	return out
}

// Average returns mean latencies over completed turns. Turns without text
// or audio do not count toward that latency.
func (m *TurnMetrics) Average() Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg Turn
	if len(m.history) == 0 {
		return avg
	}
	var textN, audioN int
	for _, t := range m.history {
		if !t.FirstText.IsZero() {
			avg.TextLatency += t.TextLatency
			textN++
		}
		if !t.FirstAudio.IsZero() {
			avg.AudioLatency += t.AudioLatency
			audioN++
		}
		avg.Duration += t.Duration
		avg.AudioChunks += t.AudioChunks
	}
	if textN > 0 {
		avg.TextLatency /= time.Duration(textN)
	}
	if audioN > 0 {
		avg.AudioLatency /= time.Duration(audioN)
	}
	avg.Duration /= time.Duration(len(m.history))
	avg.AudioChunks /= len(m.history)
	return avg
}
