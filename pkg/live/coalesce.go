package live

import (
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
)

// coalescer joins streamed text parts that arrive within a window of each
// other into one ContentEvent. Every part restarts the window.
type coalescer struct {
	mu        sync.Mutex
	parts     []string
	debounced func(func())
	emit      func(Event)
}

func newCoalescer(window time.Duration, emit func(Event)) *coalescer {
	return &coalescer{
		debounced: debounce.New(window),
		emit:      emit,
	}
}

// add buffers text and restarts the window.
func (c *coalescer) add(text string) {
	c.mu.Lock()
	c.parts = append(c.parts, text)
	c.mu.Unlock()
	c.debounced(c.flush)
}

// flush emits pending text, if any. emit runs under the coalescer lock so a
// timer flush and an explicit flush cannot reorder events.
func (c *coalescer) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.parts) == 0 {
		return
	}
	text := strings.Join(c.parts, " ")
	c.parts = c.parts[:0]
	c.emit(ContentEvent{Text: text})
}
