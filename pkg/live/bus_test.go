package live

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusOrderAndFilter(t *testing.T) {
	b := NewBus(nil)
	var got []string

	Subscribe(b, func(e ContentEvent) { got = append(got, "a:"+e.Text) })
	Subscribe(b, func(e ContentEvent) { got = append(got, "b:"+e.Text) })
	Subscribe(b, func(OpenEvent) { got = append(got, "open") })
	SubscribeAll(b, func(e Event) { got = append(got, "all:"+e.EventName()) })

	b.Publish(ContentEvent{Text: "x"})
	b.Publish(OpenEvent{})

	assert.Equal(t, []string{"a:x", "b:x", "all:content", "open", "all:open"}, got)
}

func TestBusCancel(t *testing.T) {
	b := NewBus(nil)
	var a, c int

	cancelA := Subscribe(b, func(ContentEvent) { a++ })
	Subscribe(b, func(ContentEvent) { c++ })

	b.Publish(ContentEvent{})
	cancelA()
	cancelA()
	b.Publish(ContentEvent{})

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, c)
	assert.Equal(t, 1, b.Len())
}

func TestBusCancelFromHandler(t *testing.T) {
	b := NewBus(nil)
	calls := 0
	var cancel func()
	cancel = Subscribe(b, func(ContentEvent) {
		calls++
		cancel()
	})

	b.Publish(ContentEvent{})
	b.Publish(ContentEvent{})
	assert.Equal(t, 1, calls)
}

func TestBusHandlerPanic(t *testing.T) {
	b := NewBus(nil)
	reached := false
	Subscribe(b, func(ContentEvent) { panic("boom") })
	Subscribe(b, func(ContentEvent) { reached = true })

	assert.NotPanics(t, func() { b.Publish(ContentEvent{}) })
	assert.True(t, reached)
}

func TestMailboxOrder(t *testing.T) {
	b := NewBus(nil)
	var mu sync.Mutex
	var got []string
	SubscribeAll(b, func(e Event) {
		mu.Lock()
		got = append(got, e.(ContentEvent).Text)
		mu.Unlock()
	})

	m := newMailbox(b)
	want := make([]string, 100)
	for i := range want {
		want[i] = string(rune('a' + i%26))
		m.post(ContentEvent{Text: want[i]})
	}
	m.close()
	m.post(ContentEvent{Text: "after close"})

	select {
	case <-m.done:
	case <-time.After(time.Second):
		t.Fatal("mailbox did not drain")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	assert.Equal(t, want, got)
}
