// Package events fans a stream of diagnostic notifications out to
// zero or more websocket subscribers, decoupling the node's
// EventHandler callbacks from any particular transport.
package events

import (
	"fmt"
	"sync"
)

// Events is a simple pub/sub hub: any goroutine can Send a message,
// and every current subscriber's channel receives a copy.
type Events struct {
	mu          sync.RWMutex
	subscribers map[chan string]struct{}
}

// New constructs an empty Events hub.
func New() *Events {
	return &Events{subscribers: map[chan string]struct{}{}}
}

// Subscribe registers a new subscriber and returns its channel, and an
// unsubscribe function the caller must call when it's done listening.
func (e *Events) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 16)

	e.mu.Lock()
	e.subscribers[ch] = struct{}{}
	e.mu.Unlock()

	unsubscribe := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.subscribers[ch]; ok {
			delete(e.subscribers, ch)
			close(ch)
		}
	}

	return ch, unsubscribe
}

// Send formats a message and delivers it to every current subscriber.
// A subscriber whose channel is full is skipped rather than blocking
// the sender.
func (e *Events) Send(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	e.mu.RLock()
	defer e.mu.RUnlock()

	for ch := range e.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
}
