package relay

import (
	"sync"
)

// DefaultOutboxSize bounds how many decisions are retained
const DefaultOutboxSize = 128

// Outbox keeps the most recent decisions by request id so that a decision
// for a detached request can still be fetched, and so that resolving the
// same request twice can be recognised.
type Outbox struct {
	mu    sync.Mutex
	size  int
	order []string
	items map[string]DecisionMessage
}

// NewOutbox creates an outbox holding at most size decisions
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{size: size, items: make(map[string]DecisionMessage)}
}

// Put records msg, evicting the oldest entry when full
func (o *Outbox) Put(msg DecisionMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.items[msg.RequestID]; ok {
		return
	}
	if len(o.order) >= o.size {
		oldest := o.order[0]
		o.order = o.order[1:]
		delete(o.items, oldest)
	}
	o.order = append(o.order, msg.RequestID)
	o.items[msg.RequestID] = msg
}

// Get returns the decision for requestID
func (o *Outbox) Get(requestID string) (DecisionMessage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	msg, ok := o.items[requestID]
	return msg, ok
}

// Len returns the number of retained decisions
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.order)
}
