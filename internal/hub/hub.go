// Package hub fans fleet events out to live subscribers.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	defaultQueueSize  = 1024
	defaultBufferSize = 256
)

// Subscriber is one live connection. Messages arrive on C in publish order;
// C is closed when the subscriber is dropped or the hub stops.
type Subscriber struct {
	ID   string
	send chan []byte
}

// C returns the subscriber's message channel.
func (s *Subscriber) C() <-chan []byte { return s.send }

// Hub is a single-goroutine broadcaster. Publish never blocks: events are
// queued for the hub loop, which hands each one to every subscriber's
// buffer. A subscriber whose buffer is full is dropped; it reconnects and
// starts over from a fresh snapshot. When the queue itself overflows, every
// subscriber is dropped the same way.
type Hub struct {
	snapshot   func() []any
	logger     *log.Logger
	queueSize  int
	bufferSize int

	clients    map[*Subscriber]struct{}
	clientsMu  sync.RWMutex
	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan []byte
	done       chan struct{}
	stopOnce   sync.Once

	lost atomic.Bool // an event was dropped at the queue
}

// Option configures a Hub.
type Option func(*Hub)

// WithQueueSize sets how many published events may wait for the hub loop.
func WithQueueSize(n int) Option {
	return func(h *Hub) { h.queueSize = n }
}

// WithBufferSize sets the per-subscriber buffer.
func WithBufferSize(n int) Option {
	return func(h *Hub) { h.bufferSize = n }
}

// New creates a hub. snapshot returns the events a new subscriber receives
// before any later broadcast; it runs on the hub goroutine.
func New(snapshot func() []any, logger *log.Logger, opts ...Option) *Hub {
	h := &Hub{
		snapshot:   snapshot,
		logger:     logger,
		queueSize:  defaultQueueSize,
		bufferSize: defaultBufferSize,
		clients:    make(map[*Subscriber]struct{}),
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.broadcast = make(chan []byte, h.queueSize)
	return h
}

// Run is the hub loop. Returns when ctx is cancelled or Stop is called;
// all subscriber channels are closed on return.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		if h.lost.CompareAndSwap(true, false) {
			h.resync()
		}
		select {
		case <-ctx.Done():
			h.Stop()
			return
		case <-h.done:
			return
		case sub := <-h.register:
			h.add(sub)
		case sub := <-h.unregister:
			h.remove(sub, "disconnected")
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// Stop shuts the hub down. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) add(sub *Subscriber) {
	h.clientsMu.Lock()
	h.clients[sub] = struct{}{}
	total := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Printf("Hub: subscriber connected id=%s total=%d", sub.ID, total)

	if h.snapshot == nil {
		return
	}
	for _, event := range h.snapshot() {
		data, err := json.Marshal(event)
		if err != nil {
			h.logger.Printf("Hub: marshal snapshot: %v", err)
			continue
		}
		if !h.deliver(sub, data) {
			h.remove(sub, "snapshot exceeds buffer")
			return
		}
	}
}

func (h *Hub) remove(sub *Subscriber, reason string) {
	h.clientsMu.Lock()
	_, ok := h.clients[sub]
	if ok {
		delete(h.clients, sub)
		close(sub.send)
	}
	total := len(h.clients)
	h.clientsMu.Unlock()
	if ok {
		h.logger.Printf("Hub: subscriber %s id=%s total=%d", reason, sub.ID, total)
	}
}

func (h *Hub) deliver(sub *Subscriber, data []byte) bool {
	select {
	case sub.send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) fanOut(data []byte) {
	var slow []*Subscriber
	h.clientsMu.RLock()
	for sub := range h.clients {
		if !h.deliver(sub, data) {
			slow = append(slow, sub)
		}
	}
	h.clientsMu.RUnlock()
	for _, sub := range slow {
		h.remove(sub, "dropped (buffer full)")
	}
}

// resync drops every subscriber after queued events were lost, so each one
// reconnects to a snapshot that includes them.
func (h *Hub) resync() {
	h.clientsMu.Lock()
	n := len(h.clients)
	for sub := range h.clients {
		delete(h.clients, sub)
		close(sub.send)
	}
	h.clientsMu.Unlock()
	h.logger.Printf("Hub: events lost, dropped %d subscribers to resync", n)
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for sub := range h.clients {
		delete(h.clients, sub)
		close(sub.send)
	}
}

// Subscribe registers a new subscriber. Its first messages are the snapshot
// events. If the hub is stopped, the returned channel is already closed.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{ID: uuid.NewString(), send: make(chan []byte, h.bufferSize)}
	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.send)
	}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Publish marshals event and queues it for every subscriber. It never blocks;
// when the queue is full the event is dropped and the current subscribers are
// forced to resync.
func (h *Hub) Publish(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Printf("Hub: marshal event: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		if h.lost.CompareAndSwap(false, true) {
			h.logger.Printf("Hub: broadcast queue full, dropping events until subscribers resync")
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
