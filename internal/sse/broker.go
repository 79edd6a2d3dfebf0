// Package sse streams link-graph changes to browsers as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/starford/linkgraph/internal/graphservice"
)

// Event types that are not graphservice event kinds.
const (
	TypeGraphUpdated    = "graph.updated"
	TypeSourceIngested  = "source.ingested"
	TypeSourceForgotten = "source.forgotten"
	TypeSnapshotSaved   = "snapshot.saved"
)

const (
	clientBuffer = 64
	// maxMisses is how many frames in a row a client may fail to accept
	// before it is disconnected.
	maxMisses = 256
	retryMs   = 3000
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Subscription is one connected client. C is closed when the client is
// unsubscribed, evicted for falling behind, or the broker closes.
type Subscription struct {
	C  <-chan []byte
	id uint64
}

// Broker fans events out to subscribers.
//
// One goroutine owns the subscriber table and the graph.updated window;
// every public method hands it a closure. After Close all methods are
// no-ops.
type Broker struct {
	window    time.Duration
	keepAlive time.Duration

	ops      chan func(*hub)
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once
}

// NewBroker creates a broker that emits graph.updated at most once per
// window. A change inside the window is reported when the window ends.
func NewBroker(window time.Duration) *Broker {
	if window <= 0 {
		window = 2 * time.Second
	}
	b := &Broker{
		window:    window,
		keepAlive: 15 * time.Second,
		ops:       make(chan func(*hub), 256),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.done)
	h := &hub{clients: make(map[uint64]*client), window: b.window}
	defer h.shutdown()

	for {
		select {
		case <-b.quit:
			return
		case op := <-b.ops:
			op(h)
		case <-h.tick:
			h.windowClosed()
		}
	}
}

// do queues op for the loop. It reports false once the broker is closed.
func (b *Broker) do(op func(*hub)) bool {
	select {
	case <-b.done:
		return false
	case <-b.quit:
		return false
	case b.ops <- op:
		return true
	}
}

// Close stops the loop and closes every subscription.
func (b *Broker) Close() {
	b.quitOnce.Do(func() { close(b.quit) })
	<-b.done
}

// Subscribe registers a new client.
func (b *Broker) Subscribe() *Subscription {
	reply := make(chan *Subscription, 1)
	if b.do(func(h *hub) { reply <- h.add() }) {
		select {
		case s := <-reply:
			return s
		case <-b.done:
		}
	}
	ch := make(chan []byte)
	close(ch)
	return &Subscription{C: ch}
}

// Unsubscribe removes s and closes its channel.
func (b *Broker) Unsubscribe(s *Subscription) {
	b.do(func(h *hub) { h.remove(s.id) })
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	reply := make(chan int, 1)
	if !b.do(func(h *hub) { reply <- len(h.clients) }) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-b.done:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	b.do(func(h *hub) { h.broadcast(event.Type, event.Data) })
}

// PublishGraphEvent broadcasts a collection change followed by a windowed
// graph.updated. It has the graphservice.EventCallback signature.
func (b *Broker) PublishGraphEvent(ev graphservice.Event) {
	b.do(func(h *hub) {
		h.broadcast(ev.Kind, ev)
		h.changed()
	})
}

// PublishSourceEvent broadcasts a watcher change. kind is one of the
// index.Watch* constants; unknown kinds are ignored.
func (b *Broker) PublishSourceEvent(kind, path string) {
	switch kind {
	case "ingested":
		b.do(func(h *hub) {
			h.broadcast(TypeSourceIngested, map[string]string{"path": path})
			h.changed()
		})
	case "forgotten":
		b.Publish(Event{Type: TypeSourceForgotten, Data: map[string]string{"path": path}})
	case "snapshot":
		b.Publish(Event{Type: TypeSnapshotSaved, Data: map[string]string{"id": path}})
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", retryMs)
	flusher.Flush()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	keepAlive := time.NewTicker(b.keepAlive)
	defer keepAlive.Stop()

	for {
		var frame []byte
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			frame = []byte(": ping\n\n")
		case msg, open := <-sub.C:
			if !open {
				return
			}
			frame = msg
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		flusher.Flush()
	}
}

type client struct {
	send   chan []byte
	misses int
}

// hub is the state owned by the broker loop.
type hub struct {
	clients map[uint64]*client
	lastID  uint64
	seq     uint64

	window  time.Duration
	timer   *time.Timer
	tick    <-chan time.Time
	pending bool
}

func (h *hub) add() *Subscription {
	h.lastID++
	c := &client{send: make(chan []byte, clientBuffer)}
	h.clients[h.lastID] = c
	return &Subscription{C: c.send, id: h.lastID}
}

func (h *hub) remove(id uint64) {
	c, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	close(c.send)
}

func (h *hub) broadcast(typ string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	h.seq++
	frame := fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", h.seq, typ, payload)

	for id, c := range h.clients {
		select {
		case c.send <- frame:
			c.misses = 0
		default:
			c.misses++
			if c.misses >= maxMisses {
				h.remove(id)
			}
		}
	}
}

// changed reports graph.updated now if no window is open, otherwise once
// the current window ends.
func (h *hub) changed() {
	if h.timer != nil {
		h.pending = true
		return
	}
	h.graphUpdated()
}

func (h *hub) windowClosed() {
	h.timer, h.tick = nil, nil
	if h.pending {
		h.pending = false
		h.graphUpdated()
	}
}

func (h *hub) graphUpdated() {
	h.broadcast(TypeGraphUpdated, struct{}{})
	h.timer = time.NewTimer(h.window)
	h.tick = h.timer.C
}

func (h *hub) shutdown() {
	if h.timer != nil {
		h.timer.Stop()
	}
	for id := range h.clients {
		h.remove(id)
	}
}
