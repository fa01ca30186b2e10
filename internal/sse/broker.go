// Package sse implements a Server-Sent Events broker for catalog change
// notifications.
package sse

import (
	"bytes"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// Event types sent to clients.
const (
	TypeSchemaCreated  = "schema.created"
	TypeSchemaUpdated  = "schema.updated"
	TypeSchemaDeleted  = "schema.deleted"
	TypeCatalogUpdated = "catalog.updated"
)

const (
	clientBuffer = 64
	backlogSize  = 128
	// retryMillis is the reconnection delay suggested to clients.
	retryMillis = 3000
)

var schemaEventTypes = map[string]string{
	"created": TypeSchemaCreated,
	"updated": TypeSchemaUpdated,
	"deleted": TypeSchemaDeleted,
}

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type subscription struct {
	ch     chan []byte
	lastID uint64
}

type frame struct {
	id  uint64
	raw []byte
}

// Broker fans events out to SSE clients. Every broadcast event gets the
// next sequence number as its id, and the most recent frames are kept so a
// client reconnecting with Last-Event-ID receives what it missed.
//
// A single event loop owns the client set, the backlog and the catalog
// throttle; public methods talk to it over channels.
type Broker struct {
	catalogMin time.Duration
	// KeepAlive is the interval of comment frames on idle streams.
	KeepAlive time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	schemaEventCh chan [2]string
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits catalog.updated at most once per
// catalogThrottle.
func NewBroker(catalogThrottle time.Duration) *Broker {
	if catalogThrottle <= 0 {
		catalogThrottle = 2 * time.Second
	}

	b := &Broker{
		catalogMin:    catalogThrottle,
		KeepAlive:     25 * time.Second,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event),
		schemaEventCh: make(chan [2]string),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

// Frame encodes an event in the text/event-stream wire format. An id of
// zero is left out.
func Frame(id uint64, event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if id > 0 {
		buf.WriteString("id: " + strconv.FormatUint(id, 10) + "\n")
	}
	buf.WriteString("event: " + event.Type + "\n")
	buf.WriteString("data: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	backlog := make([]frame, 0, backlogSize)
	var (
		seq         uint64
		lastCatalog time.Time
	)

	send := func(ch chan []byte, raw []byte) {
		select {
		case ch <- raw:
		default:
			// slow client, drop
		}
	}

	broadcast := func(event Event) {
		raw, err := Frame(seq+1, event)
		if err != nil {
			return
		}
		seq++
		if len(backlog) == backlogSize {
			backlog = append(backlog[:0], backlog[1:]...)
		}
		backlog = append(backlog, frame{id: seq, raw: raw})
		for ch := range clients {
			send(ch, raw)
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = struct{}{}
			if sub.lastID > 0 {
				for _, f := range backlog {
					if f.id > sub.lastID {
						send(sub.ch, f.raw)
					}
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.schemaEventCh:
			typ, ok := schemaEventTypes[req[0]]
			if !ok {
				continue
			}
			broadcast(Event{Type: typ, Data: map[string]string{"path": req[1]}})

			if now := time.Now(); now.Sub(lastCatalog) >= b.catalogMin {
				lastCatalog = now
				broadcast(Event{Type: TypeCatalogUpdated, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the event loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel. A non-zero lastID
// replays the retained events that followed it; the channel has room for
// the whole backlog on top of the live buffer.
func (b *Broker) Subscribe(lastID uint64) chan []byte {
	size := clientBuffer
	if lastID > 0 {
		size += backlogSize
	}
	ch := make(chan []byte, size)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, lastID: lastID}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients. It returns once the
// event loop has taken the event, so later subscribers see it in the
// backlog.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishSchemaEvent publishes a catalog file change; kind is "created",
// "updated" or "deleted". A throttled catalog.updated follows.
func (b *Broker) PublishSchemaEvent(kind, path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.schemaEventCh <- [2]string{kind, path}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). It honours the
// Last-Event-ID header and writes a comment frame on idle streams.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastID, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("retry: " + strconv.Itoa(retryMillis) + "\n\n"))
	flusher.Flush()

	ch := b.Subscribe(lastID)
	defer b.Unsubscribe(ch)

	keepAlive := time.NewTicker(b.KeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
