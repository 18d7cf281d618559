// Package sse streams vault changes to browsers as Server-Sent Events.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Event types.
const (
	EventEntryCreated    = "entry.created"
	EventEntryDeleted    = "entry.deleted"
	EventEntriesReloaded = "entries.reloaded"
	EventTimelineUpdated = "timeline.updated"
	EventActivityLogged  = "activity.logged"
	EventAuthChanged     = "auth.changed"
	EventDriverSwapped   = "driver.swapped"
)

// entryEvents maps vault change kinds to event types. Each of them also
// schedules a throttled timeline.updated.
var entryEvents = map[string]string{
	"created":  EventEntryCreated,
	"deleted":  EventEntryDeleted,
	"reloaded": EventEntriesReloaded,
}

// Event is one message on the stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type frame struct {
	id   uint64
	typ  string
	data []byte
}

func (f frame) encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "id: %d\nevent: %s\ndata: %s\n\n", f.id, f.typ, f.data)
	return buf.Bytes()
}

type subscriber struct {
	ch     chan []byte
	filter []string // type prefixes; empty means everything
	after  uint64   // replay frames with a larger id
}

func (s *subscriber) wants(typ string) bool {
	if len(s.filter) == 0 {
		return true
	}
	for _, p := range s.filter {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

type publishReq struct {
	event    Event
	timeline bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithTimelineThrottle limits timeline.updated to one per d.
func WithTimelineThrottle(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.timelineMin = d
		}
	}
}

// WithHeartbeat sets the interval of keep-alive comments sent to idle
// streams. Zero disables them.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) { b.heartbeat = d }
}

// WithReplay keeps the last n frames for clients reconnecting with
// Last-Event-ID.
func WithReplay(n int) Option {
	return func(b *Broker) {
		if n >= 0 {
			b.replay = n
		}
	}
}

// Broker fans events out to connected streams.
//
// One goroutine owns the subscriber set, the replay ring and the timeline
// throttle. Public methods reach it through channels.
type Broker struct {
	timelineMin time.Duration
	heartbeat   time.Duration
	replay      int

	subscribeCh   chan *subscriber
	unsubscribeCh chan chan []byte
	publishCh     chan publishReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker loop. Call Close to stop it.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		timelineMin:   2 * time.Second,
		heartbeat:     30 * time.Second,
		replay:        32,
		subscribeCh:   make(chan *subscriber),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan publishReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	subs := make(map[chan []byte]*subscriber)
	var (
		seq          uint64
		ring         []frame
		lastTimeline time.Time
	)

	emit := func(event Event) {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		f := frame{id: seq, typ: event.Type, data: data}
		if b.replay > 0 {
			ring = append(ring, f)
			if len(ring) > b.replay {
				ring = ring[len(ring)-b.replay:]
			}
		}
		raw := f.encode()
		for ch, s := range subs {
			if !s.wants(f.typ) {
				continue
			}
			select {
			case ch <- raw:
			default:
				// slow reader
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range subs {
				close(ch)
			}
			return

		case s := <-b.subscribeCh:
			subs[s.ch] = s
			if s.after == 0 {
				continue
			}
			for _, f := range ring {
				if f.id <= s.after || !s.wants(f.typ) {
					continue
				}
				select {
				case s.ch <- f.encode():
				default:
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}

		case req := <-b.publishCh:
			emit(req.event)
			if !req.timeline {
				continue
			}
			if now := time.Now(); now.Sub(lastTimeline) >= b.timelineMin {
				lastTimeline = now
				emit(Event{Type: EventTimelineUpdated, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(subs)
		}
	}
}

// Close stops the loop and closes every subscriber channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a stream. Only events whose type starts with one of
// the given prefixes are delivered; no prefixes means all events. Frames
// newer than lastID still held in the replay ring are sent first.
func (b *Broker) Subscribe(lastID uint64, prefixes ...string) chan []byte {
	s := &subscriber{ch: make(chan []byte, 64), filter: prefixes, after: lastID}
	if b.closed.Load() {
		close(s.ch)
		return s.ch
	}

	select {
	case b.subscribeCh <- s:
	case <-b.stopped:
		close(s.ch)
	}
	return s.ch
}

// Unsubscribe removes a stream and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of open streams.
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

// Publish broadcasts event to every interested stream.
func (b *Broker) Publish(event Event) {
	b.send(publishReq{event: event})
}

// PublishEntryEvent broadcasts a vault list change ("created", "deleted"
// or "reloaded"). Unknown kinds are dropped.
func (b *Broker) PublishEntryEvent(kind string, timestamp int64, count int) {
	typ, ok := entryEvents[kind]
	if !ok {
		return
	}
	var data any = map[string]int64{"timestamp": timestamp}
	if kind == "reloaded" {
		data = map[string]int{"count": count}
	}
	b.send(publishReq{event: Event{Type: typ, Data: data}, timeline: true})
}

func (b *Broker) send(req publishReq) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- req:
	case <-b.stopped:
	}
}

// ServeHTTP is the stream endpoint (GET /api/events). The optional
// "types" query parameter is a comma separated list of event type
// prefixes, e.g. ?types=entry.,activity.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var prefixes []string
	for _, p := range strings.Split(r.URL.Query().Get("types"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	lastID, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(lastID, prefixes...)
	defer b.Unsubscribe(ch)

	var tick <-chan time.Time
	if b.heartbeat > 0 {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
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
