// Package broadcast fans out invocation events to live subscribers.
//
// Each invocation gets one stream. Events published to a stream are
// delivered to every current subscriber in publish order. A subscriber
// whose buffer is full is dropped rather than slowing the invocation down.
// The stream ends after the done event; opening it afterwards fails with
// core.NotFoundError and clients read the persisted turn instead.
package broadcast

import (
	"errors"
	"sync"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/logging"
)

// ErrStreamClosed is returned when publishing to a finished stream.
var ErrStreamClosed = errors.New("broadcast: stream closed")

// Options configures a Hub.
type Options struct {
	// SubscriberBuffer is the per-subscriber channel capacity.
	SubscriberBuffer int
	// ReplayBuffer keeps the last N events of a stream for subscribers that
	// open late. Zero disables replay.
	ReplayBuffer int
	// OnPublish observes every accepted event.
	OnPublish func(id string, ev core.Event)
	Logger    logging.Logger
}

// Hub is safe for concurrent use.
type Hub struct {
	mu      sync.Mutex
	streams map[string]*stream
	opts    Options
}

type stream struct {
	subs map[*Subscription]struct{}
	ring []core.Event
	// head is the next write position once the ring is full.
	head int
}

// New creates a Hub.
func New(optFns ...func(o *Options)) *Hub {
	opts := Options{
		SubscriberBuffer: 256,
		ReplayBuffer:     64,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 1
	}
	return &Hub{streams: make(map[string]*stream), opts: opts}
}

// Register creates the stream for id. Registering an existing id is a no-op.
func (h *Hub) Register(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.streams[id]; !ok {
		h.streams[id] = &stream{subs: make(map[*Subscription]struct{})}
	}
}

// Attach registers id and pumps events into it until the channel is closed
// or a done event passes through. The stream is closed when the pump exits.
func (h *Hub) Attach(id string, events <-chan core.Event) {
	h.Register(id)
	go func() {
		defer h.Close(id)
		for ev := range events {
			if err := h.Publish(id, ev); err != nil {
				h.opts.Logger.Warn("dropping event after stream end", "instance_id", id, "type", string(ev.Type))
				continue
			}
		}
	}()
}

// Open subscribes to id. Buffered events are replayed first.
func (h *Hub) Open(id string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.streams[id]
	if !ok {
		return nil, core.NewNotFound("stream", id)
	}
	buf := h.opts.SubscriberBuffer
	if len(s.ring) > buf {
		buf = len(s.ring)
	}
	sub := &Subscription{id: id, hub: h, ch: make(chan core.Event, buf)}
	for _, ev := range s.replay() {
		sub.ch <- ev
	}
	s.subs[sub] = struct{}{}
	return sub, nil
}

// Publish delivers ev to every subscriber of id. A done event ends the stream.
func (h *Hub) Publish(id string, ev core.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.streams[id]
	if !ok {
		return ErrStreamClosed
	}
	if h.opts.OnPublish != nil {
		h.opts.OnPublish(id, ev)
	}
	for sub := range s.subs {
		select {
		case sub.ch <- ev:
		default:
			h.opts.Logger.Warn("dropping slow subscriber", "instance_id", id)
			sub.dropped = true
			h.detach(s, sub)
		}
	}
	s.remember(ev, h.opts.ReplayBuffer)

	if ev.IsTerminal() {
		h.closeLocked(id, s)
	}
	return nil
}

// Close ends the stream for id and closes every subscriber channel.
func (h *Hub) Close(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.streams[id]; ok {
		h.closeLocked(id, s)
	}
}

// Active reports whether id has an open stream.
func (h *Hub) Active(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.streams[id]
	return ok
}

// Subscribers returns the number of live subscribers of id.
func (h *Hub) Subscribers(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.streams[id]; ok {
		return len(s.subs)
	}
	return 0
}

func (h *Hub) closeLocked(id string, s *stream) {
	for sub := range s.subs {
		h.detach(s, sub)
	}
	delete(h.streams, id)
}

func (h *Hub) detach(s *stream, sub *Subscription) {
	delete(s.subs, sub)
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

func (s *stream) remember(ev core.Event, capacity int) {
	if capacity <= 0 {
		return
	}
	if len(s.ring) < capacity {
		s.ring = append(s.ring, ev)
		return
	}
	s.ring[s.head] = ev
	s.head = (s.head + 1) % capacity
}

func (s *stream) replay() []core.Event {
	out := make([]core.Event, 0, len(s.ring))
	out = append(out, s.ring[s.head:]...)
	return append(out, s.ring[:s.head]...)
}

// Subscription is one observer of a stream. Its fields are guarded by the
// owning hub's mutex.
type Subscription struct {
	id      string
	hub     *Hub
	ch      chan core.Event
	closed  bool
	dropped bool
}

// ID returns the invocation id.
func (s *Subscription) ID() string { return s.id }

// Events yields the event sequence. The channel is closed after done, when
// the stream is closed or when the subscriber was dropped.
func (s *Subscription) Events() <-chan core.Event { return s.ch }

// Dropped reports whether the subscriber fell behind and was cut off.
func (s *Subscription) Dropped() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.dropped
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if st, ok := s.hub.streams[s.id]; ok {
		if _, live := st.subs[s]; live {
			s.hub.detach(st, s)
			return
		}
	}
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
