package client

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-wallet/errors"
	"github.com/wippyai/wasm-wallet/protocol"
)

// Event is a notification from the host or from the client itself.
type Event struct {
	Time     time.Time
	Category string
	Data     json.RawMessage
}

func newEvent(category string, data json.RawMessage, now time.Time) Event {
	return Event{Category: category, Data: data, Time: now}
}

// Decode unmarshals the event data into out.
func (e Event) Decode(out any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return errors.Wrap(errors.PhaseProtocol, errors.KindInvalidData, err, "decode event "+e.Category)
	}
	return nil
}

// EventHandler receives events. Host events are delivered on the client's
// read goroutine, so a handler must not wait for a response from the same
// client.
type EventHandler func(Event)

// Subscription identifies one registered handler.
type Subscription struct {
	category string
	id       uint64
}

type subscriber struct {
	fn EventHandler
	id uint64
}

type subscriptions struct {
	log     *zap.Logger
	metrics *Metrics

	mu     sync.Mutex
	next   uint64
	byName map[string][]subscriber
}

func (s *subscriptions) init(log *zap.Logger, m *Metrics) {
	s.log = log
	s.metrics = m
	s.byName = make(map[string][]subscriber)
}

func (s *subscriptions) add(category string, fn EventHandler) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.byName[category] = append(s.byName[category], subscriber{id: s.next, fn: fn})
	return Subscription{category: category, id: s.next}
}

func (s *subscriptions) remove(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byName[sub.category]
	for i, sb := range list {
		if sb.id == sub.id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.byName, sub.category)
		return
	}
	s.byName[sub.category] = list
}

func (s *subscriptions) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName = make(map[string][]subscriber)
}

func (s *subscriptions) count(category string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byName[category])
}

// broadcast calls every handler of the event's category in subscription
// order. A panicking handler is logged and skipped.
func (s *subscriptions) broadcast(ev Event) {
	s.mu.Lock()
	list := s.byName[ev.Category]
	s.mu.Unlock()

	s.metrics.events.WithLabelValues(ev.Category).Inc()
	if len(list) == 0 {
		s.log.Debug("event without subscribers", zap.String("category", ev.Category))
		return
	}
	for _, sb := range list {
		s.deliver(sb, ev)
	}
}

func (s *subscriptions) deliver(sb subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.panics.WithLabelValues(ev.Category).Inc()
			s.log.Error("event handler panicked",
				zap.String("category", ev.Category),
				zap.Uint64("subscription", sb.id),
				zap.Any("panic", r))
		}
	}()
	sb.fn(ev)
}

// Subscribe registers fn for category. The same function may be
// registered more than once; each registration is delivered separately.
func (c *Client) Subscribe(category string, fn EventHandler) Subscription {
	return c.subs.add(category, fn)
}

// Unsubscribe removes a registration. Removing it twice is a no-op.
func (c *Client) Unsubscribe(sub Subscription) {
	c.subs.remove(sub)
}

// Subscribers returns how many handlers are registered for category.
func (c *Client) Subscribers(category string) int {
	return c.subs.count(category)
}

func (c *Client) emit(category string, data json.RawMessage) {
	c.subs.broadcast(newEvent(category, data, c.clock.Now()))
}

func (c *Client) emitData(category string, data any) {
	raw, err := protocol.Marshal(data)
	if err != nil {
		c.log.Warn("event not encoded", zap.String("category", category), zap.Error(err))
		return
	}
	c.emit(category, raw)
}
