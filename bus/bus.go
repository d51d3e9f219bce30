// Package bus implements the in-process publish/subscribe fabric that wires
// every pipeline component together. Topics are plain strings; a "*" segment
// in a subscription pattern matches one or more characters of the published
// topic (dots included).
package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrBusShuttingDown is returned by Publish once the bus has been closed.
// Publishers must treat it as benign.
var ErrBusShuttingDown = errors.New("bus: shutting down")

// Handle identifies a subscription for later Unsubscribe calls.
type Handle uuid.UUID

// Message is a single published item as seen by subscribers.
type Message struct {
	Topic string
	Data  interface{}
}

type subscription struct {
	id       Handle
	topic    string
	wildcard bool
	pattern  *regexp.Regexp
	callback func(Message)
	queue    chan Message
	warned   bool
}

func (s *subscription) matches(topic string) bool {
	if !s.wildcard {
		return s.topic == topic
	}
	return s.pattern.MatchString(topic)
}

// Bus is the central dispatch fabric. Zero value is not usable; use New.
type Bus struct {
	mu   sync.RWMutex
	subs map[Handle]*subscription

	dispatch chan Message
	done     chan struct{}
	once     sync.Once

	logger *log.Logger
}

// DispatchQueueSize is the bound on the central ordered dispatch channel.
const DispatchQueueSize = 100

// New creates a Bus. Run must be called (typically in its own goroutine)
// for published messages to actually be delivered.
func New() *Bus {
	return &Bus{
		subs:     make(map[Handle]*subscription),
		dispatch: make(chan Message, DispatchQueueSize),
		done:     make(chan struct{}),
		logger:   log.New(os.Stdout, "[bus] ", log.LstdFlags),
	}
}

// Run drains the dispatch channel until ctx is cancelled or the bus is
// closed. There is exactly one dispatch loop per Bus.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case msg := <-b.dispatch:
			b.deliver(msg)
		case <-ctx.Done():
			return
		case <-b.done:
			return
		}
	}
}

// Publish enqueues data under topic onto the central dispatch channel.
// FIFO ordering per topic from a single publisher goroutine is preserved
// because the channel itself is FIFO and there is one dispatch loop.
func (b *Bus) Publish(topic string, data interface{}) error {
	select {
	case <-b.done:
		return ErrBusShuttingDown
	default:
	}
	select {
	case b.dispatch <- Message{Topic: topic, Data: data}:
		return nil
	case <-b.done:
		return ErrBusShuttingDown
	}
}

// Subscribe registers a callback invoked synchronously in the dispatch
// loop for every message whose topic matches. The callback must not block;
// long work must be offloaded to another goroutine by the caller.
func (b *Bus) Subscribe(topic string, cb func(Message)) (Handle, error) {
	sub, err := newSubscription(topic)
	if err != nil {
		return Handle{}, err
	}
	sub.callback = cb
	b.register(sub)
	return sub.id, nil
}

// SubscribeQueue registers a bounded queue subscriber. When the queue is
// full, the oldest queued message is dropped in favour of the new one so
// that recent frames are preferred over stale ones; this is logged once.
func (b *Bus) SubscribeQueue(topic string, bound int) (<-chan Message, Handle, error) {
	if bound <= 0 {
		return nil, Handle{}, fmt.Errorf("bus: queue bound must be positive, got %d", bound)
	}
	sub, err := newSubscription(topic)
	if err != nil {
		return nil, Handle{}, err
	}
	sub.queue = make(chan Message, bound)
	b.register(sub)
	return sub.queue, sub.id, nil
}

// Unsubscribe removes a subscription by handle. Idempotent: unsubscribing
// an already-removed or unknown handle is a no-op.
func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	delete(b.subs, h)
	b.mu.Unlock()
}

// Close stops the dispatch loop (Run returns) and causes subsequent
// Publish calls to fail with ErrBusShuttingDown.
func (b *Bus) Close() {
	b.once.Do(func() { close(b.done) })
}

func newSubscription(topic string) (*subscription, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("bus: generating subscription handle: %w", err)
	}
	sub := &subscription{id: Handle(id), topic: topic}
	if strings.Contains(topic, "*") {
		sub.wildcard = true
		pattern, err := compileWildcard(topic)
		if err != nil {
			return nil, err
		}
		sub.pattern = pattern
	}
	return sub, nil
}

func compileWildcard(topic string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range topic {
		if r == '*' {
			b.WriteString(".+")
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(r)))
	}
	b.WriteByte('$')
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("bus: invalid wildcard topic %q: %w", topic, err)
	}
	return re, nil
}

func (b *Bus) register(sub *subscription) {
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
}

// deliver dispatches to exact-topic subscribers first, then wildcard ones,
// per the ordering contract.
func (b *Bus) deliver(msg Message) {
	b.mu.RLock()
	var exact, wildcard []*subscription
	for _, sub := range b.subs {
		if sub.wildcard {
			if sub.matches(msg.Topic) {
				wildcard = append(wildcard, sub)
			}
			continue
		}
		if sub.matches(msg.Topic) {
			exact = append(exact, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range exact {
		b.deliverOne(sub, msg)
	}
	for _, sub := range wildcard {
		b.deliverOne(sub, msg)
	}
}

func (b *Bus) deliverOne(sub *subscription, msg Message) {
	if sub.callback != nil {
		sub.callback(msg)
		return
	}
	b.enqueueDropOldest(sub, msg)
}

func (b *Bus) enqueueDropOldest(sub *subscription, msg Message) {
	for {
		select {
		case sub.queue <- msg:
			return
		default:
		}
		select {
		case <-sub.queue:
			if !sub.warned {
				b.logger.Printf("subscriber queue full for topic %q, dropping oldest message", sub.topic)
				sub.warned = true
			}
		default:
			// Raced with a consumer that just drained the queue; retry send.
		}
	}
}
