package bus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

const memoryQueueSize = 256

// MemoryBus delivers messages within the process. Each subscription drains
// its own queue on a goroutine; a full queue drops the message.
type MemoryBus struct {
	mu      sync.RWMutex
	subs    map[string]*memorySubscription
	closed  atomic.Bool
	dropped atomic.Uint64
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]*memorySubscription)}
}

// Publish queues data for every subscription whose pattern matches subject.
func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &Message{Subject: subject, Data: data}
	tokens := strings.Split(subject, ".")

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if matchTokens(sub.pattern, tokens) {
			sub.offer(msg)
		}
	}
	return nil
}

// Subscribe starts delivering matching messages to handler until the
// subscription, the bus or ctx ends.
func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	sub := &memorySubscription{
		id:      ulid.Make().String(),
		subject: subject,
		pattern: strings.Split(subject, "."),
		queue:   make(chan *Message, memoryQueueSize),
		done:    make(chan struct{}),
		handler: handler,
		bus:     b,
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go sub.run(ctx)
	return sub, nil
}

// Dropped reports how many deliveries were lost to full queues.
func (b *MemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops every subscription. A second Close returns ErrClosed.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*memorySubscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

type memorySubscription struct {
	id      string
	subject string
	pattern []string
	queue   chan *Message
	done    chan struct{}
	once    sync.Once
	handler MessageHandler
	bus     *MemoryBus
}

func (s *memorySubscription) offer(msg *Message) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.queue <- msg:
	default:
		s.bus.dropped.Add(1)
	}
}

// Unsubscribe is idempotent.
func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	s.stop()
	return nil
}

func (s *memorySubscription) Subject() string {
	return s.subject
}

func (s *memorySubscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySubscription) run(ctx context.Context) {
	for {
		select {
		case msg := <-s.queue:
			s.handler(msg)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// matchSubject reports whether subject matches a NATS-style pattern: "*"
// matches one token and a trailing ">" matches one or more.
func matchSubject(pattern, subject string) bool {
	return matchTokens(strings.Split(pattern, "."), strings.Split(subject, "."))
}

func matchTokens(pattern, subject []string) bool {
	for i, tok := range pattern {
		if tok == ">" {
			return i == len(pattern)-1 && len(subject) > i
		}
		if i >= len(subject) || (tok != "*" && tok != subject[i]) {
			return false
		}
	}
	return len(pattern) == len(subject)
}
