// Package bus fans the motion worker's events out to the MQTT bridge, the
// scan archive and any other consumer.
package bus

import (
	"sync"

	"github.com/aefi-io/aefi/internal/stageagent/core"
	"github.com/aefi-io/aefi/pkg/log"
)

// Handler consumes events of one subscription, in order, on its own goroutine.
type Handler func(core.Event)

// Broadcaster is the worker's EventSink. Publish only appends to mailboxes,
// so a slow subscriber delays itself and nobody else.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]*mailbox
	next   int
	closed bool
	wg     sync.WaitGroup
	logger log.Logger
}

var _ core.EventSink = (*Broadcaster)(nil)

type mailbox struct {
	name    string
	handler Handler

	mu     sync.Mutex
	queue  []core.Event
	notify chan struct{}
	done   chan struct{}
	stop   sync.Once
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs:   make(map[int]*mailbox),
		logger: log.WithName("bus"),
	}
}

// Publish hands e to every subscriber. It never blocks on a handler.
func (b *Broadcaster) Publish(e core.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.subs {
		m.put(e)
	}
}

// Subscribe starts delivering events to h. Events published before the call
// are not replayed. The returned func detaches h after the events already in
// its mailbox were delivered.
func (b *Broadcaster) Subscribe(name string, h Handler) (unsubscribe func()) {
	m := &mailbox{
		name:    name,
		handler: h,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = m
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		m.run()
	}()
	b.logger.Debug("Subscriber attached", "name", name)

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		m.close()
	}
}

// Close detaches every subscriber and waits for their mailboxes to drain.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = map[int]*mailbox{}
	b.mu.Unlock()

	for _, m := range subs {
		m.close()
	}
	b.wg.Wait()
}

func (m *mailbox) close() {
	m.stop.Do(func() { close(m.done) })
}

func (m *mailbox) put(e core.Event) {
	m.mu.Lock()
	m.queue = append(m.queue, e)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() []core.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := m.queue
	m.queue = nil
	return batch
}

func (m *mailbox) run() {
	for {
		select {
		case <-m.notify:
			m.deliver(m.take())
		case <-m.done:
			m.deliver(m.take())
			return
		}
	}
}

func (m *mailbox) deliver(batch []core.Event) {
	for _, e := range batch {
		m.handler(e)
	}
}
