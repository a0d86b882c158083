package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the relay registry.
const (
	RelayStarted     = "relay.started"
	RelayStopped     = "relay.stopped"
	RelayStartFailed = "relay.start_failed"
	RelaysStoppedAll = "relay.stopped_all"
	ConfigReloaded   = "config.reloaded"
)

// Event is a small in-memory notification.
//
// Publish never blocks: subscribers own buffered channels and a slow
// subscriber misses events instead of stalling the publisher.
type Event struct {
	Type     string    `json:"type"`
	Time     time.Time `json:"time"`
	ConfigID string    `json:"config_id,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

// Nop returns a bus that discards every event.
func Nop() Bus { return nopBus{} }

type subscriber struct {
	ch      chan Event
	dropped atomic.Uint64
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock so unsubscribe cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}
