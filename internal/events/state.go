package events

import (
	"sync"

	"github.com/vadiminshakov/captur/internal/domain"
)

const defaultBuffer = 64

// StateBroadcaster fans out engine state snapshots to all subscribers via
// buffered channels. Slow subscribers miss snapshots instead of blocking the engine.
type StateBroadcaster struct {
	mu     sync.RWMutex
	subs   map[chan domain.State]struct{}
	buffer int
	last   *domain.State
}

// NewStateBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewStateBroadcaster(buffer int) *StateBroadcaster {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	return &StateBroadcaster{
		subs:   make(map[chan domain.State]struct{}),
		buffer: buffer,
	}
}

// Publish sends the snapshot to all subscribers, dropping it for readers whose buffer is full.
func (b *StateBroadcaster) Publish(s domain.State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = &s
	for ch := range b.subs {
		select {
		case ch <- s:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives snapshots until Unsubscribe is called.
// The latest published snapshot, if any, is delivered first so a new
// subscriber can render without waiting for the next tick.
func (b *StateBroadcaster) Subscribe() chan domain.State {
	ch := make(chan domain.State, b.buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	if b.last != nil {
		ch <- *b.last
	}
	b.mu.Unlock()

	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *StateBroadcaster) Unsubscribe(ch chan domain.State) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Close unsubscribes and closes every subscriber channel.
func (b *StateBroadcaster) Close() {
	b.mu.Lock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of live subscriptions.
func (b *StateBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
