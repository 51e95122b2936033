package bus

import (
	"context"
	"errors"
	"sync"
)

// Memory is an in-process bus used by tests and local development. Channels
// are buffered; Publish never blocks until a channel backs up.
type Memory struct {
	mu       sync.Mutex
	channels map[string]chan []byte
	closed   bool
}

// NewMemory builds an empty in-memory bus.
func NewMemory() *Memory {
	return &Memory{channels: make(map[string]chan []byte)}
}

func (m *Memory) channel(name string) chan []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[name]
	if !ok {
		ch = make(chan []byte, 64)
		m.channels[name] = ch
	}
	return ch
}

// Publish delivers one message to a channel.
func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	if channel == "" {
		return errors.New("bus channel is required")
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("bus is closed")
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.channel(channel) <- payload:
		return nil
	}
}

// Subscribe returns a consumer bound to one channel.
func (m *Memory) Subscribe(channel string) *MemoryConsumer {
	return &MemoryConsumer{ch: m.channel(channel)}
}

// Close marks the bus closed for publishing.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// MemoryConsumer reads from one in-memory channel.
type MemoryConsumer struct {
	ch chan []byte
}

// Receive blocks until the next message arrives or ctx is done.
func (c *MemoryConsumer) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case payload := <-c.ch:
		return payload, nil
	}
}

// Close is a no-op for in-memory consumers.
func (c *MemoryConsumer) Close() error {
	return nil
}

var (
	_ Publisher = (*Memory)(nil)
	_ Consumer  = (*MemoryConsumer)(nil)
)
