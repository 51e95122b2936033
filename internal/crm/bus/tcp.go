package bus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

const (
	dialTimeout      = 5 * time.Second
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

// TCPConsumer subscribes to one channel on a broker over TCP. The first
// frame on a fresh connection names the channel; every subsequent inbound
// frame is a message payload. Lost connections are redialed with backoff.
type TCPConsumer struct {
	addr    string
	channel string

	mu   sync.Mutex
	conn net.Conn
}

// NewTCPConsumer builds a consumer for one channel. The connection is
// established lazily on the first Receive.
func NewTCPConsumer(addr, channel string) (*TCPConsumer, error) {
	if addr == "" {
		return nil, errors.New("bus address is required")
	}
	if channel == "" {
		return nil, errors.New("bus channel is required")
	}
	return &TCPConsumer{addr: addr, channel: channel}, nil
}

// Receive blocks for the next message, redialing on connection loss until
// ctx is done.
func (c *TCPConsumer) Receive(ctx context.Context) ([]byte, error) {
	backoff := reconnectBackoff
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := c.connect(ctx)
		if err != nil {
			log.Printf("bus connect channel=%s err=%v", c.channel, err)
			if !sleep(ctx, backoff) {
				return nil, ctx.Err()
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = reconnectBackoff

		payload, err := readFrame(conn)
		if err != nil {
			log.Printf("bus receive channel=%s err=%v", c.channel, err)
			c.drop(conn)
			continue
		}
		return payload, nil
	}
}

// Close closes the current connection.
func (c *TCPConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *TCPConsumer) connect(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("dial bus: %w", err)
	}
	if err := writeFrame(conn, []byte(c.channel)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe channel: %w", err)
	}
	c.conn = conn
	return conn, nil
}

func (c *TCPConsumer) drop(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// TCPPublisher publishes to named channels over one TCP connection. Each
// outbound frame is the channel name, a newline, then the payload. A failed
// write redials once before giving up.
type TCPPublisher struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
}

// NewTCPPublisher builds a publisher. The connection is established lazily.
func NewTCPPublisher(addr string) (*TCPPublisher, error) {
	if addr == "" {
		return nil, errors.New("bus address is required")
	}
	return &TCPPublisher{addr: addr}, nil
}

// Publish sends one message to a channel.
func (p *TCPPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if channel == "" {
		return errors.New("bus channel is required")
	}
	frame := make([]byte, 0, len(channel)+1+len(payload))
	frame = append(frame, channel...)
	frame = append(frame, '\n')
	frame = append(frame, payload...)

	p.mu.Lock()
	defer p.mu.Unlock()
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.conn == nil {
			dialer := net.Dialer{Timeout: dialTimeout}
			conn, err := dialer.DialContext(ctx, "tcp", p.addr)
			if err != nil {
				return fmt.Errorf("dial bus: %w", err)
			}
			p.conn = conn
		}
		if err := writeFrame(p.conn, frame); err != nil {
			_ = p.conn.Close()
			p.conn = nil
			continue
		}
		return nil
	}
	return fmt.Errorf("publish to %s failed after reconnect", channel)
}

// Close closes the current connection.
func (p *TCPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// SplitPublished separates a published frame back into channel and payload.
// Brokers and tests use it to route outbound frames.
func SplitPublished(frame []byte) (channel string, payload []byte, err error) {
	idx := bytes.IndexByte(frame, '\n')
	if idx < 0 {
		return "", nil, errors.New("published frame is missing a channel")
	}
	return string(frame[:idx]), frame[idx+1:], nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

var (
	_ Consumer  = (*TCPConsumer)(nil)
	_ Publisher = (*TCPPublisher)(nil)
)
