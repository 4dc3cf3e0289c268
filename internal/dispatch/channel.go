package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/v0xg/pagepilot/internal/action"
)

var (
	// ErrChannelClosed is returned when a channel closes before delivering its
	// response, or when sending on a channel that is already closed.
	ErrChannelClosed = errors.New("channel closed before a response was delivered")
	// ErrAlreadyReplied is returned by a second Reply on the same channel.
	ErrAlreadyReplied = errors.New("response already delivered")
)

// Channel carries the messages for a single request: at most one interpreted
// event followed by exactly one response, after which it closes.
type Channel struct {
	id  string
	out chan Message

	mu      sync.Mutex
	echoed  bool
	replied bool
	closed  bool
}

// NewChannel opens a channel correlated by id. An empty id gets a fresh UUID.
func NewChannel(id string) *Channel {
	if id == "" {
		id = uuid.New().String()
	}
	// Room for the event and the response, so senders never block.
	return &Channel{id: id, out: make(chan Message, 2)}
}

// ID returns the correlation id stamped on every message.
func (c *Channel) ID() string { return c.id }

// Messages returns the receive side. It is closed after the response.
func (c *Channel) Messages() <-chan Message { return c.out }

// Echo sends the interpreted action ahead of execution. Only the first call
// sends.
func (c *Channel) Echo(sa action.StructuredAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if c.echoed {
		return nil
	}
	c.echoed = true
	c.out <- Message{Type: TypeInterpreted, ID: c.id, Success: true, InterpretedAction: &sa}
	return nil
}

// Reply delivers the terminal response and closes the channel.
func (c *Channel) Reply(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replied {
		return ErrAlreadyReplied
	}
	if c.closed {
		return ErrChannelClosed
	}
	m.Type = TypeResponse
	m.ID = c.id
	c.replied = true
	c.out <- m
	c.closed = true
	close(c.out)
	return nil
}

// Close closes the channel without a response. It is a no-op once closed.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

// Await drains the channel and returns the response. It returns
// ErrChannelClosed if the channel closes without one.
func (c *Channel) Await(ctx context.Context) (Message, error) {
	for {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case m, ok := <-c.out:
			if !ok {
				return Message{}, ErrChannelClosed
			}
			if m.Type == TypeResponse {
				return m, nil
			}
		}
	}
}
