package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/v0xg/pagepilot/internal/dispatch"
)

// Client sends requests to a Server and waits for their responses. Requests
// are sent one at a time.
type Client struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex
}

// Dial connects to the WebSocket endpoint at url.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessageSize)
	return &Client{conn: conn, logger: logger.Named("transport_client")}, nil
}

// Send writes req and reads until its response arrives. Interpreted events for
// the request are passed to onEvent when it is non-nil. If the connection ends
// first the error wraps dispatch.ErrChannelClosed.
func (c *Client) Send(ctx context.Context, req dispatch.Request, onEvent func(dispatch.Message)) (dispatch.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	if err := c.conn.WriteJSON(req); err != nil {
		if ctx.Err() != nil {
			return dispatch.Message{}, ctx.Err()
		}
		return dispatch.Message{}, fmt.Errorf("send request: %w", err)
	}
	c.logger.Debug("Sent request", zap.String("request_id", req.ID), zap.String("command", req.Name()))

	for {
		var m dispatch.Message
		if err := c.conn.ReadJSON(&m); err != nil {
			if ctx.Err() != nil {
				return dispatch.Message{}, ctx.Err()
			}
			return dispatch.Message{}, fmt.Errorf("%w: %v", dispatch.ErrChannelClosed, err)
		}
		if m.ID != "" && m.ID != req.ID {
			c.logger.Debug("Ignoring message for another request", zap.String("request_id", m.ID))
			continue
		}
		switch m.Type {
		case dispatch.TypeInterpreted:
			if onEvent != nil {
				onEvent(m)
			}
		case dispatch.TypeResponse:
			return m, nil
		}
	}
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
