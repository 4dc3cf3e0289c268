// Package transport exposes a dispatcher over WebSocket. Each text frame from a
// peer is one request; the server answers with the request's interpreted event
// and its single response, correlated by id.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/v0xg/pagepilot/internal/dispatch"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20
	// Path the WebSocket endpoint is served on.
	Path = "/ws"
)

// Dispatcher is the part of dispatch.Dispatcher the server needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) *dispatch.Channel
}

// Server serves the WebSocket endpoint.
type Server struct {
	addr       string
	dispatcher Dispatcher
	logger     *zap.Logger
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	baseCtx context.Context
}

// NewServer creates a Server that will listen on addr.
func NewServer(addr string, d Dispatcher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:       addr,
		dispatcher: d,
		logger:     logger.Named("transport"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Commands come from local tools and browser extensions, which
			// present arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		baseCtx: context.Background(),
	}
}

// Handler returns the HTTP handler serving Path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handleWS)
	return mux
}

// ListenAndServe listens on the configured address and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends, then shuts down, closing
// open WebSocket sessions.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("WebSocket server listening", zap.String("addr", ln.Addr().String()), zap.String("path", Path))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err := g.Wait()
	s.logger.Info("WebSocket server stopped")
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()
	ctx, cancel := context.WithCancel(base)
	defer cancel()

	c := &session{
		id:     uuid.New().String(),
		ws:     ws,
		send:   make(chan dispatch.Message, 16),
		logger: s.logger,
	}
	c.logger = c.logger.With(zap.String("session_id", c.id))
	c.logger.Info("WebSocket client connected", zap.String("remote", r.RemoteAddr))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(ctx)
	}()

	c.readPump(ctx, func(req dispatch.Request) {
		ch := s.dispatcher.Dispatch(ctx, req)
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.forward(ctx, ch)
		}()
	})

	cancel()
	wg.Wait()
	ws.Close()
	c.logger.Info("WebSocket client disconnected")
}

// session is one WebSocket connection.
type session struct {
	id     string
	ws     *websocket.Conn
	send   chan dispatch.Message
	logger *zap.Logger
}

// readPump decodes requests until the connection fails or ctx ends.
func (c *session) readPump(ctx context.Context, handle func(dispatch.Request)) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { c.ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Websocket client read error", zap.Error(err))
			}
			return
		}

		var req dispatch.Request
		if err := json.Unmarshal(frame, &req); err != nil {
			c.logger.Warn("Failed to unmarshal incoming message", zap.Error(err), zap.ByteString("message", frame))
			c.enqueue(ctx, dispatch.Message{
				Type:  dispatch.TypeResponse,
				Error: "malformed request: " + err.Error(),
			})
			continue
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		c.logger.Debug("Received request", zap.String("request_id", req.ID), zap.String("command", req.Name()))
		handle(req)
	}
}

// forward relays ch to the peer. It drains ch to the end so the request's
// handler always completes, and reports a channel that closed without a
// response.
func (c *session) forward(ctx context.Context, ch *dispatch.Channel) {
	responded := false
	for m := range ch.Messages() {
		if m.Type == dispatch.TypeResponse {
			responded = true
		}
		c.enqueue(ctx, m)
	}
	if !responded {
		c.enqueue(ctx, dispatch.Message{
			Type:  dispatch.TypeResponse,
			ID:    ch.ID(),
			Error: dispatch.ErrChannelClosed.Error(),
		})
	}
}

func (c *session) enqueue(ctx context.Context, m dispatch.Message) {
	select {
	case c.send <- m:
	case <-ctx.Done():
	}
}

// writePump is the only writer on the connection.
func (c *session) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			// Unblocks readPump when the peer does not answer the close.
			c.ws.Close()
			return
		case m := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(m); err != nil {
				c.logger.Warn("Websocket write failed", zap.Error(err))
				c.ws.Close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.ws.Close()
				return
			}
		}
	}
}
