// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bearbait/forestchat/internal/chat"
	"github.com/bearbait/forestchat/internal/store"
)

const (
	pongWait      = 60 * time.Second
	pingInterval  = 54 * time.Second
	writeDeadline = 10 * time.Second
)

// Client is one live WebSocket connection with the account behind it. It
// satisfies chat.Conn so the registry can queue payloads to it and close it.
type Client struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	server      *Server
	account     *store.Account
	addr        string
	done        chan struct{}
	closeOnce   sync.Once
	rateLimiter *rateLimiter
	log         *zap.Logger
}

func newClient(conn *websocket.Conn, srv *Server, addr string) *Client {
	conn.SetReadLimit(srv.cfg.MaxMessageSize)

	return &Client{
		id:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, 256),
		server:      srv,
		addr:        addr,
		done:        make(chan struct{}),
		rateLimiter: newRateLimiter(srv.cfg.RateLimit.Burst, srv.cfg.RateLimit.RefillInterval),
		log:         srv.log.Named("client").With(zap.String("addr", addr)),
	}
}

// ID returns the ephemeral transport-assigned connection id.
func (c *Client) ID() string {
	return c.id
}

// Send queues a payload without blocking. It reports false when the
// connection is closed or its buffer is full; the payload is then dropped,
// never retried.
func (c *Client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Kick signals the connection to close. The write pump flushes anything
// already queued (such as a forced-logout notice), then closes the
// transport. Safe to call more than once and from any goroutine.
func (c *Client) Kick() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// start launches the read and write pumps under the server's wait group.
func (c *Client) start() {
	c.server.wg.Add(2)
	go func() {
		defer c.server.wg.Done()
		c.writePump()
	}()
	go func() {
		defer c.server.wg.Done()
		c.readPump()
	}()
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("error setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// handleReadError logs an appropriate message for the error and always
// terminates the read loop; disconnect is the only cancellation signal and
// is applied immediately.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded maximum size",
			zap.Int64("max_bytes", c.server.cfg.MaxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("connection closed", zap.Error(err))
	default:
		c.log.Warn("websocket read error", zap.Error(err))
	}
}

// processEvent dispatches one inbound payload: a chat message goes through
// the router, a history request is answered with a replay for this account.
func (c *Client) processEvent(rawMessage []byte) {
	var evt chat.InboundEvent
	if err := json.Unmarshal(rawMessage, &evt); err != nil {
		c.log.Warn("invalid event payload", zap.Error(err))
		return
	}

	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("rate limit exceeded, discarding event",
			zap.Int("burst", c.server.cfg.RateLimit.Burst))
		return
	}

	switch evt.Type {
	case chat.EventMessage:
		if err := c.server.router.Route(context.Background(), c.account, evt.Content, evt.Recipient); err != nil {
			c.log.Error("routing message failed", zap.Error(err))
		}
	case chat.EventHistory:
		payload, err := c.server.router.HistoryPayload(context.Background(), c.account)
		if err != nil {
			c.log.Error("building history reply failed", zap.Error(err))
			return
		}
		c.Send(payload)
	default:
		c.log.Warn("unknown event type", zap.String("type", evt.Type))
	}
}

func (c *Client) readPump() {
	defer func() {
		c.server.authority.Disconnect(context.Background(), c.id)
		c.Kick()
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.processEvent(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Kick()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("error closing connection", zap.Error(err))
		}
	}()

	for {
		select {
		case <-c.done:
			c.flushPending()
			c.writeClose()
			return
		case message := <-c.send:
			if !c.writeMessage(message) {
				return
			}
		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

// flushPending writes out whatever was queued before the close signal, so a
// forced-logout notice reaches the client ahead of the connection teardown.
func (c *Client) flushPending() {
	for {
		select {
		case message := <-c.send:
			if !c.writeMessage(message) {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) writeClose() {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return
	}
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error writing close message", zap.Error(err))
	}
}

func (c *Client) writeMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		c.log.Warn("error setting write deadline", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing message", zap.Error(err))
		}
		return false
	}
	return true
}

func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		c.log.Warn("error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing ping message", zap.Error(err))
		}
		return false
	}
	return true
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
