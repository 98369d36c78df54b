package server

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pinlink/pinlink/internal/config"
	"github.com/pinlink/pinlink/internal/relay"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
)

// errSendBufferFull is returned when a client's outbound queue cannot
// accept another frame without blocking the relay.
var errSendBufferFull = errors.New("client send buffer full")

// errClientClosed is returned for sends to a client whose transport is gone.
var errClientClosed = errors.New("client closed")

// Client is one WebSocket connection. It implements relay.Conn so partner
// sessions can deliver frames to it, and drives its own relay.Session from
// the read pump so each connection's frames are handled sequentially.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	session        *relay.Session
	log            *zap.Logger
	addr           string
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      config.RateLimit

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, hub *Hub, addr string, cfg config.Config, log *zap.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		hub:            hub,
		log:            log,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
	}
}

// Send marshals a frame and queues it for the write pump. It never blocks:
// a full buffer or closed client is reported as an error and the frame is
// dropped, keeping the sending connection's handler responsive.
func (c *Client) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close tears the transport down, which unwinds both pumps.
func (c *Client) Close() error {
	return c.conn.Close()
}

// shutdown marks the client closed and releases the write pump. Safe to
// call more than once.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// logReadError classifies a read failure; every read failure ends the pump,
// this only decides how loudly to report it.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded maximum size", zap.Int64("limit", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.log.Info("connection closed", zap.Error(err))
	default:
		c.log.Warn("websocket read error", zap.Error(err))
	}
}

// readPump pulls frames off the socket and feeds them to the relay session
// one at a time. When the transport dies, it tears down the session (which
// notifies a paired partner) before handing the client back to the hub.
func (c *Client) readPump() {
	defer func() {
		c.session.Close()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
			// Hub loop is gone; release the write pump ourselves.
			c.shutdown()
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("closing connection in read pump", zap.Error(err))
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.rateLimiter.allow() {
			c.log.Warn("rate limit exceeded, discarding frame",
				zap.Int("burst", c.rateLimit.Burst),
				zap.Duration("refill_interval", c.rateLimit.RefillInterval))
			continue
		}

		c.session.HandleFrame(raw)
	}
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("closing connection in write pump", zap.Error(err))
		}
	}()

	for {
		select {
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Warn("setting write deadline", zap.Error(err))
				return
			}
			if !ok {
				// Hub closed the queue; say goodbye properly.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
					c.log.Warn("writing close message", zap.Error(err))
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Warn("writing frame", zap.Error(err))
				}
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Warn("setting write deadline for ping", zap.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
