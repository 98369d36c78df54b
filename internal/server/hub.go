package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Hub tracks every live WebSocket client so the server can account for
// connections and close them all on shutdown. Frame routing is the relay's
// job; the hub only owns transport lifecycle.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *zap.Logger
	metrics    *serverMetrics
}

func newHub(log *zap.Logger, metrics *serverMetrics) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log,
		metrics:    metrics,
	}
}

// Run is the hub's event loop: it admits new clients, launches their pumps,
// and reaps closed ones. Call it in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("nil client registration skipped")
				continue
			}

			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.metrics.connectionOpened()
			h.log.Info("client connected", zap.String("addr", client.addr), zap.Int("total", count))

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				count := len(h.clients)
				h.mutex.Unlock()
				client.shutdown()
				h.metrics.connectionClosed()
				h.log.Info("client disconnected", zap.String("addr", client.addr), zap.Int("total", count))
			} else {
				h.mutex.Unlock()
			}
		}
	}
}

// shutdownClients closes every active transport; the pumps then unwind
// through their normal close paths, notifying paired partners.
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if err := client.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.Warn("closing client connection", zap.String("addr", client.addr), zap.Error(err))
		}
	}

	h.log.Info("closed all client connections", zap.Int("count", len(clients)))
}

// Shutdown stops the event loop and waits for all pump goroutines to finish
// or the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}
