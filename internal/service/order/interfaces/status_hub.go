package interfaces

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/service/order/domain/port"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// StatusHub pushes order status changes to websocket watchers. It implements
// port.StatusNotifier.
type StatusHub struct {
	upgrader websocket.Upgrader

	lock    sync.RWMutex
	clients map[string]map[*watcher]struct{} // keyed by order id
	closed  bool
}

type watcher struct {
	hub     *StatusHub
	conn    *websocket.Conn
	orderID string
	send    chan port.StatusChange
}

func NewStatusHub() *StatusHub {
	return &StatusHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]map[*watcher]struct{}),
	}
}

// Notify never blocks; a watcher whose buffer is full misses the change.
func (h *StatusHub) Notify(change port.StatusChange) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	for c := range h.clients[change.OrderID] {
		select {
		case c.send <- change:
		default:
			logger.Ctx(context.Background()).Warn().Str("order_id", change.OrderID).Str("status", change.Status).Msg("Slow watcher, status change dropped.")
		}
	}
}

// Serve upgrades the request and streams changes of initial.OrderID, starting with initial.
func (h *StatusHub) Serve(w http.ResponseWriter, r *http.Request, initial port.StatusChange) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("Websocket upgrade failed.")
		return
	}
	c := &watcher{hub: h, conn: conn, orderID: initial.OrderID, send: make(chan port.StatusChange, sendBuffer)}
	c.send <- initial
	if !h.register(c) {
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// Watchers returns the number of open connections for orderID.
func (h *StatusHub) Watchers(orderID string) int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients[orderID])
}

// Close disconnects every watcher and rejects new ones.
func (h *StatusHub) Close() {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.closed = true
	for id, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, id)
	}
}

func (h *StatusHub) register(c *watcher) bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[c.orderID]
	if !ok {
		set = make(map[*watcher]struct{})
		h.clients[c.orderID] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *StatusHub) unregister(c *watcher) {
	h.lock.Lock()
	defer h.lock.Unlock()
	set := h.clients[c.orderID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.orderID)
	}
}

func (c *watcher) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case change, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteJSON(change); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only handles control frames; watchers never send data.
func (c *watcher) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
