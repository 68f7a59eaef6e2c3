package live

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// sendBuffer bounds how far a slow client may lag before it is
// dropped.
const sendBuffer = 8

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected websocket clients and fans catalog snapshots
// out to them. Delivery is fire-and-forget: no confirmation, no retry,
// and a client that cannot keep up is disconnected.
type Hub struct {
	log *zap.Logger
	up  websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}

	connected  prometheus.Gauge
	broadcasts prometheus.Counter
}

// NewHub registers its metrics on reg when reg is non-nil.
func NewHub(log *zap.Logger, reg *prometheus.Registry) *Hub {
	h := &Hub{
		log: log,
		up: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
	}

	if reg != nil {
		h.connected = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_clients_connected",
			Help: "Currently connected websocket clients",
		})
		h.broadcasts = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_broadcasts_total",
			Help: "Catalog snapshots broadcast",
		})
		reg.MustRegister(h.connected, h.broadcasts)
	}

	return h
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.up.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	if h.connected != nil {
		h.connected.Inc()
	}
	h.log.Info("websocket client connected", zap.String("remote", conn.RemoteAddr().String()))

	go c.writeLoop()
	go h.readLoop(c)
}

// Publish sends v as a "products" event to every connected client.
func (h *Hub) Publish(v any) {
	b, err := json.Marshal(envelope{Event: "products", Data: v})
	if err != nil {
		h.log.Error("marshal broadcast failed", zap.Error(err))
		return
	}

	var dropped []*client

	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			// lagging client, cut it loose
			delete(h.clients, c)
			close(c.send)
			dropped = append(dropped, c)
		}
	}
	h.mu.Unlock()

	for _, c := range dropped {
		if h.connected != nil {
			h.connected.Dec()
		}
		h.log.Warn("websocket client lagging, dropped", zap.String("remote", c.conn.RemoteAddr().String()))
	}

	if h.broadcasts != nil {
		h.broadcasts.Inc()
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// readLoop discards inbound frames; its only job is noticing the peer
// going away.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	if h.connected != nil {
		h.connected.Dec()
	}
	h.log.Info("websocket client disconnected", zap.String("remote", c.conn.RemoteAddr().String()))
}

func (c *client) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
	_ = c.conn.Close()
}
