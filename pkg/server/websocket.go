package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"alpacadash/pkg/state"
)

const (
	wsSendBuffer  = 64
	wsWriteWait   = 10 * time.Second
	wsPongWait    = 60 * time.Second
	wsPingPeriod  = 45 * time.Second
	wsMaxMsgBytes = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsCommand is a message from a dashboard client. Devices selects which
// devices to receive events for; empty means all.
type wsCommand struct {
	Type    string   `json:"type"`
	Devices []string `json:"devices,omitempty"`
}

type wsClient struct {
	conn    *websocket.Conn
	send    chan []byte
	mu      sync.Mutex
	devices map[string]struct{} // empty set = all devices
}

func (c *wsClient) wants(device string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.devices) == 0 {
		return true
	}
	_, ok := c.devices[device]
	return ok
}

func (c *wsClient) setDevices(devices []string, subscribe bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range devices {
		if subscribe {
			c.devices[d] = struct{}{}
		} else {
			delete(c.devices, d)
		}
	}
}

// Hub fans store change events out to websocket dashboard clients. Many
// observers of the same device share the one poll task and cache behind
// the store; the hub only forwards.
type Hub struct {
	logger log.FieldLogger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func NewHub(logger log.FieldLogger) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Broadcast sends an event to every client subscribed to its device.
// Slow clients lose events rather than stalling the feed.
func (h *Hub) Broadcast(ev state.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Errorf("marshaling event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if ev.Device != "" && !c.wants(ev.Device) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.logger.Debug("dropping event for slow websocket client")
		}
	}
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// HandleUpgrade upgrades the request and serves the client until it
// disconnects.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugf("websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		conn:    conn,
		send:    make(chan []byte, wsSendBuffer),
		devices: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debugf("websocket client connected (%d total)", n)

	go h.writePump(client)
	h.readPump(client)
}

func (h *Hub) unregister(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) readPump(client *wsClient) {
	defer func() {
		h.unregister(client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(wsMaxMsgBytes)
	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.logger.Debugf("bad websocket command: %v", err)
			continue
		}
		switch cmd.Type {
		case "subscribe":
			client.setDevices(cmd.Devices, true)
		case "unsubscribe":
			client.setDevices(cmd.Devices, false)
		}
	}
}

func (h *Hub) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
