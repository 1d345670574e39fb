package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/dotside-studios/davi-attendance/nfc/phonenfc"
)

const dashboardWriteTimeout = 5 * time.Second

// WebsocketMessage is pushed to dashboard clients.
type WebsocketMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// dashboard tracks read-only WebSocket clients that mirror the kiosk screen.
type dashboard struct {
	logger   hclog.Logger
	clients  map[*websocket.Conn]bool
	mu       sync.Mutex
	upgrader websocket.Upgrader
}

func newDashboard(logger hclog.Logger) *dashboard {
	return &dashboard{
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (d *dashboard) register(conn *websocket.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[conn] = true
}

func (d *dashboard) unregister(conn *websocket.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.clients, conn)
}

func (d *dashboard) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

// broadcast sends a message to all connected clients, dropping any that fail.
func (d *dashboard) broadcast(message WebsocketMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for client := range d.clients {
		client.SetWriteDeadline(time.Now().Add(dashboardWriteTimeout))
		if err := client.WriteJSON(message); err != nil {
			d.logger.Debug("websocket write error", "error", err)
			client.Close()
			delete(d.clients, client)
		}
	}
}

func (d *dashboard) send(conn *websocket.Conn, message WebsocketMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(dashboardWriteTimeout))
	return conn.WriteJSON(message)
}

func (d *dashboard) closeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for client := range d.clients {
		client.Close()
		delete(d.clients, client)
	}
}

// handleWebSocket serves dashboards on /ws and hands phones (/ws?mode=device)
// to the phone reader handler.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if phonenfc.IsDeviceConnection(r) {
		if s.config.Phones == nil {
			writeError(w, http.StatusNotFound, "phone readers are not enabled")
			return
		}
		s.config.Phones.ServeHTTP(w, r)
		return
	}

	conn, err := s.dashboard.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	s.dashboard.register(conn)
	defer func() {
		s.dashboard.unregister(conn)
		conn.Close()
	}()

	if err := s.dashboard.send(conn, WebsocketMessage{Type: WSMessageTypeState, Payload: s.config.Kiosk.State()}); err != nil {
		return
	}

	// Dashboards only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
