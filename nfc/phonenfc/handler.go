package phonenfc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

// Handler accepts phone WebSocket connections and feeds the Manager.
type Handler struct {
	manager    *Manager
	serverInfo ServerInfo
	logger     hclog.Logger

	deviceSessions    map[string]*websocket.Conn // deviceID -> websocket conn
	deviceSessionsMux sync.RWMutex
	upgrader          websocket.Upgrader
}

// NewHandler creates a new phone handler.
func NewHandler(manager *Manager, info ServerInfo, logger hclog.Logger) *Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Handler{
		manager:        manager,
		serverInfo:     info,
		logger:         logger,
		deviceSessions: make(map[string]*websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // phones connect from the LAN without an Origin we know
			},
		},
	}
}

// ServeHTTP upgrades the request and serves one phone until it disconnects.
// The first message must be registerDevice.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	h.logger.Debug("phone connected", "remote", r.RemoteAddr)

	var deviceID string
	defer func() {
		conn.Close()
		if deviceID != "" {
			h.handleDeviceDisconnect(deviceID)
		}
	}()

	messageType, message, err := conn.ReadMessage()
	if err != nil {
		h.logger.Debug("failed to read registration message", "error", err)
		return
	}
	if messageType != websocket.TextMessage {
		h.sendError(conn, "", ErrorCodeInvalidMessageType, "Expected text message")
		return
	}

	var req Request
	if err := json.Unmarshal(message, &req); err != nil {
		h.sendError(conn, "", ErrorCodeParseError, "Invalid message format")
		return
	}
	if req.Type != MessageTypeRegisterDevice {
		h.sendError(conn, req.ID, ErrorCodeInvalidMessageType, fmt.Sprintf("Expected '%s' message", MessageTypeRegisterDevice))
		return
	}

	device, err := h.handleRegisterDevice(conn, req)
	if err != nil {
		h.logger.Warn("registration failed", "error", err)
		return
	}
	deviceID = device.DeviceID()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			h.sendError(conn, "", ErrorCodeParseError, "Invalid message format")
			continue
		}

		var handlerErr error
		switch req.Type {
		case MessageTypeTagScanned:
			handlerErr = h.handleTagScanned(conn, deviceID, req)
		case MessageTypeScanFailed:
			handlerErr = h.handleScanFailed(conn, deviceID, req)
		case MessageTypeDeviceHeartbeat:
			handlerErr = h.handleDeviceHeartbeat(deviceID, req)
		default:
			h.sendError(conn, req.ID, ErrorCodeUnknownType, fmt.Sprintf("Unknown message type: %s", req.Type))
			continue
		}

		if handlerErr != nil {
			h.logger.Warn("message handling failed", "type", req.Type, "device", deviceID, "error", handlerErr)
		}
	}
}

func (h *Handler) handleRegisterDevice(conn *websocket.Conn, req Request) (*Device, error) {
	var regReq DeviceRegistrationRequest
	if err := decodePayload(req, &regReq); err != nil {
		h.sendError(conn, req.ID, ErrorCodeInvalidPayload, "Invalid registration request format")
		return nil, err
	}
	if err := regReq.Validate(); err != nil {
		h.sendError(conn, req.ID, ErrorCodeInvalidRequest, err.Error())
		return nil, err
	}

	device, err := h.manager.RegisterDevice(regReq, conn)
	if err != nil {
		h.sendError(conn, req.ID, ErrorCodeRegistrationFailed, err.Error())
		return nil, err
	}

	h.addDeviceSession(device.DeviceID(), conn)

	err = device.Send(Response{
		ID:      req.ID,
		Type:    MessageTypeRegisterDeviceResponse,
		Success: true,
		Payload: DeviceRegistrationResponse{
			DeviceID:   device.DeviceID(),
			ServerInfo: h.serverInfo,
		},
	})
	if err != nil {
		h.handleDeviceDisconnect(device.DeviceID())
		return nil, fmt.Errorf("failed to send registration response: %w", err)
	}
	return device, nil
}

func (h *Handler) handleTagScanned(conn *websocket.Conn, deviceID string, req Request) error {
	var scanned TagScanned
	if err := decodePayload(req, &scanned); err != nil {
		h.sendError(conn, req.ID, ErrorCodeInvalidPayload, "Invalid tag data format")
		h.failUnreadableTag(deviceID, req, err)
		return err
	}
	if err := h.validateDevice(deviceID, scanned.DeviceID); err != nil {
		h.sendError(conn, req.ID, ErrorCodeInvalidDevice, err.Error())
		return err
	}
	if scanned.ScannedAt.IsZero() {
		scanned.ScannedAt = time.Now()
	}

	h.manager.deliver(scanResult{deviceID: deviceID, requestID: scanned.RequestID, scanned: &scanned})
	h.logger.Debug("tag scanned", "device", deviceID, "request", scanned.RequestID)
	return nil
}

// failUnreadableTag ends the pending request when a tagScanned payload
// cannot be decoded, so the waiting scan fails instead of hanging.
func (h *Handler) failUnreadableTag(deviceID string, req Request, cause error) {
	var ref struct {
		DeviceID  string `json:"deviceID"`
		RequestID string `json:"requestID"`
	}
	if len(req.Payload) > 0 {
		_ = json.Unmarshal(req.Payload, &ref)
	}
	if ref.RequestID == "" || h.validateDevice(deviceID, ref.DeviceID) != nil {
		return
	}

	h.logger.Warn("unreadable tag data from phone", "device", deviceID, "request", ref.RequestID, "error", cause)
	h.manager.deliver(scanResult{
		deviceID:  deviceID,
		requestID: ref.RequestID,
		failed:    &ScanFailed{DeviceID: deviceID, RequestID: ref.RequestID, Error: errUnreadableTag},
	})
}

func (h *Handler) handleScanFailed(conn *websocket.Conn, deviceID string, req Request) error {
	var failed ScanFailed
	if err := decodePayload(req, &failed); err != nil {
		h.sendError(conn, req.ID, ErrorCodeInvalidPayload, "Invalid scan failure format")
		return err
	}
	if err := h.validateDevice(deviceID, failed.DeviceID); err != nil {
		h.sendError(conn, req.ID, ErrorCodeInvalidDevice, err.Error())
		return err
	}

	h.manager.deliver(scanResult{deviceID: deviceID, requestID: failed.RequestID, failed: &failed})
	h.logger.Debug("scan failed on device", "device", deviceID, "request", failed.RequestID, "error", failed.Error)
	return nil
}

func (h *Handler) handleDeviceHeartbeat(deviceID string, req Request) error {
	var heartbeat DeviceHeartbeat
	if err := decodePayload(req, &heartbeat); err != nil {
		return err
	}
	if err := h.validateDevice(deviceID, heartbeat.DeviceID); err != nil {
		return err
	}
	heartbeat.DeviceID = deviceID
	return h.manager.UpdateHeartbeat(heartbeat)
}

func (h *Handler) handleDeviceDisconnect(deviceID string) {
	h.removeDeviceSession(deviceID)
	h.manager.UnregisterDevice(deviceID)
}

// validateDevice checks that the payload names the device bound to this
// connection. An empty claimed ID means the connection's device.
func (h *Handler) validateDevice(connDeviceID, claimed string) error {
	if claimed != "" && claimed != connDeviceID {
		return fmt.Errorf("device %s cannot report for %s", connDeviceID, claimed)
	}
	if _, exists := h.manager.GetDevice(connDeviceID); !exists {
		return fmt.Errorf("device not registered: %s", connDeviceID)
	}
	return nil
}

func (h *Handler) addDeviceSession(deviceID string, conn *websocket.Conn) {
	h.deviceSessionsMux.Lock()
	defer h.deviceSessionsMux.Unlock()
	h.deviceSessions[deviceID] = conn
}

func (h *Handler) removeDeviceSession(deviceID string) {
	h.deviceSessionsMux.Lock()
	defer h.deviceSessionsMux.Unlock()
	delete(h.deviceSessions, deviceID)
}

// ConnectedDevices returns the number of open phone connections.
func (h *Handler) ConnectedDevices() int {
	h.deviceSessionsMux.RLock()
	defer h.deviceSessionsMux.RUnlock()
	return len(h.deviceSessions)
}

// sendError writes an error message before registration or for a bad
// message. Errors after registration go through the device's write lock.
func (h *Handler) sendError(conn *websocket.Conn, requestID string, errorCode string, message string) {
	response := Response{
		ID:      requestID,
		Type:    MessageTypeError,
		Success: false,
		Error:   message,
		Payload: map[string]any{"code": errorCode},
	}

	h.deviceSessionsMux.RLock()
	var device *Device
	for id, c := range h.deviceSessions {
		if c == conn {
			device, _ = h.manager.GetDevice(id)
			break
		}
	}
	h.deviceSessionsMux.RUnlock()

	var err error
	if device != nil {
		err = device.Send(response)
	} else {
		conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
		err = conn.WriteJSON(response)
	}
	if err != nil {
		h.logger.Debug("failed to send error response", "error", err)
	}
}

// IsDeviceConnection determines if a request is from a phone reader.
func IsDeviceConnection(r *http.Request) bool {
	if r.Header.Get("X-Device-Mode") == "true" {
		return true
	}
	return r.URL.Query().Get("mode") == "device"
}
