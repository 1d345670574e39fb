package phonenfc

import (
	"fmt"
	"sync"
	"time"
)

// messageWriter is the write side of a phone connection.
type messageWriter interface {
	WriteJSON(v any) error
}

// Device is a phone registered as an NFC reader.
type Device struct {
	deviceID     string
	deviceName   string
	platform     string
	appVersion   string
	capabilities DeviceCapabilities
	metadata     map[string]string

	conn    messageWriter
	writeMu sync.Mutex // serializes writes to conn

	mu       sync.RWMutex // protects the fields below
	isActive bool
	lastSeen time.Time
}

// NewDevice creates a device for a registration request. conn may be nil for
// devices that never receive messages.
func NewDevice(deviceID string, req DeviceRegistrationRequest, conn messageWriter) *Device {
	return &Device{
		deviceID:     deviceID,
		deviceName:   req.DeviceName,
		platform:     req.Platform,
		appVersion:   req.AppVersion,
		capabilities: req.Capabilities,
		metadata:     req.Metadata,
		conn:         conn,
		isActive:     true,
		lastSeen:     time.Now(),
	}
}

func (d *Device) DeviceID() string { return d.deviceID }

func (d *Device) Platform() string { return d.platform }

func (d *Device) String() string {
	return fmt.Sprintf("%s (%s)", d.deviceName, d.platform)
}

// CanRead reports whether the phone registered a readable NFC radio.
func (d *Device) CanRead() bool { return d.capabilities.CanRead }

// NFCEnabled reports the last known state of the phone's NFC switch.
func (d *Device) NFCEnabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.capabilities.NFCEnabled
}

func (d *Device) setNFCEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capabilities.NFCEnabled = enabled
}

// IsActive reports whether the device has not been closed.
func (d *Device) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}

// LastSeen returns the time of the last message from the phone.
func (d *Device) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

// UpdateLastSeen marks the phone as alive.
func (d *Device) UpdateLastSeen() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSeen = time.Now()
}

// Send writes a message to the phone.
func (d *Device) Send(msg Response) error {
	if !d.IsActive() {
		return fmt.Errorf("device is closed: %s", d.deviceID)
	}
	if d.conn == nil {
		return fmt.Errorf("device has no connection: %s", d.deviceID)
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.WriteJSON(msg)
}

// Close marks the device inactive. The connection is owned by the handler.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.isActive = false
	return nil
}
