package phonenfc

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// scanResult is a tagScanned or scanFailed message routed to the capability.
type scanResult struct {
	deviceID  string
	requestID string
	scanned   *TagScanned
	failed    *ScanFailed
}

// Manager keeps track of registered phones and routes their scan results.
type Manager struct {
	devices           map[string]*Device // deviceID -> device
	mu                sync.RWMutex       // Protects devices map
	results           chan scanResult
	cleanupTicker     *time.Ticker
	stopCleanup       chan struct{}
	closeOnce         sync.Once
	inactivityTimeout time.Duration
	logger            hclog.Logger
}

// NewManager creates a manager and starts its inactivity cleanup.
func NewManager(inactivityTimeout time.Duration, logger hclog.Logger) *Manager {
	if inactivityTimeout == 0 {
		inactivityTimeout = DeviceTimeout
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	m := &Manager{
		devices:           make(map[string]*Device),
		results:           make(chan scanResult, ResultBuffer),
		stopCleanup:       make(chan struct{}),
		inactivityTimeout: inactivityTimeout,
		logger:            logger,
	}
	m.startCleanupRoutine()
	return m
}

// RegisterDevice creates and registers a new phone reader.
func (m *Manager) RegisterDevice(req DeviceRegistrationRequest, conn messageWriter) (*Device, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	device := NewDevice(uuid.New().String(), req, conn)

	m.mu.Lock()
	m.devices[device.DeviceID()] = device
	m.mu.Unlock()

	m.logger.Info("device registered", "device", device.String(), "id", device.DeviceID(), "app_version", req.AppVersion)
	return device, nil
}

// UnregisterDevice removes a phone reader.
func (m *Manager) UnregisterDevice(deviceID string) error {
	m.mu.Lock()
	device, exists := m.devices[deviceID]
	if exists {
		delete(m.devices, deviceID)
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("device not found: %s", deviceID)
	}

	device.Close()
	m.logger.Info("device unregistered", "device", device.String())
	return nil
}

// GetDevice retrieves a device by ID.
func (m *Manager) GetDevice(deviceID string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	device, exists := m.devices[deviceID]
	return device, exists
}

// ActiveDevice returns the most recently seen device that can read tags.
func (m *Manager) ActiveDevice() (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *Device
	for _, device := range m.devices {
		if !device.IsActive() || !device.CanRead() {
			continue
		}
		if best == nil || device.LastSeen().After(best.LastSeen()) {
			best = device
		}
	}
	return best, best != nil
}

// UpdateHeartbeat updates device last-seen timestamp and NFC switch state.
func (m *Manager) UpdateHeartbeat(hb DeviceHeartbeat) error {
	device, exists := m.GetDevice(hb.DeviceID)
	if !exists {
		return fmt.Errorf("device not found: %s", hb.DeviceID)
	}

	device.UpdateLastSeen()
	if hb.NFCEnabled != nil {
		device.setNFCEnabled(*hb.NFCEnabled)
	}
	return nil
}

// deliver hands a scan result to whoever is waiting. Results nobody waits
// for are dropped once the buffer is full.
func (m *Manager) deliver(result scanResult) {
	if device, ok := m.GetDevice(result.deviceID); ok {
		device.UpdateLastSeen()
	}
	select {
	case m.results <- result:
	default:
		m.logger.Warn("dropping scan result, nobody is waiting", "device", result.deviceID, "request", result.requestID)
	}
}

// drainResults discards results left over from earlier requests.
func (m *Manager) drainResults() {
	for {
		select {
		case <-m.results:
		default:
			return
		}
	}
}

// Close stops background tasks and forgets every device.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		if m.cleanupTicker != nil {
			m.cleanupTicker.Stop()
		}
		close(m.stopCleanup)

		m.mu.Lock()
		for _, device := range m.devices {
			device.Close()
		}
		m.devices = make(map[string]*Device)
		m.mu.Unlock()

		m.logger.Debug("manager closed")
	})
}

func (m *Manager) startCleanupRoutine() {
	m.cleanupTicker = time.NewTicker(CleanupInterval)

	go func() {
		for {
			select {
			case <-m.cleanupTicker.C:
				m.cleanupInactiveDevices()
			case <-m.stopCleanup:
				return
			}
		}
	}()
}

// cleanupInactiveDevices removes devices that exceeded inactivity timeout.
func (m *Manager) cleanupInactiveDevices() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for deviceID, device := range m.devices {
		idle := now.Sub(device.LastSeen())
		if idle > m.inactivityTimeout {
			m.logger.Info("removing inactive device", "device", device.String(), "idle", idle)
			device.Close()
			delete(m.devices, deviceID)
		}
	}
}

// GetDeviceCount returns the number of registered devices.
func (m *Manager) GetDeviceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}
