package phonenfc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dotside-studios/davi-attendance/nfc"
)

// Request is a message received from a phone.
type Request struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is a message sent to a phone.
type Response struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// decodePayload unmarshals a request payload into v.
func decodePayload(req Request, v any) error {
	if len(req.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", req.Type)
	}
	if err := json.Unmarshal(req.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", req.Type, err)
	}
	return nil
}

// DeviceCapabilities describes the phone's NFC radio.
type DeviceCapabilities struct {
	CanRead      bool     `json:"canRead"`
	NFCEnabled   bool     `json:"nfcEnabled"`
	Technologies []string `json:"technologies,omitempty"` // "Ndef", "NfcA", ...
}

// DeviceRegistrationRequest is sent by the phone app to register as a reader.
type DeviceRegistrationRequest struct {
	DeviceName   string             `json:"deviceName"` // e.g., "Front desk Pixel"
	Platform     string             `json:"platform"`   // "ios" or "android"
	AppVersion   string             `json:"appVersion"`
	Capabilities DeviceCapabilities `json:"capabilities"`
	Metadata     map[string]string  `json:"metadata,omitempty"`
}

// Validate checks the fields the kiosk relies on.
func (r DeviceRegistrationRequest) Validate() error {
	if r.DeviceName == "" {
		return fmt.Errorf("device name is required")
	}
	if r.Platform != "ios" && r.Platform != "android" {
		return fmt.Errorf("invalid platform: %s (must be 'ios' or 'android')", r.Platform)
	}
	return nil
}

// DeviceRegistrationResponse is sent after successful registration.
type DeviceRegistrationResponse struct {
	DeviceID   string     `json:"deviceID"`
	ServerInfo ServerInfo `json:"serverInfo"`
}

// ServerInfo contains information about the kiosk.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ScanRequest asks the phone to start a technology request.
type ScanRequest struct {
	RequestID    string         `json:"requestID"`
	Technology   nfc.Technology `json:"technology"`
	AlertMessage string         `json:"alertMessage,omitempty"`
}

// ScanCancel asks the phone to release its technology request.
type ScanCancel struct {
	RequestID string `json:"requestID"`
}

// TagScanned carries the raw tag read for a scan request.
type TagScanned struct {
	DeviceID  string     `json:"deviceID"`
	RequestID string     `json:"requestID"`
	ScannedAt time.Time  `json:"scannedAt"`
	Tag       nfc.RawTag `json:"tag"`
}

// ScanFailed reports a scan request that ended without a tag. Error holds
// the phone's native error message, which carries cancellation wording.
type ScanFailed struct {
	DeviceID  string `json:"deviceID"`
	RequestID string `json:"requestID"`
	Error     string `json:"error"`
}

// DeviceHeartbeat is sent by the phone periodically.
type DeviceHeartbeat struct {
	DeviceID   string    `json:"deviceID"`
	Timestamp  time.Time `json:"timestamp"`
	NFCEnabled *bool     `json:"nfcEnabled,omitempty"`
}
