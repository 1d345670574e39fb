package phonenfc

import "time"

// Device timing constants
const (
	DeviceTimeout     = 30 * time.Second // Device inactivity timeout
	HeartbeatInterval = 10 * time.Second // Expected heartbeat frequency
	CleanupInterval   = 15 * time.Second // Cleanup check interval
	ResultBuffer      = 4                // Scan result channel buffer size
	WriteTimeout      = 5 * time.Second
)

// WebSocket message types for phone reader communication
const (
	MessageTypeRegisterDevice         = "registerDevice"
	MessageTypeRegisterDeviceResponse = "registerDeviceResponse"
	MessageTypeScanRequest            = "scanRequest"
	MessageTypeScanCancel             = "scanCancel"
	MessageTypeTagScanned             = "tagScanned"
	MessageTypeScanFailed             = "scanFailed"
	MessageTypeDeviceHeartbeat        = "deviceHeartbeat"
	MessageTypeError                  = "error"
)

// Error codes sent in error messages
const (
	ErrorCodeReadError          = "READ_ERROR"
	ErrorCodeInvalidMessageType = "INVALID_MESSAGE_TYPE"
	ErrorCodeParseError         = "PARSE_ERROR"
	ErrorCodeInvalidPayload     = "INVALID_PAYLOAD"
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"
	ErrorCodeInvalidDevice      = "INVALID_DEVICE"
	ErrorCodeRegistrationFailed = "REGISTRATION_FAILED"
	ErrorCodeUnknownType        = "UNKNOWN_TYPE"
)

// errUnreadableTag is the scan failure reported when a phone's tag data
// cannot be decoded.
const errUnreadableTag = "phone sent tag data that could not be decoded"
