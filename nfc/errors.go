package nfc

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a specific type of NFC error for programmatic handling.
type ErrorCode int

const (
	// Capability errors (100-199)
	ErrCodeNotSupported ErrorCode = iota + 100
	ErrCodeDisabled
	ErrCodeCancelled
	ErrCodeRequestFailed
)

const (
	// Tag data errors (200-299)
	ErrCodeDecodeFailed ErrorCode = iota + 200
	ErrCodeNoUsableData
)

// ErrScanInProgress is returned when a scan is started while another one is
// still requesting the tag technology.
var ErrScanInProgress = errors.New("a scan is already in progress")

// NFCError provides structured error information for programmatic handling.
type NFCError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "RequestTechnology", "Resolve")
	Message string // Human-readable message
	Cause   error  // Underlying error
}

func (e *NFCError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *NFCError) Unwrap() error {
	return e.Cause
}

func (e *NFCError) Is(target error) bool {
	if t, ok := target.(*NFCError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewNotSupportedError creates an error for devices without NFC hardware.
func NewNotSupportedError(op string) *NFCError {
	return &NFCError{
		Code:    ErrCodeNotSupported,
		Op:      op,
		Message: "NFC is not supported on this device",
	}
}

// NewDisabledError creates an error for NFC hardware that is switched off.
func NewDisabledError(op string) *NFCError {
	return &NFCError{
		Code:    ErrCodeDisabled,
		Op:      op,
		Message: "NFC is not enabled",
	}
}

// NewCancelledError creates an error for a scan aborted by the user.
func NewCancelledError(op string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeCancelled,
		Op:      op,
		Message: "NFC scan was cancelled",
		Cause:   cause,
	}
}

// NewRequestError creates an error for a failed capability call.
func NewRequestError(op string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeRequestFailed,
		Op:      op,
		Message: "NFC request failed",
		Cause:   cause,
	}
}

// NewDecodeError creates an error for an NDEF record that could not be decoded.
func NewDecodeError(op string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeDecodeFailed,
		Op:      op,
		Message: "decode failed",
		Cause:   cause,
	}
}

// NewNoUsableDataError creates an error for a tag that yielded no identifier.
func NewNoUsableDataError(op string) *NFCError {
	return &NFCError{
		Code:    ErrCodeNoUsableData,
		Op:      op,
		Message: "could not read the NFC tag",
	}
}

// IsNotSupportedError checks if an error indicates missing NFC hardware.
func IsNotSupportedError(err error) bool {
	if err == nil {
		return false
	}
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code == ErrCodeNotSupported
	}
	// Fallback to string matching for capability errors
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "not supported") ||
		strings.Contains(errStr, "no nfc device")
}

// IsDisabledError checks if an error indicates NFC is switched off.
func IsDisabledError(err error) bool {
	if err == nil {
		return false
	}
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code == ErrCodeDisabled
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "not enabled") ||
		strings.Contains(errStr, "disabled")
}

// IsCancelledError checks if an error indicates the user aborted the scan.
// Capability modules report cancellation through their error message, so a
// message mentioning "cancelled" or "user" counts as well.
func IsCancelledError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		if nfcErr.Code == ErrCodeCancelled {
			return true
		}
		if nfcErr.Cause == nil {
			return false
		}
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "cancelled") ||
		strings.Contains(errStr, "canceled") ||
		strings.Contains(errStr, "user")
}

// GetErrorCode extracts the ErrorCode from an error if it's an NFCError.
// Returns 0 if the error is not an NFCError.
func GetErrorCode(err error) ErrorCode {
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code
	}
	return 0
}

// Errorf creates an NFCError with a formatted message.
func Errorf(code ErrorCode, op, format string, args ...interface{}) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}
