package nfc

import "context"

// Technology names the tag technology a scan asks the radio for.
type Technology string

const (
	TechNDEF Technology = "Ndef"
	TechNfcA Technology = "NfcA"
)

// DefaultAlertMessage is shown by readers that display a prompt while waiting.
const DefaultAlertMessage = "Hold your ID card near the reader"

// RequestOptions tune a technology request.
type RequestOptions struct {
	// AlertMessage is shown by the reader while it waits for a tag.
	AlertMessage string
}

// Capability is the boundary over platform NFC radio access.
//
// RequestTechnology blocks until a tag supporting tech is in the field, the
// context ends, or CancelTechnologyRequest is called from another goroutine.
// CancelTechnologyRequest releases the technology handle and must be safe to
// call when no request is pending.
type Capability interface {
	IsSupported(ctx context.Context) (bool, error)
	IsEnabled(ctx context.Context) (bool, error)
	Start(ctx context.Context) error
	RequestTechnology(ctx context.Context, tech Technology, opts RequestOptions) error
	GetTag(ctx context.Context) (*RawTag, error)
	CancelTechnologyRequest(ctx context.Context) error
}
