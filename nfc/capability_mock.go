package nfc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// MockCapability is a Capability with scripted responses.
//
// Example:
//
//	capability := NewMockCapability()
//	capability.Tag = &RawTag{ID: HexUID("04a224bc")}
//	ident, _ := NewScanner(capability, nil).Scan(ctx, NewSession())
type MockCapability struct {
	// Supported and Enabled are returned by IsSupported and IsEnabled.
	Supported bool
	Enabled   bool

	// Tag is returned by GetTag.
	Tag *RawTag

	// BlockRequest makes RequestTechnology wait until the context ends or
	// CancelTechnologyRequest is called, like a reader with no tag present.
	BlockRequest bool

	// RequestStarted, if set, receives a value once RequestTechnology is waiting.
	RequestStarted chan struct{}

	IsSupportedError error
	IsEnabledError   error
	StartError       error
	RequestError     error
	GetTagError      error
	ReleaseError     error

	// LastOptions holds the options of the last RequestTechnology call.
	LastOptions RequestOptions

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	released chan struct{}
	mu       sync.Mutex
}

// NewMockCapability returns a supported, enabled capability without a tag.
func NewMockCapability() *MockCapability {
	return &MockCapability{
		Supported: true,
		Enabled:   true,
		CallLog:   make([]string, 0),
	}
}

func (m *MockCapability) IsSupported(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "IsSupported")
	if m.IsSupportedError != nil {
		return false, m.IsSupportedError
	}
	return m.Supported, nil
}

func (m *MockCapability) IsEnabled(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "IsEnabled")
	if m.IsEnabledError != nil {
		return false, m.IsEnabledError
	}
	return m.Enabled, nil
}

func (m *MockCapability) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "Start")
	return m.StartError
}

func (m *MockCapability) RequestTechnology(ctx context.Context, tech Technology, opts RequestOptions) error {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, fmt.Sprintf("RequestTechnology(%s)", tech))
	m.LastOptions = opts
	if m.RequestError != nil {
		err := m.RequestError
		m.mu.Unlock()
		return err
	}
	if !m.BlockRequest {
		m.mu.Unlock()
		return nil
	}
	released := make(chan struct{})
	m.released = released
	started := m.RequestStarted
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-released:
		return errors.New("request cancelled by user")
	}
}

func (m *MockCapability) GetTag(ctx context.Context) (*RawTag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "GetTag")
	if m.GetTagError != nil {
		return nil, m.GetTagError
	}
	return m.Tag, nil
}

func (m *MockCapability) CancelTechnologyRequest(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "CancelTechnologyRequest")
	if m.released != nil {
		close(m.released)
		m.released = nil
	}
	return m.ReleaseError
}

// GetCallLog returns a copy of the call log for verification.
func (m *MockCapability) GetCallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	logCopy := make([]string, len(m.CallLog))
	copy(logCopy, m.CallLog)
	return logCopy
}

// CallCount returns how many times the named method was called.
func (m *MockCapability) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, call := range m.CallLog {
		if call == name || strings.HasPrefix(call, name+"(") {
			n++
		}
	}
	return n
}

// ClearCallLog clears the call log.
func (m *MockCapability) ClearCallLog() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = make([]string, 0)
}
