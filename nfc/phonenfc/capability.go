package phonenfc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/dotside-studios/davi-attendance/nfc"
)

var errReleased = errors.New("scan request cancelled by user")

type activeRequest struct {
	id       string
	device   *Device
	released chan struct{}
}

// Capability uses the most recently seen registered phone as the NFC radio.
type Capability struct {
	manager *Manager
	logger  hclog.Logger

	mu      sync.Mutex
	active  *activeRequest
	pending *nfc.RawTag
}

var _ nfc.Capability = (*Capability)(nil)

// NewCapability returns a capability backed by the phones in manager.
func NewCapability(manager *Manager, logger hclog.Logger) *Capability {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Capability{manager: manager, logger: logger}
}

// IsSupported reports whether a phone with a readable NFC radio is connected.
func (c *Capability) IsSupported(ctx context.Context) (bool, error) {
	_, ok := c.manager.ActiveDevice()
	return ok, nil
}

// IsEnabled reports the NFC switch state of the active phone.
func (c *Capability) IsEnabled(ctx context.Context) (bool, error) {
	device, ok := c.manager.ActiveDevice()
	if !ok {
		return false, nil
	}
	return device.NFCEnabled(), nil
}

// Start is a no-op; phones start their radio when they register.
func (c *Capability) Start(ctx context.Context) error {
	return nil
}

// RequestTechnology sends a scan request to the active phone and waits for
// its tagScanned or scanFailed reply.
func (c *Capability) RequestTechnology(ctx context.Context, tech nfc.Technology, opts nfc.RequestOptions) error {
	device, ok := c.manager.ActiveDevice()
	if !ok {
		return nfc.NewNotSupportedError("RequestTechnology")
	}
	if !device.NFCEnabled() {
		return nfc.NewDisabledError("RequestTechnology")
	}

	c.manager.drainResults()
	req := &activeRequest{id: uuid.NewString(), device: device, released: make(chan struct{})}

	c.mu.Lock()
	c.active = req
	c.pending = nil
	c.mu.Unlock()

	err := device.Send(Response{
		Type:    MessageTypeScanRequest,
		Success: true,
		Payload: ScanRequest{RequestID: req.id, Technology: tech, AlertMessage: opts.AlertMessage},
	})
	if err != nil {
		return fmt.Errorf("send scan request to %s: %w", device.String(), err)
	}
	c.logger.Debug("scan requested", "device", device.DeviceID(), "request", req.id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-req.released:
			return errReleased
		case res := <-c.manager.results:
			if res.requestID != req.id {
				c.logger.Debug("ignoring stale scan result", "request", res.requestID)
				continue
			}
			if res.failed != nil {
				if res.failed.Error == "" {
					return fmt.Errorf("scan failed on %s", device.String())
				}
				return errors.New(res.failed.Error)
			}

			tag := res.scanned.Tag
			c.mu.Lock()
			c.pending = &tag
			c.mu.Unlock()
			return nil
		}
	}
}

// GetTag returns the tag delivered for the last request.
func (c *Capability) GetTag(ctx context.Context) (*nfc.RawTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return nil, nfc.Errorf(nfc.ErrCodeRequestFailed, "GetTag", "no tag has been scanned")
	}
	tag := c.pending
	c.pending = nil
	return tag, nil
}

// CancelTechnologyRequest unblocks a waiting request and tells the phone to
// release its radio.
func (c *Capability) CancelTechnologyRequest(ctx context.Context) error {
	c.mu.Lock()
	req := c.active
	c.active = nil
	c.pending = nil
	c.mu.Unlock()

	if req == nil {
		return nil
	}
	close(req.released)

	err := req.device.Send(Response{
		Type:    MessageTypeScanCancel,
		Success: true,
		Payload: ScanCancel{RequestID: req.id},
	})
	if err != nil {
		return fmt.Errorf("send scan cancel to %s: %w", req.device.String(), err)
	}
	return nil
}
