package nfc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clausecker/freefare"
	"github.com/clausecker/nfc/v2"
	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultPollInterval is how often LibNFCCapability polls for a tag.
	DefaultPollInterval = 250 * time.Millisecond

	ultralightFirstDataPage = 4
	// Covers NTAG216, the largest Type 2 tag in common use.
	ultralightMaxPage = 231
)

var errRequestReleased = errors.New("technology request cancelled by user")

// LibNFCCapability reads tags from a USB reader through libnfc. Type 2 tags
// (Ultralight/NTAG) have their NDEF message read; every other tag reports
// its UID only.
type LibNFCCapability struct {
	// Device is a libnfc connection string. Empty selects the first reader.
	Device       string
	PollInterval time.Duration
	Logger       hclog.Logger

	mu       sync.Mutex
	dev      nfc.Device
	opened   bool
	pending  *RawTag
	released chan struct{}
}

// NewLibNFCCapability returns a capability for the given connection string.
func NewLibNFCCapability(device string, logger hclog.Logger) *LibNFCCapability {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &LibNFCCapability{
		Device:       device,
		PollInterval: DefaultPollInterval,
		Logger:       logger.Named("libnfc"),
	}
}

// IsSupported reports whether libnfc can see a reader.
func (c *LibNFCCapability) IsSupported(ctx context.Context) (bool, error) {
	if c.Device != "" {
		return true, nil
	}
	devices, err := nfc.ListDevices()
	if err != nil {
		return false, fmt.Errorf("list NFC devices: %w", err)
	}
	return len(devices) > 0, nil
}

// IsEnabled reports whether the reader can be opened and initialised.
func (c *LibNFCCapability) IsEnabled(ctx context.Context) (bool, error) {
	if err := c.Start(ctx); err != nil {
		c.Logger.Debug("reader not available", "error", err)
		return false, nil
	}
	return true, nil
}

// Start opens the reader. It is a no-op once the reader is open.
func (c *LibNFCCapability) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		return nil
	}

	conn := c.Device
	if conn == "" {
		devices, err := nfc.ListDevices()
		if err != nil {
			return fmt.Errorf("list NFC devices: %w", err)
		}
		if len(devices) == 0 {
			return NewNotSupportedError("Start")
		}
		conn = devices[0]
	}

	dev, err := nfc.Open(conn)
	if err != nil {
		return fmt.Errorf("open NFC device %q: %w", conn, err)
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return fmt.Errorf("initialise NFC device %q: %w", conn, err)
	}

	c.Logger.Info("opened NFC reader", "device", dev.String(), "connection", dev.Connection())
	c.dev = dev
	c.opened = true
	return nil
}

// RequestTechnology polls until a tag is read, the context ends or the
// request is released.
func (c *LibNFCCapability) RequestTechnology(ctx context.Context, tech Technology, opts RequestOptions) error {
	if err := c.Start(ctx); err != nil {
		return err
	}

	released := make(chan struct{})
	c.mu.Lock()
	c.pending = nil
	c.released = released
	c.mu.Unlock()

	if opts.AlertMessage != "" {
		c.Logger.Info(opts.AlertMessage)
	}

	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		tag, err := c.poll()
		if err != nil {
			c.Logger.Debug("poll failed", "error", err)
		}
		if tag != nil {
			c.mu.Lock()
			c.pending = tag
			c.mu.Unlock()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-released:
			return errRequestReleased
		case <-ticker.C:
		}
	}
}

// GetTag returns the tag found by the last RequestTechnology.
func (c *LibNFCCapability) GetTag(ctx context.Context) (*RawTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return nil, Errorf(ErrCodeRequestFailed, "GetTag", "no tag has been requested")
	}
	tag := c.pending
	c.pending = nil
	return tag, nil
}

// CancelTechnologyRequest stops a pending RequestTechnology and drops any
// tag it found.
func (c *LibNFCCapability) CancelTechnologyRequest(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released != nil {
		close(c.released)
		c.released = nil
	}
	c.pending = nil
	return nil
}

// Close releases the reader.
func (c *LibNFCCapability) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return nil
	}
	c.opened = false
	return c.dev.Close()
}

func (c *LibNFCCapability) poll() (*RawTag, error) {
	c.mu.Lock()
	dev := c.dev
	c.mu.Unlock()

	tags, ffErr := freefare.GetTags(dev)
	for _, tag := range tags {
		raw := &RawTag{ID: HexUID(tag.UID())}
		if ul, ok := tag.(freefare.UltralightTag); ok {
			raw.TechTypes = []string{string(TechNfcA), string(TechNDEF)}
			records, err := c.readUltralightNDEF(ul)
			if err != nil {
				c.Logger.Debug("could not read NDEF", "uid", tag.UID(), "error", err)
			}
			raw.NDEFMessage = records
		} else {
			raw.TechTypes = []string{string(TechNfcA)}
		}
		return raw, nil
	}

	modulation := nfc.Modulation{Type: nfc.ISO14443a, BaudRate: nfc.Nbr106}
	targets, err := dev.InitiatorListPassiveTargets(modulation)
	if err != nil {
		if ffErr != nil {
			return nil, fmt.Errorf("freefare (%v) and passive target listing (%w) failed", ffErr, err)
		}
		return nil, err
	}
	for _, target := range targets {
		isoA, ok := target.(*nfc.ISO14443aTarget)
		if !ok || isoA.UIDLen == 0 || int(isoA.UIDLen) > len(isoA.UID) {
			continue
		}
		uid := make([]byte, isoA.UIDLen)
		copy(uid, isoA.UID[:isoA.UIDLen])
		return &RawTag{ID: ByteUID(uid), TechTypes: []string{string(TechNfcA)}}, nil
	}
	return nil, nil
}

// readUltralightNDEF reads pages from the first data page until the NDEF TLV
// is complete or a terminator is seen.
func (c *LibNFCCapability) readUltralightNDEF(tag freefare.UltralightTag) ([]NDEFRecord, error) {
	if err := tag.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer tag.Disconnect()

	var data []byte
	for page := ultralightFirstDataPage; page <= ultralightMaxPage; page++ {
		pageData, err := tag.ReadPage(byte(page))
		if err != nil {
			if len(data) == 0 {
				return nil, fmt.Errorf("read page %d: %w", page, err)
			}
			break
		}
		data = append(data, pageData[:]...)

		message, need, found := TLVFindNDEF(data)
		if found {
			if len(message) == 0 {
				return nil, nil
			}
			msg, err := DecodeNDEF(message)
			if err != nil {
				return nil, err
			}
			return msg.Records(), nil
		}
		if need == 0 {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("NDEF TLV incomplete after %d bytes", len(data))
}
