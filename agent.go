package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-hclog"

	"github.com/dotside-studios/davi-attendance/attendance"
	"github.com/dotside-studios/davi-attendance/buildinfo"
	"github.com/dotside-studios/davi-attendance/config"
	"github.com/dotside-studios/davi-attendance/journal"
	"github.com/dotside-studios/davi-attendance/kiosk"
	"github.com/dotside-studios/davi-attendance/nfc"
	"github.com/dotside-studios/davi-attendance/nfc/phonenfc"
	"github.com/dotside-studios/davi-attendance/server"
)

// defaultMockUID is the card the mock backend reports when reader.device is empty.
const defaultMockUID = "04A224BC"

// ErrAlreadyRunning means another serve or tray process holds the lock.
var ErrAlreadyRunning = errors.New("another kiosk is already running")

// Agent wires the reader, API client, journal and server from one config.
type Agent struct {
	Config     *config.Config
	Logger     hclog.Logger
	Capability nfc.Capability
	Phones     *phonenfc.Manager // nil unless the phone backend is selected
	Journal    *journal.Store
	Kiosk      *kiosk.Kiosk

	lock      *flock.Flock
	closeOnce sync.Once
}

// NewAgent builds an agent. The journal is opened immediately.
func NewAgent(cfg *config.Config, logger hclog.Logger) (*Agent, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	a := &Agent{
		Config: cfg,
		Logger: logger.Named("agent"),
		lock:   flock.New(filepath.Join(filepath.Dir(cfg.Journal.Path), buildinfo.Name+".lock")),
	}

	capability, phones, err := buildCapability(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Capability = capability
	a.Phones = phones

	store, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		a.closeReader()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	a.Journal = store

	a.Kiosk = kiosk.New(kiosk.Options{
		Capability:   capability,
		API:          attendance.NewClient(cfg.API.BaseURL, cfg.API.Timeout(), logger.Named("api")),
		Journal:      store,
		AlertMessage: cfg.Reader.AlertMessage,
		Logger:       logger.Named("kiosk"),
	})
	return a, nil
}

func buildCapability(cfg *config.Config, logger hclog.Logger) (nfc.Capability, *phonenfc.Manager, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	switch cfg.Reader.Backend {
	case config.BackendLibNFC:
		c := nfc.NewLibNFCCapability(cfg.Reader.Device, logger.Named("libnfc"))
		c.PollInterval = cfg.Reader.PollInterval()
		return c, nil, nil
	case config.BackendPhone:
		manager := phonenfc.NewManager(phonenfc.DeviceTimeout, logger.Named("phones"))
		return phonenfc.NewCapability(manager, logger.Named("phone")), manager, nil
	case config.BackendMock:
		uid := cfg.Reader.Device
		if uid == "" {
			uid = defaultMockUID
		}
		c := nfc.NewMockCapability()
		c.Tag = &nfc.RawTag{ID: nfc.HexUID(uid), TechTypes: []string{string(nfc.TechNfcA), string(nfc.TechNDEF)}}
		return c, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown reader backend %q", cfg.Reader.Backend)
	}
}

// Lock takes the single-instance lock used by serve and tray.
func (a *Agent) Lock() error {
	ok, err := a.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, a.lock.Path())
	}
	return nil
}

// Serve checks the reader and serves the kiosk API until ctx ends.
func (a *Agent) Serve(ctx context.Context) error {
	supported, enabled := a.Kiosk.CheckNFCSupport(ctx)
	a.Logger.Info("reader checked", "backend", a.Config.Reader.Backend, "supported", supported, "enabled", enabled)

	cfg := server.Config{
		Kiosk:         a.Kiosk,
		History:       a.Journal,
		Bind:          a.Config.Server.Bind,
		Port:          a.Config.Server.Port,
		MDNS:          a.Config.Server.MDNS,
		RatePerSecond: a.Config.Server.RatePerSecond,
		Logger:        a.Logger.Named("server"),
	}
	if a.Phones != nil {
		cfg.Phones = phonenfc.NewHandler(a.Phones, phonenfc.ServerInfo{
			Name:    buildinfo.DisplayName,
			Version: buildinfo.FullVersion(),
		}, a.Logger.Named("phones"))
	}

	return server.New(cfg).Start(ctx)
}

// RequiresServer reports whether the reader only works while serving.
func (a *Agent) RequiresServer() bool {
	return a.Phones != nil
}

// Close releases the reader, journal and lock.
func (a *Agent) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		a.Kiosk.CancelScan()
		a.closeReader()
		if a.Journal != nil {
			if err := a.Journal.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close journal: %w", err))
			}
		}
		if a.lock.Locked() {
			if err := a.lock.Unlock(); err != nil {
				a.Logger.Warn("failed to release lock", "error", err)
			}
		}
	})
	return errors.Join(errs...)
}

func (a *Agent) closeReader() {
	if a.Phones != nil {
		a.Phones.Close()
	}
	if c, ok := a.Capability.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			a.Logger.Warn("failed to close reader", "error", err)
		}
	}
}
