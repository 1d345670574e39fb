// Package server exposes the kiosk over HTTP and WebSocket on the LAN.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/grandcat/zeroconf"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"

	"github.com/dotside-studios/davi-attendance/buildinfo"
	"github.com/dotside-studios/davi-attendance/journal"
	"github.com/dotside-studios/davi-attendance/kiosk"
)

// Kiosk is the attendance flow served over HTTP.
type Kiosk interface {
	Run(ctx context.Context, action kiosk.Action) (*kiosk.Result, error)
	CancelScan() bool
	State() kiosk.State
	CheckNFCSupport(ctx context.Context) (supported, enabled bool)
	Subscribe(fn func(kiosk.Alert)) func()
}

// History lists journaled actions.
type History interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	ForNFCID(ctx context.Context, nfcID string, limit int) ([]journal.Entry, error)
}

// Config holds the server configuration.
type Config struct {
	Kiosk   Kiosk
	History History      // optional
	Phones  http.Handler // optional phone reader endpoint, served at /ws?mode=device

	Bind          string
	Port          int
	MDNS          bool
	RatePerSecond float64 // 0 disables throttling of attendance actions

	Logger hclog.Logger
}

// Server manages the HTTP and WebSocket server.
type Server struct {
	config     Config
	logger     hclog.Logger
	router     *mux.Router
	dashboard  *dashboard
	limiter    *rate.Limiter
	httpServer *http.Server
	started    time.Time

	mu         sync.Mutex
	mdnsServer *zeroconf.Server
	unsub      func()
}

// New creates a server and its routes.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	s := &Server{
		config:    config,
		logger:    logger,
		dashboard: newDashboard(logger.Named("dashboard")),
		started:   time.Now(),
	}
	if config.RatePerSecond > 0 {
		burst := int(config.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), burst)
	}

	s.router = s.routes()
	s.unsub = config.Kiosk.Subscribe(func(a kiosk.Alert) {
		s.dashboard.broadcast(WebsocketMessage{Type: WSMessageTypeAlert, Payload: a})
	})
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(enableCORS)

	api := r.PathPrefix(APIPrefix).Subrouter()
	api.HandleFunc("/health", s.handleHealthCheck).Methods(http.MethodGet)
	api.HandleFunc("/nfc", s.handleNFCState).Methods(http.MethodGet)
	api.HandleFunc("/nfc/check", s.handleNFCCheck).Methods(http.MethodPost)
	api.Handle("/attendance/check-in", s.throttle(s.actionHandler(kiosk.ActionCheckIn))).Methods(http.MethodPost)
	api.Handle("/attendance/check-out", s.throttle(s.actionHandler(kiosk.ActionCheckOut))).Methods(http.MethodPost)
	api.Handle("/attendance/status", s.throttle(s.actionHandler(kiosk.ActionStatus))).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/scan/cancel", s.handleCancelScan).Methods(http.MethodPost)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(buildinfo.DisplayName + " running"))
	}).Methods(http.MethodGet)
	return r
}

// Start serves until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Bind, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", listener.Addr().String())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if s.config.MDNS {
		port := listener.Addr().(*net.TCPAddr).Port
		if err := s.startMDNS(port); err != nil {
			s.logger.Warn("failed to start mDNS service, phones must be pointed at the kiosk manually", "error", err)
		}
	}

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			s.Stop()
			return fmt.Errorf("http server: %w", err)
		}
	}
	s.logger.Info("server context cancelled, initiating shutdown")
	s.Stop()
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.mdnsServer != nil {
		s.mdnsServer.Shutdown()
		s.mdnsServer = nil
	}
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	s.mu.Unlock()

	s.config.Kiosk.CancelScan()
	s.dashboard.closeAll()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("server shutdown error", "error", err)
		}
	}
}

func (s *Server) startMDNS(port int) error {
	txtRecords := []string{
		"version=" + buildinfo.Version,
		"protocol=websocket",
		"path=/ws",
		"device_mode=?mode=device",
		"api=" + APIPrefix,
	}

	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mu.Lock()
	s.mdnsServer = server
	s.mu.Unlock()
	s.logger.Info("mDNS service registered", "name", MDNSServiceName, "type", MDNSServiceType, "port", port)
	return nil
}
