package main

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"fyne.io/systray"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/dotside-studios/davi-attendance/buildinfo"
	"github.com/dotside-studios/davi-attendance/kiosk"
)

// getLocalIPs returns a list of local IP addresses (excluding loopback)
func getLocalIPs() []string {
	var ips []string
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}

	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				ips = append(ips, ipNet.IP.String())
			}
		}
	}
	return ips
}

// SystrayApp mirrors the kiosk screen in the system tray.
type SystrayApp struct {
	agent  *Agent
	logger hclog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mStatus    *systray.MenuItem
	mSupported *systray.MenuItem
	mEnabled   *systray.MenuItem
	mLastID    *systray.MenuItem
	mBadge     *systray.MenuItem
	mAlert     *systray.MenuItem
	mCheckIn   *systray.MenuItem
	mCheckOut  *systray.MenuItem
	mStatusBtn *systray.MenuItem
	mCancel    *systray.MenuItem
	mRecheck   *systray.MenuItem
	mURL       *systray.MenuItem
	mCopyURL   *systray.MenuItem
	mQuit      *systray.MenuItem
}

// NewSystrayApp creates a tray front end for agent.
func NewSystrayApp(agent *Agent, logger hclog.Logger) *SystrayApp {
	ctx, cancel := context.WithCancel(context.Background())
	return &SystrayApp{
		agent:  agent,
		logger: logger.Named("systray"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run blocks until the tray quits.
func (s *SystrayApp) Run() {
	systray.Run(s.onReady, s.onExit)
}

// Quit closes the tray from another goroutine.
func (s *SystrayApp) Quit() {
	systray.Quit()
}

func (s *SystrayApp) onReady() {
	s.setupUI()
	s.agent.Kiosk.Subscribe(s.showAlert)

	go func() {
		s.updateStatus("Running")
		if err := s.agent.Serve(s.ctx); err != nil {
			s.logger.Error("kiosk server stopped", "error", err)
			s.updateStatus("Server failed")
		}
	}()
	go s.refreshLoop()
	go s.handleMenuEvents()
}

func (s *SystrayApp) onExit() {
	s.cancel()
}

func (s *SystrayApp) setupUI() {
	systray.SetIcon(iconData)
	systray.SetTitle(buildinfo.DisplayName)
	systray.SetTooltip(buildinfo.Description)

	s.mStatus = systray.AddMenuItem("Starting...", "Kiosk status")
	s.mStatus.Disable()
	s.mSupported = systray.AddMenuItem("NFC supported: No", "Reader support")
	s.mSupported.Disable()
	s.mEnabled = systray.AddMenuItem("NFC enabled: No", "Reader enabled")
	s.mEnabled.Disable()
	s.mRecheck = systray.AddMenuItem("Check Reader Again", "Query the reader again")

	systray.AddSeparator()

	s.mCheckIn = systray.AddMenuItem("Check In", "Scan a card and check in")
	s.mCheckOut = systray.AddMenuItem("Check Out", "Scan a card and check out")
	s.mStatusBtn = systray.AddMenuItem("Attendance Status", "Scan a card and show its status")
	s.mCancel = systray.AddMenuItem("Cancel Scan", "Stop waiting for a card")
	s.mCancel.Disable()

	systray.AddSeparator()

	s.mLastID = systray.AddMenuItem("Last NFC ID: None", "Last card read")
	s.mLastID.Disable()
	s.mBadge = systray.AddMenuItem("Status: -", "Last attendance status")
	s.mBadge.Disable()
	s.mAlert = systray.AddMenuItem("No messages", "Last message")
	s.mAlert.Disable()

	systray.AddSeparator()

	s.mURL = systray.AddMenuItem("Kiosk: "+s.kioskURL(), "Kiosk server address")
	s.mURL.Disable()
	s.mCopyURL = systray.AddMenuItem("Copy Kiosk URL", "Copy the kiosk URL to the clipboard")

	systray.AddSeparator()
	s.mQuit = systray.AddMenuItem("Quit", "Quit the application")
}

func (s *SystrayApp) handleMenuEvents() {
	for {
		select {
		case <-s.mCheckIn.ClickedCh:
			s.runAction(kiosk.ActionCheckIn)
		case <-s.mCheckOut.ClickedCh:
			s.runAction(kiosk.ActionCheckOut)
		case <-s.mStatusBtn.ClickedCh:
			s.runAction(kiosk.ActionStatus)
		case <-s.mCancel.ClickedCh:
			s.agent.Kiosk.CancelScan()
		case <-s.mRecheck.ClickedCh:
			go func() {
				s.agent.Kiosk.CheckNFCSupport(s.ctx)
				s.refresh()
			}()
		case <-s.mCopyURL.ClickedCh:
			if err := copyToClipboard(s.kioskURL()); err != nil {
				s.logger.Warn("failed to copy to clipboard", "error", err)
			}
		case <-s.mQuit.ClickedCh:
			systray.Quit()
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *SystrayApp) runAction(action kiosk.Action) {
	go func() {
		if _, err := s.agent.Kiosk.Run(s.ctx, action); err != nil {
			s.showAlert(kiosk.Alert{Kind: kiosk.AlertError, Message: err.Error(), Action: action, Time: time.Now()})
		}
		s.refresh()
	}()
	// Let the scan start before reflecting it in the menu.
	time.AfterFunc(100*time.Millisecond, s.refresh)
}

func (s *SystrayApp) refreshLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.refresh()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *SystrayApp) refresh() {
	st := s.agent.Kiosk.State()

	s.mSupported.SetTitle("NFC supported: " + yesNo(st.Supported))
	s.mEnabled.SetTitle("NFC enabled: " + yesNo(st.Enabled))
	if st.LastNFCID != "" {
		s.mLastID.SetTitle("Last NFC ID: " + st.LastNFCID)
	}
	if st.LastInfo != nil {
		s.mBadge.SetTitle("Status: " + statusBadge(st.LastInfo.CheckedIn()))
	}

	busy := st.Scanning || st.Loading != ""
	ready := st.Supported && st.Enabled && !busy
	for _, item := range []*systray.MenuItem{s.mCheckIn, s.mCheckOut, s.mStatusBtn} {
		if ready {
			item.Enable()
		} else {
			item.Disable()
		}
	}
	if st.Scanning {
		s.mCancel.Enable()
	} else {
		s.mCancel.Disable()
	}

	switch {
	case busy:
		systray.SetIcon(iconDataBusy)
	case ready:
		systray.SetIcon(iconDataReady)
	default:
		systray.SetIcon(iconDataError)
	}
}

func (s *SystrayApp) showAlert(a kiosk.Alert) {
	msg := a.Message
	if a.Title != "" {
		msg = a.Title + ": " + a.Message
	}
	s.mAlert.SetTitle(msg)
	systray.SetTooltip(msg)
	s.logger.Info("alert", "kind", a.Kind, "action", a.Action, "message", a.Message)
}

// updateStatus updates the status menu item
func (s *SystrayApp) updateStatus(status string) {
	s.mStatus.SetTitle(status)
	if status != "Running" {
		systray.SetIcon(iconDataError)
	}
}

func (s *SystrayApp) kioskURL() string {
	ip := "localhost"
	if ips := getLocalIPs(); len(ips) > 0 {
		ip = ips[0]
	}
	return "http://" + net.JoinHostPort(ip, strconv.Itoa(s.agent.Config.Server.Port))
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func statusBadge(checkedIn bool) string {
	if checkedIn {
		return "Checked in"
	}
	return "Checked out"
}

// copyToClipboard copies text to the system clipboard
func copyToClipboard(text string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pbcopy")
	case "linux":
		cmd = exec.Command("xclip", "-selection", "clipboard")
	case "windows":
		cmd = exec.Command("clip")
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := stdin.Write([]byte(text)); err != nil {
		return err
	}
	stdin.Close()
	return cmd.Wait()
}

func newTrayCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tray",
		Short: "Run the kiosk server with a system tray menu",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger()
			agent, err := NewAgent(cfg, logger)
			if err != nil {
				return err
			}
			defer agent.Close()
			if err := agent.Lock(); err != nil {
				return err
			}

			app := NewSystrayApp(agent, logger)
			sigCtx, stop := signalContext(context.Background())
			defer stop()
			go func() {
				<-sigCtx.Done()
				app.Quit()
			}()

			app.Run()
			return nil
		},
	}
}
