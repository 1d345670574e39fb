// Package kiosk runs the attendance flow: check the reader, scan a card,
// call the attendance API and report the result as an alert.
package kiosk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/dotside-studios/davi-attendance/attendance"
	"github.com/dotside-studios/davi-attendance/journal"
	"github.com/dotside-studios/davi-attendance/nfc"
)

// Action is a kiosk button.
type Action string

const (
	ActionCheckIn  Action = "checkIn"
	ActionCheckOut Action = "checkOut"
	ActionStatus   Action = "status"
)

// ErrBusy is returned when an action is started while another one is
// scanning or waiting on the API.
var ErrBusy = errors.New("another attendance action is in progress")

// AttendanceAPI is the subset of attendance.Client the kiosk uses.
type AttendanceAPI interface {
	CheckIn(ctx context.Context, nfcID string) (*attendance.Info, error)
	CheckOut(ctx context.Context, nfcID string) (*attendance.Info, error)
	Info(ctx context.Context, nfcID string) (*attendance.Info, error)
}

// Journal records action outcomes.
type Journal interface {
	Append(ctx context.Context, entry journal.Entry) (*journal.Entry, error)
}

// Result describes how one action ended.
type Result struct {
	Action    Action           `json:"action"`
	Outcome   journal.Outcome  `json:"outcome"`
	NFCID     string           `json:"nfc_id,omitempty"`
	Info      *attendance.Info `json:"info,omitempty"`
	Alert     *Alert           `json:"alert,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
}

// State is a snapshot for front ends.
type State struct {
	Supported bool             `json:"supported"`
	Enabled   bool             `json:"enabled"`
	Scanning  bool             `json:"scanning"`
	Loading   Action           `json:"loading,omitempty"`
	LastNFCID string           `json:"last_nfc_id,omitempty"`
	LastInfo  *attendance.Info `json:"last_info,omitempty"`
}

// Options configure a Kiosk. Capability and API are required.
type Options struct {
	Capability   nfc.Capability
	API          AttendanceAPI
	Journal      Journal
	AlertMessage string
	Logger       hclog.Logger
}

// Kiosk owns the single scan session of one reader.
type Kiosk struct {
	capability nfc.Capability
	scanner    *nfc.Scanner
	session    *nfc.Session
	api        AttendanceAPI
	journal    Journal
	logger     hclog.Logger
	alerts     alertHub

	mu        sync.Mutex
	checked   bool
	supported bool
	enabled   bool
	busy      bool
	loading   Action
	lastNFCID string
	lastInfo  *attendance.Info
}

// New creates a Kiosk.
func New(opts Options) *Kiosk {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	scanner := nfc.NewScanner(opts.Capability, logger.Named("scanner"))
	if opts.AlertMessage != "" {
		scanner.AlertMessage = opts.AlertMessage
	}

	return &Kiosk{
		capability: opts.Capability,
		scanner:    scanner,
		session:    nfc.NewSession(),
		api:        opts.API,
		journal:    opts.Journal,
		logger:     logger,
	}
}

// Subscribe registers fn for every alert. The returned func unsubscribes.
func (k *Kiosk) Subscribe(fn func(Alert)) func() {
	return k.alerts.subscribe(fn)
}

// State returns a snapshot of the kiosk.
func (k *Kiosk) State() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return State{
		Supported: k.supported,
		Enabled:   k.enabled,
		Scanning:  k.session.Active(),
		Loading:   k.loading,
		LastNFCID: k.lastNFCID,
		LastInfo:  k.lastInfo,
	}
}

// LastNFCID is the identifier of the last card read.
func (k *Kiosk) LastNFCID() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastNFCID
}

// LastInfo is the last status returned by the API.
func (k *Kiosk) LastInfo() *attendance.Info {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastInfo
}

// Loading is the action waiting on the API, or "".
func (k *Kiosk) Loading() Action {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.loading
}

// CheckNFCSupport queries the reader. Failures count as unsupported.
func (k *Kiosk) CheckNFCSupport(ctx context.Context) (supported, enabled bool) {
	defer func() {
		k.mu.Lock()
		k.checked = true
		k.supported = supported
		k.enabled = enabled
		k.mu.Unlock()
	}()

	supported, err := k.capability.IsSupported(ctx)
	if err != nil {
		k.logger.Error("NFC check failed", "error", err)
		return false, false
	}
	if !supported {
		return false, false
	}

	if err := k.capability.Start(ctx); err != nil {
		k.logger.Error("NFC check failed", "error", err)
		return false, false
	}
	enabled, err = k.capability.IsEnabled(ctx)
	if err != nil {
		k.logger.Error("NFC check failed", "error", err)
		return true, false
	}
	return true, enabled
}

// ValidateNFC makes sure the reader is usable and scans a card. When no
// identifier is returned the Result says why and any alert has been sent.
func (k *Kiosk) ValidateNFC(ctx context.Context, action Action) (*nfc.Identifier, *Result) {
	k.mu.Lock()
	checked, supported, enabled := k.checked, k.supported, k.enabled
	k.mu.Unlock()
	if !checked {
		supported, enabled = k.CheckNFCSupport(ctx)
	}

	if !supported {
		return nil, k.failed(action, journal.OutcomeFailed, "", MsgNotSupported)
	}
	if !enabled {
		res := k.failed(action, journal.OutcomeFailed, "", MsgNotEnabled)
		k.CheckNFCSupport(ctx)
		return nil, res
	}

	ident, err := k.scanner.Scan(ctx, k.session)
	sessionID := k.session.ID()
	switch {
	case err == nil && ident == nil:
		return nil, k.failed(action, journal.OutcomeUnreadable, sessionID, MsgUnreadable)
	case err == nil:
		k.mu.Lock()
		k.lastNFCID = ident.NFCID
		k.mu.Unlock()
		return ident, &Result{Action: action, NFCID: ident.NFCID, SessionID: sessionID}
	case nfc.IsCancelledError(err):
		k.logger.Debug("scan cancelled", "action", action)
		return nil, &Result{Action: action, Outcome: journal.OutcomeCancelled, SessionID: sessionID}
	case nfc.IsNotSupportedError(err):
		k.setAvailability(false, false)
		return nil, k.failed(action, journal.OutcomeFailed, sessionID, MsgNotSupported)
	case nfc.IsDisabledError(err):
		res := k.failed(action, journal.OutcomeFailed, sessionID, MsgNotEnabled)
		k.CheckNFCSupport(ctx)
		return nil, res
	default:
		k.logger.Error("NFC scan error", "action", action, "error", err)
		msg := err.Error()
		if msg == "" {
			msg = MsgScanFailed
		}
		return nil, k.failed(action, journal.OutcomeFailed, sessionID, msg)
	}
}

// CheckIn scans a card and records a check-in.
func (k *Kiosk) CheckIn(ctx context.Context) (*Result, error) {
	return k.run(ctx, ActionCheckIn, func(ctx context.Context, nfcID string) (*attendance.Info, *Alert, error) {
		if _, err := k.api.CheckIn(ctx, nfcID); err != nil {
			return nil, nil, err
		}
		info, err := k.api.Info(ctx, nfcID)
		if err != nil {
			return nil, nil, err
		}
		return info, &Alert{Kind: AlertSuccess, Title: "Success", Message: MsgCheckInDone}, nil
	})
}

// CheckOut scans a card and records a check-out.
func (k *Kiosk) CheckOut(ctx context.Context) (*Result, error) {
	return k.run(ctx, ActionCheckOut, func(ctx context.Context, nfcID string) (*attendance.Info, *Alert, error) {
		if _, err := k.api.CheckOut(ctx, nfcID); err != nil {
			return nil, nil, err
		}
		info, err := k.api.Info(ctx, nfcID)
		if err != nil {
			return nil, nil, err
		}
		return info, &Alert{Kind: AlertSuccess, Title: "Success", Message: MsgCheckOutDone}, nil
	})
}

// Status scans a card and shows its attendance status.
func (k *Kiosk) Status(ctx context.Context) (*Result, error) {
	return k.run(ctx, ActionStatus, func(ctx context.Context, nfcID string) (*attendance.Info, *Alert, error) {
		info, err := k.api.Info(ctx, nfcID)
		if err != nil {
			return nil, nil, err
		}
		return info, &Alert{Kind: AlertInfo, Title: statusTitle, Message: StatusMessage(info)}, nil
	})
}

// Run dispatches action by name.
func (k *Kiosk) Run(ctx context.Context, action Action) (*Result, error) {
	switch action {
	case ActionCheckIn:
		return k.CheckIn(ctx)
	case ActionCheckOut:
		return k.CheckOut(ctx)
	case ActionStatus:
		return k.Status(ctx)
	default:
		return nil, errors.New("unknown action: " + string(action))
	}
}

// CancelScan aborts the scan in progress. It reports whether one was running.
func (k *Kiosk) CancelScan() bool {
	cancelled := k.session.Cancel()
	if !cancelled {
		k.logger.Debug("cancel requested with no scan in progress")
	}
	return cancelled
}

// StatusMessage renders the status alert text for info.
func StatusMessage(info *attendance.Info) string {
	if info != nil && info.CheckedIn() {
		return MsgStatusCheckIn
	}
	return MsgStatusCheckOut
}

type apiCall func(ctx context.Context, nfcID string) (*attendance.Info, *Alert, error)

func (k *Kiosk) run(ctx context.Context, action Action, call apiCall) (*Result, error) {
	k.mu.Lock()
	if k.busy {
		k.mu.Unlock()
		return nil, ErrBusy
	}
	k.busy = true
	k.mu.Unlock()
	defer func() {
		k.mu.Lock()
		k.busy = false
		k.loading = ""
		k.mu.Unlock()
	}()

	ident, res := k.ValidateNFC(ctx, action)
	if ident == nil {
		k.record(ctx, res)
		return res, nil
	}

	k.mu.Lock()
	k.loading = action
	k.mu.Unlock()

	info, alert, err := call(ctx, ident.NFCID)
	if err != nil {
		k.logger.Error("attendance request failed", "action", action, "nfc_id", ident.NFCID, "error", err)
		res.Outcome = journal.OutcomeFailed
		res.Alert = k.alert(AlertError, "Error", err.Error(), action)
		k.record(ctx, res)
		return res, nil
	}

	k.mu.Lock()
	k.lastInfo = info
	k.mu.Unlock()

	alert.Action = action
	alert.Time = time.Now()
	k.alerts.publish(*alert)

	res.Outcome = journal.OutcomeSuccess
	res.Info = info
	res.Alert = alert
	k.logger.Info("attendance action complete", "action", action, "nfc_id", ident.NFCID, "status", info.Status)
	k.record(ctx, res)
	return res, nil
}

func (k *Kiosk) failed(action Action, outcome journal.Outcome, sessionID, msg string) *Result {
	return &Result{
		Action:    action,
		Outcome:   outcome,
		SessionID: sessionID,
		Alert:     k.alert(AlertError, "Error", msg, action),
	}
}

func (k *Kiosk) alert(kind AlertKind, title, msg string, action Action) *Alert {
	a := Alert{Kind: kind, Title: title, Message: msg, Action: action, Time: time.Now()}
	k.alerts.publish(a)
	return &a
}

func (k *Kiosk) setAvailability(supported, enabled bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.checked = true
	k.supported = supported
	k.enabled = enabled
}

func (k *Kiosk) record(ctx context.Context, res *Result) {
	if k.journal == nil || res == nil {
		return
	}
	entry := journal.Entry{
		Action:    string(res.Action),
		NFCID:     res.NFCID,
		Outcome:   res.Outcome,
		SessionID: res.SessionID,
	}
	if res.Info != nil {
		entry.AttendanceStatus = string(res.Info.Status)
	}
	if res.Alert != nil {
		entry.Message = res.Alert.Message
	}
	// The action's own context may already be cancelled.
	if _, err := k.journal.Append(context.WithoutCancel(ctx), entry); err != nil {
		k.logger.Warn("failed to journal action", "action", res.Action, "error", err)
	}
}
