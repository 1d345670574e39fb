package kiosk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dotside-studios/davi-attendance/attendance"
	"github.com/dotside-studios/davi-attendance/journal"
	"github.com/dotside-studios/davi-attendance/nfc"
)

type fakeAPI struct {
	mu     sync.Mutex
	calls  []string
	status attendance.Action
	err    error
	block  chan struct{} // if set, Info waits on it
}

func (f *fakeAPI) log(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) CheckIn(ctx context.Context, nfcID string) (*attendance.Info, error) {
	f.log("CheckIn(" + nfcID + ")")
	if f.err != nil {
		return nil, f.err
	}
	f.status = attendance.ActionCheckIn
	return &attendance.Info{NFCID: nfcID, Status: f.status}, nil
}

func (f *fakeAPI) CheckOut(ctx context.Context, nfcID string) (*attendance.Info, error) {
	f.log("CheckOut(" + nfcID + ")")
	if f.err != nil {
		return nil, f.err
	}
	f.status = attendance.ActionCheckOut
	return &attendance.Info{NFCID: nfcID, Status: f.status}, nil
}

func (f *fakeAPI) Info(ctx context.Context, nfcID string) (*attendance.Info, error) {
	f.log("Info(" + nfcID + ")")
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return &attendance.Info{NFCID: nfcID, Status: f.status}, nil
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (f *fakeJournal) Append(ctx context.Context, e journal.Entry) (*journal.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return &e, nil
}

func (f *fakeJournal) Entries() []journal.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]journal.Entry(nil), f.entries...)
}

type alertRecorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *alertRecorder) add(a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *alertRecorder) All() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}

type fixture struct {
	kiosk      *Kiosk
	capability *nfc.MockCapability
	api        *fakeAPI
	journal    *fakeJournal
	alerts     *alertRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	capability := nfc.NewMockCapability()
	capability.Tag = &nfc.RawTag{ID: nfc.HexUID("04a224bc")}
	f := &fixture{
		capability: capability,
		api:        &fakeAPI{},
		journal:    &fakeJournal{},
		alerts:     &alertRecorder{},
	}
	f.kiosk = New(Options{Capability: capability, API: f.api, Journal: f.journal, AlertMessage: "Tap your card"})
	f.kiosk.Subscribe(f.alerts.add)
	return f
}

func TestCheckIn(t *testing.T) {
	f := newFixture(t)

	res, err := f.kiosk.CheckIn(context.Background())
	if err != nil {
		t.Fatalf("CheckIn() error = %v", err)
	}
	if res.Outcome != journal.OutcomeSuccess || res.NFCID != "04A224BC" {
		t.Fatalf("result = %+v", res)
	}
	if res.Alert == nil || res.Alert.Message != MsgCheckInDone {
		t.Errorf("alert = %+v, want %q", res.Alert, MsgCheckInDone)
	}

	want := []string{"CheckIn(04A224BC)", "Info(04A224BC)"}
	if got := f.api.Calls(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("API calls = %v, want %v", got, want)
	}
	if f.kiosk.LastNFCID() != "04A224BC" {
		t.Errorf("LastNFCID() = %q", f.kiosk.LastNFCID())
	}
	if info := f.kiosk.LastInfo(); info == nil || !info.CheckedIn() {
		t.Errorf("LastInfo() = %+v", info)
	}
	if f.kiosk.Loading() != "" {
		t.Errorf("Loading() = %q after completion", f.kiosk.Loading())
	}
	if n := f.capability.CallCount("CancelTechnologyRequest"); n != 1 {
		t.Errorf("release called %d times, want 1", n)
	}
	if f.capability.LastOptions.AlertMessage != "Tap your card" {
		t.Errorf("alert message = %q", f.capability.LastOptions.AlertMessage)
	}

	entries := f.journal.Entries()
	if len(entries) != 1 || entries[0].Outcome != journal.OutcomeSuccess || entries[0].AttendanceStatus != "check_in" {
		t.Errorf("journal = %+v", entries)
	}
	if len(f.alerts.All()) != 1 {
		t.Errorf("alerts = %+v, want one", f.alerts.All())
	}
}

func TestCheckOutAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.kiosk.CheckOut(ctx)
	if res.Alert.Message != MsgCheckOutDone {
		t.Errorf("check-out alert = %q", res.Alert.Message)
	}

	res, _ = f.kiosk.Status(ctx)
	if res.Alert.Message != MsgStatusCheckOut || res.Alert.Kind != AlertInfo {
		t.Errorf("status alert = %+v", res.Alert)
	}

	f.kiosk.CheckIn(ctx)
	res, _ = f.kiosk.Run(ctx, ActionStatus)
	if res.Alert.Message != MsgStatusCheckIn {
		t.Errorf("status alert = %q, want %q", res.Alert.Message, MsgStatusCheckIn)
	}
}

func TestValidateNFCAvailability(t *testing.T) {
	tests := []struct {
		name      string
		supported bool
		enabled   bool
		wantMsg   string
		wantCheck int // IsSupported calls
	}{
		{"unsupported", false, false, MsgNotSupported, 1},
		{"disabled rechecks", true, false, MsgNotEnabled, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.capability.Supported = tt.supported
			f.capability.Enabled = tt.enabled

			res, err := f.kiosk.CheckIn(context.Background())
			if err != nil {
				t.Fatalf("CheckIn() error = %v", err)
			}
			if res.Alert == nil || res.Alert.Message != tt.wantMsg {
				t.Errorf("alert = %+v, want %q", res.Alert, tt.wantMsg)
			}
			if f.capability.CallCount("RequestTechnology") != 0 {
				t.Error("scan started on unavailable reader")
			}
			if n := f.capability.CallCount("IsSupported"); n != tt.wantCheck {
				t.Errorf("IsSupported called %d times, want %d", n, tt.wantCheck)
			}
			if len(f.api.Calls()) != 0 {
				t.Errorf("API called: %v", f.api.Calls())
			}
		})
	}
}

func TestCheckNFCSupportErrorMeansUnsupported(t *testing.T) {
	f := newFixture(t)
	f.capability.StartError = errors.New("no reader attached")

	supported, enabled := f.kiosk.CheckNFCSupport(context.Background())
	if supported || enabled {
		t.Errorf("CheckNFCSupport() = %v, %v; want false, false", supported, enabled)
	}
	if st := f.kiosk.State(); st.Supported {
		t.Errorf("State() = %+v", st)
	}
}

func TestUnreadableTag(t *testing.T) {
	f := newFixture(t)
	f.capability.Tag = &nfc.RawTag{}

	res, _ := f.kiosk.CheckIn(context.Background())
	if res.Outcome != journal.OutcomeUnreadable {
		t.Errorf("outcome = %q, want unreadable", res.Outcome)
	}
	if res.Alert == nil || res.Alert.Message != MsgUnreadable {
		t.Errorf("alert = %+v", res.Alert)
	}
	if len(f.api.Calls()) != 0 {
		t.Errorf("API called: %v", f.api.Calls())
	}
	if n := f.capability.CallCount("CancelTechnologyRequest"); n != 1 {
		t.Errorf("release called %d times, want 1", n)
	}
}

func TestScanErrorAlertsMessage(t *testing.T) {
	f := newFixture(t)
	f.capability.RequestError = errors.New("tag lost")

	res, _ := f.kiosk.Status(context.Background())
	if res.Outcome != journal.OutcomeFailed {
		t.Errorf("outcome = %q", res.Outcome)
	}
	if res.Alert == nil || res.Alert.Message != "RequestTechnology: NFC request failed: tag lost" {
		t.Errorf("alert = %+v", res.Alert)
	}
}

func TestCancelScanIsSilent(t *testing.T) {
	f := newFixture(t)
	f.capability.BlockRequest = true
	f.capability.RequestStarted = make(chan struct{}, 1)

	done := make(chan *Result, 1)
	go func() {
		res, _ := f.kiosk.CheckIn(context.Background())
		done <- res
	}()

	<-f.capability.RequestStarted
	if !f.kiosk.State().Scanning {
		t.Error("State().Scanning = false during scan")
	}
	if _, err := f.kiosk.CheckOut(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent CheckOut() error = %v, want ErrBusy", err)
	}
	if !f.kiosk.CancelScan() {
		t.Error("CancelScan() = false, want true")
	}

	select {
	case res := <-done:
		if res.Outcome != journal.OutcomeCancelled || res.Alert != nil {
			t.Errorf("result = %+v, want silent cancel", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CheckIn() did not return after CancelScan")
	}

	if len(f.alerts.All()) != 0 {
		t.Errorf("alerts = %+v, want none", f.alerts.All())
	}
	if n := f.capability.CallCount("CancelTechnologyRequest"); n != 1 {
		t.Errorf("release called %d times, want 1", n)
	}
	if f.kiosk.CancelScan() {
		t.Error("CancelScan() with nothing running = true")
	}
	if e := f.journal.Entries(); len(e) != 1 || e[0].Outcome != journal.OutcomeCancelled {
		t.Errorf("journal = %+v", e)
	}
}

func TestAPIErrorAlerts(t *testing.T) {
	f := newFixture(t)
	f.api.err = &attendance.APIError{Op: "check-in request", StatusCode: 502, Status: "Bad Gateway"}

	res, _ := f.kiosk.CheckIn(context.Background())
	if res.Outcome != journal.OutcomeFailed {
		t.Errorf("outcome = %q", res.Outcome)
	}
	if res.Alert == nil || res.Alert.Message != "check-in request failed: Bad Gateway" {
		t.Errorf("alert = %+v", res.Alert)
	}
	if f.kiosk.LastNFCID() != "04A224BC" {
		t.Error("LastNFCID not kept after API failure")
	}
	if f.kiosk.LastInfo() != nil {
		t.Error("LastInfo set after API failure")
	}
}

func TestLoadingHeldDuringAPICall(t *testing.T) {
	f := newFixture(t)
	f.api.block = make(chan struct{})

	done := make(chan struct{})
	go func() {
		f.kiosk.Status(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.kiosk.Loading() != ActionStatus {
		if time.Now().After(deadline) {
			t.Fatal("Loading() never became status")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(f.api.block)
	<-done

	if f.kiosk.Loading() != "" {
		t.Errorf("Loading() = %q after completion", f.kiosk.Loading())
	}
}
