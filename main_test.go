package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dotside-studios/davi-attendance/config"
	"github.com/dotside-studios/davi-attendance/journal"
	"github.com/dotside-studios/davi-attendance/kiosk"
	"github.com/dotside-studios/davi-attendance/nfc"
)

func writeTestConfig(t *testing.T, apiURL, backend string) string {
	t.Helper()
	t.Setenv("DAVI_API_BASE_URL", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := "[api]\nbase_url = \"" + apiURL + "\"\n\n" +
		"[reader]\nbackend = \"" + backend + "\"\n\n" +
		"[journal]\npath = \"" + filepath.ToSlash(filepath.Join(dir, "journal.db")) + "\"\n\n" +
		"[logging]\nlevel = \"error\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func fakeAttendanceAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"nfc_id":"04A224BC","status":"check_in"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckInCommandWithMockReader(t *testing.T) {
	api := fakeAttendanceAPI(t)
	cfgPath := writeTestConfig(t, api.URL, "mock")

	out, err := runCommand(t, "--config", cfgPath, "checkin")
	if err != nil {
		t.Fatalf("checkin error = %v", err)
	}
	if !strings.Contains(out, kiosk.MsgCheckInDone) || !strings.Contains(out, "04A224BC") {
		t.Errorf("output = %q", out)
	}

	out, err = runCommand(t, "--config", cfgPath, "history", "--json")
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	var entries []journal.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("history output not JSON: %v\n%s", err, out)
	}
	if len(entries) != 1 || entries[0].Action != "checkIn" || entries[0].Outcome != journal.OutcomeSuccess {
		t.Errorf("history = %+v", entries)
	}

	out, err = runCommand(t, "--config", cfgPath, "history")
	if err != nil {
		t.Fatalf("history table error = %v", err)
	}
	if !strings.Contains(out, "NFC ID") || !strings.Contains(out, "checkIn") {
		t.Errorf("history table = %q", out)
	}
}

func TestStatusCommandAPIFailure(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer api.Close()
	cfgPath := writeTestConfig(t, api.URL, "mock")

	_, err := runCommand(t, "--config", cfgPath, "status")
	if err == nil || err.Error() != "status check failed: Not Found" {
		t.Errorf("status error = %v", err)
	}
}

func TestScanCommandPrintsIdentifier(t *testing.T) {
	cfgPath := writeTestConfig(t, "http://localhost:1", "mock")

	out, err := runCommand(t, "--config", cfgPath, "scan")
	if err != nil {
		t.Fatalf("scan error = %v", err)
	}
	var ident map[string]any
	if err := json.Unmarshal([]byte(out), &ident); err != nil {
		t.Fatalf("scan output not JSON: %v", err)
	}
	if ident["nfc_id"] != "04A224BC" {
		t.Errorf("scan output = %v", ident)
	}
}

func TestPhoneBackendNeedsServer(t *testing.T) {
	cfgPath := writeTestConfig(t, "http://localhost:1", "phone")
	_, err := runCommand(t, "--config", cfgPath, "checkin")
	if err == nil || !strings.Contains(err.Error(), "serve") {
		t.Errorf("checkin with phone backend error = %v", err)
	}
}

func TestBackendFlagOverridesConfig(t *testing.T) {
	cfgPath := writeTestConfig(t, "http://localhost:1", "phone")
	if _, err := runCommand(t, "--config", cfgPath, "--backend", "mock", "scan"); err != nil {
		t.Errorf("scan with --backend mock error = %v", err)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	t.Setenv("DAVI_API_BASE_URL", "")
	path := filepath.Join(t.TempDir(), "cfg", "config.toml")

	out, err := runCommand(t, "config", "init", "--path", path)
	if err != nil {
		t.Fatalf("config init error = %v", err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("init output = %q", out)
	}
	if _, err := runCommand(t, "config", "init", "--path", path); err == nil {
		t.Error("second config init without --overwrite succeeded")
	}

	out, err = runCommand(t, "--config", path, "config", "show")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	if !strings.Contains(out, "backend = 'libnfc'") && !strings.Contains(out, `backend = "libnfc"`) {
		t.Errorf("config show = %q", out)
	}
}

func TestAgentLockIsExclusive(t *testing.T) {
	cfgPath := writeTestConfig(t, "http://localhost:1", "mock")
	cfg, _, _, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}

	first, err := NewAgent(cfg, nil)
	if err != nil {
		t.Fatalf("NewAgent() error = %v", err)
	}
	defer first.Close()
	if err := first.Lock(); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	second, err := NewAgent(cfg, nil)
	if err != nil {
		t.Fatalf("NewAgent() error = %v", err)
	}
	defer second.Close()
	if err := second.Lock(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Lock() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestBuildCapabilityMock(t *testing.T) {
	cfg := config.Default()
	cfg.Reader.Backend = config.BackendMock
	cfg.Reader.Device = "a1b2"

	capability, phones, err := buildCapability(&cfg, nil)
	if err != nil {
		t.Fatalf("buildCapability() error = %v", err)
	}
	if phones != nil {
		t.Error("mock backend created a phone manager")
	}
	tag, _ := capability.GetTag(context.Background())
	if ident := nfc.Resolve(tag); ident == nil || ident.NFCID != "A1B2" {
		t.Errorf("mock tag resolved to %+v", ident)
	}
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	if err := printResult(&buf, &kiosk.Result{Outcome: journal.OutcomeCancelled}, false); err != nil {
		t.Errorf("cancelled result error = %v, want nil", err)
	}
	if buf.Len() != 0 {
		t.Errorf("cancelled result printed %q, want nothing", buf.String())
	}
	err := printResult(&buf, &kiosk.Result{Outcome: journal.OutcomeUnreadable, Alert: &kiosk.Alert{Message: kiosk.MsgUnreadable}}, false)
	if err == nil || err.Error() != kiosk.MsgUnreadable {
		t.Errorf("unreadable result error = %v", err)
	}
}

func TestRenderHistoryPlain(t *testing.T) {
	out := renderHistory([]journal.Entry{{Action: "status", Outcome: journal.OutcomeCancelled}}, false)
	if !strings.Contains(out, "cancelled") || !strings.Contains(out, "-") {
		t.Errorf("renderHistory() = %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("renderHistory() colorized without a terminal")
	}
}
