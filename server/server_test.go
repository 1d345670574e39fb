package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotside-studios/davi-attendance/attendance"
	"github.com/dotside-studios/davi-attendance/journal"
	"github.com/dotside-studios/davi-attendance/kiosk"
	"github.com/dotside-studios/davi-attendance/nfc"
	"github.com/dotside-studios/davi-attendance/nfc/phonenfc"
)

type testEnv struct {
	server     *Server
	http       *httptest.Server
	capability *nfc.MockCapability
	store      *journal.Store
}

func newAttendanceAPI(t *testing.T) *httptest.Server {
	t.Helper()
	status := "check_out"
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == attendance.PathAttendance:
			var req attendance.Request
			json.NewDecoder(r.Body).Decode(&req)
			status = string(req.Action)
			json.NewEncoder(w).Encode(map[string]string{"nfc_id": req.NFCID, "status": status})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, attendance.PathInfo+"/"):
			nfcID := strings.TrimPrefix(r.URL.Path, attendance.PathInfo+"/")
			json.NewEncoder(w).Encode(map[string]string{"nfc_id": nfcID, "status": status, "name": "Ana"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(api.Close)
	return api
}

func newTestEnv(t *testing.T, configure func(*Config)) *testEnv {
	t.Helper()
	api := newAttendanceAPI(t)

	store, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	capability := nfc.NewMockCapability()
	capability.Tag = &nfc.RawTag{ID: nfc.ByteUID{0x04, 0xa2, 0x24, 0xbc}}
	k := kiosk.New(kiosk.Options{
		Capability: capability,
		API:        attendance.NewClient(api.URL, time.Second, nil),
		Journal:    store,
	})

	cfg := Config{Kiosk: k, History: store}
	if configure != nil {
		configure(&cfg)
	}
	s := New(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: s, http: ts, capability: capability, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, APIPrefix+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodOptions, APIPrefix+"/attendance/check-in")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, CORSAllowMethods, resp.Header.Get("Access-Control-Allow-Methods"))
}

func TestCheckInThenStatusAndHistory(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, APIPrefix+"/attendance/check-in")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[kiosk.Result](t, resp)
	assert.Equal(t, journal.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "04A224BC", res.NFCID)
	require.NotNil(t, res.Alert)
	assert.Equal(t, kiosk.MsgCheckInDone, res.Alert.Message)
	require.NotNil(t, res.Info)
	assert.Equal(t, "Ana", res.Info.Extra["name"])

	resp = env.do(t, http.MethodGet, APIPrefix+"/attendance/status")
	res = decode[kiosk.Result](t, resp)
	assert.Equal(t, kiosk.MsgStatusCheckIn, res.Alert.Message)

	state := decode[kiosk.State](t, env.do(t, http.MethodGet, APIPrefix+"/nfc"))
	assert.True(t, state.Supported)
	assert.Equal(t, "04A224BC", state.LastNFCID)

	entries := decode[[]journal.Entry](t, env.do(t, http.MethodGet, APIPrefix+"/history?limit=1"))
	require.Len(t, entries, 1)
	assert.Equal(t, "status", entries[0].Action)

	entries = decode[[]journal.Entry](t, env.do(t, http.MethodGet, APIPrefix+"/history?nfc_id=04A224BC"))
	assert.Len(t, entries, 2)
}

func TestHistoryRejectsBadLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, http.MethodGet, APIPrefix+"/history?limit=zero")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckOutMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, http.MethodGet, APIPrefix+"/attendance/check-out")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestActionsAreRateLimited(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.RatePerSecond = 0.001 })

	first := env.do(t, http.MethodPost, APIPrefix+"/attendance/check-in")
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := env.do(t, http.MethodPost, APIPrefix+"/attendance/check-out")
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "1", second.Header.Get("Retry-After"))

	// Reads are not throttled.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, APIPrefix+"/nfc").StatusCode)
}

func TestBusyAndCancel(t *testing.T) {
	env := newTestEnv(t, nil)
	env.capability.BlockRequest = true
	env.capability.RequestStarted = make(chan struct{}, 1)

	done := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Post(env.http.URL+APIPrefix+"/attendance/check-in", "application/json", nil)
		if err == nil {
			done <- resp
		}
		close(done)
	}()
	<-env.capability.RequestStarted

	busy := env.do(t, http.MethodPost, APIPrefix+"/attendance/check-out")
	assert.Equal(t, http.StatusConflict, busy.StatusCode)

	cancel := decode[map[string]bool](t, env.do(t, http.MethodPost, APIPrefix+"/scan/cancel"))
	assert.True(t, cancel["cancelled"])

	select {
	case resp, ok := <-done:
		require.True(t, ok)
		defer resp.Body.Close()
		res := decode[kiosk.Result](t, resp)
		assert.Equal(t, journal.OutcomeCancelled, res.Outcome)
		assert.Nil(t, res.Alert)
	case <-time.After(2 * time.Second):
		t.Fatal("check-in did not return after cancel")
	}
}

func TestBusyRequestDoesNotBroadcastScanning(t *testing.T) {
	env := newTestEnv(t, nil)
	env.capability.BlockRequest = true
	env.capability.RequestStarted = make(chan struct{}, 1)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var msg WebsocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Eventually(t, func() bool { return env.server.dashboard.count() == 1 }, time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if resp, err := http.Post(env.http.URL+APIPrefix+"/attendance/check-in", "application/json", nil); err == nil {
			resp.Body.Close()
		}
	}()
	<-env.capability.RequestStarted

	busy := env.do(t, http.MethodPost, APIPrefix+"/attendance/check-out")
	assert.Equal(t, http.StatusConflict, busy.StatusCode)
	env.do(t, http.MethodPost, APIPrefix+"/scan/cancel")
	<-done

	scanningBroadcasts := 0
	for {
		var raw struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&raw))
		if raw.Type != WSMessageTypeState {
			continue
		}
		var st kiosk.State
		require.NoError(t, json.Unmarshal(raw.Payload, &st))
		if !st.Scanning {
			break
		}
		scanningBroadcasts++
	}
	assert.Equal(t, 1, scanningBroadcasts)
}

func TestDashboardReceivesAlerts(t *testing.T) {
	env := newTestEnv(t, nil)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg map[string]json.RawMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.JSONEq(t, `"state"`, string(msg["type"]))

	require.Eventually(t, func() bool { return env.server.dashboard.count() == 1 }, time.Second, 10*time.Millisecond)
	env.do(t, http.MethodPost, APIPrefix+"/attendance/check-in")

	var alert kiosk.Alert
	for {
		require.NoError(t, conn.ReadJSON(&msg))
		if string(msg["type"]) == `"alert"` {
			require.NoError(t, json.Unmarshal(msg["payload"], &alert))
			break
		}
	}
	assert.Equal(t, kiosk.MsgCheckInDone, alert.Message)
	assert.Equal(t, kiosk.ActionCheckIn, alert.Action)
}

func TestPhoneConnectionsRouted(t *testing.T) {
	manager := phonenfc.NewManager(time.Minute, nil)
	t.Cleanup(func() { manager.Close() })
	phones := phonenfc.NewHandler(manager, phonenfc.ServerInfo{Name: "kiosk", Version: "dev"}, nil)
	env := newTestEnv(t, func(c *Config) { c.Phones = phones })

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws?mode=device"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	payload, _ := json.Marshal(phonenfc.DeviceRegistrationRequest{
		DeviceName:   "Front desk",
		Platform:     "ios",
		AppVersion:   "1.0.0",
		Capabilities: phonenfc.DeviceCapabilities{CanRead: true, NFCEnabled: true},
	})
	require.NoError(t, conn.WriteJSON(phonenfc.Request{ID: "1", Type: phonenfc.MessageTypeRegisterDevice, Payload: payload}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp phonenfc.Response
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, phonenfc.MessageTypeRegisterDeviceResponse, resp.Type)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, manager.GetDeviceCount())
}

func TestPhoneConnectionsDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, http.MethodGet, "/ws?mode=device")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	env := newTestEnv(t, nil)
	s := New(Config{Kiosk: env.server.config.Kiosk, Bind: "127.0.0.1", Port: 0})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}
