package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"securevpn/internal/api"
	"securevpn/internal/config"
	"securevpn/internal/model"
	"securevpn/internal/store"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	tmp := t.TempDir()
	cfg := config.Config{Relay: config.RelayConfig{DataDir: tmp, Listen: "127.0.0.1:0"}}
	config.ApplyDefaults(&cfg)
	cfg.Relay.RateLimit = 1000
	cfg.Relay.RateBurst = 1000

	s, err := NewServer(cfg.Relay)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s, tmp
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleAction_ServersDefault(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing cors header")
	}
	var resp api.ServersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Servers) != 6 || resp.Servers[4].Country != "Tokyo" || resp.Servers[4].Ping != 156 {
		t.Fatalf("servers=%+v", resp.Servers)
	}
}

func TestHandleAction_ConnectDisconnect(t *testing.T) {
	t.Parallel()
	s, tmp := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/?action=connect", api.ConnectRequest{ServerID: "3"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var opened api.ConnectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &opened); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !opened.Success || opened.SessionID == "" || opened.EndpointAddress != "138.68.73.224" {
		t.Fatalf("connect=%+v", opened)
	}
	if got := testutil.ToFloat64(s.metrics.Active); got != 1 {
		t.Fatalf("active=%v", got)
	}

	ledger, err := store.LoadLedger(filepath.Join(tmp, "sessions.yaml"))
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	if len(ledger.Sessions) != 1 || ledger.Sessions[0].Status != store.StatusConnected || ledger.Sessions[0].ServerID != "3" {
		t.Fatalf("ledger=%+v", ledger.Sessions)
	}

	rec = do(t, h, http.MethodPost, "/?action=disconnect", api.DisconnectRequest{SessionID: string(opened.SessionID)})
	var closed api.DisconnectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &closed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !closed.Success {
		t.Fatalf("disconnect=%+v", closed)
	}
	if got := testutil.ToFloat64(s.metrics.Closed); got != 1 {
		t.Fatalf("closed=%v", got)
	}
	if got := testutil.ToFloat64(s.metrics.Active); got != 0 {
		t.Fatalf("active=%v", got)
	}

	rec = do(t, h, http.MethodPost, "/?action=disconnect", api.DisconnectRequest{SessionID: string(opened.SessionID)})
	closed = api.DisconnectResponse{}
	_ = json.Unmarshal(rec.Body.Bytes(), &closed)
	if closed.Success {
		t.Fatalf("second disconnect succeeded")
	}
}

func TestHandleAction_UnknownServerRefused(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodPost, "/?action=connect", api.ConnectRequest{ServerID: "99"})
	var resp api.ConnectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || resp.Success || resp.SessionID != "" {
		t.Fatalf("status=%d resp=%+v", rec.Code, resp)
	}
}

func TestHandleAction_OptionsAndNotFound(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodOptions, "/?action=connect", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "POST") {
		t.Fatalf("options status=%d headers=%v", rec.Code, rec.Header())
	}

	rec = do(t, h, http.MethodGet, "/?action=connect", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
	var resp api.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Error != "Not found" {
		t.Fatalf("body=%s err=%v", rec.Body.String(), err)
	}
}

func TestHandleAction_RateLimited(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Relay: config.RelayConfig{DataDir: t.TempDir(), RateLimit: 0.001, RateBurst: 2}}
	config.ApplyDefaults(&cfg)
	s, err := NewServer(cfg.Relay)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	h := s.Handler()

	for i := 0; i < 2; i++ {
		if rec := do(t, h, http.MethodGet, "/?action=servers", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d status=%d", i, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodGet, "/?action=servers", nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestServer_ServesAPIClient(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	hs := httptest.NewServer(s.Handler())
	defer hs.Close()

	c := api.NewClient(hs.URL, time.Second)
	ctx := context.Background()

	eps, err := c.ListServers(ctx)
	if err != nil {
		t.Fatalf("ListServers: %v", err)
	}
	if len(eps) != 6 {
		t.Fatalf("endpoints=%d", len(eps))
	}

	var open model.OpenResult
	if open, err = c.OpenSession(ctx, eps[0].ID); err != nil || !open.Success {
		t.Fatalf("OpenSession: %+v %v", open, err)
	}
	closeRes, err := c.CloseSession(ctx, open.SessionID)
	if err != nil || !closeRes.Success {
		t.Fatalf("CloseSession: %+v %v", closeRes, err)
	}

	rec := do(t, s.Handler(), http.MethodGet, "/metrics", nil)
	if !strings.Contains(rec.Body.String(), "securevpn_relay_sessions_opened_total") {
		t.Fatalf("metrics missing opened counter")
	}
}

func TestNewServer_RestoresActiveGauge(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	l := &store.Ledger{}
	l.Open(store.SessionRecord{ID: "a", ServerID: "1"})
	l.Open(store.SessionRecord{ID: "b", ServerID: "2"})
	if err := store.SaveLedger(filepath.Join(tmp, "sessions.yaml"), l); err != nil {
		t.Fatalf("SaveLedger: %v", err)
	}

	cfg := config.Config{Relay: config.RelayConfig{DataDir: tmp}}
	config.ApplyDefaults(&cfg)
	s, err := NewServer(cfg.Relay)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if got := testutil.ToFloat64(s.metrics.Active); got != 2 {
		t.Fatalf("active=%v", got)
	}
}

func TestHandleAction_DisconnectSaveFailureKeepsSessionOpen(t *testing.T) {
	t.Parallel()
	s, tmp := newTestServer(t)
	h := s.Handler()
	path := filepath.Join(tmp, "sessions.yaml")

	rec := do(t, h, http.MethodPost, "/?action=connect", api.ConnectRequest{ServerID: "1"})
	var opened api.ConnectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &opened); err != nil || !opened.Success {
		t.Fatalf("connect=%+v err=%v", opened, err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	req := api.DisconnectRequest{SessionID: string(opened.SessionID)}
	if rec = do(t, h, http.MethodPost, "/?action=disconnect", req); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if got := s.ledger.Active(); got != 1 {
		t.Fatalf("in-memory active=%d", got)
	}
	if s.ledger.Sessions[0].Status != store.StatusConnected || !s.ledger.Sessions[0].DisconnectedAt.IsZero() {
		t.Fatalf("record=%+v", s.ledger.Sessions[0])
	}
	if got := testutil.ToFloat64(s.metrics.Active); got != 1 {
		t.Fatalf("active gauge=%v", got)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	rec = do(t, h, http.MethodPost, "/?action=disconnect", req)
	var closed api.DisconnectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &closed); err != nil || !closed.Success {
		t.Fatalf("retry=%s err=%v", rec.Body.String(), err)
	}
	if got := testutil.ToFloat64(s.metrics.Active); got != 0 {
		t.Fatalf("active gauge=%v", got)
	}
}

func TestHandleAction_ConnectSaveFailureLeavesNoSession(t *testing.T) {
	t.Parallel()
	s, tmp := newTestServer(t)

	if err := os.Mkdir(filepath.Join(tmp, "sessions.yaml"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	rec := do(t, s.Handler(), http.MethodPost, "/?action=connect", api.ConnectRequest{ServerID: "1"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if len(s.ledger.Sessions) != 0 {
		t.Fatalf("sessions=%+v", s.ledger.Sessions)
	}
}

func TestHandleAction_PrunesClosedSessionsPastRetention(t *testing.T) {
	t.Parallel()
	s, tmp := newTestServer(t)
	h := s.Handler()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	rec := do(t, h, http.MethodPost, "/?action=connect", api.ConnectRequest{ServerID: "1"})
	var first api.ConnectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil || !first.Success {
		t.Fatalf("connect=%+v err=%v", first, err)
	}
	do(t, h, http.MethodPost, "/?action=disconnect", api.DisconnectRequest{SessionID: string(first.SessionID)})

	now = now.Add(time.Duration(config.DefaultRetentionHours+1) * time.Hour)
	rec = do(t, h, http.MethodPost, "/?action=connect", api.ConnectRequest{ServerID: "2"})
	var second api.ConnectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil || !second.Success {
		t.Fatalf("connect=%+v err=%v", second, err)
	}

	ledger, err := store.LoadLedger(filepath.Join(tmp, "sessions.yaml"))
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	if len(ledger.Sessions) != 1 || ledger.Sessions[0].ID != string(second.SessionID) {
		t.Fatalf("ledger=%+v", ledger.Sessions)
	}
}
