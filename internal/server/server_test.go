package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/skyline-avionics/magic/internal/accounting"
	"github.com/skyline-avionics/magic/internal/dataplane"
	"github.com/skyline-avionics/magic/internal/hostcfg"
	"github.com/skyline-avionics/magic/internal/linkreg"
	"github.com/skyline-avionics/magic/internal/server"
	"github.com/skyline-avionics/magic/internal/session"
)

// fakeConntrackReader always reports zero counters, for tests that only
// exercise allocate/release/switch plumbing rather than accounting math.
type fakeConntrackReader struct{}

func (fakeConntrackReader) ReadByMark(_ context.Context, marks []uint16) (map[uint16]accounting.Counters, error) {
	out := make(map[uint16]accounting.Counters, len(marks))
	for _, m := range marks {
		out[m] = accounting.Counters{}
	}
	return out, nil
}

// setupTestServer wires a full engine stack backed by in-memory test
// doubles and returns an httptest.Server fronting the HTTP API.
func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	cfg := hostcfg.NewMemoryBackend()
	registry := linkreg.NewRegistry()
	dp := dataplane.New(cfg)
	acct := accounting.New(cfg, fakeConntrackReader{})
	assigner := session.NewStaticAssigner("10.0.0.1", "8.8.8.8", "8.8.4.4")
	mgr := session.New(registry, dp, acct, assigner)

	linkID, err := registry.Register(linkreg.Capability{
		Type:             linkreg.LinkTypeSatcom,
		InterfaceName:    "sat0",
		MaxFwdKbps:       10000,
		MaxRevKbps:       10000,
		TypicalLatencyMs: 600,
		SecurityLevel:    2,
		Priority:         10,
		CostPerMB:        0.5,
		RSSIMin:          -100,
		RSSIMax:          -40,
	})
	if err != nil {
		t.Fatalf("register link: %v", err)
	}
	if err := registry.ApplyEvent(linkID, linkreg.EventDetected, -60); err != nil {
		t.Fatalf("apply detected: %v", err)
	}
	if err := registry.ApplyEvent(linkID, linkreg.EventUp, -60); err != nil {
		t.Fatalf("apply up: %v", err)
	}
	if _, _, err := dp.BindLink(context.Background(), linkID, "sat0", "10.0.0.1"); err != nil {
		t.Fatalf("bind link: %v", err)
	}

	handler := server.New(mgr, registry, logger)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		t.Fatalf("encode: %v", err)
	}
	resp, err := http.Post(url, "application/json", buf)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestAllocateReleaseRoundTrip(t *testing.T) {
	t.Parallel()

	srv := setupTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/sessions", map[string]any{
		"client_id":    "client-1",
		"client_ip":    "192.0.2.10",
		"req_fwd_kbps": 512,
		"req_rev_kbps": 256,
		"qos_class":    1,
		"max_delay_ms": 1000,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("allocate: status=%d", resp.StatusCode)
	}

	var allocated struct {
		ResultCode int    `json:"result_code"`
		SessionID  uint32 `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&allocated); err != nil {
		t.Fatalf("decode allocate response: %v", err)
	}
	if allocated.ResultCode != 2001 {
		t.Fatalf("result_code = %d, want 2001", allocated.ResultCode)
	}
	if allocated.SessionID == 0 {
		t.Fatalf("expected nonzero session id")
	}

	getResp, err := http.Get(fmt.Sprintf("%s/v1/sessions/%d", srv.URL, allocated.SessionID))
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get session: status=%d", getResp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/v1/sessions/%d", srv.URL, allocated.SessionID), nil)
	if err != nil {
		t.Fatalf("new delete request: %v", err)
	}
	delResp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("release: status=%d", delResp.StatusCode)
	}
}

func TestAllocateNoLinkAvailable(t *testing.T) {
	t.Parallel()

	srv := setupTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/sessions", map[string]any{
		"client_id":    "client-2",
		"client_ip":    "192.0.2.20",
		"req_fwd_kbps": 999999,
		"req_rev_kbps": 999999,
		"qos_class":    1,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestListLinks(t *testing.T) {
	t.Parallel()

	srv := setupTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/links")
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var links []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&links); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("len(links) = %d, want 1", len(links))
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := setupTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
