package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// errAPI is wrapped with the decoded server error message so callers can
// match it with errors.Is while still seeing the underlying text.
var errAPI = errors.New("magicd api error")

// apiClient is a thin HTTP+JSON client for magicd's control-plane API
// (internal/server). There is no generated stub for this surface — it is
// plain net/http, matching the wire shapes server.go defines.
type apiClient struct {
	baseURL string
	hc      *http.Client
}

func newAPIClient(baseURL string, hc *http.Client) *apiClient {
	return &apiClient{baseURL: baseURL, hc: hc}
}

type allocateRequest struct {
	ClientID    string `json:"client_id"`
	ClientIP    string `json:"client_ip"`
	MinFwdKbps  uint32 `json:"min_fwd_kbps"`
	MinRevKbps  uint32 `json:"min_rev_kbps"`
	ReqFwdKbps  uint32 `json:"req_fwd_kbps"`
	ReqRevKbps  uint32 `json:"req_rev_kbps"`
	QoSClass    uint8  `json:"qos_class"`
	MaxDelayMs  uint32 `json:"max_delay_ms"`
	MinSecurity uint8  `json:"min_security"`
	Persistent  bool   `json:"persistent"`
	TimeoutSec  uint32 `json:"timeout_sec"`
	FlightPhase string `json:"flight_phase"`
}

type allocateResponse struct {
	ResultCode     int    `json:"result_code"`
	Message        string `json:"message"`
	SessionID      uint32 `json:"session_id"`
	GrantedFwdKbps uint32 `json:"granted_fwd_kbps"`
	GrantedRevKbps uint32 `json:"granted_rev_kbps"`
	LocalIP        string `json:"local_ip"`
	Gateway        string `json:"gateway"`
	DNSPrimary     string `json:"dns_primary"`
	DNSSecondary   string `json:"dns_secondary"`
}

type switchRequest struct {
	TargetLinkID string `json:"target_link_id"`
}

type sessionView struct {
	SessionID      uint32 `json:"session_id"`
	ClientID       string `json:"client_id"`
	LinkID         string `json:"link_id"`
	State          string `json:"state"`
	GrantedFwdKbps uint32 `json:"granted_fwd_kbps"`
	GrantedRevKbps uint32 `json:"granted_rev_kbps"`
	QoSClass       uint8  `json:"qos_class"`
}

type statsView struct {
	BytesIn    uint64 `json:"bytes_in"`
	BytesOut   uint64 `json:"bytes_out"`
	PacketsIn  uint64 `json:"packets_in"`
	PacketsOut uint64 `json:"packets_out"`
}

type linkView struct {
	LinkID        string  `json:"link_id"`
	Type          string  `json:"type"`
	State         string  `json:"state"`
	RSSIdBm       int32   `json:"rssi_dbm"`
	SignalQuality int     `json:"signal_quality"`
	CurrentFwd    uint32  `json:"current_fwd_kbps"`
	CurrentRev    uint32  `json:"current_rev_kbps"`
	ActiveBearers int     `json:"active_bearers"`
	Priority      uint32  `json:"priority"`
	CostPerMB     float64 `json:"cost_per_mb"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *apiClient) do(ctx context.Context, method, path string, reqBody, respBody any) (int, error) {
	var buf io.Reader
	if reqBody != nil {
		b := new(bytes.Buffer)
		if err := json.NewEncoder(b).Encode(reqBody); err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		buf = b
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Error == "" {
			eb.Error = resp.Status
		}
		return resp.StatusCode, fmt.Errorf("%w: %s", errAPI, eb.Error)
	}

	if respBody != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

func (c *apiClient) Allocate(ctx context.Context, req allocateRequest) (allocateResponse, error) {
	var resp allocateResponse
	_, err := c.do(ctx, http.MethodPost, "/v1/sessions", req, &resp)
	if err != nil {
		return resp, err
	}
	if resp.ResultCode != 2001 {
		return resp, fmt.Errorf("%w: %s (code %d)", errAPI, resp.Message, resp.ResultCode)
	}
	return resp, nil
}

func (c *apiClient) Release(ctx context.Context, id uint32) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/sessions/%d", id), nil, nil)
	return err
}

func (c *apiClient) Switch(ctx context.Context, id uint32, targetLinkID string) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/sessions/%d/switch", id),
		switchRequest{TargetLinkID: targetLinkID}, nil)
	return err
}

func (c *apiClient) GetSession(ctx context.Context, id uint32) (sessionView, error) {
	var v sessionView
	_, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/sessions/%d", id), nil, &v)
	return v, err
}

func (c *apiClient) ListSessions(ctx context.Context) ([]sessionView, error) {
	var v []sessionView
	_, err := c.do(ctx, http.MethodGet, "/v1/sessions", nil, &v)
	return v, err
}

func (c *apiClient) SessionStats(ctx context.Context, id uint32) (statsView, error) {
	var v statsView
	_, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/sessions/%d/stats", id), nil, &v)
	return v, err
}

func (c *apiClient) ClientStats(ctx context.Context, clientID string) (statsView, error) {
	var v statsView
	_, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/clients/%s/stats", clientID), nil, &v)
	return v, err
}

func (c *apiClient) AllStats(ctx context.Context) (statsView, error) {
	var v statsView
	_, err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &v)
	return v, err
}

func (c *apiClient) ListLinks(ctx context.Context) ([]linkView, error) {
	var v []linkView
	_, err := c.do(ctx, http.MethodGet, "/v1/links", nil, &v)
	return v, err
}
