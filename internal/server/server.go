// Package server implements the control-plane HTTP+JSON API exposed by
// magicd over the Session Manager's public contract (allocate, release,
// switch, stats). The production wire protocol named in the
// specification is a Diameter-like binary AVP protocol and is out of
// scope here (see SPEC_FULL.md §6); this package is the management
// surface magicctl and any other operator tooling actually talks to.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/skyline-avionics/magic/internal/linkreg"
	"github.com/skyline-avionics/magic/internal/policy"
	"github.com/skyline-avionics/magic/internal/session"
)

// Server adapts the Session Manager and Link Driver Registry to HTTP.
type Server struct {
	mgr      *session.Manager
	registry *linkreg.Registry
	logger   *slog.Logger
}

// New builds a Server and returns its mux.Router wrapped in the Recovery
// and Logging middleware, ready to be served by an *http.Server (the
// caller, e.g. cmd/magicd, supplies the listen address).
func New(mgr *session.Manager, registry *linkreg.Registry, logger *slog.Logger) http.Handler {
	s := &Server{mgr: mgr, registry: registry, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/v1/sessions", s.handleAllocate).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions", s.handleListSessions).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions/{id}", s.handleRelease).Methods(http.MethodDelete)
	r.HandleFunc("/v1/sessions/{id}/switch", s.handleSwitch).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions/{id}/stats", s.handleSessionStats).Methods(http.MethodGet)
	r.HandleFunc("/v1/clients/{id}/stats", s.handleClientStats).Methods(http.MethodGet)
	r.HandleFunc("/v1/stats", s.handleAllStats).Methods(http.MethodGet)
	r.HandleFunc("/v1/links", s.handleListLinks).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	return Recovery(logger)(Logging(logger)(r))
}

// -------------------------------------------------------------------------
// Wire types
// -------------------------------------------------------------------------

// allocateRequest is the JSON body of POST /v1/sessions.
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

// allocateResponse mirrors spec.md §4.F's response contract: granted
// rates, session id, and addressing, plus a numeric result code and a
// short message, matching the wire protocol's result-code/message shape
// even though the transport here is JSON, not Diameter AVPs.
type allocateResponse struct {
	ResultCode     int    `json:"result_code"`
	Message        string `json:"message"`
	SessionID      uint32 `json:"session_id,omitempty"`
	GrantedFwdKbps uint32 `json:"granted_fwd_kbps,omitempty"`
	GrantedRevKbps uint32 `json:"granted_rev_kbps,omitempty"`
	LocalIP        string `json:"local_ip,omitempty"`
	Gateway        string `json:"gateway,omitempty"`
	DNSPrimary     string `json:"dns_primary,omitempty"`
	DNSSecondary   string `json:"dns_secondary,omitempty"`
}

// resultCodeSuccess mirrors the wire protocol's Result-Code AVP success
// value (spec.md §6: "2001 means success").
const resultCodeSuccess = 2001

// resultCodeUnableToComply is returned for any allocate/switch failure;
// the human-readable message distinguishes the cause, matching the wire
// protocol's "numeric result-code and a UTF-8 message" contract.
const resultCodeUnableToComply = 5012

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
	LinkID        string `json:"link_id"`
	Type          string `json:"type"`
	State         string `json:"state"`
	RSSIdBm       int32  `json:"rssi_dbm"`
	SignalQuality int    `json:"signal_quality"`
	CurrentFwd    uint32 `json:"current_fwd_kbps"`
	CurrentRev    uint32 `json:"current_rev_kbps"`
	ActiveBearers int    `json:"active_bearers"`
	Priority      uint32 `json:"priority"`
	CostPerMB     float64 `json:"cost_per_mb"`
}

// -------------------------------------------------------------------------
// Handlers
// -------------------------------------------------------------------------

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, allocateResponse{ResultCode: resultCodeUnableToComply, Message: "malformed request body"})
		return
	}

	resp, err := s.mgr.Allocate(r.Context(), session.Request{
		ClientID:    req.ClientID,
		ClientIP:    req.ClientIP,
		MinFwdKbps:  req.MinFwdKbps,
		MinRevKbps:  req.MinRevKbps,
		ReqFwdKbps:  req.ReqFwdKbps,
		ReqRevKbps:  req.ReqRevKbps,
		QoSClass:    req.QoSClass,
		MaxDelayMs:  req.MaxDelayMs,
		MinSecurity: req.MinSecurity,
		Persistent:  req.Persistent,
		TimeoutSec:  req.TimeoutSec,
		Phase:       parseFlightPhase(req.FlightPhase),
	})
	if err != nil {
		writeJSON(w, statusForAllocateError(err), allocateResponse{
			ResultCode: resultCodeUnableToComply,
			Message:    err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, allocateResponse{
		ResultCode:     resultCodeSuccess,
		Message:        "allocation successful",
		SessionID:      resp.SessionID,
		GrantedFwdKbps: resp.GrantedFwdKbps,
		GrantedRevKbps: resp.GrantedRevKbps,
		LocalIP:        resp.Granted.Local,
		Gateway:        resp.Granted.Gateway,
		DNSPrimary:     resp.Granted.DNSPrimary,
		DNSSecondary:   resp.Granted.DNSSecondary,
	})
}

func statusForAllocateError(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoLinkAvailable), errors.Is(err, session.ErrSessionCapacity),
		errors.Is(err, linkreg.ErrCapacityExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, err := pathSessionID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.mgr.Release(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	id, err := pathSessionID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var body switchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	linkID, err := linkreg.ParseLinkId(body.TargetLinkID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.mgr.Switch(r.Context(), id, linkID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, errorBody{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathSessionID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	rec, ok := s.mgr.Snapshot(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, recordToView(rec))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	recs := s.mgr.Snapshots()
	out := make([]sessionView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordToView(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathSessionID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	stats, err := s.mgr.Stats(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statsToView(stats))
}

func (s *Server) handleClientStats(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["id"]
	stats, err := s.mgr.ClientStats(r.Context(), clientID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statsToView(stats))
}

func (s *Server) handleAllStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.mgr.AllStats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statsToView(stats))
}

func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	snapshots := s.registry.Snapshots()
	out := make([]linkView, 0, len(snapshots))
	for _, snap := range snapshots {
		out = append(out, linkView{
			LinkID:        snap.ID.String(),
			Type:          snap.Capability.Type.String(),
			State:         snap.State.String(),
			RSSIdBm:       snap.RSSIdBm,
			SignalQuality: snap.SignalQuality,
			CurrentFwd:    snap.CurrentFwdKbps,
			CurrentRev:    snap.CurrentRevKbps,
			ActiveBearers: snap.ActiveBearers,
			Priority:      snap.Capability.Priority,
			CostPerMB:     snap.Capability.CostPerMB,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func pathSessionID(r *http.Request) (uint32, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid session id %q: %w", raw, err)
	}
	return uint32(id), nil
}

func recordToView(rec session.Record) sessionView {
	return sessionView{
		SessionID:      rec.ID,
		ClientID:       rec.ClientID,
		LinkID:         rec.LinkID.String(),
		State:          rec.State.String(),
		GrantedFwdKbps: rec.GrantedFwdKbps,
		GrantedRevKbps: rec.GrantedRevKbps,
		QoSClass:       rec.QoSClass,
	}
}

func statsToView(stats session.Stats) statsView {
	return statsView{
		BytesIn:    stats.BytesIn,
		BytesOut:   stats.BytesOut,
		PacketsIn:  stats.PacketsIn,
		PacketsOut: stats.PacketsOut,
	}
}

func parseFlightPhase(s string) policy.FlightPhase {
	switch s {
	case "gate":
		return policy.PhaseGate
	case "taxi":
		return policy.PhaseTaxi
	case "airborne":
		return policy.PhaseAirborne
	default:
		return policy.PhaseUnknown
	}
}
