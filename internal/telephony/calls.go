package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// maxRequestBody bounds JSON request bodies of the call API.
const maxRequestBody = 16 << 10

// CallPlacer places and ends carrier calls. [*Client] satisfies it.
type CallPlacer interface {
	CreateCall(ctx context.Context, to, from, webhookURL string) (*CallResource, error)
	Hangup(ctx context.Context, callSID string) (*CallResource, error)
}

var _ CallPlacer = (*Client)(nil)

// OutboundCallRequest is the JSON body of POST /outbound-call.
type OutboundCallRequest struct {
	To         string `json:"to"`
	WebhookURL string `json:"webhook_url"`
	From       string `json:"from,omitempty"`
}

// CallResponse is returned by the call API.
type CallResponse struct {
	CallSID string `json:"call_sid"`
	Status  string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// CallsAPI exposes outbound call placement and hangup over HTTP.
type CallsAPI struct {
	placer CallPlacer
	log    *slog.Logger
}

// NewCallsAPI creates the call API. A nil logger uses [slog.Default].
func NewCallsAPI(placer CallPlacer, log *slog.Logger) *CallsAPI {
	if log == nil {
		log = slog.Default()
	}
	return &CallsAPI{placer: placer, log: log}
}

// Register adds POST /outbound-call and POST /calls/{sid}/hangup to mux.
func (a *CallsAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /outbound-call", a.OutboundCall)
	mux.HandleFunc("POST /calls/{sid}/hangup", a.Hangup)
}

// OutboundCall places a call whose setup webhook is webhook_url.
func (a *CallsAPI) OutboundCall(w http.ResponseWriter, r *http.Request) {
	var req OutboundCallRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	req.To = strings.TrimSpace(req.To)
	req.WebhookURL = strings.TrimSpace(req.WebhookURL)
	if req.To == "" || req.WebhookURL == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "to and webhook_url are required"})
		return
	}

	call, err := a.placer.CreateCall(r.Context(), req.To, req.From, req.WebhookURL)
	if err != nil {
		a.log.Error("telephony: outbound call failed", "to", req.To, "err", err)
		writeJSON(w, upstreamStatus(err), errorResponse{Error: err.Error()})
		return
	}
	a.log.Info("telephony: outbound call placed", "call_id", call.SID, "to", req.To, "status", call.Status)
	writeJSON(w, http.StatusOK, CallResponse{CallSID: call.SID, Status: call.Status})
}

// Hangup ends the call named by the sid path value.
func (a *CallsAPI) Hangup(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	call, err := a.placer.Hangup(r.Context(), sid)
	if err != nil {
		a.log.Error("telephony: hangup failed", "call_id", sid, "err", err)
		writeJSON(w, upstreamStatus(err), errorResponse{Error: err.Error()})
		return
	}
	a.log.Info("telephony: call ended", "call_id", call.SID, "status", call.Status)
	writeJSON(w, http.StatusOK, CallResponse{CallSID: call.SID, Status: call.Status})
}

// upstreamStatus maps carrier errors onto our response status. Request
// errors reported by the carrier (unknown call, bad number) stay 4xx; our own
// credential failures are a gateway problem.
func upstreamStatus(err error) int {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return http.StatusBadGateway
	}
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
		return http.StatusBadGateway
	case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		return apiErr.StatusCode
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
