package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"

	"credvault/internal/credential"
	"credvault/pkg/logging"
)

// Handler exposes the coordinator over HTTP: flow initiation, the IdP
// callback, progress polling, and one-time error reads. It is deliberately
// thin; anything beyond these four endpoints belongs to a fronting service.
type Handler struct {
	coordinator *Coordinator
	source      *credential.Source
	mux         *http.ServeMux
}

// NewHandler creates the HTTP surface for the coordinator and the
// read-through credential source.
func NewHandler(coordinator *Coordinator, source *credential.Source) *Handler {
	h := &Handler{
		coordinator: coordinator,
		source:      source,
		mux:         http.NewServeMux(),
	}
	h.mux.HandleFunc("POST /flows", h.handleInitiate)
	h.mux.HandleFunc("GET /oauth/callback", h.handleCallback)
	h.mux.HandleFunc("GET /flows/progress/{id}", h.handleProgress)
	h.mux.HandleFunc("GET /flows/errors/{state}", h.handleFlowError)
	h.mux.HandleFunc("GET /credentials/{tenant}/{client}", h.handleAccessToken)
	h.mux.HandleFunc("DELETE /credentials/{tenant}/{client}", h.handleRevoke)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type initiateRequest struct {
	ClientRef   string `json:"clientRef"`
	TenantRef   string `json:"tenantRef"`
	Tier        string `json:"tier"`
	Description string `json:"description,omitempty"`
}

type initiateResponse struct {
	AuthorizationURL string     `json:"authorizationUrl,omitempty"`
	State            string     `json:"state,omitempty"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`

	ProgressID string `json:"progressId,omitempty"`
	Status     Status `json:"status,omitempty"`
}

func (h *Handler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ClientRef == "" || req.TenantRef == "" {
		writeJSONError(w, http.StatusBadRequest, "clientRef and tenantRef are required")
		return
	}
	tier, ok := credential.ParseTier(req.Tier)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown tier %q", req.Tier))
		return
	}

	result, err := h.coordinator.InitiateFlow(r.Context(), req.ClientRef, req.TenantRef, tier, req.Description)
	if err != nil {
		logging.Error("Flow", err, "Flow initiation failed for tenant=%s", req.TenantRef)
		writeJSONError(w, http.StatusBadGateway, "flow initiation failed")
		return
	}

	resp := initiateResponse{}
	status := http.StatusOK
	if result.Provisioning {
		resp.ProgressID = result.ProgressID
		resp.Status = StatusCreating
		status = http.StatusAccepted
	} else {
		resp.AuthorizationURL = result.AuthorizationURL
		resp.State = result.State
		resp.ExpiresAt = &result.ExpiresAt
	}
	writeJSON(w, status, resp)
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	progress := h.coordinator.GetProgress(r.PathValue("id"))
	if progress == nil {
		writeJSONError(w, http.StatusNotFound, "unknown or expired progress id")
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *Handler) handleFlowError(w http.ResponseWriter, r *http.Request) {
	rec := h.coordinator.GetFlowError(r.PathValue("state"))
	if rec == nil {
		writeJSONError(w, http.StatusNotFound, "no error recorded for this state")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type accessTokenResponse struct {
	Tier        string    `json:"tier"`
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Scope       string    `json:"scope,omitempty"`
}

// handleAccessToken serves the downstream consumer contract: cache first,
// store plus refresh on a miss.
func (h *Handler) handleAccessToken(w http.ResponseWriter, r *http.Request) {
	tierName := r.URL.Query().Get("tier")
	if tierName == "" {
		tierName = "resource-manager"
	}
	tier, ok := credential.ParseTier(tierName)
	if !ok || tier == credential.TierBoth {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("tier must be resource-manager or directory-graph, got %q", tierName))
		return
	}

	ref := credential.Ref{TenantRef: r.PathValue("tenant"), ClientRef: r.PathValue("client")}
	ts, err := h.source.AccessToken(r.Context(), ref, tier)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, accessTokenResponse{
			Tier:        tier.String(),
			AccessToken: ts.AccessToken,
			ExpiresAt:   ts.ExpiresAt,
			Scope:       ts.Scope,
		})
	case errors.Is(err, credential.ErrNoCredential):
		writeJSONError(w, http.StatusNotFound, "no credential stored for this tenant and client")
	case errors.Is(err, credential.ErrReconsentRequired):
		writeJSONError(w, http.StatusConflict, "credentials expired, re-run the authorization flow for this tier")
	default:
		logging.Error("Flow", err, "Access token read failed for client=%s", ref.ClientRef)
		writeJSONError(w, http.StatusBadGateway, "credential read failed")
	}
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ref := credential.Ref{TenantRef: r.PathValue("tenant"), ClientRef: r.PathValue("client")}
	if err := h.source.Revoke(r.Context(), ref); err != nil {
		logging.Error("Flow", err, "Revoke failed for client=%s", ref.ClientRef)
		writeJSONError(w, http.StatusBadGateway, "revoke failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCallback is the browser-facing IdP redirect target. It renders
// small HTML pages because the party on the other end is a browser, not an
// API client.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")
	errParam := q.Get("error")
	errDescription := q.Get("error_description")

	if state == "" || (code == "" && errParam == "") {
		logging.Warn("Flow", "Callback missing code or state parameter")
		h.renderErrorPage(w, "Invalid callback: missing required parameters.")
		return
	}

	if h.coordinator.HandleCallback(r.Context(), code, state, errParam, errDescription) {
		h.renderSuccessPage(w)
		return
	}

	message := "Authorization could not be completed. Please try again."
	// Peek rather than consume: the one-time read belongs to the API
	// poller, not the browser page.
	if rec := h.coordinator.flowErrors.peek(state); rec != nil {
		message = rec.UserMessage
	}
	h.renderErrorPage(w, message)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Flow", err, "Failed to encode JSON response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// setSecurityHeaders sets recommended security headers for HTML responses.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}

func (h *Handler) renderSuccessPage(w http.ResponseWriter) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Authorization Successful</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: #16213e;
            color: #e8e8e8;
            display: flex;
            align-items: center;
            justify-content: center;
            min-height: 100vh;
            margin: 0;
        }
        .card {
            text-align: center;
            padding: 3rem;
            background: rgba(255, 255, 255, 0.05);
            border-radius: 16px;
            max-width: 480px;
        }
        h1 { color: #00d4aa; font-size: 1.5rem; }
        p { color: #a0a0a0; line-height: 1.6; }
    </style>
</head>
<body>
    <div class="card">
        <h1>&#10003; Authorization Successful</h1>
        <p>Your credentials have been stored securely.</p>
        <p>You can now close this window.</p>
    </div>
</body>
</html>`)
}

func (h *Handler) renderErrorPage(w http.ResponseWriter, message string) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)

	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Authorization Failed</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: #16213e;
            color: #e8e8e8;
            display: flex;
            align-items: center;
            justify-content: center;
            min-height: 100vh;
            margin: 0;
        }
        .card {
            text-align: center;
            padding: 3rem;
            background: rgba(255, 255, 255, 0.05);
            border-radius: 16px;
            max-width: 480px;
        }
        h1 { color: #ff6b6b; font-size: 1.5rem; }
        p { color: #a0a0a0; line-height: 1.6; }
    </style>
</head>
<body>
    <div class="card">
        <h1>&#10007; Authorization Failed</h1>
        <p>%s</p>
        <p>Please return to the application and try again.</p>
    </div>
</body>
</html>`, html.EscapeString(message))
}
