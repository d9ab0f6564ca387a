package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/fongpn/fmfv6/internal/audit"
	"github.com/fongpn/fmfv6/internal/gate"
	"github.com/fongpn/fmfv6/internal/obs"
)

type secureLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resolveRequestBody struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

const pendingMessage = "Login from this location requires approval. Your request is pending review."

func (a *API) handleSecureLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req secureLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// The address comes from connection metadata, never from the body.
	address := clientIP(r)

	result, err := a.gate.AttemptLogin(r.Context(), req.Email, req.Password, address)
	if err != nil {
		obs.ObserveLoginOutcome(loginFailureOutcome(err))
		_ = audit.LogEvent(r.Context(), "gate.login.rejected", map[string]any{
			"address": address,
		})
		handleLoginError(w, r, err)
		return
	}

	switch result.Outcome {
	case gate.OutcomeDeferred:
		obs.ObserveLoginOutcome("deferred")
		_ = audit.LogEvent(r.Context(), "gate.login.deferred", map[string]any{
			"address":           address,
			"access_request_id": result.RequestID,
		})
		// No user, profile or session fields here: their absence is the
		// contract signal for the pending state.
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    false,
			"status":     "PENDING_APPROVAL",
			"message":    pendingMessage,
			"request_id": result.RequestID,
		})
	default:
		obs.ObserveLoginOutcome("granted")
		_ = audit.LogEvent(r.Context(), "gate.login.granted", map[string]any{
			"address":    address,
			"profile_id": result.Profile.ID,
			"role":       string(result.Profile.Role),
		})
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"user":    result.User,
			"profile": result.Profile,
			"session": result.Session,
		})
	}
}

func (a *API) handleLoginStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/secure-login/status/")
	id = strings.Trim(id, "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "Request not found")
		return
	}

	status, err := a.gate.RequestStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, gate.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "Request not found")
			return
		}
		handleGateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleResolveRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	resolver, ok := gate.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}

	var req resolveRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	action := gate.Action(strings.ToUpper(strings.TrimSpace(req.Action)))
	resolution, err := a.gate.ResolveRequest(r.Context(), req.RequestID, action, resolver)
	if err != nil {
		handleResolveError(w, r, err)
		return
	}

	obs.ObserveResolution(string(resolution.Action))
	event := "gate.request.denied"
	message := "Access request denied"
	if resolution.Action == gate.ActionApprove {
		event = "gate.request.approved"
		message = "Access request approved"
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"access_request_id": resolution.RequestID,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"action":  resolution.Action,
		"message": message,
	})
}

func (a *API) handleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, pair, err := a.identity.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    map[string]any{"id": user.ID, "email": user.Email},
		"session": pair,
	})
}

// loginFailureOutcome maps a failed login to its metric label. Storage
// outages are counted apart from genuine rejections so the rejection series
// tracks credential and role failures only.
func loginFailureOutcome(err error) string {
	if errors.Is(err, gate.ErrStorageUnavailable) {
		return "error"
	}
	return "rejected"
}

func handleLoginError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, gate.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, gate.ErrProfileNotFound):
		writeError(w, r, http.StatusNotFound, "Profile not found")
	case errors.Is(err, gate.ErrUnknownRole):
		writeError(w, r, http.StatusForbidden, "Invalid user role")
	default:
		handleGateError(w, r, err)
	}
}

func handleResolveError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, gate.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "Administrator role required")
	case errors.Is(err, gate.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "Request not found")
	case errors.Is(err, gate.ErrAlreadyResolved):
		writeError(w, r, http.StatusBadRequest, "Request already resolved")
	case errors.Is(err, gate.ErrBadAction):
		writeError(w, r, http.StatusBadRequest, "Action must be APPROVE or DENY")
	default:
		handleGateError(w, r, err)
	}
}

func handleGateError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, gate.ErrStorageUnavailable) {
		writeError(w, r, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	writeError(w, r, http.StatusInternalServerError, "internal error")
}
