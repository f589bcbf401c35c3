package httptransport

import (
	"encoding/json"
	"net/http"

	jsonutil "consentis/internal/transport/http/json"
	"consentis/internal/transport/http/shared"
	dErrors "consentis/pkg/domain-errors"
	"consentis/pkg/domain"
)

type sessionResponse struct {
	WalletAddress          string `json:"wallet_address,omitempty"`
	Role                   string `json:"role,omitempty"`
	IsAuthenticated        bool   `json:"is_authenticated"`
	ProfileStatus          string `json:"profile_status"`
	NeedsRoleSelection     bool   `json:"needs_role_selection"`
	NeedsResearcherProfile bool   `json:"needs_researcher_profile"`
}

func (h *Handler) handleSessionGet(w http.ResponseWriter, _ *http.Request) {
	v := h.auth.State()
	jsonutil.WriteJSON(w, http.StatusOK, sessionResponse{
		WalletAddress:          v.WalletAddress.String(),
		Role:                   string(v.Role),
		IsAuthenticated:        v.IsAuthenticated,
		ProfileStatus:          string(v.ProfileStatus),
		NeedsRoleSelection:     v.NeedsRoleSelection,
		NeedsResearcherProfile: v.NeedsResearcherProfile,
	})
}

func (h *Handler) handleSessionRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	role, err := domain.ParseRole(req.Role)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.auth.SelectRole(r.Context(), role); err != nil {
		shared.WriteError(w, err)
		return
	}
	h.handleSessionGet(w, r)
}

func (h *Handler) handleSessionLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context()); err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
