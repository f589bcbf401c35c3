package httptransport

import (
	"encoding/json"
	"net/http"

	"consentis/internal/auth/profile"
	jsonutil "consentis/internal/transport/http/json"
	"consentis/internal/transport/http/shared"
	dErrors "consentis/pkg/domain-errors"
)

func (h *Handler) handleProfileGet(w http.ResponseWriter, _ *http.Request) {
	st := h.sessions.Snapshot()
	if st.ResearcherProfileID == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no researcher profile"))
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]string{
		"id":             st.ResearcherProfileID,
		"profile_status": string(st.ProfileStatus),
	})
}

func (h *Handler) handleProfileCreate(w http.ResponseWriter, r *http.Request) {
	var req profile.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	id, err := h.gate.Create(r.Context(), req)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusCreated, map[string]string{"id": id})
}
