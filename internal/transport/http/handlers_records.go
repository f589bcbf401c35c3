package httptransport

import (
	"net/http"

	jsonutil "consentis/internal/transport/http/json"
	"consentis/internal/transport/http/shared"
	"consentis/pkg/domain"
)

func (h *Handler) handlePatientRecords(w http.ResponseWriter, r *http.Request) {
	if !h.admit(w, domain.RolePatient) {
		return
	}

	owner := h.auth.State().WalletAddress
	list, err := h.records.PatientRecords(r.Context(), owner)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{"records": list})
}

// handleAllRecords returns both views for the connected wallet. Admitted for
// either role: which list is populated depends on what the backend knows
// about the address, not on the selected role.
func (h *Handler) handleAllRecords(w http.ResponseWriter, r *http.Request) {
	if !h.admit(w, domain.RolePatient, domain.RoleResearcher) {
		return
	}

	addr := h.auth.State().WalletAddress
	owned, sharedList, err := h.records.AllVisible(r.Context(), addr)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{"owned": owned, "shared": sharedList})
}

func (h *Handler) handleSharedRecords(w http.ResponseWriter, r *http.Request) {
	if !h.admit(w, domain.RoleResearcher) {
		return
	}

	researcher := h.auth.State().WalletAddress
	list, err := h.records.ResearcherRecords(r.Context(), researcher)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{"records": list})
}
