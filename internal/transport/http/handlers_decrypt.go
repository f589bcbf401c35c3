package httptransport

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	jsonutil "consentis/internal/transport/http/json"
	"consentis/internal/transport/http/shared"
	"consentis/pkg/domain"
)

func (h *Handler) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	if !h.admit(w, domain.RoleResearcher) {
		return
	}

	id, err := domain.ParseRecordID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	record, err := h.records.Get(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	file, err := h.decrypts.Decrypt(r.Context(), *record)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", file.MIME)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Data)
}

func (h *Handler) handleDecryptStatus(w http.ResponseWriter, _ *http.Request) {
	jsonutil.WriteJSON(w, http.StatusOK, h.decrypts.Status())
}

func (h *Handler) handleDecryptReset(w http.ResponseWriter, _ *http.Request) {
	h.decrypts.Reset()
	jsonutil.WriteJSON(w, http.StatusOK, h.decrypts.Status())
}
