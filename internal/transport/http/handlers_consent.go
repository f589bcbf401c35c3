package httptransport

import (
	"context"
	"encoding/json"
	"net/http"

	jsonutil "consentis/internal/transport/http/json"
	"consentis/internal/transport/http/shared"
	dErrors "consentis/pkg/domain-errors"
	"consentis/pkg/domain"
)

type consentWriteRequest struct {
	ResearcherAddress string `json:"researcher_address"`
	RecordID          string `json:"record_id"`
}

type consentTxResponse struct {
	Kind       string `json:"kind,omitempty"`
	Researcher string `json:"researcher_address,omitempty"`
	RecordID   string `json:"record_id,omitempty"`
	Hash       string `json:"tx_hash,omitempty"`
	State      string `json:"state"`
	Reason     string `json:"reason,omitempty"`
}

func (h *Handler) handleConsentGrant(w http.ResponseWriter, r *http.Request) {
	h.handleConsentWrite(w, r, h.consents.Grant)
}

func (h *Handler) handleConsentRevoke(w http.ResponseWriter, r *http.Request) {
	h.handleConsentWrite(w, r, h.consents.Revoke)
}

func (h *Handler) handleConsentWrite(w http.ResponseWriter, r *http.Request, write func(ctx context.Context, researcher string, id domain.RecordID) error) {
	if !h.admit(w, domain.RolePatient) {
		return
	}

	var req consentWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	id, err := domain.ParseRecordID(req.RecordID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	if err := write(r.Context(), req.ResearcherAddress, id); err != nil {
		shared.WriteError(w, err)
		return
	}
	h.handleConsentTx(w, r)
}

func (h *Handler) handleConsentCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// Absent parameters disable the query rather than failing it; present
	// but malformed ones are still rejected at the boundary.
	owner, err := parseOptionalAddress(q.Get("owner"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	researcher, err := parseOptionalAddress(q.Get("researcher"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var recordID domain.RecordID
	if raw := q.Get("record_id"); raw != "" {
		if recordID, err = domain.ParseRecordID(raw); err != nil {
			shared.WriteError(w, err)
			return
		}
	}

	result, err := h.consents.CheckConsent(r.Context(), owner, researcher, recordID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]string{"consent": string(result)})
}

func (h *Handler) handleConsentTx(w http.ResponseWriter, _ *http.Request) {
	tx := h.consents.Status()
	jsonutil.WriteJSON(w, http.StatusOK, consentTxResponse{
		Kind:       string(tx.Kind),
		Researcher: tx.Researcher.String(),
		RecordID:   tx.RecordID.String(),
		Hash:       tx.Hash.String(),
		State:      string(tx.State),
		Reason:     tx.Reason,
	})
}

func (h *Handler) handleConsentTxReset(w http.ResponseWriter, r *http.Request) {
	h.consents.Reset()
	h.handleConsentTx(w, r)
}

func parseOptionalAddress(raw string) (domain.Address, error) {
	if raw == "" {
		return "", nil
	}
	return domain.ParseAddress(raw)
}
