package httptransport

import (
	"io"
	"net/http"

	jsonutil "consentis/internal/transport/http/json"
	"consentis/internal/transport/http/shared"
	dErrors "consentis/pkg/domain-errors"
	"consentis/pkg/domain"
)

// maxUploadBytes bounds the multipart body the agent will buffer.
const maxUploadBytes = 64 << 20

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !h.admit(w, domain.RolePatient) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid multipart body"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "file field is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "read uploaded file"))
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}

	addr, err := h.uploads.Upload(r.Context(), name, data)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	jsonutil.WriteJSON(w, http.StatusCreated, map[string]any{
		"content_address": addr.String(),
		"status":          h.uploads.Status(),
	})
}

func (h *Handler) handleUploadStatus(w http.ResponseWriter, _ *http.Request) {
	jsonutil.WriteJSON(w, http.StatusOK, h.uploads.Status())
}

func (h *Handler) handleUploadReset(w http.ResponseWriter, _ *http.Request) {
	h.uploads.Reset()
	jsonutil.WriteJSON(w, http.StatusOK, h.uploads.Status())
}
