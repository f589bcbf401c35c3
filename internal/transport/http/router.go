// Package httptransport exposes the agent's local API. Handlers stay thin:
// they parse, consult the route guard, delegate to a pipeline or client, and
// render. Business rules live behind those boundaries.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"consentis/internal/auth"
	"consentis/internal/auth/profile"
	"consentis/internal/consent"
	"consentis/internal/decrypt"
	"consentis/internal/platform/metrics"
	"consentis/internal/platform/middleware"
	"consentis/internal/records"
	"consentis/internal/session"
	"consentis/internal/upload"
	jsonutil "consentis/internal/transport/http/json"
	"consentis/pkg/domain"
)

// Handler is the thin HTTP layer over the agent's pipelines and clients.
type Handler struct {
	auth     *auth.Coordinator
	guard    auth.Guard
	gate     *profile.Gate
	sessions *session.Store
	uploads  *upload.Pipeline
	decrypts *decrypt.Pipeline
	consents *consent.Client
	records  *records.Client
	logger   *slog.Logger
}

// NewHandler wires the agent services into one HTTP surface.
func NewHandler(
	coordinator *auth.Coordinator,
	gate *profile.Gate,
	sessions *session.Store,
	uploads *upload.Pipeline,
	decrypts *decrypt.Pipeline,
	consents *consent.Client,
	recordsClient *records.Client,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		auth:     coordinator,
		gate:     gate,
		sessions: sessions,
		uploads:  uploads,
		decrypts: decrypts,
		consents: consents,
		records:  recordsClient,
		logger:   logger,
	}
}

// NewRouter wires all agent endpoints with middleware.
func NewRouter(h *Handler, logger *slog.Logger, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.WithClientInfo)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/session", h.handleSessionGet)
		r.Post("/session/role", h.handleSessionRole)
		r.Post("/session/logout", h.handleSessionLogout)

		r.Get("/profile", h.handleProfileGet)
		r.Post("/profile", h.handleProfileCreate)

		r.With(middleware.EndpointMetrics(m, "upload")).
			Post("/upload", h.handleUpload)
		r.Get("/upload/status", h.handleUploadStatus)
		r.Post("/upload/reset", h.handleUploadReset)

		r.With(middleware.EndpointMetrics(m, "decrypt")).
			Post("/records/{id}/decrypt", h.handleDecrypt)
		r.Get("/decrypt/status", h.handleDecryptStatus)
		r.Post("/decrypt/reset", h.handleDecryptReset)

		r.Get("/records", h.handleAllRecords)
		r.Get("/records/patient", h.handlePatientRecords)
		r.Get("/records/shared", h.handleSharedRecords)

		r.Post("/consent/grant", h.handleConsentGrant)
		r.Post("/consent/revoke", h.handleConsentRevoke)
		r.Get("/consent/check", h.handleConsentCheck)
		r.Get("/consent/tx", h.handleConsentTx)
		r.Post("/consent/tx/reset", h.handleConsentTxReset)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	jsonutil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// admit enforces the route guard for a handler. A denied request gets a 403
// carrying the flow the caller should redirect to.
func (h *Handler) admit(w http.ResponseWriter, allowed ...domain.Role) bool {
	decision := h.guard.Decide(h.auth.State(), allowed...)
	if decision.Admitted() {
		return true
	}
	jsonutil.WriteJSON(w, http.StatusForbidden, map[string]string{
		"error":    "not_admitted",
		"redirect": decision.Target,
	})
	return false
}
