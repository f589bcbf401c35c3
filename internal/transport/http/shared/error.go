package shared

import (
	"errors"
	"net/http"

	"consentis/internal/transport/http/json"
	dErrors "consentis/pkg/domain-errors"
)

// WriteError centralizes domain error translation to HTTP responses.
// It translates transport-agnostic domain errors into HTTP status codes and error responses.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		response := map[string]string{
			"error": string(domainErr.Code),
		}
		if domainErr.Message != "" {
			response["error_description"] = domainErr.Message
		}
		json.WriteJSON(w, DomainCodeToHTTPStatus(domainErr.Code), response)
		return
	}

	// Fallback for unexpected errors
	json.WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"error": string(dErrors.CodeInternal),
	})
}

// DomainCodeToHTTPStatus translates domain error codes to HTTP status codes.
func DomainCodeToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvalidInput, dErrors.CodeInvalidAddress:
		return http.StatusBadRequest
	case dErrors.CodeMalformedPolicy:
		return http.StatusUnprocessableEntity
	case dErrors.CodeConflict, dErrors.CodeTransactionRejected:
		return http.StatusConflict
	case dErrors.CodeUnauthorized, dErrors.CodeWalletNotConnected:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden, dErrors.CodeAuthorizationDenied:
		return http.StatusForbidden
	case dErrors.CodeTransport:
		return http.StatusBadGateway
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
