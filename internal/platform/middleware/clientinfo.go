package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/mssola/useragent"
)

// ClientInfo identifies the caller of a local agent endpoint. The agent is
// reached by browsers and CLI tools alike; the parsed identity goes into the
// request log so operators can tell them apart.
type ClientInfo struct {
	Name      string
	OS        string
	Mobile    bool
	UserAgent string
}

type clientInfoKey struct{}

// ExtractClientInfo parses a request's User-Agent header.
func ExtractClientInfo(r *http.Request) ClientInfo {
	raw := r.Header.Get("User-Agent")
	info := ClientInfo{Name: "unknown", UserAgent: raw}
	if raw == "" {
		return info
	}

	ua := useragent.New(raw)
	if browser, _ := ua.Browser(); browser != "" {
		info.Name = strings.ToLower(browser)
	}
	info.OS = strings.ToLower(ua.OS())
	info.Mobile = ua.Mobile()
	return info
}

// WithClientInfo injects parsed caller identity into every request context.
func WithClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientInfoKey{}, ExtractClientInfo(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClientInfo retrieves the caller identity from the context.
func GetClientInfo(ctx context.Context) ClientInfo {
	if info, ok := ctx.Value(clientInfoKey{}).(ClientInfo); ok {
		return info
	}
	return ClientInfo{Name: "unknown"}
}
