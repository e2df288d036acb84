package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// contextKey is private so no other package can read or shadow the value.
type contextKey string

const clientKey contextKey = "client"

var errNoBearer = errors.New("auth: missing bearer token")

// RequireToken rejects requests without a valid "Authorization: Bearer"
// token with 401 and stores the client name in the request context.
func RequireToken(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, err := extractClient(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="code-runner"`)
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"Unauthorized"}`))
				return
			}

			ctx := context.WithValue(r.Context(), clientKey, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientFromContext returns the authenticated client, if any.
func ClientFromContext(ctx context.Context) (string, bool) {
	client, ok := ctx.Value(clientKey).(string)
	return client, ok && client != ""
}

func extractClient(r *http.Request, tokens *TokenService) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errNoBearer
	}
	return tokens.Validate(strings.TrimSpace(token))
}
