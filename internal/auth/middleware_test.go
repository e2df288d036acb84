package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireToken(t *testing.T) {
	ts := newTestTokenService(t)
	valid, _ := ts.Generate("ci-runner")

	var seenClient string
	protected := RequireToken(ts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenClient, _ = ClientFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantClient string
	}{
		{"valid bearer", "Bearer " + valid, http.StatusOK, "ci-runner"},
		{"scheme is case-insensitive", "bearer " + valid, http.StatusOK, "ci-runner"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, ""},
		{"empty token", "Bearer ", http.StatusUnauthorized, ""},
		{"invalid token", "Bearer abc.def.ghi", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seenClient = ""
			req := httptest.NewRequest(http.MethodPost, "/run", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			protected.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantClient, seenClient)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"Unauthorized"}`, rr.Body.String())
				assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestClientFromContext_Anonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := ClientFromContext(req.Context())

	assert.False(t, ok)
}
