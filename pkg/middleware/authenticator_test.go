package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticVerifier struct{}

func (staticVerifier) VerifyIDToken(_ context.Context, idToken string) (string, error) {
	if idToken != "good" {
		return "", errors.New("invalid token")
	}
	return "c1", nil
}

func TestAuthenticator(t *testing.T) {
	var seen string
	handler := Authenticator(staticVerifier{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		target string
		header string
		status int
		uid    string
	}{
		{"bearer header", "/chat/conversation", "Bearer good", http.StatusNoContent, "c1"},
		{"lowercase bearer", "/chat/conversation", "bearer good", http.StatusNoContent, "c1"},
		{"query token", "/chat/conversation?token=good", "", http.StatusNoContent, "c1"},
		{"missing token", "/chat/conversation", "", http.StatusUnauthorized, ""},
		{"invalid token", "/chat/conversation", "Bearer bad", http.StatusUnauthorized, ""},
		{"malformed header", "/chat/conversation", "Token good", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.uid, seen)
		})
	}
}

func TestUID_Unauthenticated(t *testing.T) {
	assert.Empty(t, UID(context.Background()))
	assert.Equal(t, "c1", UID(WithUID(context.Background(), "c1")))
}
