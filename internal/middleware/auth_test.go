package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian/internal/auth"
)

func protected(t *testing.T, a *auth.Authenticator) http.Handler {
	t.Helper()
	return AuthMiddleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := GetUserFromContext(r.Context()); claims != nil {
			w.Header().Set("X-User", claims.Username)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	a, err := auth.NewAuthenticator(auth.Options{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	protected(t, a).ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/config", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuthMiddleware_Enabled(t *testing.T) {
	a, err := auth.NewAuthenticator(auth.Options{Enabled: true, Password: "pw", JWTSecret: "k"})
	require.NoError(t, err)
	token, _, err := a.Authenticate("admin", "pw")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusNoContent},
		{"lowercase scheme", "bearer " + token, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/v1/config", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected(t, a).ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusNoContent {
				assert.Equal(t, "admin", rec.Header().Get("X-User"))
			} else {
				assert.Contains(t, rec.Body.String(), "error")
			}
		})
	}
}
