package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquaminds/meter-relay-go/internal/model"
	"github.com/aquaminds/meter-relay-go/internal/token"
)

func TestAuthMiddleware(t *testing.T) {
	issuer := token.NewIssuer("test-secret-for-auth-middleware")
	ident := model.UserIdentity{OwnerID: "owner-1", Email: "alice@example.com"}

	valid, err := issuer.IssueUser(ident, time.Hour)
	require.NoError(t, err)
	expired, err := issuer.IssueUser(ident, -time.Hour)
	require.NoError(t, err)

	var gotUser *model.UserIdentity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = GetUser(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := NewAuthMiddleware(issuer).Handler(next)

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
	}{
		{name: "valid bearer token", header: "Bearer " + valid, wantStatus: http.StatusOK},
		{name: "valid query token", query: valid, wantStatus: http.StatusOK},
		{name: "missing token", wantStatus: http.StatusUnauthorized},
		{name: "expired token", header: "Bearer " + expired, wantStatus: http.StatusUnauthorized},
		{name: "malformed token", header: "Bearer not.a.jwt", wantStatus: http.StatusUnauthorized},
		{name: "bare token without bearer prefix", header: valid, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser = nil

			url := "/v1/meters/ws-1"
			if tt.query != "" {
				url += "?token=" + tt.query
			}
			r := httptest.NewRequest(http.MethodGet, url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				require.NotNil(t, gotUser)
				assert.Equal(t, "owner-1", gotUser.OwnerID)
				assert.Equal(t, "alice@example.com", gotUser.Email)
			} else {
				assert.Nil(t, gotUser)
			}
		})
	}
}

func TestGetUserWithoutAuth(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, GetUser(r.Context()))
}
