package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/Stellar-cadet-s/kazi-trust/internal/auth"
	"github.com/Stellar-cadet-s/kazi-trust/internal/dashboard"
	"github.com/Stellar-cadet-s/kazi-trust/internal/jobs"
)

type roleTokens map[string]string

func (r roleTokens) ValidateToken(_ context.Context, token string) (uuid.UUID, string, error) {
	role, ok := r[token]
	if !ok {
		return uuid.Nil, "", errors.New("invalid token")
	}
	return uuid.New(), role, nil
}

func TestRouter_Gating(t *testing.T) {
	tokens := roleTokens{"emp": "employer", "wrk": "employee", "adm": "admin"}
	h := New(auth.NewHandler(nil, nil), jobs.NewHandler(nil, nil), dashboard.NewHandler(nil, nil), tokens)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/jobs", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/v1/jobs", "nope", http.StatusUnauthorized},
		{"employee cannot post job", http.MethodPost, "/api/v1/jobs", "wrk", http.StatusForbidden},
		{"employer cannot apply", http.MethodPost, "/api/v1/jobs/" + uuid.NewString() + "/apply", "emp", http.StatusForbidden},
		{"employee cannot assign", http.MethodPost, "/api/v1/jobs/" + uuid.NewString() + "/assign", "wrk", http.StatusForbidden},
		{"employer cannot release", http.MethodPost, "/api/v1/escrows/ESCROW_1/release", "emp", http.StatusForbidden},
		{"employer has no work history", http.MethodGet, "/api/v1/account/work-history", "emp", http.StatusForbidden},
		{"employee cannot see workers overview", http.MethodGet, "/api/v1/workers", "wrk", http.StatusForbidden},
		{"wrong method", http.MethodDelete, "/api/v1/jobs", "emp", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}
