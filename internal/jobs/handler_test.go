package jobs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/Stellar-cadet-s/kazi-trust/internal/middleware"
	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

// serve routes one request through a mux so path values are populated.
func serve(t *testing.T, h *Handler, pattern string, fn http.HandlerFunc, caller *models.User, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, fn)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if caller != nil {
		req = req.WithContext(middleware.WithCaller(req.Context(), &middleware.Caller{ID: caller.ID, Role: caller.Role}))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateJob(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, nil)

	rec := serve(t, h, "POST /jobs", h.CreateJob, f.employer, http.MethodPost, "/jobs", `{"title":"Fix roof","budget_cents":25000}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp CreateJobResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Job.Status != models.JobStatusOpen || resp.Escrow.Status != models.EscrowPendingDeposit || resp.Escrow.AmountCents != 25000 {
		t.Errorf("unexpected response %+v / %+v", resp.Job, resp.Escrow)
	}

	cases := []struct {
		name   string
		caller *models.User
		body   string
		want   int
	}{
		{"no caller", nil, `{"title":"x","budget_cents":1}`, http.StatusUnauthorized},
		{"bad json", f.employer, `{`, http.StatusBadRequest},
		{"employee", f.worker, `{"title":"x","budget_cents":1}`, http.StatusForbidden},
		{"zero budget", f.employer, `{"title":"x","budget_cents":0}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, h, "POST /jobs", h.CreateJob, tc.caller, http.MethodPost, "/jobs", tc.body)
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_ApplyAndAssign(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, nil)
	job, c := f.createJob(t, 50000)
	path := "/jobs/" + job.ID.String()

	rec := serve(t, h, "POST /jobs/{id}/apply", h.Apply, f.worker, http.MethodPost, path+"/apply", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("first apply: expected 201, got %d", rec.Code)
	}
	rec = serve(t, h, "POST /jobs/{id}/apply", h.Apply, f.worker, http.MethodPost, path+"/apply", "")
	if rec.Code != http.StatusOK {
		t.Errorf("repeat apply: expected 200, got %d", rec.Code)
	}

	body := `{"employee_id":"` + f.worker.ID.String() + `"}`
	rec = serve(t, h, "POST /jobs/{id}/assign", h.Assign, f.employer, http.MethodPost, path+"/assign", body)
	if rec.Code != http.StatusConflict {
		t.Errorf("assign before funding: expected 409, got %d", rec.Code)
	}

	f.fund(t, c)
	rec = serve(t, h, "POST /jobs/{id}/assign", h.Assign, f.employer, http.MethodPost, path+"/assign", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("assign: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(t, h, "GET /jobs/{id}/escrow", h.GetEscrowStatus, f.worker, http.MethodGet, path+"/escrow", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("escrow status: expected 200, got %d", rec.Code)
	}
	var got models.EscrowContract
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != models.EscrowInProgress {
		t.Errorf("escrow status = %q, want in_progress", got.Status)
	}
}

func TestHandler_BadPath(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, nil)

	rec := serve(t, h, "POST /jobs/{id}/complete", h.MarkComplete, f.employer, http.MethodPost, "/jobs/not-a-uuid/complete", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	rec = serve(t, h, "POST /jobs/{id}/complete", h.MarkComplete, f.employer, http.MethodPost, "/jobs/"+uuid.NewString()+"/complete", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	rec = serve(t, h, "POST /jobs/{id}/assign", h.Assign, f.employer, http.MethodPost, "/jobs/"+uuid.NewString()+"/assign", `{"employee_id":"nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad employee id: expected 400, got %d", rec.Code)
	}
}

func TestHandler_ListsNeverNull(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, nil)

	rec := serve(t, h, "GET /applications", h.MyApplications, f.worker, http.MethodGet, "/applications", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %d %q", rec.Code, rec.Body.String())
	}
	rec = serve(t, h, "GET /jobs", h.ListJobs, f.worker, http.MethodGet, "/jobs", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %d %q", rec.Code, rec.Body.String())
	}
}
