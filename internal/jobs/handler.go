package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/Stellar-cadet-s/kazi-trust/internal/apperr"
	"github.com/Stellar-cadet-s/kazi-trust/internal/middleware"
	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

// Request/response structs use snake_case JSON.

type CreateJobRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	BudgetCents int64  `json:"budget_cents"`
}

// AssignRequest names the assignee directly or through their pending
// application. application_id wins when both are set.
type AssignRequest struct {
	EmployeeID    string `json:"employee_id"`
	ApplicationID string `json:"application_id"`
}

type CompleteRequest struct {
	WorkSummary string `json:"work_summary"`
}

type CreateJobResponse struct {
	Job    *models.JobListing     `json:"job"`
	Escrow *models.EscrowContract `json:"escrow"`
}

type ApplyResponse struct {
	Application *models.JobApplication `json:"application"`
	Created     bool                   `json:"created"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	job, contract, err := h.svc.CreateJob(r.Context(), caller.ID, req.Title, req.Description, req.BudgetCents)
	if err != nil {
		h.fail(w, "create job", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateJobResponse{Job: job, Escrow: contract})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	list, err := h.svc.ListJobs(r.Context(), caller.ID)
	if err != nil {
		h.fail(w, "list jobs", err)
		return
	}
	if list == nil {
		list = []*models.JobListing{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerOrUnauthorized(w, r); !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := h.svc.GetJob(r.Context(), jobID)
	if err != nil {
		h.fail(w, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	app, created, err := h.svc.Apply(r.Context(), jobID, caller.ID)
	if err != nil {
		h.fail(w, "apply", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, ApplyResponse{Application: app, Created: created})
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	app, err := h.svc.Withdraw(r.Context(), jobID, caller.ID)
	if err != nil {
		h.fail(w, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *Handler) ListApplicants(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	apps, err := h.svc.ListApplicants(r.Context(), jobID, caller.ID)
	if err != nil {
		h.fail(w, "list applicants", err)
		return
	}
	if apps == nil {
		apps = []*models.JobApplication{}
	}
	writeJSON(w, http.StatusOK, apps)
}

func (h *Handler) MyApplications(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	apps, err := h.svc.MyApplications(r.Context(), caller.ID)
	if err != nil {
		h.fail(w, "list applications", err)
		return
	}
	if apps == nil {
		apps = []*models.JobApplication{}
	}
	writeJSON(w, http.StatusOK, apps)
}

func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	var job *models.JobListing
	if req.ApplicationID != "" {
		applicationID, err := uuid.Parse(req.ApplicationID)
		if err != nil {
			http.Error(w, "invalid application_id", http.StatusBadRequest)
			return
		}
		job, err = h.svc.AssignApplication(r.Context(), jobID, caller.ID, applicationID)
		if err != nil {
			h.fail(w, "assign", err)
			return
		}
		writeJSON(w, http.StatusOK, job)
		return
	}
	employeeID, err := uuid.Parse(req.EmployeeID)
	if err != nil {
		http.Error(w, "invalid employee_id", http.StatusBadRequest)
		return
	}
	job, err = h.svc.Assign(r.Context(), jobID, caller.ID, employeeID)
	if err != nil {
		h.fail(w, "assign", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) StartWork(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := h.svc.StartWork(r.Context(), jobID, caller.ID)
	if err != nil {
		h.fail(w, "start work", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// MarkComplete takes an optional CompleteRequest body.
func (h *Handler) MarkComplete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
	}
	h.escrowAction(w, r, "mark complete", func(ctx context.Context, jobID, callerID uuid.UUID) (*models.EscrowContract, error) {
		return h.svc.MarkComplete(ctx, jobID, callerID, req.WorkSummary)
	})
}

func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	h.escrowAction(w, r, "cancel job", h.svc.CancelJob)
}

func (h *Handler) GetEscrowStatus(w http.ResponseWriter, r *http.Request) {
	h.escrowAction(w, r, "escrow status", h.svc.GetEscrowStatus)
}

func (h *Handler) DepositInstructions(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	di, err := h.svc.DepositInstructions(r.Context(), jobID, caller.ID)
	if err != nil {
		h.fail(w, "deposit instructions", err)
		return
	}
	writeJSON(w, http.StatusOK, di)
}

func (h *Handler) WorkHistory(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	history, err := h.svc.WorkHistory(r.Context(), caller.ID)
	if err != nil {
		h.fail(w, "work history", err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) WorkersOverview(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	ov, err := h.svc.WorkersOverview(r.Context(), caller.ID)
	if err != nil {
		h.fail(w, "workers overview", err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (h *Handler) ReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	contract, err := h.svc.ReleaseEscrow(r.Context(), r.PathValue("id"), caller.ID)
	if err != nil {
		h.fail(w, "release escrow", err)
		return
	}
	writeJSON(w, http.StatusOK, contract)
}

func (h *Handler) escrowAction(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, uuid.UUID, uuid.UUID) (*models.EscrowContract, error)) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	contract, err := fn(r.Context(), jobID, caller.ID)
	if err != nil {
		h.fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, contract)
}

// fail answers with the status matching err's kind. Unclassified errors are
// logged and hidden behind a generic message.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error(op+" failed", "error", err)
		http.Error(w, op+" failed", status)
		return
	}
	if errors.Is(err, apperr.ErrExternalUnavailable) {
		h.log.Warn(op+" deferred", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func callerOrUnauthorized(w http.ResponseWriter, r *http.Request) (*middleware.Caller, bool) {
	c := middleware.CallerFromCtx(r.Context())
	if c == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return c, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
