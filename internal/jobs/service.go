package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Stellar-cadet-s/kazi-trust/internal/apperr"
	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

type Service interface {
	CreateJob(ctx context.Context, employerID uuid.UUID, title, description string, budgetCents int64) (*models.JobListing, *models.EscrowContract, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.JobListing, error)
	ListJobs(ctx context.Context, callerID uuid.UUID) ([]*models.JobListing, error)

	Apply(ctx context.Context, jobID, employeeID uuid.UUID) (*models.JobApplication, bool, error)
	Withdraw(ctx context.Context, jobID, employeeID uuid.UUID) (*models.JobApplication, error)
	ListApplicants(ctx context.Context, jobID, callerID uuid.UUID) ([]*models.JobApplication, error)
	MyApplications(ctx context.Context, employeeID uuid.UUID) ([]*models.JobApplication, error)

	Assign(ctx context.Context, jobID, employerID, employeeID uuid.UUID) (*models.JobListing, error)
	AssignApplication(ctx context.Context, jobID, employerID, applicationID uuid.UUID) (*models.JobListing, error)
	StartWork(ctx context.Context, jobID, employeeID uuid.UUID) (*models.JobListing, error)
	MarkComplete(ctx context.Context, jobID, callerID uuid.UUID, workSummary string) (*models.EscrowContract, error)
	CancelJob(ctx context.Context, jobID, callerID uuid.UUID) (*models.EscrowContract, error)
	GetEscrowStatus(ctx context.Context, jobID, callerID uuid.UUID) (*models.EscrowContract, error)
	ReleaseEscrow(ctx context.Context, contractID string, callerID uuid.UUID) (*models.EscrowContract, error)
	DepositInstructions(ctx context.Context, jobID, callerID uuid.UUID) (*DepositInstructions, error)

	WorkHistory(ctx context.Context, employeeID uuid.UUID) ([]WorkHistoryEntry, error)
	WorkersOverview(ctx context.Context, employerID uuid.UUID) (*WorkersOverview, error)
}

// DepositInstructions tell the employer's payment widget what to charge.
// Reference is the destination reference the deposit webhook resolves.
type DepositInstructions struct {
	JobID            uuid.UUID `json:"job_id"`
	JobTitle         string    `json:"job_title"`
	ContractID       string    `json:"contract_id"`
	Reference        string    `json:"reference"`
	Currency         string    `json:"currency"`
	AmountCents      int64     `json:"amount_cents"`
	OutstandingCents int64     `json:"outstanding_cents"`
}

type service struct {
	db     TxBeginner
	repo   Repository
	users  UserStore
	escrow Escrow
	log    *slog.Logger
}

func NewService(db TxBeginner, repo Repository, users UserStore, esc Escrow, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	return &service{db: db, repo: repo, users: users, escrow: esc, log: log}
}

var _ Service = (*service)(nil)

// CreateJob opens a listing together with its escrow contract. The ledger
// contract is provisioned before the transaction so no row is held while the
// ledger is called.
func (s *service) CreateJob(ctx context.Context, employerID uuid.UUID, title, description string, budgetCents int64) (*models.JobListing, *models.EscrowContract, error) {
	employer, err := s.userWithRole(ctx, employerID, models.RoleEmployer)
	if err != nil {
		return nil, nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, nil, fmt.Errorf("job title required: %w", apperr.ErrPreconditionFailed)
	}
	if budgetCents <= 0 {
		return nil, nil, fmt.Errorf("budget %d must be positive: %w", budgetCents, apperr.ErrPreconditionFailed)
	}

	jobID := uuid.New()
	contract := s.escrow.Provision(ctx, employer, jobID, budgetCents)

	now := time.Now().UTC()
	job := &models.JobListing{
		ID:          jobID,
		EmployerID:  employer.ID,
		Title:       title,
		Description: strings.TrimSpace(description),
		BudgetCents: budgetCents,
		Status:      models.JobStatusOpen,
		ContractID:  contract.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)
	if err := s.repo.CreateJob(ctx, tx, job); err != nil {
		return nil, nil, err
	}
	if err := s.escrow.Open(ctx, tx, contract); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	s.log.Info("job created", "job_id", job.ID, "contract_id", contract.ID, "ledger_mode", contract.LedgerMode)
	return job, contract, nil
}

func (s *service) GetJob(ctx context.Context, jobID uuid.UUID) (*models.JobListing, error) {
	return s.repo.GetJob(ctx, jobID)
}

// ListJobs returns what the caller may see: employers get their own
// listings, employees get open jobs plus their assignments, admins get all.
func (s *service) ListJobs(ctx context.Context, callerID uuid.UUID) ([]*models.JobListing, error) {
	caller, err := s.users.GetUser(ctx, callerID)
	if err != nil {
		return nil, err
	}
	switch caller.Role {
	case models.RoleEmployer:
		return s.repo.ListJobsByEmployer(ctx, caller.ID)
	case models.RoleEmployee:
		return s.repo.ListJobsForEmployee(ctx, caller.ID)
	default:
		return s.repo.ListAllJobs(ctx)
	}
}

// Apply records the employee's interest in an open job. A repeat call
// returns the existing application with created=false; a withdrawn
// application is reopened and reported as created.
func (s *service) Apply(ctx context.Context, jobID, employeeID uuid.UUID) (*models.JobApplication, bool, error) {
	if _, err := s.userWithRole(ctx, employeeID, models.RoleEmployee); err != nil {
		return nil, false, err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	job, err := s.repo.GetJobForUpdate(ctx, tx, jobID)
	if err != nil {
		return nil, false, err
	}
	if job.Status != models.JobStatusOpen {
		return nil, false, fmt.Errorf("apply to job in %s: %w", job.Status, apperr.ErrInvalidState)
	}

	app, err := s.repo.GetApplication(ctx, tx, jobID, employeeID)
	switch {
	case err == nil:
		if app.Status != models.ApplicationWithdrawn {
			return app, false, nil
		}
		app.Status = models.ApplicationPending
		if err := s.repo.UpdateApplication(ctx, tx, app); err != nil {
			return nil, false, err
		}
	case errors.Is(err, apperr.ErrNotFound):
		app = &models.JobApplication{
			ID:         uuid.New(),
			JobID:      jobID,
			EmployeeID: employeeID,
			Status:     models.ApplicationPending,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.repo.CreateApplication(ctx, tx, app); err != nil {
			return nil, false, err
		}
	default:
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return app, true, nil
}

func (s *service) Withdraw(ctx context.Context, jobID, employeeID uuid.UUID) (*models.JobApplication, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	app, err := s.repo.GetApplication(ctx, tx, jobID, employeeID)
	if err != nil {
		return nil, err
	}
	if app.Status != models.ApplicationPending {
		return nil, fmt.Errorf("no pending application for job %s: %w", jobID, apperr.ErrNotFound)
	}
	app.Status = models.ApplicationWithdrawn
	if err := s.repo.UpdateApplication(ctx, tx, app); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

func (s *service) ListApplicants(ctx context.Context, jobID, callerID uuid.UUID) ([]*models.JobApplication, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwnerOrAdmin(ctx, job, callerID); err != nil {
		return nil, err
	}
	return s.repo.ListApplicationsByJob(ctx, jobID)
}

func (s *service) MyApplications(ctx context.Context, employeeID uuid.UUID) ([]*models.JobApplication, error) {
	return s.repo.ListApplicationsByEmployee(ctx, employeeID)
}

// Assign gives an open job to an employee and binds them to the funded
// escrow in one transaction. The contract row is locked before the job row.
func (s *service) Assign(ctx context.Context, jobID, employerID, employeeID uuid.UUID) (*models.JobListing, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.EmployerID != employerID {
		return nil, fmt.Errorf("assign job %s: %w", jobID, apperr.ErrForbidden)
	}
	if job.Status != models.JobStatusOpen {
		return nil, fmt.Errorf("assign job in %s: %w", job.Status, apperr.ErrInvalidState)
	}
	if _, err := s.userWithRole(ctx, employeeID, models.RoleEmployee); err != nil {
		if errors.Is(err, apperr.ErrForbidden) {
			return nil, fmt.Errorf("assignee %s is not an employee: %w", employeeID, apperr.ErrPreconditionFailed)
		}
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.escrow.BindEmployee(ctx, tx, job.ContractID, employeeID); err != nil {
		return nil, err
	}
	job, err = s.repo.GetJobForUpdate(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusOpen {
		return nil, fmt.Errorf("assign job in %s: %w", job.Status, apperr.ErrInvalidState)
	}

	app, err := s.repo.GetApplication(ctx, tx, jobID, employeeID)
	switch {
	case err == nil:
		app.Status = models.ApplicationAccepted
		err = s.repo.UpdateApplication(ctx, tx, app)
	case errors.Is(err, apperr.ErrNotFound):
		err = s.repo.CreateApplication(ctx, tx, &models.JobApplication{
			ID:         uuid.New(),
			JobID:      jobID,
			EmployeeID: employeeID,
			Status:     models.ApplicationAccepted,
			CreatedAt:  time.Now().UTC(),
		})
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job.Status = models.JobStatusAssigned
	job.EmployeeID = &employeeID
	job.AssignedAt = &now
	job.UpdatedAt = now
	if err := s.repo.UpdateJob(ctx, tx, job); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.log.Info("job assigned", "job_id", job.ID, "employee_id", employeeID, "contract_id", job.ContractID)
	return job, nil
}

// StartWork lets the assigned employee mark the job as underway. The escrow
// is already in_progress from assignment.
func (s *service) StartWork(ctx context.Context, jobID, employeeID uuid.UUID) (*models.JobListing, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	job, err := s.repo.GetJobForUpdate(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if job.EmployeeID == nil || *job.EmployeeID != employeeID {
		return nil, fmt.Errorf("start job %s: %w", jobID, apperr.ErrForbidden)
	}
	if job.Status != models.JobStatusAssigned {
		return nil, fmt.Errorf("start job in %s: %w", job.Status, apperr.ErrInvalidState)
	}
	job.Status = models.JobStatusInProgress
	job.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateJob(ctx, tx, job); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

// MarkComplete confirms the work and releases the escrow. workSummary is the
// employer's optional note shown in the employee's work history.
func (s *service) MarkComplete(ctx context.Context, jobID, callerID uuid.UUID, workSummary string) (*models.EscrowContract, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwnerOrAdmin(ctx, job, callerID); err != nil {
		return nil, err
	}
	return s.escrow.CompleteWork(ctx, job.ContractID, workSummary)
}

func (s *service) CancelJob(ctx context.Context, jobID, callerID uuid.UUID) (*models.EscrowContract, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwnerOrAdmin(ctx, job, callerID); err != nil {
		return nil, err
	}
	return s.escrow.Cancel(ctx, job.ContractID)
}

// GetEscrowStatus is visible to the owner, the assigned employee and admins.
func (s *service) GetEscrowStatus(ctx context.Context, jobID, callerID uuid.UUID) (*models.EscrowContract, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.EmployeeID == nil || *job.EmployeeID != callerID {
		if err := s.requireOwnerOrAdmin(ctx, job, callerID); err != nil {
			return nil, err
		}
	}
	return s.escrow.Status(ctx, job.ContractID)
}

// ReleaseEscrow is the operator retry for a completed contract whose
// release failed.
func (s *service) ReleaseEscrow(ctx context.Context, contractID string, callerID uuid.UUID) (*models.EscrowContract, error) {
	if _, err := s.userWithRole(ctx, callerID, models.RoleAdmin); err != nil {
		return nil, err
	}
	return s.escrow.Release(ctx, contractID)
}

// DepositInstructions is only available to the owner while the escrow still
// awaits funds.
func (s *service) DepositInstructions(ctx context.Context, jobID, callerID uuid.UUID) (*DepositInstructions, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.EmployerID != callerID {
		return nil, fmt.Errorf("deposit for job %s: %w", jobID, apperr.ErrForbidden)
	}
	c, err := s.escrow.Status(ctx, job.ContractID)
	if err != nil {
		return nil, err
	}
	if c.Status != models.EscrowPendingDeposit {
		return nil, fmt.Errorf("deposit to contract in %s: %w", c.Status, apperr.ErrInvalidState)
	}
	return &DepositInstructions{
		JobID:            job.ID,
		JobTitle:         job.Title,
		ContractID:       c.ID,
		Reference:        c.ID,
		Currency:         c.Asset,
		AmountCents:      c.AmountCents,
		OutstandingCents: c.AmountCents - c.DepositedCents,
	}, nil
}

func (s *service) userWithRole(ctx context.Context, id uuid.UUID, role string) (*models.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role != role {
		return nil, fmt.Errorf("user %s is %s, need %s: %w", id, u.Role, role, apperr.ErrForbidden)
	}
	return u, nil
}

func (s *service) requireOwnerOrAdmin(ctx context.Context, job *models.JobListing, callerID uuid.UUID) error {
	if job.EmployerID == callerID {
		return nil
	}
	caller, err := s.users.GetUser(ctx, callerID)
	if err != nil {
		return err
	}
	if caller.Role != models.RoleAdmin {
		return fmt.Errorf("job %s: %w", job.ID, apperr.ErrForbidden)
	}
	return nil
}
