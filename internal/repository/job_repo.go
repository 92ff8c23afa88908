package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

const jobColumns = `id, employer_id, employee_id, title, description, budget_cents, status, contract_id, created_at, assigned_at, completed_at, work_summary, updated_at`

func scanJob(row pgx.Row) (*models.JobListing, error) {
	var j models.JobListing
	err := row.Scan(&j.ID, &j.EmployerID, &j.EmployeeID, &j.Title, &j.Description, &j.BudgetCents, &j.Status, &j.ContractID, &j.CreatedAt, &j.AssignedAt, &j.CompletedAt, &j.WorkSummary, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJob inserts a listing inside tx. The escrow contract row is inserted
// after it in the same transaction.
func (r *JobRepo) CreateJob(ctx context.Context, tx pgx.Tx, j *models.JobListing) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO job_listings (id, employer_id, employee_id, title, description, budget_cents, status, contract_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, j.ID, j.EmployerID, j.EmployeeID, j.Title, j.Description, j.BudgetCents, j.Status, j.ContractID, j.CreatedAt, j.UpdatedAt)
	return wrap(err, "job", j.ID)
}

func (r *JobRepo) GetJob(ctx context.Context, id uuid.UUID) (*models.JobListing, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM job_listings WHERE id = $1`, id))
	if err != nil {
		return nil, wrap(err, "job", id)
	}
	return j, nil
}

func (r *JobRepo) GetJobForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.JobListing, error) {
	j, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM job_listings WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, wrap(err, "job", id)
	}
	return j, nil
}

func (r *JobRepo) UpdateJob(ctx context.Context, tx pgx.Tx, j *models.JobListing) error {
	_, err := tx.Exec(ctx, `
		UPDATE job_listings SET employee_id = $2, status = $3, assigned_at = $4, completed_at = $5, work_summary = $6, updated_at = now()
		WHERE id = $1
	`, j.ID, j.EmployeeID, j.Status, j.AssignedAt, j.CompletedAt, j.WorkSummary)
	return wrap(err, "job", j.ID)
}

func (r *JobRepo) ListJobsByEmployer(ctx context.Context, employerID uuid.UUID) ([]*models.JobListing, error) {
	return r.listJobs(ctx, `SELECT `+jobColumns+` FROM job_listings WHERE employer_id = $1 ORDER BY created_at DESC`, employerID)
}

// ListJobsForEmployee returns open jobs and jobs assigned to the employee.
func (r *JobRepo) ListJobsForEmployee(ctx context.Context, employeeID uuid.UUID) ([]*models.JobListing, error) {
	return r.listJobs(ctx, `SELECT `+jobColumns+` FROM job_listings WHERE status = 'open' OR employee_id = $1 ORDER BY created_at DESC`, employeeID)
}

func (r *JobRepo) ListAllJobs(ctx context.Context) ([]*models.JobListing, error) {
	return r.listJobs(ctx, `SELECT `+jobColumns+` FROM job_listings ORDER BY created_at DESC`)
}

func (r *JobRepo) listJobs(ctx context.Context, query string, args ...any) ([]*models.JobListing, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.JobListing
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

const applicationColumns = `id, job_id, employee_id, status, created_at`

func (r *JobRepo) GetApplication(ctx context.Context, tx pgx.Tx, jobID, employeeID uuid.UUID) (*models.JobApplication, error) {
	var a models.JobApplication
	err := tx.QueryRow(ctx, `SELECT `+applicationColumns+` FROM job_applications WHERE job_id = $1 AND employee_id = $2`, jobID, employeeID).
		Scan(&a.ID, &a.JobID, &a.EmployeeID, &a.Status, &a.CreatedAt)
	if err != nil {
		return nil, wrap(err, "application", jobID.String()+"/"+employeeID.String())
	}
	return &a, nil
}

func (r *JobRepo) CreateApplication(ctx context.Context, tx pgx.Tx, a *models.JobApplication) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO job_applications (id, job_id, employee_id, status, created_at) VALUES ($1, $2, $3, $4, $5)
	`, a.ID, a.JobID, a.EmployeeID, a.Status, a.CreatedAt)
	return wrap(err, "application", a.ID)
}

func (r *JobRepo) UpdateApplication(ctx context.Context, tx pgx.Tx, a *models.JobApplication) error {
	_, err := tx.Exec(ctx, `UPDATE job_applications SET status = $2 WHERE id = $1`, a.ID, a.Status)
	return wrap(err, "application", a.ID)
}

func (r *JobRepo) ListApplicationsByJob(ctx context.Context, jobID uuid.UUID) ([]*models.JobApplication, error) {
	return r.listApplications(ctx, `SELECT `+applicationColumns+` FROM job_applications WHERE job_id = $1 ORDER BY created_at`, jobID)
}

func (r *JobRepo) ListApplicationsByEmployee(ctx context.Context, employeeID uuid.UUID) ([]*models.JobApplication, error) {
	return r.listApplications(ctx, `SELECT `+applicationColumns+` FROM job_applications WHERE employee_id = $1 ORDER BY created_at DESC`, employeeID)
}

func (r *JobRepo) listApplications(ctx context.Context, query string, arg uuid.UUID) ([]*models.JobApplication, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.JobApplication
	for rows.Next() {
		var a models.JobApplication
		if err := rows.Scan(&a.ID, &a.JobID, &a.EmployeeID, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}
