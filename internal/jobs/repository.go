package jobs

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

// Repository is the listing and application storage the service needs.
// *repository.JobRepo implements it against Postgres.
type Repository interface {
	CreateJob(ctx context.Context, tx pgx.Tx, j *models.JobListing) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.JobListing, error)
	GetJobForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.JobListing, error)
	UpdateJob(ctx context.Context, tx pgx.Tx, j *models.JobListing) error
	ListJobsByEmployer(ctx context.Context, employerID uuid.UUID) ([]*models.JobListing, error)
	ListJobsForEmployee(ctx context.Context, employeeID uuid.UUID) ([]*models.JobListing, error)
	ListAllJobs(ctx context.Context) ([]*models.JobListing, error)

	GetApplication(ctx context.Context, tx pgx.Tx, jobID, employeeID uuid.UUID) (*models.JobApplication, error)
	CreateApplication(ctx context.Context, tx pgx.Tx, a *models.JobApplication) error
	UpdateApplication(ctx context.Context, tx pgx.Tx, a *models.JobApplication) error
	ListApplicationsByJob(ctx context.Context, jobID uuid.UUID) ([]*models.JobApplication, error)
	ListApplicationsByEmployee(ctx context.Context, employeeID uuid.UUID) ([]*models.JobApplication, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Escrow is the state machine surface the job service drives.
// *escrow.Machine implements it.
type Escrow interface {
	Provision(ctx context.Context, employer *models.User, jobID uuid.UUID, amountCents int64) *models.EscrowContract
	Open(ctx context.Context, tx pgx.Tx, c *models.EscrowContract) error
	BindEmployee(ctx context.Context, tx pgx.Tx, contractID string, employeeID uuid.UUID) (*models.EscrowContract, error)
	CompleteWork(ctx context.Context, contractID, workSummary string) (*models.EscrowContract, error)
	Release(ctx context.Context, contractID string) (*models.EscrowContract, error)
	Cancel(ctx context.Context, contractID string) (*models.EscrowContract, error)
	Status(ctx context.Context, contractID string) (*models.EscrowContract, error)
}
