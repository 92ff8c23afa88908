package models

import (
	"time"

	"github.com/google/uuid"
)

// Job listing status enums.
const (
	JobStatusOpen       = "open"
	JobStatusAssigned   = "assigned"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusCancelled  = "cancelled"
)

// Job application status enums.
const (
	ApplicationPending   = "pending"
	ApplicationAccepted  = "accepted"
	ApplicationWithdrawn = "withdrawn"
)

type JobListing struct {
	ID          uuid.UUID  `json:"id"`
	EmployerID  uuid.UUID  `json:"employer_id"`
	EmployeeID  *uuid.UUID `json:"employee_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	BudgetCents int64      `json:"budget_cents"`
	Status      string     `json:"status"`
	ContractID  string     `json:"contract_id"`
	CreatedAt   time.Time  `json:"created_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	WorkSummary string     `json:"work_summary,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// HasEmployee reports whether the status requires an assigned employee.
func (j *JobListing) HasEmployee() bool {
	switch j.Status {
	case JobStatusAssigned, JobStatusInProgress, JobStatusCompleted:
		return true
	}
	return false
}

type JobApplication struct {
	ID         uuid.UUID `json:"id"`
	JobID      uuid.UUID `json:"job_id"`
	EmployeeID uuid.UUID `json:"employee_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}
